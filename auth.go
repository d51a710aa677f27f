package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// authorize obtains a Google OAuth token interactively, stores it and
// checks that the configured calendar is reachable with it.
func authorize(config *Config) {
	if config.Provider != "" && config.Provider != "google" {
		fmt.Printf("Provider %s does not use OAuth, nothing to do.\n", config.Provider)
		return
	}
	if config.ClientID == "" || config.ClientSecret == "" {
		log.Fatalf("Error: client_id and client_secret must be set in %s", configFileName)
	}

	db, err := openDB(dbFileName)
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer db.Close()

	fmt.Println("🚀 Starting Google authorization...")
	oauthConfig := newOAuthConfig(config)

	_, err = loadToken(db, googleAccount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Fatalf("Error retrieving token from database: %v", err)
	}
	if err == nil {
		fmt.Println("  ❗️ A token is already stored, it will be replaced.")
	}

	token, err := getTokenFromWeb(oauthConfig)
	if err != nil {
		log.Fatalf("Error obtaining token: %v", err)
	}
	if err := saveToken(db, googleAccount, token); err != nil {
		log.Fatalf("Error saving token: %v", err)
	}

	ctx := context.Background()
	calendarFactory := NewCalendarFactory(ctx, config, db)
	provider, calendarID, err := calendarFactory.CreateCalendarProvider()
	if err != nil {
		log.Fatalf("Error creating Google calendar provider: %v", err)
	}
	if err := calendarFactory.ValidateCalendarAccess(provider, calendarID); err != nil {
		log.Fatalf("Error retrieving Google calendar %s: %v", calendarID, err)
	}

	fmt.Printf("✅ Authorized, calendar %s is reachable\n", calendarID)
}
