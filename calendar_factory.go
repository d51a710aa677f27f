package main

import (
	"context"
	"database/sql"
	"fmt"
)

// googleAccount is the token row feedsync reads and writes; one feed syncs
// into one calendar of one account.
const googleAccount = "default"

// CalendarFactory handles creation of the configured calendar provider
type CalendarFactory struct {
	config *Config
	db     *sql.DB
	ctx    context.Context
}

// NewCalendarFactory creates a new calendar factory instance
func NewCalendarFactory(ctx context.Context, config *Config, db *sql.DB) *CalendarFactory {
	return &CalendarFactory{
		config: config,
		db:     db,
		ctx:    ctx,
	}
}

// CreateCalendarProvider returns the provider named in the config together
// with the calendar ID to sync into, resolving an empty ID to the
// provider's default calendar.
func (cf *CalendarFactory) CreateCalendarProvider() (CalendarProvider, string, error) {
	calendarID := cf.config.CalendarID

	switch cf.config.Provider {
	case "", "google":
		client, err := getClient(cf.ctx, newOAuthConfig(cf.config), cf.db, googleAccount)
		if err != nil {
			return nil, "", err
		}
		provider, err := NewGoogleCalendarProvider(cf.ctx, client, cf.config.Location())
		if err != nil {
			return nil, "", fmt.Errorf("error creating Google calendar provider: %w", err)
		}
		if calendarID == "" {
			calendarID = "primary"
		}
		return provider, calendarID, nil

	case "caldav":
		server := cf.config.CalDAV
		if server.ServerURL == "" {
			return nil, "", fmt.Errorf("%w: caldav.server_url", errConfigMissing)
		}
		provider, err := NewCalDAVProvider(cf.ctx, server.ServerURL, server.Username, server.Password, cf.config.Location())
		if err != nil {
			return nil, "", fmt.Errorf("error connecting to CalDAV server %s: %w", server.ServerURL, err)
		}
		if calendarID == "" {
			calendarID, err = provider.DefaultCalendar()
			if err != nil {
				return nil, "", fmt.Errorf("error resolving default CalDAV calendar: %w", err)
			}
		}
		return provider, calendarID, nil

	default:
		return nil, "", fmt.Errorf("unsupported provider type: %s", cf.config.Provider)
	}
}

// ValidateCalendarAccess checks if the provided calendar ID is accessible
func (cf *CalendarFactory) ValidateCalendarAccess(provider CalendarProvider, calendarID string) error {
	return provider.GetCalendar(calendarID)
}
