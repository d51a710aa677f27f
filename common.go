package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const (
	configFileName = ".feedsync.toml"
	dbFileName     = ".feedsync.db"

	defaultDurationMinutes = 90
	defaultSchedule        = "0 6 * * *"
)

var errConfigMissing = errors.New("configuration missing")

type CalDAVConfig struct {
	ServerURL string `toml:"server_url"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

type Config struct {
	APIEndpoint          string       `toml:"api_endpoint"`
	CalendarID           string       `toml:"calendar_id"`
	EventDurationMinutes int          `toml:"event_duration_minutes"`
	Timezone             string       `toml:"timezone"`
	Provider             string       `toml:"provider"`
	ClientID             string       `toml:"client_id"`
	ClientSecret         string       `toml:"client_secret"`
	VerbosityLevel       int          `toml:"verbosity_level"`
	Schedule             string       `toml:"schedule"`
	FetchTimeoutSeconds  int          `toml:"fetch_timeout_seconds"`
	FetchAttempts        int          `toml:"fetch_attempts"`
	CalDAV               CalDAVConfig `toml:"caldav"`

	location *time.Location
}

var configDir string
var verbosityLevel = 1

func defaultConfig() *Config {
	return &Config{
		EventDurationMinutes: defaultDurationMinutes,
		Provider:             "google",
		VerbosityLevel:       1,
		Schedule:             defaultSchedule,
		FetchTimeoutSeconds:  30,
		FetchAttempts:        3,
	}
}

// loadConfig reads the config file, if any, and applies environment
// overrides. A missing file is fine: the environment alone can drive a run.
func loadConfig() (*Config, error) {
	config := defaultConfig()

	// Try first current dir, then `$HOME/.config/feedsync/`
	candidates := []string{configFileName}
	if home := os.Getenv("HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, ".config", "feedsync", configFileName))
	}
	for _, path := range candidates {
		err := readConfigFile(path, config)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		configDir = filepath.Dir(path)
		break
	}

	if err := applyEnv(config, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.finalize(); err != nil {
		return nil, err
	}

	verbosityLevel = config.VerbosityLevel
	return config, nil
}

func readConfigFile(filename string, config *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if _, err := toml.Decode(string(data), config); err != nil {
		return fmt.Errorf("error parsing %s: %w", filename, err)
	}
	return nil
}

func applyEnv(config *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("API_ENDPOINT"); ok {
		config.APIEndpoint = strings.TrimSpace(v)
	}
	if v, ok := lookup("CALENDAR_ID"); ok {
		config.CalendarID = strings.TrimSpace(v)
	}
	if v, ok := lookup("TIMEZONE"); ok {
		config.Timezone = strings.TrimSpace(v)
	}
	if v, ok := lookup("CALENDAR_PROVIDER"); ok && v != "" {
		config.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("EVENT_DURATION_MINUTES"); ok && strings.TrimSpace(v) != "" {
		minutes, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid EVENT_DURATION_MINUTES %q: %w", v, err)
		}
		config.EventDurationMinutes = minutes
	}
	return nil
}

func (c *Config) finalize() error {
	if c.EventDurationMinutes <= 0 {
		return fmt.Errorf("event duration must be positive, got %d minutes", c.EventDurationMinutes)
	}
	if c.FetchAttempts < 1 {
		c.FetchAttempts = 1
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = 30
	}
	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
	if c.Timezone == "" {
		c.location = time.Local
		return nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.location = loc
	return nil
}

// Location is the canonical zone used to derive event identity.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

func (c *Config) EventDuration() time.Duration {
	return time.Duration(c.EventDurationMinutes) * time.Minute
}

func newOAuthConfig(config *Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{calendar.CalendarScope},
	}
}

func openDB(filename string) (*sql.DB, error) {
	// Keep the database next to the config file when there is one
	path := filename
	if configDir != "" {
		path = filepath.Join(configDir, filename)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := dbInit(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func getTokenFromWeb(config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser then type the "+
		"authorization code: \n%v\n", authURL)

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return nil, fmt.Errorf("unable to read authorization code: %w", err)
	}

	tok, err := config.Exchange(context.TODO(), authCode)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return tok, nil
}

func saveToken(db *sql.DB, accountName string, token *oauth2.Token) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return err
	}

	_, err = db.Exec("INSERT OR REPLACE INTO tokens (account_name, token) VALUES (?, ?)", accountName, tokenJSON)
	return err
}

func loadToken(db *sql.DB, accountName string) (*oauth2.Token, error) {
	var tokenJSON []byte
	err := db.QueryRow("SELECT token FROM tokens WHERE account_name = ?", accountName).Scan(&tokenJSON)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("error unmarshaling token: %w", err)
	}
	return &token, nil
}

// getClient returns an HTTP client authorized with the stored token for
// accountName, persisting it again if the token source refreshed it.
// It never prompts: a scheduled run without a token must fail, not block.
func getClient(ctx context.Context, config *oauth2.Config, db *sql.DB, accountName string) (*http.Client, error) {
	token, err := loadToken(db, accountName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no token found for account %s, run `feedsync auth` first", accountName)
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving token from database: %w", err)
	}

	newToken, err := config.TokenSource(ctx, token).Token()
	if err != nil {
		if strings.Contains(err.Error(), "Token has been expired or revoked") {
			return nil, fmt.Errorf("token expired or revoked for account %s, run `feedsync auth` again", accountName)
		}
		return nil, fmt.Errorf("error retrieving token from token source: %w", err)
	}

	if newToken.AccessToken != token.AccessToken {
		printVerbosely(3, "Token refreshed for account %s.\n", accountName)
		if err := saveToken(db, accountName, newToken); err != nil {
			return nil, fmt.Errorf("error saving refreshed token: %w", err)
		}
	}

	return config.Client(ctx, newToken), nil
}

func printVerbosely(verbosity int, format string, a ...interface{}) {
	// Print only if verbosity is not higher than verbosityLevel
	// verbosityLevel is set in the config file
	// 0 - no output, other than errors
	// 1 - run start and summary
	// 2 - events created/updated/deleted
	// 3 - events skipped or already up to date
	if verbosity <= verbosityLevel {
		fmt.Printf(format, a...)
	}
}
