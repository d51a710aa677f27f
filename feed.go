package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/googleapis/gax-go/v2"
)

const maxFeedSize = 10 << 20

// FeedFetcher retrieves the authoritative event list.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]SourceRecord, error)
}

type feedDocument struct {
	Events []SourceRecord `json:"events"`
}

// statusError is returned for any non-200 response.
type statusError struct {
	Code   int
	Status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("feed returned unexpected status: %s", e.Status)
}

func (e *statusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// HTTPFeed downloads the feed with a per-attempt timeout and retries
// transient failures with exponential backoff.
type HTTPFeed struct {
	Client   *http.Client
	Attempts int
	Backoff  gax.Backoff
}

func NewHTTPFeed(config *Config) *HTTPFeed {
	return &HTTPFeed{
		Client:   &http.Client{Timeout: time.Duration(config.FetchTimeoutSeconds) * time.Second},
		Attempts: config.FetchAttempts,
		Backoff: gax.Backoff{
			Initial:    time.Second,
			Max:        30 * time.Second,
			Multiplier: 2,
		},
	}
}

func (f *HTTPFeed) Fetch(ctx context.Context, feedURL string) ([]SourceRecord, error) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported feed URL scheme: %q", u.Scheme)
	}

	attempts := f.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := f.Backoff

	for attempt := 1; ; attempt++ {
		records, err := f.fetchOnce(ctx, feedURL)
		if err == nil {
			return records, nil
		}
		var se *statusError
		transient := !errors.Is(err, errMalformedFeed) && (!errors.As(err, &se) || se.retryable())
		if !transient || attempt >= attempts || ctx.Err() != nil {
			return nil, err
		}
		pause := backoff.Pause()
		printVerbosely(1, "  ❗️ Feed fetch attempt %d/%d failed, retrying in %s: %v\n", attempt, attempts, pause.Round(time.Millisecond), err)
		if err := gax.Sleep(ctx, pause); err != nil {
			return nil, err
		}
	}
}

var errMalformedFeed = errors.New("malformed feed body")

func (f *HTTPFeed) fetchOnce(ctx context.Context, feedURL string) ([]SourceRecord, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error during fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Code: resp.StatusCode, Status: resp.Status}
	}

	var doc feedDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedFeed, err)
	}
	return doc.Events, nil
}
