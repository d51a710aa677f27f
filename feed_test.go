package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeed(attempts int) *HTTPFeed {
	return &HTTPFeed{
		Client:   &http.Client{Timeout: 2 * time.Second},
		Attempts: attempts,
		Backoff:  gax.Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2},
	}
}

func TestHTTPFeed_Fetch_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"events": [
			{"location": "Park A", "date": "2024-06-01T18:00:00Z", "address": "1 Main St", "notes": "Bring chairs"},
			{"location": "Park B", "date": "2024-06-02T18:00:00Z", "sponsor": "City", "alert": "Heat", "extra": 1}
		]}`))
	}))
	defer ts.Close()

	records, err := newTestFeed(1).Fetch(context.Background(), ts.URL)

	require.NoError(t, err)
	assert.Equal(t, []SourceRecord{
		{Location: "Park A", Date: "2024-06-01T18:00:00Z", Address: "1 Main St", Notes: "Bring chairs"},
		{Location: "Park B", Date: "2024-06-02T18:00:00Z", Sponsor: "City", Alert: "Heat"},
	}, records)
}

func TestHTTPFeed_Fetch_MissingEventsKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": []}`))
	}))
	defer ts.Close()

	records, err := newTestFeed(1).Fetch(context.Background(), ts.URL)

	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHTTPFeed_Fetch_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		attempts int32
		wantErr  string
	}{
		{"NotFound", http.StatusNotFound, "", 1, "404"},
		{"Unauthorized", http.StatusUnauthorized, "", 1, "401"},
		{"ServerErrorRetried", http.StatusInternalServerError, "", 3, "500"},
		{"TooManyRequestsRetried", http.StatusTooManyRequests, "", 3, "429"},
		{"MalformedJSON", http.StatusOK, `{"events": [`, 1, "malformed feed body"},
		{"WrongShape", http.StatusOK, `{"events": "soon"}`, 1, "malformed feed body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			records, err := newTestFeed(3).Fetch(context.Background(), ts.URL)

			require.Error(t, err)
			assert.Nil(t, records)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.attempts, atomic.LoadInt32(&calls))
		})
	}
}

func TestHTTPFeed_Fetch_RecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"events": [{"location": "Park A", "date": "2024-06-01"}]}`))
	}))
	defer ts.Close()

	records, err := newTestFeed(3).Fetch(context.Background(), ts.URL)

	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPFeed_Fetch_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"events": []}`))
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := newTestFeed(3).Fetch(ctx, ts.URL)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPFeed_Fetch_InvalidURL(t *testing.T) {
	feed := newTestFeed(1)

	_, err := feed.Fetch(context.Background(), "ftp://example.com/events.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported feed URL scheme")

	_, err = feed.Fetch(context.Background(), string([]byte{0x7f}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid feed URL")
}
