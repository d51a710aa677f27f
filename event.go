package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// keySeparator joins title and day in an event key. It is not escaped, so a
// title containing it can collide with another title/day pair.
const keySeparator = "|"

var errNoDateRange = errors.New("no parseable event dates")

// SourceRecord is one entry of the feed's "events" array. Location doubles
// as the event title.
type SourceRecord struct {
	Location string `json:"location"`
	Date     string `json:"date"`
	Address  string `json:"address,omitempty"`
	Sponsor  string `json:"sponsor,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Alert    string `json:"alert,omitempty"`
}

// Zone-less layouts are read in the canonical zone.
var localDateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// eventKey identifies an event by its title and the calendar day it starts
// on in loc. Events on the same day with the same title share a key.
func eventKey(title string, start time.Time, loc *time.Location) string {
	return title + keySeparator + start.In(loc).Format("2006-01-02")
}

func parseEventDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	for _, layout := range localDateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// describe renders the optional record fields into the event description.
// The order and line format are compared verbatim on every run.
func describe(record SourceRecord) string {
	var b strings.Builder
	for _, field := range []struct{ label, value string }{
		{"Alert", record.Alert},
		{"Notes", record.Notes},
		{"Sponsor", record.Sponsor},
	} {
		if field.value == "" {
			continue
		}
		b.WriteString(field.label)
		b.WriteString(": ")
		b.WriteString(field.value)
		b.WriteString("\n")
	}
	return b.String()
}

// normalizeRecord maps a feed record to the event that should exist in the
// calendar. It fails only when the record's date cannot be parsed.
func normalizeRecord(record SourceRecord, loc *time.Location, duration time.Duration) (*Event, error) {
	start, err := parseEventDate(record.Date, loc)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", record.Location, err)
	}
	return &Event{
		Summary:     record.Location,
		Description: describe(record),
		Location:    record.Address,
		Start:       start,
		End:         start.Add(duration),
	}, nil
}

// dateRange returns the earliest and latest start among records. Records
// with unparseable dates are ignored; if none remain it returns errNoDateRange.
func dateRange(records []SourceRecord, loc *time.Location) (time.Time, time.Time, error) {
	var earliest, latest time.Time
	found := false
	for _, record := range records {
		start, err := parseEventDate(record.Date, loc)
		if err != nil {
			continue
		}
		if !found || start.Before(earliest) {
			earliest = start
		}
		if !found || start.After(latest) {
			latest = start
		}
		found = true
	}
	if !found {
		return time.Time{}, time.Time{}, errNoDateRange
	}
	return earliest, latest, nil
}

// queryWindow widens [earliest, latest] to whole days in loc, so every
// calendar event that can share a key with a feed record is listed.
func queryWindow(earliest, latest time.Time, loc *time.Location) (time.Time, time.Time) {
	e := earliest.In(loc)
	l := latest.In(loc)
	timeMin := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, loc)
	timeMax := time.Date(l.Year(), l.Month(), l.Day()+1, 0, 0, 0, 0, loc)
	return timeMin, timeMax
}
