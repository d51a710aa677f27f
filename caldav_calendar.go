package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

const caldavProductID = "-//bobuk//feedsync//EN"

// CalDAVProvider uses calendar object paths as event IDs, so events that
// were not created by feedsync can be updated and deleted too.
type CalDAVProvider struct {
	client    *caldav.Client
	ctx       context.Context
	serverURL string
	location  *time.Location
}

func NewCalDAVProvider(ctx context.Context, serverURL, username, password string, loc *time.Location) (*CalDAVProvider, error) {
	baseURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CalDAV server URL: %w", err)
	}

	var httpClient webdav.HTTPClient = http.DefaultClient
	if username != "" && password != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, username, password)
	}

	c, err := caldav.NewClient(httpClient, baseURL.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create CalDAV client: %w", err)
	}

	return &CalDAVProvider{
		client:    c,
		ctx:       ctx,
		serverURL: serverURL,
		location:  loc,
	}, nil
}

// DefaultCalendar returns the path of the first calendar in the current
// user's calendar home set.
func (c *CalDAVProvider) DefaultCalendar() (string, error) {
	principal, err := c.client.FindCurrentUserPrincipal(c.ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find current user principal: %w", err)
	}
	homeSet, err := c.client.FindCalendarHomeSet(c.ctx, principal)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}
	calendars, err := c.client.FindCalendars(c.ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}
	if len(calendars) == 0 {
		return "", fmt.Errorf("no calendars found in %s", homeSet)
	}
	return calendars[0].Path, nil
}

func calendarPath(calendarID string) (string, error) {
	calURL, err := url.Parse(calendarID)
	if err != nil {
		return "", fmt.Errorf("invalid calendar URL: %w", err)
	}
	return strings.TrimRight(calURL.Path, "/"), nil
}

func (c *CalDAVProvider) GetCalendar(calendarID string) error {
	path, err := calendarPath(calendarID)
	if err != nil {
		return err
	}

	// Extract the calendar home set from the URL (usually the parent path)
	homeSetPath := "/"
	if parts := strings.Split(path, "/"); len(parts) > 1 {
		homeSetPath = strings.Join(parts[:len(parts)-1], "/") + "/"
	}

	calendars, err := c.client.FindCalendars(c.ctx, homeSetPath)
	if err != nil {
		return fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if strings.TrimRight(cal.Path, "/") == path {
			return nil
		}
	}

	return fmt.Errorf("calendar not found at path: %s", path)
}

func setOptionalText(props ical.Props, name, value string) {
	if value == "" {
		props.Del(name)
		return
	}
	props.SetText(name, value)
}

func (c *CalDAVProvider) AddEvent(calendarID string, event *Event) (string, error) {
	path, err := calendarPath(calendarID)
	if err != nil {
		return "", err
	}

	eventUID := "feedsync-" + uuid.NewString()

	icalEvent := ical.NewEvent()
	icalEvent.Props.SetText(ical.PropUID, eventUID)
	icalEvent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	icalEvent.Props.SetText(ical.PropSummary, event.Summary)
	setOptionalText(icalEvent.Props, ical.PropDescription, event.Description)
	setOptionalText(icalEvent.Props, ical.PropLocation, event.Location)
	icalEvent.Props.SetDateTime(ical.PropDateTimeStart, event.Start.In(c.location))
	icalEvent.Props.SetDateTime(ical.PropDateTimeEnd, event.End.In(c.location))
	icalEvent.Props.SetText(ical.PropStatus, "CONFIRMED")

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, caldavProductID)
	cal.Children = append(cal.Children, icalEvent.Component)

	objectPath := path + "/" + eventUID + ".ics"
	if _, err := c.client.PutCalendarObject(c.ctx, objectPath, cal); err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}

	return objectPath, nil
}

// UpdateEvent rewrites the text fields of the stored VEVENT and puts the
// object back, leaving its dates and any other properties untouched.
func (c *CalDAVProvider) UpdateEvent(calendarID string, eventID string, event *Event) error {
	object, err := c.client.GetCalendarObject(c.ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to get event: %w", err)
	}

	comp := findEventComponent(object.Data)
	if comp == nil {
		return fmt.Errorf("no VEVENT component found in %s", eventID)
	}
	comp.Props.SetText(ical.PropSummary, event.Summary)
	setOptionalText(comp.Props, ical.PropDescription, event.Description)
	setOptionalText(comp.Props, ical.PropLocation, event.Location)
	comp.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	if _, err := c.client.PutCalendarObject(c.ctx, eventID, object.Data); err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	return nil
}

func (c *CalDAVProvider) DeleteEvent(calendarID string, eventID string) error {
	if err := c.client.Client.RemoveAll(c.ctx, eventID); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

func (c *CalDAVProvider) ListEvents(calendarID string, timeMin, timeMax time.Time) ([]*Event, error) {
	path, err := calendarPath(calendarID)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: timeMin,
				End:   timeMax,
			}},
		},
	}

	objects, err := c.client.QueryCalendar(c.ctx, path+"/", query)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	var result []*Event
	for _, obj := range objects {
		comp := findEventComponent(obj.Data)
		if comp == nil {
			continue
		}
		// One object holds the whole series, so updating or deleting it
		// would hit every occurrence.
		if isRecurring(obj.Data) {
			printVerbosely(3, "  ↷ Ignoring recurring object %s\n", obj.Path)
			continue
		}
		event := eventFromComponent(comp, c.location)
		if event.Status == "cancelled" {
			continue
		}
		event.ID = obj.Path
		result = append(result, event)
	}

	return result, nil
}

func findEventComponent(cal *ical.Calendar) *ical.Component {
	if cal == nil {
		return nil
	}
	for _, comp := range cal.Children {
		if comp.Name == ical.CompEvent {
			return comp
		}
	}
	return nil
}

func isRecurring(cal *ical.Calendar) bool {
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		for _, name := range []string{ical.PropRecurrenceRule, ical.PropRecurrenceDates, ical.PropRecurrenceID} {
			if comp.Props.Get(name) != nil {
				return true
			}
		}
	}
	return false
}

func eventFromComponent(comp *ical.Component, loc *time.Location) *Event {
	status := strings.ToLower(getTextProp(comp.Props, ical.PropStatus))
	if status == "" {
		status = "confirmed"
	}

	start, _ := comp.Props.DateTime(ical.PropDateTimeStart, loc)
	end, _ := comp.Props.DateTime(ical.PropDateTimeEnd, loc)

	return &Event{
		Summary:     getTextProp(comp.Props, ical.PropSummary),
		Description: getTextProp(comp.Props, ical.PropDescription),
		Location:    getTextProp(comp.Props, ical.PropLocation),
		Start:       start,
		End:         end,
		Status:      status,
	}
}

// Helper function to get text property safely
func getTextProp(props ical.Props, name string) string {
	prop := props.Get(name)
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}
