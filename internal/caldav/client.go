// Package caldav reads and updates training events kept on a CalDAV server.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"formacal/internal/ics"
	"formacal/internal/models"
)

const DefaultEndpoint = "https://caldav.icloud.com/"

// customTransport adds Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "formacal/1.0")
	return t.Transport.RoundTrip(req)
}

// Config locates the calendar holding the events.
type Config struct {
	Endpoint string
	Username string
	Password string
	// Calendar is the display name of the calendar.
	Calendar string
	Location *time.Location
}

// calendarAPI is the part of *caldav.Client the store uses.
type calendarAPI interface {
	FindCurrentUserPrincipal(ctx context.Context) (string, error)
	FindCalendarHomeSet(ctx context.Context, principal string) (string, error)
	FindCalendars(ctx context.Context, calendarHomeSet string) ([]caldav.Calendar, error)
	QueryCalendar(ctx context.Context, calendar string, query *caldav.CalendarQuery) ([]caldav.CalendarObject, error)
	GetCalendarObject(ctx context.Context, path string) (*caldav.CalendarObject, error)
	PutCalendarObject(ctx context.Context, path string, cal *ical.Calendar) (*caldav.CalendarObject, error)
}

// Client is an event store backed by one CalDAV calendar. Events belong to a
// project through their X-PROJECT-ID property.
type Client struct {
	caldav       calendarAPI
	logger       *slog.Logger
	reader       *ics.Reader
	calendarPath string

	mu    sync.Mutex
	paths map[string]string // event id -> object path
}

// NewClient connects to the server and resolves the configured calendar.
func NewClient(ctx context.Context, logger *slog.Logger, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	httpClient := &http.Client{Transport: &customTransport{
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: http.DefaultTransport,
	}}

	caldavClient, err := caldav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	c := newClient(logger, caldavClient, cfg.Location)

	c.logger.Info("Finding CalDAV calendar", "calendarName", cfg.Calendar)
	calendarPath, err := c.findCalendar(ctx, cfg.Calendar)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", cfg.Calendar, err)
	}
	c.calendarPath = calendarPath
	c.logger.Info("Successfully found CalDAV calendar", "path", calendarPath)
	return c, nil
}

func newClient(logger *slog.Logger, api calendarAPI, loc *time.Location) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		caldav: api,
		logger: logger,
		reader: ics.NewReader(logger, ics.ReadOptions{Location: loc}),
		paths:  map[string]string{},
	}
}

// ListProjectEvents queries the calendar for the VEVENTs of a project.
func (c *Client) ListProjectEvents(ctx context.Context, projectID string) ([]models.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name: ical.CompEvent,
				Props: []caldav.PropFilter{{
					Name:      ics.PropProjectID,
					TextMatch: &caldav.TextMatch{Text: projectID},
				}},
			}},
		},
	}
	objects, err := c.caldav.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var events []models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, e := range c.reader.CalendarEvents(obj.Data) {
			// text-match is a substring match
			if e.ProjectID != projectID {
				continue
			}
			c.paths[e.ID] = obj.Path
			events = append(events, e)
		}
	}
	c.logger.Debug("Fetched CalDAV events", "project", projectID, "objects", len(objects), "events", len(events))
	return events, nil
}

// UpdateEventParticipants rewrites the attendees of the object holding the
// event. For a recurring event this updates the whole series.
func (c *Client) UpdateEventParticipants(ctx context.Context, eventID string, participantIDs []string) error {
	c.mu.Lock()
	path, ok := c.paths[eventID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
	}

	obj, err := c.caldav.GetCalendarObject(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to fetch calendar object: %w", err)
	}
	updated := 0
	for _, ve := range obj.Data.Events() {
		uid, _ := ve.Props.Text(ical.PropUID)
		if uid != "" && (eventID == uid || strings.HasPrefix(eventID, uid+"-")) {
			ics.SetAttendees(ve.Component, participantIDs)
			updated++
		}
	}
	if updated == 0 {
		return fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
	}

	if _, err := c.caldav.PutCalendarObject(ctx, path, obj.Data); err != nil {
		return fmt.Errorf("failed to put calendar object: %w", err)
	}
	c.logger.Debug("Updated CalDAV event attendees", "event", eventID, "participants", len(participantIDs))
	return nil
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *Client) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldav.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldav.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
