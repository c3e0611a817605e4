// Package google reads and updates training events kept in a Google Calendar.
//
// Events are linked to a project through the private extended property
// "projectId". Participants are the event attendees, identified by email.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"formacal/internal/dates"
	"formacal/internal/models"
)

// Private extended property keys.
const (
	PropProjectID   = "projectId"
	PropEventKind   = "eventKind"
	PropTrainerID   = "trainerId"
	PropTrainerName = "trainerName"
)

// Config selects the account and calendar.
type Config struct {
	ClientID     string
	ClientSecret string
	Account      string
	CalendarID   string
	Location     *time.Location
}

// CalendarClient is an event store backed by the Google Calendar API.
type CalendarClient struct {
	service    *calendar.Service
	logger     *slog.Logger
	calendarID string
	loc        *time.Location
}

// NewClient creates a new Google Calendar client from the saved token of
// cfg.Account. Run the auth command first to create it.
func NewClient(ctx context.Context, logger *slog.Logger, cfg Config) (*CalendarClient, error) {
	config, err := getOAuthConfig(cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(TokenFile(cfg.Account))
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", cfg.Account, err)
	}

	return NewClientWithHTTP(ctx, logger, config.Client(ctx, token), cfg)
}

// NewClientWithHTTP creates a client that sends its requests through
// httpClient. Extra options, such as an endpoint, are passed to the service.
func NewClientWithHTTP(ctx context.Context, logger *slog.Logger, httpClient *http.Client, cfg Config, opts ...option.ClientOption) (*CalendarClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &CalendarClient{service: service, logger: logger, calendarID: cfg.CalendarID, loc: cfg.Location}, nil
}

// ListProjectEvents fetches every event tagged with the project, following pages.
func (c *CalendarClient) ListProjectEvents(ctx context.Context, projectID string) ([]models.Event, error) {
	c.logger.Debug("Fetching project events", "calendarID", c.calendarID, "project", projectID)

	var events []models.Event
	err := c.service.Events.List(c.calendarID).
		Context(ctx).
		ShowDeleted(false).
		SingleEvents(true).
		PrivateExtendedProperty(PropProjectID+"="+projectID).
		OrderBy("startTime").
		Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				e, err := c.toInternalEvent(item, projectID)
				if err != nil {
					c.logger.Warn("Skipping Google event", "event", item.Id, "error", err)
					continue
				}
				events = append(events, e)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(events), "calendarID", c.calendarID)
	return events, nil
}

// toInternalEvent converts a Google Calendar event. All-day events span
// their dates in the display location.
func (c *CalendarClient) toInternalEvent(item *calendar.Event, projectID string) (models.Event, error) {
	if item.Start == nil || item.End == nil {
		return models.Event{}, &models.DataQualityError{EventID: item.Id, Field: "start", Reason: "missing start or end"}
	}
	start, err := dates.ParseInstant(eventTime(item.Start), c.loc)
	if err != nil {
		return models.Event{}, err
	}
	end, err := dates.ParseInstant(eventTime(item.End), c.loc)
	if err != nil {
		return models.Event{}, err
	}

	private := map[string]string{}
	if item.ExtendedProperties != nil && item.ExtendedProperties.Private != nil {
		private = item.ExtendedProperties.Private
	}

	e := models.Event{
		ID:        item.Id,
		ProjectID: projectID,
		Title:     item.Summary,
		Start:     start.In(c.loc),
		End:       end.In(c.loc),
		Location:  item.Location,
		Kind:      models.KindTraining,
	}
	if kind, ok := private[PropEventKind]; ok {
		e.Kind = models.ParseEventKind(kind)
	}
	if id := private[PropTrainerID]; id != "" {
		e.Trainer = &models.PersonRef{ID: id, Name: private[PropTrainerName]}
	}
	for _, a := range item.Attendees {
		if a.Resource || a.Email == "" {
			continue
		}
		e.Participants = append(e.Participants, models.PersonRef{ID: a.Email, Name: a.DisplayName})
	}
	return e, e.Validate()
}

func eventTime(t *calendar.EventDateTime) string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

// UpdateEventParticipants replaces the attendees of an event. Attendees that
// stay keep their response status. Nobody is notified.
func (c *CalendarClient) UpdateEventParticipants(ctx context.Context, eventID string, participantIDs []string) error {
	current, err := c.service.Events.Get(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return c.wrapNotFound(eventID, err)
	}

	existing := map[string]*calendar.EventAttendee{}
	var attendees []*calendar.EventAttendee
	for _, a := range current.Attendees {
		if a.Resource {
			attendees = append(attendees, a)
			continue
		}
		existing[a.Email] = a
	}
	for _, id := range participantIDs {
		if a, ok := existing[id]; ok {
			attendees = append(attendees, a)
			continue
		}
		attendees = append(attendees, &calendar.EventAttendee{Email: id})
	}

	patch := &calendar.Event{Attendees: attendees, ForceSendFields: []string{"Attendees"}}
	_, err = c.service.Events.Patch(c.calendarID, eventID, patch).Context(ctx).SendUpdates("none").Do()
	if err != nil {
		return c.wrapNotFound(eventID, err)
	}
	c.logger.Debug("Updated Google event attendees", "event", eventID, "attendees", len(attendees))
	return nil
}

func (c *CalendarClient) wrapNotFound(eventID string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
	}
	return fmt.Errorf("failed to update event %s: %w", eventID, err)
}
