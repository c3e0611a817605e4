// Package ics imports training events from iCalendar files and exports
// grouped sessions as iCalendar events.
package ics

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"formacal/internal/models"
)

// Non-standard properties carrying the fields iCalendar has no slot for.
const (
	PropProjectID     = "X-PROJECT-ID"
	PropEventKind     = "X-EVENT-KIND"
	PropTrainerID     = "X-TRAINER-ID"
	PropTrainerName   = "X-TRAINER-NAME"
	ParamParticipant  = "X-PARTICIPANT-ID"
	defaultMaxRepeats = 366
	defaultHorizon    = 366 * 24 * time.Hour
)

// ReadOptions controls how VEVENTs become events.
type ReadOptions struct {
	// Location resolves floating times and is the display location of the
	// returned events.
	Location *time.Location
	// ProjectID is used for events without an X-PROJECT-ID property.
	ProjectID string
	// Horizon bounds the expansion of recurring events past their first start.
	Horizon time.Duration
	// MaxOccurrences caps the expansion of one recurring event.
	MaxOccurrences int
}

func (o ReadOptions) withDefaults() ReadOptions {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Horizon <= 0 {
		o.Horizon = defaultHorizon
	}
	if o.MaxOccurrences <= 0 {
		o.MaxOccurrences = defaultMaxRepeats
	}
	return o
}

// Reader decodes iCalendar streams into events.
type Reader struct {
	logger *slog.Logger
	opts   ReadOptions
}

func NewReader(logger *slog.Logger, opts ReadOptions) *Reader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reader{logger: logger, opts: opts.withDefaults()}
}

// ReadEvents decodes every calendar in r. Recurring events are expanded into
// one event per occurrence. Malformed VEVENTs are logged and skipped.
func (rd *Reader) ReadEvents(r io.Reader) ([]models.Event, error) {
	dec := ical.NewDecoder(r)
	var events []models.Event
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode calendar: %w", err)
		}
		events = append(events, rd.CalendarEvents(cal)...)
	}
	rd.logger.Debug("Read calendar events.", "count", len(events))
	return events, nil
}

// CalendarEvents converts the VEVENTs of an already decoded calendar.
func (rd *Reader) CalendarEvents(cal *ical.Calendar) []models.Event {
	var events []models.Event
	for _, ve := range cal.Events() {
		evs, err := rd.convert(ve)
		if err != nil {
			rd.logger.Warn("Skipping calendar event", "error", err)
			continue
		}
		events = append(events, evs...)
	}
	return events
}

func (rd *Reader) convert(ve ical.Event) ([]models.Event, error) {
	loc := rd.opts.Location
	uid, _ := ve.Props.Text(ical.PropUID)
	if uid == "" {
		return nil, &models.DataQualityError{Field: "uid", Reason: "missing UID"}
	}

	start, err := ve.DateTimeStart(loc)
	if err != nil || start.IsZero() {
		return nil, &models.DataQualityError{EventID: uid, Field: "start", Reason: "missing or invalid DTSTART"}
	}
	end, err := ve.DateTimeEnd(loc)
	if err != nil {
		return nil, &models.DataQualityError{EventID: uid, Field: "end", Reason: err.Error()}
	}
	allDay := isAllDay(ve)
	if end.IsZero() && allDay {
		end = start.AddDate(0, 0, 1)
	}

	base := models.Event{
		ID:        uid,
		ProjectID: text(ve.Component, PropProjectID),
		Title:     text(ve.Component, ical.PropSummary),
		Start:     start.In(loc),
		End:       end.In(loc),
		Location:  text(ve.Component, ical.PropLocation),
		Kind:      eventKind(ve.Component),
	}
	if base.ProjectID == "" {
		base.ProjectID = rd.opts.ProjectID
	}
	if id := text(ve.Component, PropTrainerID); id != "" {
		base.Trainer = &models.PersonRef{ID: id, Name: text(ve.Component, PropTrainerName)}
	}
	base.Participants = attendees(ve.Component)
	if err := base.Validate(); err != nil {
		return nil, err
	}

	set, err := ve.RecurrenceSet(loc)
	if err != nil {
		return nil, &models.DataQualityError{EventID: uid, Field: "rrule", Reason: err.Error()}
	}
	if set == nil {
		return []models.Event{base}, nil
	}

	return rd.expand(base, set), nil
}

// expand returns one event per occurrence of set within the horizon, keeping
// the duration of the first occurrence.
func (rd *Reader) expand(base models.Event, set *rrule.Set) []models.Event {
	loc := rd.opts.Location
	duration := base.End.Sub(base.Start)
	occurrences := set.Between(base.Start, base.Start.Add(rd.opts.Horizon), true)
	if len(occurrences) > rd.opts.MaxOccurrences {
		rd.logger.Warn("Recurring event truncated", "event", base.ID, "occurrences", len(occurrences), "max", rd.opts.MaxOccurrences)
		occurrences = occurrences[:rd.opts.MaxOccurrences]
	}

	out := make([]models.Event, 0, len(occurrences))
	for _, occ := range occurrences {
		e := base
		e.Start = occ.In(loc)
		e.End = e.Start.Add(duration)
		e.ID = fmt.Sprintf("%s-%s", base.ID, e.Start.Format("20060102T150405"))
		e.Participants = append([]models.PersonRef(nil), base.Participants...)
		out = append(out, e)
	}
	return out
}

func isAllDay(ve ical.Event) bool {
	prop := ve.Props.Get(ical.PropDateTimeStart)
	return prop != nil && prop.ValueType() == ical.ValueDate
}

func text(comp *ical.Component, name string) string {
	v, err := comp.Props.Text(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

// eventKind reads X-EVENT-KIND, then CATEGORIES. Untagged events are
// training events.
func eventKind(comp *ical.Component) models.EventKind {
	if v := text(comp, PropEventKind); v != "" {
		return models.ParseEventKind(strings.ToLower(v))
	}
	for _, prop := range comp.Props.Values(ical.PropCategories) {
		for _, c := range strings.Split(prop.Value, ",") {
			if models.ParseEventKind(strings.ToLower(strings.TrimSpace(c))) == models.KindTraining {
				return models.KindTraining
			}
		}
		return models.KindOther
	}
	return models.KindTraining
}

// attendees maps ATTENDEE properties to participants. The id is the
// X-PARTICIPANT-ID parameter, else the address.
func attendees(comp *ical.Component) []models.PersonRef {
	var out []models.PersonRef
	for _, prop := range comp.Props.Values(ical.PropAttendee) {
		id := prop.Params.Get(ParamParticipant)
		if id == "" {
			id = strings.TrimPrefix(strings.TrimSpace(prop.Value), "mailto:")
		}
		if id == "" {
			continue
		}
		out = append(out, models.PersonRef{ID: id, Name: prop.Params.Get(ical.ParamCommonName)})
	}
	return out
}
