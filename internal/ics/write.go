package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"formacal/internal/sessions"
)

const productID = "-//formacal//EN"

// sessionNamespace derives stable UIDs so re-exporting a project updates
// the same calendar entries.
var sessionNamespace = uuid.MustParse("8f1d3c1e-4a52-4f8e-9d57-2b6c0f3e7a10")

// SessionUID returns the UID of an exported session.
func SessionUID(projectID string, s sessions.LogicalSession) string {
	key := fmt.Sprintf("%s/%s/%s", projectID, sessions.Label(s), s.Start.UTC().Format(time.RFC3339))
	return uuid.NewSHA1(sessionNamespace, []byte(key)).String()
}

// SessionsCalendar builds a calendar with one VEVENT per logical session.
func SessionsCalendar(projectID string, list []sessions.LogicalSession, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	for _, s := range list {
		cal.Children = append(cal.Children, sessionEvent(projectID, s, now).Component)
	}
	return cal
}

// WriteSessions encodes the sessions of a project as an iCalendar stream.
func WriteSessions(w io.Writer, projectID string, list []sessions.LogicalSession, now time.Time) error {
	if err := ical.NewEncoder(w).Encode(SessionsCalendar(projectID, list, now)); err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	return nil
}

func sessionEvent(projectID string, s sessions.LogicalSession, now time.Time) *ical.Event {
	ve := ical.NewEvent()
	ve.Props.SetText(ical.PropUID, SessionUID(projectID, s))
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, s.Start)
	ve.Props.SetDateTime(ical.PropDateTimeEnd, s.End)
	ve.Props.SetText(ical.PropSummary, summaryTitle(s))
	ve.Props.SetText(PropProjectID, projectID)
	ve.Props.SetText(PropEventKind, "training")

	if s.Location != "" {
		ve.Props.SetText(ical.PropLocation, s.Location)
	}
	if s.Trainer != nil {
		ve.Props.SetText(PropTrainerID, s.Trainer.ID)
		if s.Trainer.Name != "" {
			ve.Props.SetText(PropTrainerName, s.Trainer.Name)
		}
	}
	if len(s.ParticipantNames) > 0 {
		ve.Props.SetText(ical.PropDescription, "Participants: "+strings.Join(s.ParticipantNames, ", "))
	}

	seen := map[string]bool{}
	for _, ev := range s.Events {
		for _, p := range ev.Participants {
			if p.ID == "" || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			ve.Props.Add(attendeeProp(p.ID, p.Name))
		}
	}
	return ve
}

// summaryTitle is the session title, or its label for untitled sessions.
func summaryTitle(s sessions.LogicalSession) string {
	if s.Title != "" {
		return s.Title
	}
	return sessions.Label(s)
}

func attendeeAddress(id string) string {
	if strings.Contains(id, "@") {
		return "mailto:" + id
	}
	return "urn:uuid:" + id
}

func attendeeProp(id, name string) *ical.Prop {
	prop := ical.NewProp(ical.PropAttendee)
	prop.Value = attendeeAddress(id)
	prop.Params.Set(ParamParticipant, id)
	if name != "" {
		prop.Params.Set(ical.ParamCommonName, name)
	}
	return prop
}
