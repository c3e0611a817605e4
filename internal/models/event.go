package models

import (
	"fmt"
	"time"
)

// EventKind tags a calendar entry. Only KindTraining events take part in session grouping.
type EventKind string

const (
	KindTraining EventKind = "training"
	KindOther    EventKind = "other"
)

// ParseEventKind maps a stored tag to an EventKind. Unknown tags are KindOther.
func ParseEventKind(s string) EventKind {
	switch s {
	case "training", "formation":
		return KindTraining
	default:
		return KindOther
	}
}

// PersonRef references a trainer or participant.
type PersonRef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// DisplayName falls back to the identifier when no name is known.
func (p PersonRef) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Event represents a calendar entry belonging to a project.
// This is an internal representation, independent of the store it was read from.
type Event struct {
	ID           string      `json:"id" yaml:"id"`
	ProjectID    string      `json:"project_id" yaml:"project_id"`
	Title        string      `json:"title" yaml:"title"`
	Start        time.Time   `json:"start" yaml:"start"` // in the store's display location
	End          time.Time   `json:"end" yaml:"end"`
	Location     string      `json:"location,omitempty" yaml:"location,omitempty"`
	Trainer      *PersonRef  `json:"trainer,omitempty" yaml:"trainer,omitempty"`
	Participants []PersonRef `json:"participants" yaml:"participants"`
	Kind         EventKind   `json:"kind" yaml:"kind"`
}

// IsTraining reports whether the event is a training activity.
func (e Event) IsTraining() bool {
	return e.Kind == KindTraining
}

// ParticipantIDs returns the participant identifiers in stored order.
func (e Event) ParticipantIDs() []string {
	ids := make([]string, 0, len(e.Participants))
	for _, p := range e.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// Validate checks the fields grouping relies on.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return &DataQualityError{Field: "id", Reason: "missing identifier"}
	case e.Start.IsZero():
		return &DataQualityError{EventID: e.ID, Field: "start", Reason: "missing start instant"}
	case e.End.IsZero():
		return &DataQualityError{EventID: e.ID, Field: "end", Reason: "missing end instant"}
	case !e.Start.Before(e.End):
		return &DataQualityError{
			EventID: e.ID,
			Field:   "end",
			Reason:  fmt.Sprintf("end %s is not after start %s", e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339)),
		}
	}
	return nil
}
