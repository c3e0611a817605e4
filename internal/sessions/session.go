// Package sessions groups the training events of a project into logical
// sessions and derives the summary strings shown to users and cached on projects.
package sessions

import (
	"time"

	"formacal/internal/models"
)

// LogicalSession is one conceptual training engagement, possibly stored as
// several calendar events (one per day). It is rebuilt on every call.
type LogicalSession struct {
	Number           *int              `json:"number"`
	Title            string            `json:"title"`
	Start            time.Time         `json:"start"`
	End              time.Time         `json:"end"`
	Location         string            `json:"location,omitempty"`
	Trainer          *models.PersonRef `json:"trainer,omitempty"`
	ParticipantNames []string          `json:"participant_names"`
	Events           []models.Event    `json:"events"`
}

// IsMultiDay reports whether the session is made of more than one event.
func (s LogicalSession) IsMultiDay() bool {
	return len(s.Events) > 1
}

// participantIDs returns the union of participant ids over the member events.
func (s LogicalSession) participantIDs() []string {
	var ids orderedSet
	for _, ev := range s.Events {
		for _, p := range ev.Participants {
			ids.add(p.ID)
		}
	}
	return ids.items
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func (o *orderedSet) add(v string) {
	if v == "" {
		return
	}
	if o.seen == nil {
		o.seen = make(map[string]struct{})
	}
	if _, ok := o.seen[v]; ok {
		return
	}
	o.seen[v] = struct{}{}
	o.items = append(o.items, v)
}

func (o *orderedSet) list() []string {
	if o.items == nil {
		return []string{}
	}
	return o.items
}
