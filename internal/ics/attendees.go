package ics

import (
	"github.com/emersion/go-ical"
)

// SetAttendees replaces the ATTENDEE properties of comp with one per id.
// Known common names are kept.
func SetAttendees(comp *ical.Component, participantIDs []string) {
	names := map[string]string{}
	for _, p := range attendees(comp) {
		names[p.ID] = p.Name
	}

	comp.Props.Del(ical.PropAttendee)
	for _, id := range participantIDs {
		comp.Props.Add(attendeeProp(id, names[id]))
	}
}
