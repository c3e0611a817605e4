package sessions

import (
	"fmt"
	"strings"
	"time"

	"formacal/internal/dates"
)

const (
	// DefaultPlaceholder stands in for a missing location.
	DefaultPlaceholder = "À définir"

	breakdownSeparator = "; "
	rangeSeparator     = " au "
)

// Summary aggregates a project's sessions for display and for the cached
// project fields.
type Summary struct {
	TotalSessions     int      `json:"total_sessions"`
	DateRange         string   `json:"date_range"`
	Locations         []string `json:"locations"`
	ParticipantNames  []string `json:"participant_names"`
	ParticipantIDs    []string `json:"participant_ids"`
	TrainerNames      []string `json:"trainer_names"`
	FormattedLocation string   `json:"formatted_location"`
	FormattedPeriod   string   `json:"formatted_period"`
}

// Formatter renders date ranges and summaries for one locale.
type Formatter struct {
	Locale      string
	Placeholder string
}

// DefaultFormatter renders in French with the default placeholder.
var DefaultFormatter = Formatter{Locale: dates.DefaultLocale, Placeholder: DefaultPlaceholder}

// FormatDateRange renders the span of s with DefaultFormatter.
func FormatDateRange(s LogicalSession) string {
	return DefaultFormatter.DateRange(s.Start, s.End)
}

// Summarize aggregates sessions with DefaultFormatter.
func Summarize(sessions []LogicalSession) Summary {
	return DefaultFormatter.Summarize(sessions)
}

func (f Formatter) placeholder() string {
	if f.Placeholder == "" {
		return DefaultPlaceholder
	}
	return f.Placeholder
}

// IsPlaceholder reports whether v carries no real value for f.
func (f Formatter) IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, f.placeholder())
}

// DateRange renders start..end using local calendar components:
//
//	same day:        "11 mars 2024"
//	same month:      "11 au 12 mars 2024"
//	otherwise:       "28 février 2024 au 1 mars 2024"
//
// An end at local midnight closes the previous day. Invalid instants yield "".
func (f Formatter) DateRange(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return ""
	}
	end = dates.LastCoveredDay(start, end)
	switch {
	case dates.IsSameLocalDay(start, end):
		return dates.FormatLocalDate(start, f.Locale)
	case dates.SameLocalMonth(start, end):
		return dates.FormatLocalDay(start) + rangeSeparator + dates.FormatLocalDate(end, f.Locale)
	default:
		return dates.FormatLocalDate(start, f.Locale) + rangeSeparator + dates.FormatLocalDate(end, f.Locale)
	}
}

// Summarize aggregates sessions into a Summary. Sets are deduplicated and
// keep first-seen order.
func (f Formatter) Summarize(sessions []LogicalSession) Summary {
	var (
		locations, names, ids, trainers orderedSet
		earliest, latest                time.Time
	)
	for _, s := range sessions {
		if earliest.IsZero() || s.Start.Before(earliest) {
			earliest = s.Start
		}
		if latest.IsZero() || s.End.After(latest) {
			latest = s.End
		}
		locations.add(strings.TrimSpace(s.Location))
		for _, n := range s.ParticipantNames {
			names.add(n)
		}
		for _, id := range s.participantIDs() {
			ids.add(id)
		}
		for _, ev := range s.Events {
			if ev.Trainer != nil {
				trainers.add(ev.Trainer.DisplayName())
			}
		}
	}

	return Summary{
		TotalSessions:     len(sessions),
		DateRange:         f.DateRange(earliest, latest),
		Locations:         locations.list(),
		ParticipantNames:  names.list(),
		ParticipantIDs:    ids.list(),
		TrainerNames:      trainers.list(),
		FormattedLocation: f.FormatLocation(sessions),
		FormattedPeriod:   f.FormatPeriod(sessions),
	}
}

// FormatLocation renders the venue of the sessions: the location itself when
// every session shares it, otherwise one "Session <n>: <location>" entry per
// session. A missing location renders as the placeholder.
func (f Formatter) FormatLocation(sessions []LogicalSession) string {
	return f.breakdown(sessions, func(s LogicalSession) string {
		if loc := strings.TrimSpace(s.Location); loc != "" {
			return loc
		}
		return f.placeholder()
	})
}

// FormatPeriod renders the dates of the sessions with the same policy as
// FormatLocation.
func (f Formatter) FormatPeriod(sessions []LogicalSession) string {
	return f.breakdown(sessions, func(s LogicalSession) string {
		if r := f.DateRange(s.Start, s.End); r != "" {
			return r
		}
		return f.placeholder()
	})
}

func (f Formatter) breakdown(sessions []LogicalSession, value func(LogicalSession) string) string {
	if len(sessions) == 0 {
		return ""
	}
	values := make([]string, len(sessions))
	var distinct orderedSet
	for i, s := range sessions {
		values[i] = value(s)
		distinct.add(values[i])
	}
	if len(distinct.items) == 1 {
		return values[0]
	}
	parts := make([]string, len(sessions))
	for i, s := range sessions {
		parts[i] = fmt.Sprintf("%s: %s", Label(s), values[i])
	}
	return strings.Join(parts, breakdownSeparator)
}

// Label names a session in per-session breakdowns.
func Label(s LogicalSession) string {
	if s.Number != nil {
		return fmt.Sprintf("Session %d", *s.Number)
	}
	if s.Title != "" {
		return s.Title
	}
	return "Session"
}
