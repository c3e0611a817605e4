package sessions

import (
	"log/slog"
	"sort"
	"time"

	"formacal/internal/models"
)

// DefaultGapWarning is the gap between same-numbered events above which a
// merge is reported as suspicious.
const DefaultGapWarning = 7 * 24 * time.Hour

// Options tunes a Builder.
type Options struct {
	// GapWarning triggers a warning when two consecutive members of one
	// numbered session are further apart. Zero uses DefaultGapWarning;
	// a negative value disables the check.
	GapWarning time.Duration
}

// Builder groups events into logical sessions. It holds no mutable state and
// is safe for concurrent use.
type Builder struct {
	logger     *slog.Logger
	gapWarning time.Duration
}

// NewBuilder creates a Builder. A nil logger discards diagnostics.
func NewBuilder(logger *slog.Logger, opts Options) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	gap := opts.GapWarning
	if gap == 0 {
		gap = DefaultGapWarning
	}
	return &Builder{logger: logger, gapWarning: gap}
}

var defaultBuilder = NewBuilder(nil, Options{})

// BuildSessions groups events with a default Builder that discards diagnostics.
func BuildSessions(events []models.Event) []LogicalSession {
	return defaultBuilder.Build(events)
}

type group struct {
	number *int
	events []models.Event
}

// Build turns a flat list of project events into ordered logical sessions:
// training events sharing a session number form one session, events without
// a number are sessions of their own. Numbered sessions come first by number,
// unnumbered ones follow in chronological order.
func (b *Builder) Build(events []models.Event) []LogicalSession {
	training := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if !ev.IsTraining() {
			continue
		}
		if err := ev.Validate(); err != nil {
			b.logger.Warn("Skipping malformed training event.", "event", ev.ID, "title", ev.Title, "error", err)
			continue
		}
		training = append(training, ev)
	}
	sortEvents(training)

	var (
		numbered   = make(map[int]*group)
		numbers    []int
		unnumbered []*group
	)
	for _, ev := range training {
		n, ok := ExtractSessionNumber(ev.Title)
		if !ok {
			unnumbered = append(unnumbered, &group{events: []models.Event{ev}})
			continue
		}
		g, exists := numbered[n]
		if !exists {
			num := n
			g = &group{number: &num}
			numbered[n] = g
			numbers = append(numbers, n)
		}
		g.events = append(g.events, ev)
	}
	sort.Ints(numbers)

	out := make([]LogicalSession, 0, len(numbers)+len(unnumbered))
	for _, n := range numbers {
		g := numbered[n]
		b.checkGaps(g)
		out = append(out, newSession(g))
	}
	// unnumbered groups were appended in chronological order already
	for _, g := range unnumbered {
		out = append(out, newSession(g))
	}
	return out
}

func (b *Builder) checkGaps(g *group) {
	if b.gapWarning < 0 || len(g.events) < 2 {
		return
	}
	for i := 1; i < len(g.events); i++ {
		prev, next := g.events[i-1], g.events[i]
		if gap := next.Start.Sub(prev.End); gap > b.gapWarning {
			b.logger.Warn("Merging same-numbered events that are far apart.",
				"session", *g.number,
				"previous", prev.ID,
				"next", next.ID,
				"gap", gap.String(),
				"threshold", b.gapWarning.String(),
			)
		}
	}
}

func newSession(g *group) LogicalSession {
	members := append([]models.Event(nil), g.events...)
	sortEvents(members)
	first := members[0]

	s := LogicalSession{
		Number:   g.number,
		Title:    StripDaySuffix(first.Title),
		Start:    first.Start,
		End:      first.End,
		Location: first.Location,
		Events:   members,
	}
	if first.Trainer != nil {
		t := *first.Trainer
		s.Trainer = &t
	}

	var names orderedSet
	for _, ev := range members {
		if ev.Start.Before(s.Start) {
			s.Start = ev.Start
		}
		if ev.End.After(s.End) {
			s.End = ev.End
		}
		for _, p := range ev.Participants {
			names.add(p.DisplayName())
		}
	}
	s.ParticipantNames = names.list()
	return s
}

// sortEvents orders events by start instant, then by identifier.
func sortEvents(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
}
