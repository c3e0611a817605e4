package sessions

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formacal/internal/models"
)

var paris = mustLoad("Europe/Paris")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(month time.Month, day, hour, min int) time.Time {
	return time.Date(2024, month, day, hour, min, 0, 0, paris)
}

func training(id, title string, start, end time.Time, participants ...models.PersonRef) models.Event {
	return models.Event{
		ID:           id,
		ProjectID:    "P",
		Title:        title,
		Start:        start,
		End:          end,
		Kind:         models.KindTraining,
		Participants: participants,
	}
}

// scenarioEvents is a two-day session 1 (Mon/Tue) and a half-day session 2 (Thu).
func scenarioEvents() []models.Event {
	alice := models.PersonRef{ID: "A", Name: "Alice"}
	bob := models.PersonRef{ID: "B", Name: "Bob"}
	trainer := &models.PersonRef{ID: "T", Name: "Toni"}

	e1 := training("e1", "Session 1 - Day 1/2", at(3, 11, 9, 0), at(3, 11, 17, 0), alice)
	e1.Location = "Lyon"
	e1.Trainer = trainer
	e2 := training("e2", "Session 1 - Day 2/2", at(3, 12, 9, 0), at(3, 12, 17, 0), alice, bob)
	e2.Location = "Lyon"
	e2.Trainer = trainer
	e3 := training("e3", "Session 2", at(3, 14, 9, 0), at(3, 14, 12, 0), bob)
	e3.Location = "Lyon"
	return []models.Event{e3, e2, e1}
}

func TestBuildSessionsScenario(t *testing.T) {
	got := BuildSessions(scenarioEvents())
	require.Len(t, got, 2)

	s1, s2 := got[0], got[1]
	require.NotNil(t, s1.Number)
	assert.Equal(t, 1, *s1.Number)
	assert.Equal(t, "Session 1", s1.Title)
	assert.True(t, s1.Start.Equal(at(3, 11, 9, 0)))
	assert.True(t, s1.End.Equal(at(3, 12, 17, 0)))
	assert.True(t, s1.IsMultiDay())
	assert.Len(t, s1.Events, 2)
	assert.Equal(t, "e1", s1.Events[0].ID)
	assert.Equal(t, []string{"Alice", "Bob"}, s1.ParticipantNames)
	require.NotNil(t, s1.Trainer)
	assert.Equal(t, "Toni", s1.Trainer.Name)

	require.NotNil(t, s2.Number)
	assert.Equal(t, 2, *s2.Number)
	assert.True(t, s2.Start.Equal(at(3, 14, 9, 0)))
	assert.True(t, s2.End.Equal(at(3, 14, 12, 0)))
	assert.False(t, s2.IsMultiDay())
	assert.Len(t, s2.Events, 1)

	sum := Summarize(got)
	assert.Equal(t, 2, sum.TotalSessions)
	assert.Equal(t, "11 au 14 mars 2024", strings.ToLower(sum.DateRange))
	assert.Equal(t, []string{"Lyon"}, sum.Locations)
	assert.Equal(t, "Lyon", sum.FormattedLocation)
	assert.Equal(t, []string{"Alice", "Bob"}, sum.ParticipantNames)
	assert.Equal(t, []string{"A", "B"}, sum.ParticipantIDs)
	assert.Equal(t, []string{"Toni"}, sum.TrainerNames)
}

func TestBuildSessionsIdempotent(t *testing.T) {
	events := scenarioEvents()
	first := BuildSessions(events)
	second := BuildSessions(events)
	assert.Equal(t, first, second)
}

func TestBuildSessionsGrouping(t *testing.T) {
	events := []models.Event{
		training("u2", "Atelier pratique", at(4, 3, 9, 0), at(4, 3, 12, 0)),
		training("n3b", "Session 3 - Jour 2/2", at(4, 9, 9, 0), at(4, 9, 17, 0)),
		training("u1", "Atelier pratique", at(4, 1, 9, 0), at(4, 1, 12, 0)),
		training("n3a", "Session 3 - Jour 1/2", at(4, 8, 9, 0), at(4, 8, 17, 0)),
		training("n1", "session n°1", at(4, 10, 9, 0), at(4, 10, 17, 0)),
		{ID: "other", Title: "Session 1", Start: at(4, 2, 9, 0), End: at(4, 2, 10, 0), Kind: models.KindOther},
	}

	got := BuildSessions(events)
	require.Len(t, got, 4)

	// numbered first by number, then unnumbered in chronological order
	require.NotNil(t, got[0].Number)
	assert.Equal(t, 1, *got[0].Number)
	assert.Len(t, got[0].Events, 1, "non-training events never join a session")

	require.NotNil(t, got[1].Number)
	assert.Equal(t, 3, *got[1].Number)
	assert.Equal(t, []string{"n3a", "n3b"}, []string{got[1].Events[0].ID, got[1].Events[1].ID})
	assert.Equal(t, "Session 3", got[1].Title)

	assert.Nil(t, got[2].Number)
	assert.Nil(t, got[3].Number)
	assert.Equal(t, "u1", got[2].Events[0].ID)
	assert.Equal(t, "u2", got[3].Events[0].ID, "identical unnumbered titles stay separate")

	for _, s := range got {
		for _, ev := range s.Events {
			if n, ok := ExtractSessionNumber(ev.Title); ok {
				assert.Equal(t, n, *s.Number)
			} else {
				assert.Len(t, s.Events, 1)
			}
		}
	}
}

func TestBuildSessionsEdgeCases(t *testing.T) {
	got := BuildSessions(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	single := BuildSessions([]models.Event{training("x", "Introduction", at(5, 2, 9, 0), at(5, 2, 10, 0))})
	require.Len(t, single, 1)
	assert.Nil(t, single[0].Number)
	assert.False(t, single[0].IsMultiDay())

	// same number, far apart: still merged
	far := BuildSessions([]models.Event{
		training("a", "Session 4", at(1, 8, 9, 0), at(1, 8, 17, 0)),
		training("b", "Session 4", at(6, 8, 9, 0), at(6, 8, 17, 0)),
	})
	require.Len(t, far, 1)
	assert.Len(t, far[0].Events, 2)
}

func TestBuildSessionsSkipsMalformedEvents(t *testing.T) {
	var buf bytes.Buffer
	b := NewBuilder(slog.New(slog.NewTextHandler(&buf, nil)), Options{})

	got := b.Build([]models.Event{
		training("ok", "Session 1", at(5, 2, 9, 0), at(5, 2, 10, 0)),
		training("inverted", "Session 1", at(5, 3, 10, 0), at(5, 3, 9, 0)),
		training("no-start", "Session 2", time.Time{}, at(5, 3, 9, 0)),
	})
	require.Len(t, got, 1)
	assert.Len(t, got[0].Events, 1)
	assert.Contains(t, buf.String(), "inverted")
	assert.Contains(t, buf.String(), "no-start")
}

func TestBuilderGapWarning(t *testing.T) {
	events := []models.Event{
		training("a", "Session 2", at(1, 8, 9, 0), at(1, 8, 17, 0)),
		training("b", "Session 2", at(1, 9, 9, 0), at(1, 9, 17, 0)),
		training("c", "Session 2", at(2, 20, 9, 0), at(2, 20, 17, 0)),
	}

	var buf bytes.Buffer
	b := NewBuilder(slog.New(slog.NewTextHandler(&buf, nil)), Options{})
	got := b.Build(events)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Events, 3)
	assert.Equal(t, 1, strings.Count(buf.String(), "far apart"))
	assert.Contains(t, buf.String(), "previous=b")

	buf.Reset()
	NewBuilder(slog.New(slog.NewTextHandler(&buf, nil)), Options{GapWarning: -1}).Build(events)
	assert.Empty(t, buf.String())
}

func TestExtractSessionNumber(t *testing.T) {
	tests := []struct {
		title  string
		want   int
		wantOK bool
	}{
		{title: "Session 3", want: 3, wantOK: true},
		{title: "Formation Excel - Session 12 - Day 1/3", want: 12, wantOK: true},
		{title: "session n°2", want: 2, wantOK: true},
		{title: "SESSION #4", want: 4, wantOK: true},
		{title: "Session no 5", want: 5, wantOK: true},
		{title: "Session notes 5", wantOK: false},
		{title: "Minisession 2", wantOK: false},
		{title: "Atelier - Day 1/2", wantOK: false},
		{title: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got, ok := ExtractSessionNumber(tt.title)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestStripDaySuffix(t *testing.T) {
	tests := map[string]string{
		"Session 1 - Day 1/2":     "Session 1",
		"Session 1 – Jour 2/3":    "Session 1",
		"Session 1 -J3/3":         "Session 1",
		"Session 1":               "Session 1",
		"Day 1/2 - Session 1":     "Day 1/2 - Session 1",
		"  Management - Day 2/2 ": "Management",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripDaySuffix(in), in)
	}
}
