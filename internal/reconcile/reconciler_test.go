package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formacal/internal/models"
	"formacal/internal/sessions"
)

var errUnavailable = errors.New("store unavailable")

// fakeStore keeps projects and events in maps and can be told to fail.
type fakeStore struct {
	mu       sync.Mutex
	projects map[string]models.Project
	events   map[string]models.Event

	failGet       map[string]int // remaining failures per project
	failUpdate    map[string]bool
	failEvent     map[string]bool
	projectWrites int
	eventWrites   int
}

func newFakeStore(projects []models.Project, events []models.Event) *fakeStore {
	s := &fakeStore{
		projects:   map[string]models.Project{},
		events:     map[string]models.Event{},
		failGet:    map[string]int{},
		failUpdate: map[string]bool{},
		failEvent:  map[string]bool{},
	}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *fakeStore) ListProjectIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fakeStore) GetProject(_ context.Context, id string) (models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet[id] > 0 {
		s.failGet[id]--
		return models.Project{}, errUnavailable
	}
	p, ok := s.projects[id]
	if !ok {
		return models.Project{}, models.ErrProjectNotFound
	}
	p.TraineeIDs = append([]string(nil), p.TraineeIDs...)
	return p, nil
}

func (s *fakeStore) UpdateProject(_ context.Context, id string, patch models.ProjectPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate[id] {
		return errUnavailable
	}
	p, ok := s.projects[id]
	if !ok {
		return models.ErrProjectNotFound
	}
	patch.Apply(&p)
	s.projects[id] = p
	s.projectWrites++
	return nil
}

func (s *fakeStore) ListProjectEvents(_ context.Context, projectID string) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if e.ProjectID == projectID {
			e.Participants = append([]models.PersonRef(nil), e.Participants...)
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) UpdateEventParticipants(_ context.Context, eventID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEvent[eventID] {
		return errUnavailable
	}
	e, ok := s.events[eventID]
	if !ok {
		return models.ErrEventNotFound
	}
	e.Participants = make([]models.PersonRef, len(ids))
	for i, id := range ids {
		e.Participants[i] = models.PersonRef{ID: id}
	}
	s.events[eventID] = e
	s.eventWrites++
	return nil
}

func (s *fakeStore) project(id string) models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projects[id]
}

func (s *fakeStore) event(id string) models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id]
}

// txStore is a fakeStore that also writes repairs in one call.
type txStore struct {
	*fakeStore
	repairs []models.Repair
}

func (s *txStore) WriteRepair(ctx context.Context, repair models.Repair) error {
	s.repairs = append(s.repairs, repair)
	if !repair.Patch.IsEmpty() {
		if err := s.UpdateProject(ctx, repair.ProjectID, repair.Patch); err != nil {
			return err
		}
	}
	for _, id := range repair.EventIDs {
		if err := s.UpdateEventParticipants(ctx, id, repair.TraineeIDs); err != nil {
			return err
		}
	}
	return nil
}

var paris = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		panic(err)
	}
	return loc
}()

func day(d, hour int) time.Time {
	return time.Date(2024, time.March, d, hour, 0, 0, 0, paris)
}

func trainingEvent(id, projectID, title string, d int, participants ...string) models.Event {
	e := models.Event{
		ID:        id,
		ProjectID: projectID,
		Title:     title,
		Start:     day(d, 9),
		End:       day(d, 17),
		Location:  "Lyon",
		Kind:      models.KindTraining,
	}
	for _, p := range participants {
		e.Participants = append(e.Participants, models.PersonRef{ID: p})
	}
	return e
}

func participantIDs(e models.Event) []string {
	return e.ParticipantIDs()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestReconciler(projects ProjectStore, events EventStore) *Reconciler {
	return New(nil, projects, events, Options{Attempts: 3, Backoff: time.Millisecond, Timeout: time.Second})
}

// expectedTexts renders the location and period the events of a project imply.
func expectedTexts(events []models.Event) (string, string) {
	summary := sessions.Summarize(sessions.BuildSessions(events))
	return summary.FormattedLocation, summary.FormattedPeriod
}

func TestAnalyzeProjectConsistent(t *testing.T) {
	events := []models.Event{
		trainingEvent("e1", "P", "Session 1 - Day 1/2", 11, "A"),
		trainingEvent("e2", "P", "Session 1 - Day 2/2", 12, "A"),
	}
	location, period := expectedTexts(events)
	store := newFakeStore([]models.Project{{
		ID: "P", TraineeIDs: []string{"A"}, LocationText: location, PeriodText: period,
	}}, events)

	report, err := newTestReconciler(store, store).AnalyzeProject(context.Background(), "P")
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, "Lyon", location)
	assert.Equal(t, 1, report.Summary.TotalSessions)
}

func TestAnalyzeProjectNeverWrites(t *testing.T) {
	store := newFakeStore(
		[]models.Project{{ID: "P", TraineeIDs: []string{"A", "B"}}},
		[]models.Event{trainingEvent("e1", "P", "Session 1", 11, "B", "C")},
	)
	r := newTestReconciler(store, store)

	first, err := r.AnalyzeProject(context.Background(), "P")
	require.NoError(t, err)
	second, err := r.AnalyzeProject(context.Background(), "P")
	require.NoError(t, err)

	assert.Zero(t, store.projectWrites)
	assert.Zero(t, store.eventWrites)
	assert.Equal(t, first.Fields, second.Fields)
	assert.False(t, first.Consistent())
}

func TestUnionPrecedence(t *testing.T) {
	store := newFakeStore(
		[]models.Project{{ID: "P", TraineeIDs: []string{"A", "B"}}},
		[]models.Event{
			trainingEvent("e1", "P", "Session 1", 11, "B"),
			trainingEvent("e2", "P", "Session 2", 14, "C"),
		},
	)
	r := newTestReconciler(store, store)
	ctx := context.Background()

	report, err := r.AnalyzeProject(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, ResolutionUnion, report.Resolution)
	assert.Equal(t, []string{"A", "B", "C"}, report.TraineeIDs)
	assert.ElementsMatch(t, []string{"e1", "e2"}, report.EventIDs)

	diff, ok := report.Diff(FieldTrainees)
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, diff.OldIDs)
	assert.Equal(t, []string{"A", "B", "C"}, diff.NewIDs)

	result, err := r.ApplyReconciliation(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Repaired)
	assert.Empty(t, result.Failures)

	assert.Equal(t, []string{"A", "B", "C"}, store.project("P").TraineeIDs)
	assert.Equal(t, []string{"A", "B", "C"}, participantIDs(store.event("e1")))
	assert.Equal(t, []string{"A", "B", "C"}, participantIDs(store.event("e2")))

	again, err := r.AnalyzeProject(ctx, "P")
	require.NoError(t, err)
	assert.True(t, again.Consistent(), "fields still inconsistent: %+v", again.Fields)
}

func TestTraineeDirections(t *testing.T) {
	tests := []struct {
		name        string
		projectIDs  []string
		eventIDs    []string
		resolution  Resolution
		wantProject []string
		wantEvents  []string
	}{
		{
			name:        "project to events",
			projectIDs:  []string{"A"},
			resolution:  ResolutionProjectToEvents,
			wantProject: []string{"A"},
			wantEvents:  []string{"A"},
		},
		{
			name:        "events to project",
			eventIDs:    []string{"B", "C"},
			resolution:  ResolutionEventsToProject,
			wantProject: []string{"B", "C"},
			wantEvents:  []string{"B", "C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(
				[]models.Project{{ID: "P", TraineeIDs: tt.projectIDs}},
				[]models.Event{trainingEvent("e1", "P", "Session 1", 11, tt.eventIDs...)},
			)
			r := newTestReconciler(store, store)
			ctx := context.Background()

			report, err := r.AnalyzeProject(ctx, "P")
			require.NoError(t, err)
			require.True(t, report.Inconsistent(FieldTrainees))
			assert.Equal(t, tt.resolution, report.Resolution)

			_, err = r.ApplyReconciliation(ctx, report)
			require.NoError(t, err)
			assert.Equal(t, tt.wantProject, store.project("P").TraineeIDs)
			assert.Equal(t, tt.wantEvents, participantIDs(store.event("e1")))

			again, err := r.AnalyzeProject(ctx, "P")
			require.NoError(t, err)
			assert.True(t, again.Consistent())
		})
	}
}

func TestLocationAndPeriodRepairLeavesEventsAlone(t *testing.T) {
	events := []models.Event{
		trainingEvent("e1", "P", "Session 1 - Day 1/2", 11, "A"),
		trainingEvent("e2", "P", "Session 1 - Day 2/2", 12, "A"),
		trainingEvent("e3", "P", "Session 2", 14, "A"),
	}
	events[2].Location = "Paris"
	location, period := expectedTexts(events)

	store := newFakeStore([]models.Project{{
		ID: "P", TraineeIDs: []string{"A"}, LocationText: sessions.DefaultPlaceholder, PeriodText: "old",
	}}, events)
	r := newTestReconciler(store, store)
	ctx := context.Background()

	report, err := r.AnalyzeProject(ctx, "P")
	require.NoError(t, err)
	assert.False(t, report.Inconsistent(FieldTrainees))
	assert.True(t, report.Inconsistent(FieldLocation))
	assert.True(t, report.Inconsistent(FieldPeriod))
	assert.Equal(t, "Session 1: Lyon; Session 2: Paris", location)

	_, err = r.ApplyReconciliation(ctx, report)
	require.NoError(t, err)
	assert.Zero(t, store.eventWrites)
	assert.Equal(t, location, store.project("P").LocationText)
	assert.Equal(t, period, store.project("P").PeriodText)
}

func TestAnalyzeEdgeCases(t *testing.T) {
	t.Run("no training events", func(t *testing.T) {
		other := trainingEvent("m1", "P", "Kickoff", 11, "Z")
		other.Kind = models.KindOther
		store := newFakeStore([]models.Project{{ID: "P", TraineeIDs: []string{"A"}}}, []models.Event{other})

		report, err := newTestReconciler(store, store).AnalyzeProject(context.Background(), "P")
		require.NoError(t, err)
		assert.True(t, report.Consistent())
	})

	t.Run("missing locations keep the placeholder", func(t *testing.T) {
		e := trainingEvent("e1", "P", "Session 1", 11, "A")
		e.Location = ""
		_, period := expectedTexts([]models.Event{e})
		store := newFakeStore([]models.Project{{ID: "P", TraineeIDs: []string{"A"}, PeriodText: period}}, []models.Event{e})

		report, err := newTestReconciler(store, store).AnalyzeProject(context.Background(), "P")
		require.NoError(t, err)
		assert.True(t, report.Consistent())
	})
}

func TestPreconditions(t *testing.T) {
	store := newFakeStore(nil, nil)
	r := newTestReconciler(store, store)
	ctx := context.Background()

	_, err := r.AnalyzeProject(ctx, "")
	assert.True(t, IsPrecondition(err))

	_, err = r.AnalyzeProject(ctx, "missing")
	assert.True(t, IsPrecondition(err))
	assert.ErrorIs(t, err, models.ErrProjectNotFound)

	_, err = r.ApplyReconciliation(ctx, nil)
	assert.True(t, IsPrecondition(err))

	forged := &Report{ProjectID: "P", Fields: []FieldDiff{{Field: FieldLocation, New: "Lyon"}}}
	_, err = r.ApplyReconciliation(ctx, forged)
	assert.True(t, IsPrecondition(err))
	assert.Zero(t, store.projectWrites)
}

func TestApplyRejectsBeforeAnyWrite(t *testing.T) {
	store := newFakeStore(
		[]models.Project{{ID: "P"}},
		[]models.Event{trainingEvent("e1", "P", "Session 1", 11, "A")},
	)
	r := newTestReconciler(store, store)
	ctx := context.Background()

	valid, err := r.AnalyzeProject(ctx, "P")
	require.NoError(t, err)
	require.False(t, valid.Consistent())

	_, err = r.ApplyReconciliation(ctx, valid, &Report{ProjectID: "Q"})
	assert.True(t, IsPrecondition(err))
	assert.Zero(t, store.projectWrites)
	assert.Zero(t, store.eventWrites)
}

func TestApplyPartialFailure(t *testing.T) {
	store := newFakeStore(
		[]models.Project{{ID: "P1"}, {ID: "P2"}},
		[]models.Event{
			trainingEvent("e1", "P1", "Session 1", 11, "A"),
			trainingEvent("e2", "P2", "Session 1", 12, "B"),
		},
	)
	store.failUpdate["P2"] = true
	r := newTestReconciler(store, store)
	ctx := context.Background()

	batch, err := r.AnalyzeAll(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Inconsistent(), 2)

	result, err := r.ApplyReconciliation(ctx, batch.Reports...)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 1, result.Repaired)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "P2", result.Failures[0].ProjectID)
	assert.True(t, IsStoreIO(result.Failures[0].Err))
	assert.ErrorIs(t, result.Failures[0].Err, errUnavailable)

	assert.Equal(t, []string{"A"}, store.project("P1").TraineeIDs)
	assert.Empty(t, store.project("P2").TraineeIDs)
}

func TestApplySkipsConsistentReports(t *testing.T) {
	store := newFakeStore([]models.Project{{ID: "P"}}, nil)
	r := newTestReconciler(store, store)
	ctx := context.Background()

	report, err := r.AnalyzeProject(ctx, "P")
	require.NoError(t, err)

	result, err := r.ApplyReconciliation(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, ApplyResult{Skipped: 1}, result)
}

func TestApplyUsesRepairWriter(t *testing.T) {
	store := &txStore{fakeStore: newFakeStore(
		[]models.Project{{ID: "P", TraineeIDs: []string{"A"}}},
		[]models.Event{trainingEvent("e1", "P", "Session 1", 11, "B")},
	)}
	r := newTestReconciler(store, store)
	ctx := context.Background()

	report, err := r.AnalyzeProject(ctx, "P")
	require.NoError(t, err)
	_, err = r.ApplyReconciliation(ctx, report)
	require.NoError(t, err)

	require.Len(t, store.repairs, 1)
	assert.Equal(t, []string{"A", "B"}, store.repairs[0].TraineeIDs)
	assert.Equal(t, []string{"e1"}, store.repairs[0].EventIDs)
}

func TestRepairWriterNeedsSingleStore(t *testing.T) {
	projects := &txStore{fakeStore: newFakeStore(nil, nil)}
	events := newFakeStore(nil, nil)

	assert.Nil(t, newTestReconciler(projects, events).writer)
	assert.NotNil(t, newTestReconciler(projects, projects).writer)
}

func TestAnalyzeAllCollectsFailures(t *testing.T) {
	store := newFakeStore(
		[]models.Project{{ID: "P1"}, {ID: "P2"}, {ID: "P3"}},
		[]models.Event{trainingEvent("e1", "P1", "Session 1", 11, "A")},
	)
	store.failGet["P2"] = 10

	batch, err := newTestReconciler(store, store).AnalyzeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Reports, 2)
	assert.Equal(t, "P1", batch.Reports[0].ProjectID)
	assert.Equal(t, "P3", batch.Reports[1].ProjectID)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "P2", batch.Failures[0].ProjectID)
	assert.True(t, IsStoreIO(batch.Failures[0].Err))
}

type countingObserver struct {
	mu       sync.Mutex
	analyzed int
	repaired int
	retries  int
}

func (o *countingObserver) ProjectAnalyzed(*Report) {
	o.mu.Lock()
	o.analyzed++
	o.mu.Unlock()
}

func (o *countingObserver) RepairFinished(string, error) {
	o.mu.Lock()
	o.repaired++
	o.mu.Unlock()
}

func (o *countingObserver) StoreRetry(string) {
	o.mu.Lock()
	o.retries++
	o.mu.Unlock()
}

func TestRetryRecoversTransientFailures(t *testing.T) {
	store := newFakeStore([]models.Project{{ID: "P"}}, nil)
	store.failGet["P"] = 2
	obs := &countingObserver{}
	r := New(nil, store, store, Options{Attempts: 3, Backoff: time.Millisecond, Observer: obs})

	report, err := r.AnalyzeProject(context.Background(), "P")
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 2, obs.retries)
	assert.Equal(t, 1, obs.analyzed)
}

func TestRetryGivesUp(t *testing.T) {
	store := newFakeStore([]models.Project{{ID: "P"}}, nil)
	store.failGet["P"] = 5
	r := New(nil, store, store, Options{Attempts: 2, Backoff: time.Millisecond})

	_, err := r.AnalyzeProject(context.Background(), "P")
	var ioErr *StoreIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "get project", ioErr.Op)
	assert.Equal(t, 3, store.failGet["P"])
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	calls := 0
	p := retryPolicy{attempts: 5, backoff: time.Millisecond, logger: discardLogger(), observer: nopObserver{}}

	err := p.do(context.Background(), "get", func(context.Context) error {
		calls++
		return models.ErrProjectNotFound
	})
	assert.ErrorIs(t, err, models.ErrProjectNotFound)
	assert.Equal(t, 1, calls)
}

func TestRetryAppliesTimeout(t *testing.T) {
	p := retryPolicy{attempts: 1, timeout: 10 * time.Millisecond, logger: discardLogger(), observer: nopObserver{}}

	err := p.do(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
