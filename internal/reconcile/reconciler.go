// Package reconcile detects and repairs divergence between the summary fields
// cached on projects and what their training events currently imply.
//
// Repairs are a two-step, operator-driven procedure: AnalyzeProject builds a
// report without writing anything, ApplyReconciliation writes the reviewed
// reports back.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"formacal/internal/models"
	"formacal/internal/sessions"
)

const defaultConcurrency = 4

// Options tunes a Reconciler. Zero values use defaults.
type Options struct {
	Attempts    int
	Timeout     time.Duration
	Backoff     time.Duration
	Concurrency int
	Builder     *sessions.Builder
	Formatter   sessions.Formatter
	Observer    Observer
}

// Reconciler compares projects with their events and repairs them.
type Reconciler struct {
	logger      *slog.Logger
	projects    ProjectStore
	events      EventStore
	writer      RepairWriter
	builder     *sessions.Builder
	formatter   sessions.Formatter
	observer    Observer
	retry       retryPolicy
	concurrency int
	now         func() time.Time
}

// New creates a Reconciler. When projects and events are the same store and it
// implements RepairWriter, each repair is written in one call.
func New(logger *slog.Logger, projects ProjectStore, events EventStore, opts Options) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Backoff == 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Builder == nil {
		opts.Builder = sessions.NewBuilder(logger, sessions.Options{})
	}
	if opts.Formatter == (sessions.Formatter{}) {
		opts.Formatter = sessions.DefaultFormatter
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	r := &Reconciler{
		logger:    logger,
		projects:  projects,
		events:    events,
		builder:   opts.Builder,
		formatter: opts.Formatter,
		observer:  opts.Observer,
		retry: retryPolicy{
			attempts: opts.Attempts,
			timeout:  opts.Timeout,
			backoff:  opts.Backoff,
			logger:   logger,
			observer: opts.Observer,
		},
		concurrency: opts.Concurrency,
		now:         time.Now,
	}
	if w, ok := projects.(RepairWriter); ok && any(projects) == any(events) {
		r.writer = w
	}
	return r
}

// AnalyzeProject reads a project and its events and reports the inconsistent
// fields with the values a repair would write. It never writes.
func (r *Reconciler) AnalyzeProject(ctx context.Context, projectID string) (*Report, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, &PreconditionError{Reason: "empty project identifier"}
	}

	var project models.Project
	err := r.retry.do(ctx, "get project", func(ctx context.Context) error {
		var err error
		project, err = r.projects.GetProject(ctx, projectID)
		return err
	})
	if errors.Is(err, models.ErrProjectNotFound) {
		return nil, &PreconditionError{ProjectID: projectID, Reason: "project does not exist", Err: err}
	}
	if err != nil {
		return nil, &StoreIOError{ProjectID: projectID, Op: "get project", Err: err}
	}

	var events []models.Event
	err = r.retry.do(ctx, "list events", func(ctx context.Context) error {
		var err error
		events, err = r.events.ListProjectEvents(ctx, projectID)
		return err
	})
	if err != nil {
		return nil, &StoreIOError{ProjectID: projectID, Op: "list events", Err: err}
	}

	report := r.Analyze(project, events)
	r.observer.ProjectAnalyzed(report)
	if !report.Consistent() {
		fields := make([]string, 0, len(report.Fields))
		for _, d := range report.Fields {
			fields = append(fields, string(d.Field))
		}
		r.logger.Info("Project is inconsistent with its events.", "project", projectID, "fields", strings.Join(fields, ","))
	} else {
		r.logger.Debug("Project is consistent.", "project", projectID)
	}
	return report, nil
}

// Analyze compares already fetched data. It is pure and safe for concurrent use.
func (r *Reconciler) Analyze(project models.Project, events []models.Event) *Report {
	built := r.builder.Build(events)
	summary := r.formatter.Summarize(built)

	report := &Report{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		AnalyzedAt:  r.now(),
		Fields:      []FieldDiff{},
		Summary:     summary,
		analyzed:    true,
	}

	var trainingIDs []string
	for _, s := range built {
		for _, ev := range s.Events {
			trainingIDs = append(trainingIDs, ev.ID)
		}
	}

	// no training events: nothing to propagate to, nothing implied
	if len(trainingIDs) > 0 && !sameSet(project.TraineeIDs, summary.ParticipantIDs) {
		resolution, resolved := resolveTrainees(project.TraineeIDs, summary.ParticipantIDs)
		report.Resolution = resolution
		report.TraineeIDs = resolved
		report.EventIDs = trainingIDs
		report.Fields = append(report.Fields, FieldDiff{
			Field:  FieldTrainees,
			OldIDs: nonNil(project.TraineeIDs),
			NewIDs: resolved,
		})
		if !sameSet(project.TraineeIDs, resolved) {
			ids := append([]string(nil), resolved...)
			report.patch.TraineeIDs = &ids
		}
	}

	if len(built) > 0 {
		if r.textInconsistent(project.LocationText, summary.FormattedLocation) {
			loc := summary.FormattedLocation
			report.patch.LocationText = &loc
			report.Fields = append(report.Fields, FieldDiff{Field: FieldLocation, Old: project.LocationText, New: loc})
		}
		if r.textInconsistent(project.PeriodText, summary.FormattedPeriod) {
			period := summary.FormattedPeriod
			report.patch.PeriodText = &period
			report.Fields = append(report.Fields, FieldDiff{Field: FieldPeriod, Old: project.PeriodText, New: period})
		}
	}
	return report
}

// textInconsistent reports whether the stored text must be replaced by the
// computed one. A stored empty value next to a computed placeholder is fine.
func (r *Reconciler) textInconsistent(stored, computed string) bool {
	if r.formatter.IsPlaceholder(computed) {
		return !r.formatter.IsPlaceholder(stored)
	}
	return strings.TrimSpace(stored) != computed
}

// resolveTrainees settles the trainee list: the side that has trainees wins,
// and when both have different ones the union is kept so nothing is dropped.
func resolveTrainees(projectIDs, eventIDs []string) (Resolution, []string) {
	switch {
	case len(projectIDs) > 0 && len(eventIDs) == 0:
		return ResolutionProjectToEvents, union(projectIDs)
	case len(projectIDs) == 0 && len(eventIDs) > 0:
		return ResolutionEventsToProject, union(eventIDs)
	default:
		return ResolutionUnion, union(projectIDs, eventIDs)
	}
}

// AnalyzeAll analyzes every project. Per-project failures are collected; the
// error is only set when the project list itself cannot be read.
func (r *Reconciler) AnalyzeAll(ctx context.Context) (BatchReport, error) {
	var ids []string
	err := r.retry.do(ctx, "list projects", func(ctx context.Context) error {
		var err error
		ids, err = r.projects.ListProjectIDs(ctx)
		return err
	})
	if err != nil {
		return BatchReport{}, fmt.Errorf("failed to list projects: %w", err)
	}

	reports := make([]*Report, len(ids))
	var (
		mu       sync.Mutex
		failures []Failure
		g        errgroup.Group
	)
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			report, err := r.AnalyzeProject(ctx, id)
			if err != nil {
				r.logger.Error("Failed to analyze project", "project", id, "error", err)
				mu.Lock()
				failures = append(failures, newFailure(id, err))
				mu.Unlock()
				return nil
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()

	batch := BatchReport{Reports: make([]*Report, 0, len(ids)), Failures: failures}
	for _, rep := range reports {
		if rep != nil {
			batch.Reports = append(batch.Reports, rep)
		}
	}
	r.logger.Info("Analysis finished.", "projects", len(ids), "inconsistent", len(batch.Inconsistent()), "failed", len(failures))
	return batch, nil
}

// ApplyReconciliation writes the repairs of the given reports. Reports that
// did not come out of AnalyzeProject reject the whole call before any write.
// A failing project is reported and does not stop the others.
func (r *Reconciler) ApplyReconciliation(ctx context.Context, reports ...*Report) (ApplyResult, error) {
	for _, rep := range reports {
		if rep == nil {
			return ApplyResult{}, &PreconditionError{Reason: "nil report"}
		}
		if !rep.analyzed {
			return ApplyResult{}, &PreconditionError{ProjectID: rep.ProjectID, Reason: "report was never analyzed"}
		}
	}

	var (
		mu     sync.Mutex
		result ApplyResult
		g      errgroup.Group
	)
	g.SetLimit(r.concurrency)
	for _, rep := range reports {
		if rep.Consistent() {
			result.Skipped++
			continue
		}
		result.Attempted++
		g.Go(func() error {
			err := r.applyOne(ctx, rep)
			r.observer.RepairFinished(rep.ProjectID, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Error("Failed to repair project", "project", rep.ProjectID, "error", err)
				result.Failures = append(result.Failures, newFailure(rep.ProjectID, err))
				return nil
			}
			r.logger.Info("Repaired project.", "project", rep.ProjectID, "fields", len(rep.Fields), "events", len(rep.Repair().EventIDs))
			result.Repaired++
			return nil
		})
	}
	_ = g.Wait()
	return result, nil
}

func (r *Reconciler) applyOne(ctx context.Context, rep *Report) error {
	repair := rep.Repair()

	if r.writer != nil {
		err := r.retry.do(ctx, "write repair", func(ctx context.Context) error {
			return r.writer.WriteRepair(ctx, repair)
		})
		if err != nil {
			return &StoreIOError{ProjectID: rep.ProjectID, Op: "write repair", Err: err}
		}
		return nil
	}

	if !repair.Patch.IsEmpty() {
		err := r.retry.do(ctx, "update project", func(ctx context.Context) error {
			return r.projects.UpdateProject(ctx, rep.ProjectID, repair.Patch)
		})
		if err != nil {
			return &StoreIOError{ProjectID: rep.ProjectID, Op: "update project", Err: err}
		}
	}
	for _, eventID := range repair.EventIDs {
		err := r.retry.do(ctx, "update event", func(ctx context.Context) error {
			return r.events.UpdateEventParticipants(ctx, eventID, repair.TraineeIDs)
		})
		if err != nil {
			return &StoreIOError{ProjectID: rep.ProjectID, Op: "update event " + eventID, Err: err}
		}
	}
	return nil
}

func sameSet(a, b []string) bool {
	sa, sb := toSet(a), toSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for k := range sa {
		if _, ok := sb[k]; !ok {
			return false
		}
	}
	return true
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// union merges id lists keeping first-seen order.
func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
