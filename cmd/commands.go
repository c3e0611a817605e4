package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"formacal/internal/api"
	"formacal/internal/dates"
	"formacal/internal/ics"
	"formacal/internal/models"
	"formacal/internal/reconcile"
	"formacal/internal/sessions"
)

func sessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Group the training events of a project into sessions.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Usage: "Project identifier."},
			&cli.StringFlag{Name: "ics-in", Usage: "Read events from an iCalendar file instead of the event store."},
			&cli.StringFlag{Name: "ics-out", Usage: "Write one iCalendar event per session to this file."},
			&cli.BoolFlag{Name: "json", Usage: "Print sessions and summary as JSON."},
			&cli.BoolFlag{Name: "grid", Usage: "Print one line per day with the sessions running that day."},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				projectID := c.String("project")
				events, err := a.loadEvents(ctx, projectID, c.String("ics-in"))
				if err != nil {
					return err
				}

				list := a.builder.Build(events)
				summary := a.formatter.Summarize(list)

				if out := c.String("ics-out"); out != "" {
					if err := writeICS(out, projectID, list); err != nil {
						return err
					}
					a.logger.Info("Wrote sessions calendar.", "file", out, "sessions", len(list))
				}

				if c.Bool("json") {
					return printJSON(os.Stdout, map[string]any{"sessions": list, "summary": summary})
				}
				if c.Bool("grid") {
					printGrid(os.Stdout, a.formatter.Locale, list)
					return nil
				}
				printSessions(os.Stdout, a.formatter, list, summary)
				return nil
			})
		},
	}
}

// loadEvents reads events from an iCalendar file when given, else from the
// event store.
func (a *app) loadEvents(ctx context.Context, projectID, icsPath string) ([]models.Event, error) {
	if icsPath == "" {
		if projectID == "" {
			return nil, errors.New("--project is required without --ics-in")
		}
		return a.events.ListProjectEvents(ctx, projectID)
	}

	f, err := os.Open(icsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open calendar file: %w", err)
	}
	defer f.Close()

	events, err := ics.NewReader(a.logger, ics.ReadOptions{Location: a.loc, ProjectID: projectID}).ReadEvents(f)
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		return events, nil
	}
	filtered := events[:0]
	for _, e := range events {
		if e.ProjectID == projectID {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func writeICS(path, projectID string, list []sessions.LogicalSession) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create calendar file: %w", err)
	}
	if err := ics.WriteSessions(f, projectID, list, time.Now()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Report projects whose cached fields disagree with their events. Writes nothing.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Usage: "Analyze a single project."},
			&cli.BoolFlag{Name: "json", Usage: "Print reports as JSON."},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				batch, err := a.analyze(ctx, c.String("project"))
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return printJSON(os.Stdout, batch)
				}
				printBatch(os.Stdout, batch)
				return nil
			})
		},
	}
}

func (a *app) analyze(ctx context.Context, projectID string) (reconcile.BatchReport, error) {
	if projectID == "" {
		return a.reconciler.AnalyzeAll(ctx)
	}
	report, err := a.reconciler.AnalyzeProject(ctx, projectID)
	if err != nil {
		return reconcile.BatchReport{}, err
	}
	return reconcile.BatchReport{Reports: []*reconcile.Report{report}}, nil
}

func applyCommand() *cli.Command {
	return &cli.Command{
		Name:  "apply",
		Usage: "Analyze, show the planned repairs and write them after confirmation.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Usage: "Repair a single project."},
			&cli.BoolFlag{Name: "yes", Usage: "Write without asking for confirmation."},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				batch, err := a.analyze(ctx, c.String("project"))
				if err != nil {
					return err
				}
				pending := batch.Inconsistent()
				printBatch(os.Stdout, batch)
				if len(pending) == 0 {
					a.logger.Info("Nothing to repair.")
					return nil
				}

				if !c.Bool("yes") {
					answer := prompt(bufio.NewReader(os.Stdin), fmt.Sprintf("Repair %d project(s)? [y/N] ", len(pending)))
					if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
						a.logger.Info("Aborted, nothing was written.")
						return nil
					}
				}

				result, err := a.reconciler.ApplyReconciliation(ctx, pending...)
				if err != nil {
					return err
				}
				a.logger.Info("Reconciliation finished.", "attempted", result.Attempted, "repaired", result.Repaired, "failed", len(result.Failures))
				if len(result.Failures) > 0 {
					for _, f := range result.Failures {
						fmt.Fprintf(os.Stdout, "FAILED %s: %s\n", f.ProjectID, f.Message)
					}
					return fmt.Errorf("%d project(s) could not be repaired", len(result.Failures))
				}
				return nil
			})
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Analyze every project on a schedule and log inconsistencies. Writes nothing.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schedule", Usage: "Cron expression. Defaults to audit.schedule from the config."},
			&cli.BoolFlag{Name: "once", Usage: "Run a single audit and exit."},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				if c.Bool("once") {
					return a.audit(ctx)
				}

				schedule := c.String("schedule")
				if schedule == "" {
					schedule = a.cfg.Audit.Schedule
				}
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				sched := cron.New(cron.WithLocation(a.loc))
				if _, err := sched.AddFunc(schedule, func() {
					if err := a.audit(ctx); err != nil {
						a.logger.Error("Audit failed", "error", err)
					}
				}); err != nil {
					return fmt.Errorf("invalid schedule %q: %w", schedule, err)
				}

				a.logger.Info("Starting audit scheduler.", "schedule", schedule)
				sched.Start()
				<-ctx.Done()
				<-sched.Stop().Done()
				a.logger.Info("Audit scheduler stopped.")
				return nil
			})
		},
	}
}

func (a *app) audit(ctx context.Context) error {
	batch, err := a.reconciler.AnalyzeAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range batch.Inconsistent() {
		for _, d := range r.Fields {
			a.logger.Warn("Inconsistent project field", "project", r.ProjectID, "field", d.Field, "stored", d.Old, "computed", d.New)
		}
	}
	for _, f := range batch.Failures {
		a.logger.Error("Project could not be audited", "project", f.ProjectID, "error", f.Err)
	}
	a.logger.Info("Audit finished.", "projects", len(batch.Reports), "inconsistent", len(batch.Inconsistent()), "failed", len(batch.Failures))
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve sessions, consistency reports and metrics over HTTP.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "Listen address. Defaults to listen from the config."},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				addr := c.String("listen")
				if addr == "" {
					addr = a.cfg.Listen
				}
				srv := &http.Server{
					Addr: addr,
					Handler: api.NewRouter(&api.Server{
						Logger:    a.logger,
						Events:    a.events,
						Analyzer:  a.reconciler,
						Builder:   a.builder,
						Formatter: a.formatter,
						Gatherer:  a.registry,
					}),
					ReadHeaderTimeout: 10 * time.Second,
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()

				a.logger.Info("Starting API server.", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSessions(w io.Writer, f sessions.Formatter, list []sessions.LogicalSession, summary sessions.Summary) {
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d event(s)\n", sessions.Label(s), f.DateRange(s.Start, s.End), s.Location, len(s.Events))
		if s.IsMultiDay() {
			for _, ev := range s.Events {
				fmt.Fprintf(w, "\t%s\t%s\n", f.DateRange(ev.Start, ev.End), ev.Title)
			}
		}
		if len(s.ParticipantNames) > 0 {
			fmt.Fprintf(w, "\tparticipants: %s\n", strings.Join(s.ParticipantNames, ", "))
		}
	}
	fmt.Fprintf(w, "\n%d session(s), %s\n", summary.TotalSessions, summary.DateRange)
	fmt.Fprintf(w, "location: %s\n", summary.FormattedLocation)
	fmt.Fprintf(w, "period:   %s\n", summary.FormattedPeriod)
	if len(summary.TrainerNames) > 0 {
		fmt.Fprintf(w, "trainers: %s\n", strings.Join(summary.TrainerNames, ", "))
	}
}

// printGrid lists every day from the first session start to the last session
// day, with the labels of the sessions active that day or "-".
func printGrid(w io.Writer, locale string, list []sessions.LogicalSession) {
	var (
		events      []models.Event
		first, last time.Time
	)
	labels := make(map[string]string)
	for _, s := range list {
		events = append(events, s.Events...)
		for _, ev := range s.Events {
			labels[ev.ID] = sessions.Label(s)
		}
		if first.IsZero() || s.Start.Before(first) {
			first = s.Start
		}
		if end := dates.LastCoveredDay(s.Start, s.End); last.IsZero() || end.After(last) {
			last = end
		}
	}

	for _, day := range dates.DayRange(first, last) {
		var active []string
		seen := make(map[string]bool)
		for ev := range dates.EventsActiveOnDay(events, day) {
			if l := labels[ev.ID]; !seen[l] {
				seen[l] = true
				active = append(active, l)
			}
		}
		if len(active) == 0 {
			active = []string{"-"}
		}
		fmt.Fprintf(w, "%s\t%s\n", dates.FormatLocalDate(day, locale), strings.Join(active, ", "))
	}
}

func printBatch(w io.Writer, batch reconcile.BatchReport) {
	for _, r := range batch.Reports {
		if r.Consistent() {
			fmt.Fprintf(w, "%s: consistent\n", r.ProjectID)
			continue
		}
		fmt.Fprintf(w, "%s: %d inconsistent field(s)\n", r.ProjectID, len(r.Fields))
		for _, d := range r.Fields {
			if d.Field == reconcile.FieldTrainees {
				fmt.Fprintf(w, "  %s: [%s] -> [%s] (%s, %d event(s))\n", d.Field,
					strings.Join(d.OldIDs, ", "), strings.Join(d.NewIDs, ", "), r.Resolution, len(r.EventIDs))
				continue
			}
			fmt.Fprintf(w, "  %s: %q -> %q\n", d.Field, d.Old, d.New)
		}
	}
	for _, f := range batch.Failures {
		fmt.Fprintf(w, "%s: FAILED %s\n", f.ProjectID, f.Message)
	}
}
