// Package postgres stores projects, events and people in PostgreSQL.
//
// Id lists are text[] columns. Timestamps are stored as timestamptz and
// returned in the display location.
package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"formacal/internal/models"
)

const pingAttempts = 10

var schema = []string{
	`CREATE TABLE IF NOT EXISTS people (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL DEFAULT '',
		trainee_ids   TEXT[] NOT NULL DEFAULT '{}',
		location_text TEXT,
		period_text   TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id              TEXT PRIMARY KEY,
		project_id      TEXT NOT NULL REFERENCES projects (id),
		title           TEXT NOT NULL DEFAULT '',
		start_at        TIMESTAMP WITH TIME ZONE NOT NULL,
		end_at          TIMESTAMP WITH TIME ZONE NOT NULL,
		location        TEXT,
		trainer_id      TEXT,
		trainer_name    TEXT,
		participant_ids TEXT[] NOT NULL DEFAULT '{}',
		event_kind      TEXT NOT NULL DEFAULT 'other'
	)`,
	`CREATE INDEX IF NOT EXISTS events_project_id_idx ON events (project_id)`,
}

// Store implements the reconciler's project and event stores. Repairs are
// written in one transaction.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	loc    *time.Location
}

// New wraps an open database handle.
func New(db *sqlx.DB, logger *slog.Logger, loc *time.Location) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Store{db: db, logger: logger, loc: loc}
}

// Open connects to dsn and waits for the database to answer.
func Open(ctx context.Context, dsn string, logger *slog.Logger, loc *time.Location) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err := ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, logger, loc), nil
}

// ping waits for the database to be ready, 100ms longer between each attempt.
func ping(ctx context.Context, db *sqlx.DB) error {
	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "pinging database")
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return errors.Wrap(err, "DB ping timeout")
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, q := range schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "creating tables")
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type projectRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	TraineeIDs   pq.StringArray `db:"trainee_ids"`
	LocationText sql.NullString `db:"location_text"`
	PeriodText   sql.NullString `db:"period_text"`
}

func (r projectRow) toModel() models.Project {
	return models.Project{
		ID:           r.ID,
		Name:         r.Name,
		TraineeIDs:   []string(r.TraineeIDs),
		LocationText: r.LocationText.String,
		PeriodText:   r.PeriodText.String,
	}
}

type eventRow struct {
	ID             string         `db:"id"`
	ProjectID      string         `db:"project_id"`
	Title          string         `db:"title"`
	StartAt        time.Time      `db:"start_at"`
	EndAt          time.Time      `db:"end_at"`
	Location       sql.NullString `db:"location"`
	TrainerID      sql.NullString `db:"trainer_id"`
	TrainerName    sql.NullString `db:"trainer_name"`
	ParticipantIDs pq.StringArray `db:"participant_ids"`
	EventKind      string         `db:"event_kind"`
}

func (s *Store) ListProjectIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM projects ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "querying projects")
	}
	return ids, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (models.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, name, trainee_ids, location_text, period_text FROM projects WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, errors.Wrapf(models.ErrProjectNotFound, "project %s", id)
	}
	if err != nil {
		return models.Project{}, errors.Wrap(err, "querying project")
	}
	return row.toModel(), nil
}

func (s *Store) UpdateProject(ctx context.Context, id string, patch models.ProjectPatch) error {
	return updateProject(ctx, s.db, id, patch)
}

func updateProject(ctx context.Context, db sqlx.ExecerContext, id string, patch models.ProjectPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if patch.TraineeIDs != nil {
		set("trainee_ids", stringArray(*patch.TraineeIDs))
	}
	if patch.LocationText != nil {
		set("location_text", *patch.LocationText)
	}
	if patch.PeriodText != nil {
		set("period_text", *patch.PeriodText)
	}
	args = append(args, id)
	q := "UPDATE projects SET " + strings.Join(sets, ", ") + " WHERE id = $" + strconv.Itoa(len(args))

	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "updating project")
	}
	return expectOne(res, errors.Wrapf(models.ErrProjectNotFound, "project %s", id))
}

func (s *Store) ListProjectEvents(ctx context.Context, projectID string) ([]models.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, project_id, title, start_at, end_at, location, trainer_id, trainer_name, participant_ids, event_kind
		FROM events WHERE project_id = $1 ORDER BY start_at, id`, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "querying events")
	}

	names, err := s.peopleNames(ctx, rows)
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(rows))
	for _, r := range rows {
		e := models.Event{
			ID:        r.ID,
			ProjectID: r.ProjectID,
			Title:     r.Title,
			Start:     r.StartAt.In(s.loc),
			End:       r.EndAt.In(s.loc),
			Location:  r.Location.String,
			Kind:      models.ParseEventKind(r.EventKind),
		}
		if r.TrainerID.Valid && r.TrainerID.String != "" {
			e.Trainer = &models.PersonRef{ID: r.TrainerID.String, Name: r.TrainerName.String}
		}
		e.Participants = make([]models.PersonRef, len(r.ParticipantIDs))
		for i, id := range r.ParticipantIDs {
			e.Participants[i] = models.PersonRef{ID: id, Name: names[id]}
		}
		events = append(events, e)
	}
	return events, nil
}

func (s *Store) peopleNames(ctx context.Context, rows []eventRow) (map[string]string, error) {
	seen := map[string]bool{}
	var ids []string
	for _, r := range rows {
		for _, id := range r.ParticipantIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var people []models.PersonRef
	if err := s.db.SelectContext(ctx, &people, `SELECT id, name FROM people WHERE id = ANY($1)`, pq.StringArray(ids)); err != nil {
		return nil, errors.Wrap(err, "querying people")
	}
	for _, p := range people {
		names[p.ID] = p.Name
	}
	return names, nil
}

func (s *Store) UpdateEventParticipants(ctx context.Context, eventID string, participantIDs []string) error {
	return updateParticipants(ctx, s.db, eventID, participantIDs)
}

func updateParticipants(ctx context.Context, db sqlx.ExecerContext, eventID string, participantIDs []string) error {
	res, err := db.ExecContext(ctx, `UPDATE events SET participant_ids = $1 WHERE id = $2`, stringArray(participantIDs), eventID)
	if err != nil {
		return errors.Wrap(err, "updating event participants")
	}
	return expectOne(res, errors.Wrapf(models.ErrEventNotFound, "event %s", eventID))
}

// WriteRepair writes the project patch and every event update in a single
// transaction.
func (s *Store) WriteRepair(ctx context.Context, repair models.Repair) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = updateProject(ctx, tx, repair.ProjectID, repair.Patch); err != nil {
		return err
	}
	for _, id := range repair.EventIDs {
		if err = updateParticipants(ctx, tx, id, repair.TraineeIDs); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing repair")
	}
	s.logger.Debug("Committed repair.", "project", repair.ProjectID, "events", len(repair.EventIDs))
	return nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func stringArray(ids []string) pq.StringArray {
	if ids == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(ids)
}
