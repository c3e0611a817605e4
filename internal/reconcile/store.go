package reconcile

import (
	"context"

	"formacal/internal/models"
)

// ProjectStore reads and updates project records.
type ProjectStore interface {
	ListProjectIDs(ctx context.Context) ([]string, error)
	// GetProject returns models.ErrProjectNotFound for unknown identifiers.
	GetProject(ctx context.Context, id string) (models.Project, error)
	UpdateProject(ctx context.Context, id string, patch models.ProjectPatch) error
}

// EventStore reads the events of a project and rewrites their participants.
type EventStore interface {
	ListProjectEvents(ctx context.Context, projectID string) ([]models.Event, error)
	UpdateEventParticipants(ctx context.Context, eventID string, participantIDs []string) error
}

// RepairWriter applies a whole repair atomically. Stores holding both projects
// and events implement it to keep the project and its events in step.
type RepairWriter interface {
	WriteRepair(ctx context.Context, repair models.Repair) error
}

// Observer is notified of reconciliation outcomes.
type Observer interface {
	ProjectAnalyzed(report *Report)
	RepairFinished(projectID string, err error)
	StoreRetry(op string)
}

type nopObserver struct{}

func (nopObserver) ProjectAnalyzed(*Report)       {}
func (nopObserver) RepairFinished(string, error) {}
func (nopObserver) StoreRetry(string)            {}
