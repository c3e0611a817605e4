// Package memory is an in-process project and event store. It backs the CLI
// when no database is configured and is loaded from a YAML fixture.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"formacal/internal/models"
)

// Store keeps projects, events and people in maps guarded by one lock.
// Reads return copies.
type Store struct {
	logger *slog.Logger

	mu           sync.RWMutex
	people       map[string]string
	projects     map[string]models.Project
	projectOrder []string
	events       map[string]models.Event
	eventOrder   []string
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		logger:   logger,
		people:   map[string]string{},
		projects: map[string]models.Project{},
		events:   map[string]models.Event{},
	}
}

// AddPerson registers a display name used when participants are rewritten.
func (s *Store) AddPerson(p models.PersonRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.people[p.ID] = p.Name
}

// AddProject inserts or replaces a project, assigning an id when missing.
func (s *Store) AddProject(p models.Project) models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := s.projects[p.ID]; !ok {
		s.projectOrder = append(s.projectOrder, p.ID)
	}
	p.TraineeIDs = cloneIDs(p.TraineeIDs)
	s.projects[p.ID] = p
	return cloneProject(p)
}

// AddEvent inserts or replaces an event, assigning an id when missing.
func (s *Store) AddEvent(e models.Event) models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	e = cloneEvent(e)
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, ok := s.events[e.ID]; !ok {
		s.eventOrder = append(s.eventOrder, e.ID)
	}
	for i := range e.Participants {
		s.rememberName(&e.Participants[i])
	}
	if e.Trainer != nil {
		s.rememberName(e.Trainer)
	}
	s.events[e.ID] = e
	return cloneEvent(e)
}

// rememberName fills p from the people registry, or registers its name when
// the id is not known yet. Callers hold the write lock.
func (s *Store) rememberName(p *models.PersonRef) {
	if p.Name == "" {
		p.Name = s.people[p.ID]
		return
	}
	if s.people[p.ID] == "" {
		s.people[p.ID] = p.Name
	}
}

// ListProjectIDs returns project ids in insertion order.
func (s *Store) ListProjectIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.projectOrder...), nil
}

func (s *Store) GetProject(_ context.Context, id string) (models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return models.Project{}, fmt.Errorf("%w: %s", models.ErrProjectNotFound, id)
	}
	return cloneProject(p), nil
}

func (s *Store) UpdateProject(_ context.Context, id string, patch models.ProjectPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateProject(id, patch)
}

func (s *Store) updateProject(id string, patch models.ProjectPatch) error {
	p, ok := s.projects[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrProjectNotFound, id)
	}
	patch.Apply(&p)
	s.projects[id] = p
	return nil
}

// ListProjectEvents returns the events of a project in insertion order.
func (s *Store) ListProjectEvents(_ context.Context, projectID string) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := []models.Event{}
	for _, id := range s.eventOrder {
		if e := s.events[id]; e.ProjectID == projectID {
			events = append(events, cloneEvent(e))
		}
	}
	return events, nil
}

func (s *Store) UpdateEventParticipants(_ context.Context, eventID string, participantIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setParticipants(eventID, participantIDs)
}

func (s *Store) setParticipants(eventID string, participantIDs []string) error {
	e, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
	}
	e.Participants = make([]models.PersonRef, len(participantIDs))
	for i, id := range participantIDs {
		e.Participants[i] = models.PersonRef{ID: id, Name: s.people[id]}
	}
	s.events[eventID] = e
	return nil
}

// WriteRepair applies a repair under one lock. Every target is checked first
// so a repair naming an unknown record changes nothing.
func (s *Store) WriteRepair(_ context.Context, repair models.Repair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[repair.ProjectID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrProjectNotFound, repair.ProjectID)
	}
	for _, id := range repair.EventIDs {
		if _, ok := s.events[id]; !ok {
			return fmt.Errorf("%w: %s", models.ErrEventNotFound, id)
		}
	}

	if err := s.updateProject(repair.ProjectID, repair.Patch); err != nil {
		return err
	}
	for _, id := range repair.EventIDs {
		if err := s.setParticipants(id, repair.TraineeIDs); err != nil {
			return err
		}
	}
	s.logger.Debug("Wrote repair.", "project", repair.ProjectID, "events", len(repair.EventIDs))
	return nil
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	return append([]string{}, ids...)
}

func cloneProject(p models.Project) models.Project {
	p.TraineeIDs = cloneIDs(p.TraineeIDs)
	return p
}

func cloneEvent(e models.Event) models.Event {
	if e.Participants != nil {
		e.Participants = append([]models.PersonRef{}, e.Participants...)
	}
	if e.Trainer != nil {
		t := *e.Trainer
		e.Trainer = &t
	}
	return e
}
