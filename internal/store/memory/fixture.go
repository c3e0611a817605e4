package memory

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"formacal/internal/dates"
	"formacal/internal/models"
)

// Fixture is the YAML document a Store is seeded from. Event times are
// RFC 3339 instants or wall-clock times in the primary timezone.
type Fixture struct {
	People   []models.PersonRef `yaml:"people"`
	Projects []models.Project   `yaml:"projects"`
	Events   []FixtureEvent     `yaml:"events"`
}

// FixtureEvent references people by id.
type FixtureEvent struct {
	ID           string   `yaml:"id"`
	ProjectID    string   `yaml:"project_id"`
	Title        string   `yaml:"title"`
	Start        string   `yaml:"start"`
	End          string   `yaml:"end"`
	Location     string   `yaml:"location"`
	Trainer      string   `yaml:"trainer"`
	Participants []string `yaml:"participants"`
	Kind         string   `yaml:"kind"`
}

// Load reads a fixture file into a new Store.
func Load(logger *slog.Logger, path string, loc *time.Location) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()

	s := New(logger)
	if err := s.LoadFixture(f, loc); err != nil {
		return nil, fmt.Errorf("failed to load fixture %s: %w", path, err)
	}
	return s, nil
}

// LoadFixture decodes a fixture and adds its records. Events with unreadable
// times are logged and skipped.
func (s *Store) LoadFixture(r io.Reader, loc *time.Location) error {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode fixture: %w", err)
	}

	for _, p := range fx.People {
		s.AddPerson(p)
	}
	for _, p := range fx.Projects {
		s.AddProject(p)
	}
	for _, fe := range fx.Events {
		e, err := fe.toEvent(loc)
		if err != nil {
			s.logger.Warn("Skipping fixture event", "event", fe.ID, "error", err)
			continue
		}
		if e.Trainer != nil {
			e.Trainer.Name = s.personName(e.Trainer.ID)
		}
		s.AddEvent(e)
	}
	s.logger.Debug("Loaded fixture.", "projects", len(fx.Projects), "events", len(fx.Events))
	return nil
}

func (s *Store) personName(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.people[id]
}

func (fe FixtureEvent) toEvent(loc *time.Location) (models.Event, error) {
	start, err := dates.ParseInstant(fe.Start, loc)
	if err != nil {
		return models.Event{}, err
	}
	end, err := dates.ParseInstant(fe.End, loc)
	if err != nil {
		return models.Event{}, err
	}

	e := models.Event{
		ID:        fe.ID,
		ProjectID: fe.ProjectID,
		Title:     fe.Title,
		Start:     start,
		End:       end,
		Location:  fe.Location,
		Kind:      models.ParseEventKind(fe.Kind),
	}
	if fe.Trainer != "" {
		e.Trainer = &models.PersonRef{ID: fe.Trainer}
	}
	for _, id := range fe.Participants {
		e.Participants = append(e.Participants, models.PersonRef{ID: id})
	}
	return e, nil
}
