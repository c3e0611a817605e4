package reconcile

import (
	"time"

	"formacal/internal/models"
	"formacal/internal/sessions"
)

// Field names a cached project field checked by the reconciler.
type Field string

const (
	FieldTrainees Field = "trainee_ids"
	FieldLocation Field = "location_text"
	FieldPeriod   Field = "period_text"
)

// Resolution records how conflicting trainee lists were settled.
type Resolution string

const (
	ResolutionNone            Resolution = ""
	ResolutionProjectToEvents Resolution = "project_to_events"
	ResolutionEventsToProject Resolution = "events_to_project"
	ResolutionUnion           Resolution = "union"
)

// FieldDiff is one inconsistent field with its stored and proposed values.
type FieldDiff struct {
	Field  Field    `json:"field"`
	Old    string   `json:"old,omitempty"`
	New    string   `json:"new,omitempty"`
	OldIDs []string `json:"old_ids,omitempty"`
	NewIDs []string `json:"new_ids,omitempty"`
}

// Report is the outcome of analyzing one project: which fields diverge from
// what the training events imply and the values a repair would write.
type Report struct {
	ProjectID   string           `json:"project_id"`
	ProjectName string           `json:"project_name,omitempty"`
	AnalyzedAt  time.Time        `json:"analyzed_at"`
	Fields      []FieldDiff      `json:"fields"`
	Resolution  Resolution       `json:"resolution,omitempty"`
	TraineeIDs  []string         `json:"trainee_ids,omitempty"`
	EventIDs    []string         `json:"event_ids,omitempty"`
	Summary     sessions.Summary `json:"summary"`

	analyzed bool
	patch    models.ProjectPatch
}

// Consistent reports whether nothing needs repair.
func (r *Report) Consistent() bool {
	return len(r.Fields) == 0
}

// Inconsistent reports whether f needs repair.
func (r *Report) Inconsistent(f Field) bool {
	_, ok := r.Diff(f)
	return ok
}

// Diff returns the diff recorded for f.
func (r *Report) Diff(f Field) (FieldDiff, bool) {
	for _, d := range r.Fields {
		if d.Field == f {
			return d, true
		}
	}
	return FieldDiff{}, false
}

// Repair returns the writes that make the project consistent. Events are only
// listed when the trainee field was inconsistent.
func (r *Report) Repair() models.Repair {
	repair := models.Repair{ProjectID: r.ProjectID, Patch: r.patch}
	if r.Inconsistent(FieldTrainees) {
		repair.EventIDs = append([]string(nil), r.EventIDs...)
		repair.TraineeIDs = append([]string(nil), r.TraineeIDs...)
	}
	return repair
}

// Failure is a project that could not be analyzed or repaired.
type Failure struct {
	ProjectID string `json:"project_id"`
	Err       error  `json:"-"`
	Message   string `json:"error"`
}

func newFailure(projectID string, err error) Failure {
	return Failure{ProjectID: projectID, Err: err, Message: err.Error()}
}

// BatchReport holds the reports of AnalyzeAll, in project listing order.
type BatchReport struct {
	Reports  []*Report `json:"reports"`
	Failures []Failure `json:"failures,omitempty"`
}

// Inconsistent returns the reports needing repair.
func (b BatchReport) Inconsistent() []*Report {
	var out []*Report
	for _, r := range b.Reports {
		if !r.Consistent() {
			out = append(out, r)
		}
	}
	return out
}

// ApplyResult counts the repairs of ApplyReconciliation.
type ApplyResult struct {
	Attempted int       `json:"attempted"`
	Repaired  int       `json:"repaired"`
	Skipped   int       `json:"skipped"`
	Failures  []Failure `json:"failures,omitempty"`
}
