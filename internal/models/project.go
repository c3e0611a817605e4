package models

// Project holds the summary fields cached from its training events.
type Project struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	TraineeIDs   []string `json:"trainee_ids" yaml:"trainee_ids"`
	LocationText string   `json:"location_text" yaml:"location_text"`
	PeriodText   string   `json:"period_text" yaml:"period_text"`
}

// ProjectPatch lists the summary fields to overwrite. Nil fields are left untouched.
type ProjectPatch struct {
	TraineeIDs   *[]string `json:"trainee_ids,omitempty"`
	LocationText *string   `json:"location_text,omitempty"`
	PeriodText   *string   `json:"period_text,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ProjectPatch) IsEmpty() bool {
	return p.TraineeIDs == nil && p.LocationText == nil && p.PeriodText == nil
}

// Apply writes the set fields of the patch onto project.
func (p ProjectPatch) Apply(project *Project) {
	if p.TraineeIDs != nil {
		project.TraineeIDs = append([]string(nil), (*p.TraineeIDs)...)
	}
	if p.LocationText != nil {
		project.LocationText = *p.LocationText
	}
	if p.PeriodText != nil {
		project.PeriodText = *p.PeriodText
	}
}

// Repair is the full set of writes for one project: the project patch and,
// when trainees were inconsistent, the participant ids for each listed event.
type Repair struct {
	ProjectID  string       `json:"project_id"`
	Patch      ProjectPatch `json:"patch"`
	EventIDs   []string     `json:"event_ids,omitempty"`
	TraineeIDs []string     `json:"trainee_ids,omitempty"`
}
