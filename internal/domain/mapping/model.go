package mapping

import "fmt"

// Kind selects the mapping table a registry feeds.
type Kind string

const (
	KindPatient   Kind = "patient"
	KindEncounter Kind = "encounter"
)

// ParseKind accepts "patient" or "encounter".
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindPatient, KindEncounter:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown mapping kind %q", s)
}

// Mapping is one row of patient_mapping or encounter_mapping: an external
// identifier under a source tag and project, mapped to a surrogate key.
type Mapping struct {
	ExternalID string `db:"ide" json:"external_id"`
	Source     string `db:"ide_source" json:"source"`
	ProjectID  string `db:"project_id" json:"project_id"`
	Key        int    `db:"num" json:"key"`
	Status     string `db:"ide_status" json:"status,omitempty"`

	// Encounter rows only.
	PatientIDE       string `db:"patient_ide" json:"patient_ide,omitempty"`
	PatientIDESource string `db:"patient_ide_source" json:"patient_ide_source,omitempty"`
}

// Option decorates the primary row registered on first allocation.
type Option func(*Mapping)

// WithPatient records the owning patient on an encounter mapping.
func WithPatient(ide, source string) Option {
	return func(m *Mapping) {
		m.PatientIDE = ide
		m.PatientIDESource = source
	}
}

// WithStatus sets the ide status column (A active, I inactive, ...).
func WithStatus(status string) Option {
	return func(m *Mapping) { m.Status = status }
}
