package fact

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingPatient   = errors.New("fact: patient key is required")
	ErrMissingEncounter = errors.New("fact: encounter key is required")
	ErrNoRootSubject    = errors.New("fact: graph has no resource root")
	ErrUnknownValueSlot = errors.New("fact: no decoder registered for value slot")
)

// NoModifier is the modifier_cd of a fact that has no modifier.
const NoModifier = "@"

// ValType is the observation_fact valtype_cd.
type ValType string

const (
	ValUnset  ValType = ""
	ValText   ValType = "T"
	ValNumber ValType = "N"
	ValDate   ValType = "D"
	ValBlob   ValType = "B"
	ValNone   ValType = "@"
)

// FactKey identifies the patient, encounter, provider and time every fact of
// one resource shares.
type FactKey struct {
	PatientNum   int       `json:"patient_num"`
	EncounterNum int       `json:"encounter_num"`
	ProviderID   string    `json:"provider_id"`
	StartDate    time.Time `json:"start_date"`
}

func (k FactKey) Validate(requireEncounter bool) error {
	if k.PatientNum == 0 {
		return ErrMissingPatient
	}
	if requireEncounter && k.EncounterNum == 0 {
		return ErrMissingEncounter
	}
	return nil
}

// Audit carries the bookkeeping columns stamped on every emitted fact.
type Audit struct {
	SourcesystemCD string    `json:"sourcesystem_cd"`
	UploadID       int       `json:"upload_id"`
	UpdateDate     time.Time `json:"update_date"`
	DownloadDate   time.Time `json:"download_date"`
	ImportDate     time.Time `json:"import_date"`
}

// Fact is one observation_fact row. Facts are values: the With* methods
// return modified copies.
type Fact struct {
	EncounterNum    int       `db:"encounter_num" json:"encounter_num"`
	PatientNum      int       `db:"patient_num" json:"patient_num"`
	ConceptCD       string    `db:"concept_cd" json:"concept_cd"`
	ProviderID      string    `db:"provider_id" json:"provider_id"`
	StartDate       time.Time `db:"start_date" json:"start_date"`
	ModifierCD      string    `db:"modifier_cd" json:"modifier_cd"`
	InstanceNum     int       `db:"instance_num" json:"instance_num"`
	ValTypeCD       ValType   `db:"valtype_cd" json:"valtype_cd,omitempty"`
	TValChar        string    `db:"tval_char" json:"tval_char,omitempty"`
	NValNum         *float64  `db:"nval_num" json:"nval_num,omitempty"`
	UnitsCD         string    `db:"units_cd" json:"units_cd,omitempty"`
	ObservationBlob string    `db:"observation_blob" json:"observation_blob,omitempty"`

	UpdateDate     time.Time `db:"update_date" json:"update_date"`
	DownloadDate   time.Time `db:"download_date" json:"download_date"`
	ImportDate     time.Time `db:"import_date" json:"import_date"`
	SourcesystemCD string    `db:"sourcesystem_cd" json:"sourcesystem_cd"`
	UploadID       int       `db:"upload_id" json:"upload_id"`
}

// NewFact returns a fact for concept under key with no modifier, instance 0
// and no value.
func NewFact(key FactKey, concept string) Fact {
	provider := key.ProviderID
	if provider == "" {
		provider = NoModifier
	}
	return Fact{
		EncounterNum: key.EncounterNum,
		PatientNum:   key.PatientNum,
		ConceptCD:    concept,
		ProviderID:   provider,
		StartDate:    key.StartDate,
		ModifierCD:   NoModifier,
	}
}

// DedupKey is the identity of a fact within one resource.
type DedupKey struct {
	InstanceNum int
	ConceptCD   string
	ModifierCD  string
}

func (f Fact) Key() DedupKey {
	return DedupKey{InstanceNum: f.InstanceNum, ConceptCD: f.ConceptCD, ModifierCD: f.ModifierCD}
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.InstanceNum, k.ConceptCD, k.ModifierCD)
}

func (f Fact) WithConcept(concept string) Fact {
	f.ConceptCD = concept
	return f
}

func (f Fact) WithModifier(modifier string) Fact {
	if modifier == "" {
		modifier = NoModifier
	}
	f.ModifierCD = modifier
	return f
}

func (f Fact) WithInstance(n int) Fact {
	f.InstanceNum = n
	return f
}

// WithValue replaces every value column with v.
func (f Fact) WithValue(v Value) Fact {
	f.ValTypeCD = v.Type
	f.TValChar = v.Text
	f.NValNum = v.Number
	f.ObservationBlob = v.Blob
	f.UnitsCD = ""
	return f
}

func (f Fact) WithText(s string) Fact {
	return f.WithValue(Value{Type: ValText, Text: s})
}

// WithNumber stores a numeric value; op is the comparator tag (E, L, LE,
// GE, G).
func (f Fact) WithNumber(op string, n float64, units string) Fact {
	f = f.WithValue(Value{Type: ValNumber, Text: op, Number: &n})
	f.UnitsCD = units
	return f
}

// WithNoValue marks the fact with the explicit NOVALUE type.
func (f Fact) WithNoValue() Fact {
	return f.WithValue(Value{Type: ValNone})
}

// withoutValue clears every value column, leaving the type unset.
func (f Fact) withoutValue() Fact {
	return f.WithValue(Value{})
}

func (f Fact) withAudit(a Audit) Fact {
	f.SourcesystemCD = a.SourcesystemCD
	f.UploadID = a.UploadID
	f.UpdateDate = a.UpdateDate
	f.DownloadDate = a.DownloadDate
	f.ImportDate = a.ImportDate
	return f
}

// Dedup drops facts whose key repeats an earlier fact, keeping the first.
func Dedup(facts []Fact) []Fact {
	seen := make(map[DedupKey]struct{}, len(facts))
	out := make([]Fact, 0, len(facts))
	for _, f := range facts {
		k := f.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	return out
}
