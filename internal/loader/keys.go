package loader

import (
	"time"

	"github.com/ehr/cdw/internal/graph/fhirjson"
)

// Reference fields naming the patient a resource belongs to, in order of
// preference.
var patientRefs = []string{"subject", "patient", "beneficiary", "individual"}

var encounterRefs = []string{"encounter", "context"}

// Date fields used as the fact start date, in order of preference.
var startFields = []string{
	"effectiveDateTime",
	"effectivePeriod.start",
	"effectiveInstant",
	"issued",
	"period.start",
	"onsetDateTime",
	"performedDateTime",
	"performedPeriod.start",
	"occurrenceDateTime",
	"recordedDate",
	"recorded",
	"authoredOn",
	"dateAsserted",
	"date",
	"birthDate",
	"meta.lastUpdated",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// patientOf returns the logical id of the patient r describes or belongs to.
func patientOf(r *fhirjson.Resource) (string, bool) {
	if r.Type == "Patient" {
		return r.ID, r.ID != ""
	}
	for _, f := range patientRefs {
		if typ, id, ok := r.Reference(f); ok && (typ == "" || typ == "Patient") {
			return id, true
		}
	}
	return "", false
}

// encounterOf returns the encounter id for r: an Encounter's own id, its
// encounter reference, or for other identified resources the resource
// itself.
func encounterOf(r *fhirjson.Resource) (string, bool) {
	switch r.Type {
	case "Encounter":
		return r.ID, r.ID != ""
	case "Patient":
		return "", false
	}
	for _, f := range encounterRefs {
		if typ, id, ok := r.Reference(f); ok && (typ == "" || typ == "Encounter") {
			return id, true
		}
	}
	if r.ID != "" {
		return r.Type + "/" + r.ID, true
	}
	return "", false
}

func startOf(r *fhirjson.Resource, now time.Time) time.Time {
	for _, f := range startFields {
		if s, ok := r.String(f); ok {
			if t, ok := parseTime(s); ok {
				return t
			}
		}
	}
	return now
}
