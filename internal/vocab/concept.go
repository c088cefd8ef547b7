package vocab

import "strings"

// ConceptCode is the warehouse form of a URI: "NAMESPACE:LOCAL".
type ConceptCode struct {
	Namespace string `json:"namespace"`
	Local     string `json:"local"`
}

func (c ConceptCode) String() string {
	if c.IsZero() {
		return ""
	}
	return c.Namespace + ":" + c.Local
}

func (c ConceptCode) IsZero() bool { return c.Namespace == "" && c.Local == "" }

// ParseConceptCode splits "NAMESPACE:LOCAL" at the first colon.
func ParseConceptCode(s string) (ConceptCode, bool) {
	ns, local, ok := strings.Cut(s, ":")
	if !ok || ns == "" || local == "" {
		return ConceptCode{}, false
	}
	return ConceptCode{Namespace: ns, Local: local}, true
}

// LastSegment returns the part of a dotted local name after its final dot:
// "ObservationReferenceRangeComponent.low" -> "low".
func LastSegment(local string) string {
	if i := strings.LastIndexByte(local, '.'); i >= 0 {
		return local[i+1:]
	}
	return local
}

// Composite builds the dotted name for child nested under parent:
// ("FHIR:Observation.referenceRange.low", "FHIR:Quantity.value")
// -> "FHIR:Observation.referenceRange.low.value".
func Composite(parent, child ConceptCode) ConceptCode {
	return ConceptCode{Namespace: parent.Namespace, Local: parent.Local + "." + LastSegment(child.Local)}
}

// LocalName returns the fragment of an IRI after the last '#' or '/'.
func LocalName(iri string) string {
	if i := strings.LastIndexAny(iri, "#/"); i >= 0 {
		return iri[i+1:]
	}
	return iri
}

// NamespaceOf returns the IRI up to and including the last '#' or '/'.
func NamespaceOf(iri string) string {
	if i := strings.LastIndexAny(iri, "#/"); i >= 0 {
		return iri[:i+1]
	}
	return iri
}
