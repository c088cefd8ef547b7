package ontology

import (
	"sort"
	"strings"

	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/vocab"
)

// primitiveTypes are always leaves regardless of their declared hierarchy.
var primitiveTypes = map[string]bool{
	"base64Binary": true, "boolean": true, "canonical": true, "code": true,
	"date": true, "dateTime": true, "decimal": true, "id": true, "instant": true,
	"integer": true, "markdown": true, "oid": true, "positiveInt": true,
	"string": true, "time": true, "unsignedInt": true, "uri": true, "url": true,
	"uuid": true, "xhtml": true,
}

// complexTypes get a display tag in tooltips.
var complexTypes = map[string]bool{
	"Quantity": true, "Age": true, "Count": true, "Distance": true, "Duration": true,
	"SimpleQuantity": true, "Money": true, "CodeableConcept": true, "Coding": true,
	"Range": true, "Ratio": true, "Period": true, "SampledData": true,
	"Identifier": true, "HumanName": true, "Address": true, "ContactPoint": true,
	"Timing": true, "Attachment": true, "Reference": true, "Annotation": true,
}

// Meta indexes a class/property metadata graph.
type Meta struct {
	g        graph.Reader
	classes  []graph.Term
	byDomain map[graph.Term][]graph.Term
}

// NewMeta indexes g. Classes are the subjects of rdf:type owl:Class and of
// rdfs:subClassOf; properties are the subjects of rdfs:domain.
func NewMeta(g graph.Reader) *Meta {
	m := &Meta{g: g, byDomain: make(map[graph.Term][]graph.Term)}

	seen := make(map[graph.Term]bool)
	for _, c := range g.Subjects(vocab.RDFType, vocab.OWLClass) {
		if c.IsIRI() && !seen[c] {
			seen[c] = true
			m.classes = append(m.classes, c)
		}
	}
	for _, so := range g.SubjectObjects(vocab.RDFSSubClassOf) {
		if so.S.IsIRI() && !seen[so.S] {
			seen[so.S] = true
			m.classes = append(m.classes, so.S)
		}
	}
	sortTerms(m.classes)

	for _, so := range g.SubjectObjects(vocab.RDFSDomain) {
		if so.S.IsIRI() && so.O.IsIRI() {
			m.byDomain[so.O] = appendUnique(m.byDomain[so.O], so.S)
		}
	}
	for d := range m.byDomain {
		sortTerms(m.byDomain[d])
	}
	return m
}

func sortTerms(ts []graph.Term) {
	sort.Slice(ts, func(i, j int) bool { return graph.Compare(ts[i], ts[j]) < 0 })
}

func appendUnique(ts []graph.Term, t graph.Term) []graph.Term {
	for _, x := range ts {
		if x == t {
			return ts
		}
	}
	return append(ts, t)
}

// Classes returns every class in IRI order.
func (m *Meta) Classes() []graph.Term { return m.classes }

// Parents returns the named superclasses of c; restrictions are skipped.
func (m *Meta) Parents(c graph.Term) []graph.Term {
	var out []graph.Term
	for _, p := range m.g.Objects(c, vocab.RDFSSubClassOf) {
		if p.IsIRI() && p != c {
			out = appendUnique(out, p)
		}
	}
	sortTerms(out)
	return out
}

// Properties returns the properties whose domain is c.
func (m *Meta) Properties(c graph.Term) []graph.Term { return m.byDomain[c] }

// Ranges returns the declared ranges of property p.
func (m *Meta) Ranges(p graph.Term) []graph.Term {
	var out []graph.Term
	for _, r := range m.g.Objects(p, vocab.RDFSRange) {
		if r.IsIRI() {
			out = appendUnique(out, r)
		}
	}
	sortTerms(out)
	return out
}

// Ancestors returns every chain from c's direct parent up to a root. A class
// without parents yields a single empty chain.
func (m *Meta) Ancestors(c graph.Term) [][]graph.Term {
	var out [][]graph.Term
	var walk func(t graph.Term, chain []graph.Term, onPath map[graph.Term]bool)
	walk = func(t graph.Term, chain []graph.Term, onPath map[graph.Term]bool) {
		parents := m.Parents(t)
		if len(parents) == 0 {
			out = append(out, append([]graph.Term(nil), chain...))
			return
		}
		for _, p := range parents {
			if onPath[p] {
				continue
			}
			onPath[p] = true
			walk(p, append(chain, p), onPath)
			delete(onPath, p)
		}
	}
	walk(c, nil, map[graph.Term]bool{c: true})
	return out
}

// Reaches reports whether any ancestor chain of c contains target.
func (m *Meta) Reaches(c, target graph.Term) bool {
	for _, chain := range m.Ancestors(c) {
		for _, t := range chain {
			if t == target {
				return true
			}
		}
	}
	return false
}

// IsPrimitive reports whether c is a value type: it has no parents, is
// tagged fhir:Primitive, or is in the primitive allow-list.
func (m *Meta) IsPrimitive(c graph.Term) bool {
	if strings.HasPrefix(c.Value, vocab.XSD) {
		return true
	}
	if primitiveTypes[vocab.LocalName(c.Value)] {
		return true
	}
	for _, t := range m.g.Objects(c, vocab.RDFType) {
		if t == vocab.FHIRPrimitive {
			return true
		}
	}
	parents := m.Parents(c)
	for _, p := range parents {
		if p == vocab.FHIRPrimitive {
			return true
		}
	}
	return len(parents) == 0
}

// IsComplex reports whether c is one of the structured value types.
func IsComplex(c graph.Term) bool {
	return complexTypes[vocab.LocalName(c.Value)]
}

// Label returns rdfs:label or the last dotted segment of the local name.
func (m *Meta) Label(t graph.Term) string {
	if l, ok := m.g.Value(t, vocab.RDFSLabel); ok && l.IsLiteral() && l.Value != "" {
		return l.Value
	}
	return Segment(t)
}

func (m *Meta) Comment(t graph.Term) string {
	if c, ok := m.g.Value(t, vocab.RDFSComment); ok && c.IsLiteral() {
		return c.Value
	}
	return ""
}

// Segment is the path segment for t: the local name after its last dot.
func Segment(t graph.Term) string {
	return vocab.LastSegment(vocab.LocalName(t.Value))
}

// Cardinality returns the [min..max] bounds that restrictions on class c
// place on property p. A missing max is "*", a missing min is "0".
func (m *Meta) Cardinality(c, p graph.Term) (lo, hi string) {
	lo, hi = "0", "*"
	for _, r := range m.g.Objects(c, vocab.RDFSSubClassOf) {
		if r.IsIRI() {
			continue
		}
		if on, ok := m.g.Value(r, vocab.OWLOnProperty); !ok || on != p {
			continue
		}
		if v, ok := m.g.Value(r, vocab.OWLCardinality); ok {
			lo, hi = v.Value, v.Value
		}
		if v, ok := m.g.Value(r, vocab.OWLMinCardinality); ok {
			lo = v.Value
		}
		if v, ok := m.g.Value(r, vocab.OWLMaxCardinality); ok {
			hi = v.Value
		}
	}
	return lo, hi
}
