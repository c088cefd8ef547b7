package fact

import (
	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/session"
	"github.com/ehr/cdw/internal/vocab"
)

// DefaultBarePredicates are the properties whose codes are meaningful on
// their own; their codes become standalone facts and identify the
// enclosing resource for repeating groups.
var DefaultBarePredicates = []string{
	vocab.FHIR + "Observation.code",
	vocab.FHIR + "Condition.code",
	vocab.FHIR + "Procedure.code",
	vocab.FHIR + "AllergyIntolerance.code",
	vocab.FHIR + "MedicationStatement.medicationCodeableConcept",
	vocab.FHIR + "MedicationRequest.medicationCodeableConcept",
	vocab.FHIR + "MedicationAdministration.medicationCodeableConcept",
	vocab.FHIR + "Immunization.vaccineCode",
	vocab.FHIR + "DiagnosticReport.code",
	vocab.FHIR + "Medication.code",
	vocab.FHIR + "FamilyMemberHistory.condition.code",
}

// Expander turns coded values (Codings, CodeableConcepts and typed nodes)
// into facts.
type Expander struct {
	sess *session.Session
	bare map[string]bool
}

func NewExpander(sess *session.Session, bare []string) *Expander {
	if bare == nil {
		bare = DefaultBarePredicates
	}
	x := &Expander{sess: sess, bare: make(map[string]bool, len(bare))}
	for _, p := range bare {
		x.bare[p] = true
	}
	return x
}

// IsBare reports whether predicate is on the bare allow-list.
func (x *Expander) IsBare(predicate graph.Term) bool { return x.bare[predicate.Value] }

type coding struct {
	code    vocab.ConceptCode
	display string
}

// codings returns the resolved codings reachable from o, either the members
// of a CodeableConcept.coding list or o itself when it is a Coding. Codings
// without a resolvable concept are dropped. structured is false when o has
// no coding structure at all.
func (x *Expander) codings(g graph.Reader, o graph.Term) (out []coding, text string, structured bool) {
	if o.IsLiteral() {
		return nil, "", false
	}
	text, _ = primitive(g, o, vocab.FHIRCodeableConceptText)

	nodes := g.Objects(o, vocab.FHIRCodeableConceptCoding)
	if len(nodes) == 0 {
		_, hasCode := g.Value(o, vocab.FHIRCodingCode)
		_, hasSystem := g.Value(o, vocab.FHIRCodingSystem)
		if !hasCode && !hasSystem {
			_, hasText := g.Value(o, vocab.FHIRCodeableConceptText)
			return nil, text, hasText
		}
		nodes = []graph.Term{o}
	}

	for _, n := range sortedByIndex(g, nodes) {
		code, ok := x.conceptOf(g, n)
		if !ok {
			continue
		}
		display, _ := primitive(g, n, vocab.FHIRCodingDisplay)
		out = append(out, coding{code: code, display: display})
	}
	return out, text, true
}

// conceptOf resolves a Coding's concept from its type assertion, else from
// its system and code.
func (x *Expander) conceptOf(g graph.Reader, n graph.Term) (vocab.ConceptCode, bool) {
	for _, t := range g.Objects(n, vocab.RDFType) {
		if !t.IsIRI() {
			continue
		}
		if c, ok := x.sess.Resolver.CodeFor(t.Value); ok {
			return c, true
		}
	}
	code, ok := primitive(g, n, vocab.FHIRCodingCode)
	if !ok {
		return vocab.ConceptCode{}, false
	}
	system, _ := primitive(g, n, vocab.FHIRCodingSystem)
	return x.sess.Resolver.CodeForSystem(system, code)
}

// Expansion is the input of one Expand call.
type Expansion struct {
	// Root is the concept of the top-level property being walked.
	Root vocab.ConceptCode
	// Predicate and Object are the edge being expanded.
	Predicate graph.Term
	Object    graph.Term
	// Base carries the fact key; concept, modifier and value are replaced.
	Base Fact
	// Instance is the instance number of the enclosing element; non-zero
	// means the edge sits inside a repeating group.
	Instance int
	// Identifying holds the bare codes already seen on the resource.
	Identifying []vocab.ConceptCode
}

// Expand emits the coded facts for one (predicate, object) edge. It returns
// the facts and the identifying codes contributed by a bare predicate.
func (x *Expander) Expand(g graph.Reader, in Expansion) ([]Fact, []vocab.ConceptCode) {
	predCode, ok := x.sess.Resolver.CodeFor(in.Predicate.Value)
	if !ok {
		return nil, nil
	}
	base := in.Base.withoutValue().WithModifier(NoModifier).WithInstance(in.Instance)

	codes, text, structured := x.codings(g, in.Object)
	if !structured {
		return x.typeAssertions(g, predCode, in), nil
	}

	var facts []Fact
	var identifying []vocab.ConceptCode
	bare := x.IsBare(in.Predicate)
	inRepeat := in.Instance != 0

	for _, c := range codes {
		display := c.display
		if display == "" {
			display = text
		}
		withText := func(f Fact) Fact {
			if display == "" {
				return f
			}
			return f.WithText(graph.Escape(display))
		}

		if bare {
			facts = append(facts, withText(base.WithConcept(c.code.String())))
			identifying = append(identifying, c.code)
		}

		if !inRepeat {
			facts = append(facts, withText(base.WithConcept(predCode.String()).WithModifier(c.code.String())))
			continue
		}

		f := withText(base.WithConcept(in.Root.String()).WithModifier(c.code.String()))
		facts = append(facts, f)
		for _, id := range in.Identifying {
			if id.Namespace == c.code.Namespace {
				continue
			}
			facts = append(facts, f.WithConcept(id.String()).WithInstance(0))
		}
	}
	return facts, identifying
}

// typeAssertions handles nodes that carry a type assertion but no coding
// structure: the asserted type becomes the modifier.
func (x *Expander) typeAssertions(g graph.Reader, predCode vocab.ConceptCode, in Expansion) []Fact {
	if in.Object.IsLiteral() {
		return nil
	}
	var facts []Fact
	for _, t := range g.Objects(in.Object, vocab.RDFType) {
		if !t.IsIRI() {
			continue
		}
		tc, ok := x.sess.Resolver.CodeFor(t.Value)
		if !ok {
			continue
		}
		f := in.Base.WithInstance(in.Instance).WithConcept(predCode.String()).WithModifier(tc.String())
		lit, _ := literalOf(g, in.Object)
		facts = append(facts, f.WithText(graph.Escape(lit.Value)))
	}
	return facts
}
