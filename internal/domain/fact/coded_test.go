package fact

import (
	"testing"

	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/session"
	"github.com/ehr/cdw/internal/vocab"
)

func TestExpand_TypeAssertion(t *testing.T) {
	s := newTestSession()
	x := NewExpander(s, nil)
	b := newBuilder("http://example.org/Resource/1")
	n := b.prim(b.root, testNS+"Resource.kind", graph.Literal("acute", ""))
	b.g.Add(n, vocab.RDFType, graph.IRI(testNS+"Acute"))

	facts, ids := x.Expand(b.g, Expansion{
		Predicate: graph.IRI(testNS + "Resource.kind"),
		Object:    n,
		Base:      NewFact(testKey, ""),
	})
	if len(ids) != 0 {
		t.Errorf("expected no identifying codes, got %v", ids)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %+v", facts)
	}
	f := facts[0]
	if f.ConceptCD != "NS:Resource.kind" || f.ModifierCD != "NS:Acute" || f.ValTypeCD != ValText || f.TValChar != "acute" {
		t.Errorf("unexpected fact %+v", f)
	}
}

func TestExpand_CodingTypeWins(t *testing.T) {
	s := newTestSession()
	x := NewExpander(s, nil)
	b := newBuilder("http://example.org/Observation/1")
	cc := b.child(b.root, vocab.FHIR+"Observation.code", -1)
	c := b.coding(cc, 0, "http://unknown.example/cs", "x", "")
	b.g.Add(c, vocab.RDFType, graph.IRI("http://loinc.org/rdf#1234-5"))

	facts, ids := x.Expand(b.g, Expansion{
		Predicate: graph.IRI(vocab.FHIR + "Observation.code"),
		Object:    cc,
		Base:      NewFact(testKey, ""),
	})
	if len(ids) != 1 || ids[0].String() != "LOINC:1234-5" {
		t.Fatalf("expected LOINC:1234-5 identifying code, got %v", ids)
	}
	if _, ok := findFact(facts, 0, "LOINC:1234-5", "@"); !ok {
		t.Errorf("expected standalone bare fact, got %+v", facts)
	}
	if _, ok := findFact(facts, 0, "FHIR:Observation.code", "LOINC:1234-5"); !ok {
		t.Errorf("expected predicate fact, got %+v", facts)
	}
}

func TestExpand_RepeatUsesRootConcept(t *testing.T) {
	s := newTestSession()
	x := NewExpander(s, nil)
	b := newBuilder("http://example.org/Observation/1")
	cc := b.child(b.root, vocab.FHIR+"Observation.component.code", -1)
	b.coding(cc, 0, vocab.SystemSNOMED, "271649006", "Systolic")

	root := vocab.ConceptCode{Namespace: "FHIR", Local: "Observation.component"}
	ids := []vocab.ConceptCode{
		{Namespace: "LOINC", Local: "55284-4"},
		{Namespace: "SCT", Local: "75367002"},
	}
	facts, _ := x.Expand(b.g, Expansion{
		Root:        root,
		Predicate:   graph.IRI(vocab.FHIR + "Observation.component.code"),
		Object:      cc,
		Base:        NewFact(testKey, ""),
		Instance:    4,
		Identifying: ids,
	})

	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %+v", facts)
	}
	if f, ok := findFact(facts, 4, "FHIR:Observation.component", "SCT:271649006"); !ok || f.TValChar != "Systolic" {
		t.Errorf("expected root concept fact at instance 4, got %+v", facts)
	}
	if _, ok := findFact(facts, 0, "LOINC:55284-4", "SCT:271649006"); !ok {
		t.Errorf("expected cross-namespace duplicate at instance 0, got %+v", facts)
	}
}

func TestValueFacts_Quantity(t *testing.T) {
	s := newTestSession()
	x := NewExpander(s, nil)
	b := newBuilder("http://example.org/Observation/1")
	q := b.child(b.root, vocab.FHIR+"Observation.valueQuantity", -1)
	b.prim(q, vocab.FHIR+"Quantity.value", graph.Literal("6.3", vocab.XSD+"decimal"))
	b.prim(q, vocab.FHIR+"Quantity.system", graph.Literal(vocab.SystemUCUM, ""))
	b.prim(q, vocab.FHIR+"Quantity.code", graph.Literal("mmol/L", ""))
	b.prim(q, vocab.FHIR+"Quantity.comparator", graph.Literal(">=", ""))

	base := NewFact(testKey, "FHIR:Observation.valueQuantity")
	facts, handled, err := x.ValueFacts(b.g, base, graph.IRI(vocab.FHIR+"Observation.valueQuantity"), q)
	if err != nil || !handled {
		t.Fatalf("expected handled without error, got %v %v", handled, err)
	}
	f := facts[0]
	if f.ValTypeCD != ValNumber || f.NValNum == nil || *f.NValNum != 6.3 {
		t.Errorf("unexpected value %+v", f)
	}
	if f.TValChar != "GE" {
		t.Errorf("expected GE, got %q", f.TValChar)
	}
	if f.UnitsCD != "UCUM:mmol/L" {
		t.Errorf("expected synthesized unit, got %q", f.UnitsCD)
	}
}

func TestValueFacts_QuantityWithoutNumber(t *testing.T) {
	s := newTestSession()
	x := NewExpander(s, nil)
	b := newBuilder("http://example.org/Observation/1")
	q := b.child(b.root, vocab.FHIR+"Observation.valueQuantity", -1)
	b.prim(q, vocab.FHIR+"Quantity.unit", graph.Literal("mg", ""))

	facts, _, _ := x.ValueFacts(b.g, NewFact(testKey, "c"), graph.IRI(vocab.FHIR+"Observation.valueQuantity"), q)
	if facts[0].ValTypeCD != ValNone {
		t.Errorf("expected NOVALUE, got %q", facts[0].ValTypeCD)
	}
}

func TestValueFacts_Money(t *testing.T) {
	s := newTestSession()
	x := NewExpander(s, nil)
	b := newBuilder("http://example.org/Claim/1")
	m := b.child(b.root, vocab.FHIR+"Extension.valueMoney", -1)
	b.prim(m, vocab.FHIR+"Money.value", graph.Literal("12.50", vocab.XSD+"decimal"))
	b.prim(m, vocab.FHIR+"Money.currency", graph.Literal("USD", ""))

	facts, _, err := x.ValueFacts(b.g, NewFact(testKey, "c"), graph.IRI(vocab.FHIR+"Extension.valueMoney"), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if facts[0].UnitsCD != "USD" || *facts[0].NValNum != 12.5 || facts[0].TValChar != "E" {
		t.Errorf("unexpected money fact %+v", facts[0])
	}
}

func TestValueFacts_Primitive(t *testing.T) {
	s := newTestSession()
	x := NewExpander(s, nil)
	b := newBuilder("http://example.org/Observation/1")
	// Untyped literal falls back to the slot's datatype.
	v := b.prim(b.root, vocab.FHIR+"Observation.valueInteger", graph.Literal("42", ""))

	facts, handled, err := x.ValueFacts(b.g, NewFact(testKey, "c"), graph.IRI(vocab.FHIR+"Observation.valueInteger"), v)
	if err != nil || !handled {
		t.Fatalf("expected handled, got %v %v", handled, err)
	}
	if facts[0].ValTypeCD != ValNumber || *facts[0].NValNum != 42 {
		t.Errorf("unexpected fact %+v", facts[0])
	}
}

func TestValueFacts_CodeableConcept(t *testing.T) {
	s := newTestSession()
	x := NewExpander(s, nil)
	b := newBuilder("http://example.org/Observation/1")
	cc := b.child(b.root, vocab.FHIR+"Observation.valueCodeableConcept", -1)
	b.coding(cc, 0, testSystem, "4", "Four")
	b.coding(cc, 1, testSystem, "5", "")
	b.prim(cc, vocab.FHIR+"CodeableConcept.text", graph.Literal("four or five", ""))

	pred := graph.IRI(vocab.FHIR + "Observation.valueCodeableConcept")
	facts, _, err := x.ValueFacts(b.g, NewFact(testKey, "FHIR:Observation.valueCodeableConcept"), pred, cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %+v", facts)
	}
	if facts[0].ModifierCD != "NS:4" || facts[0].TValChar != "Four" {
		t.Errorf("unexpected first fact %+v", facts[0])
	}
	if facts[1].ModifierCD != "NS:5" || facts[1].TValChar != "four or five" {
		t.Errorf("expected parent text on second fact, got %+v", facts[1])
	}
	if s.Diag.Count(session.StructuralAnomaly) != 0 {
		t.Error("unexpected structural anomaly")
	}

	// Under an existing modifier both the base and the coded fact survive.
	base := NewFact(testKey, "FHIR:Observation.component").WithModifier("FHIR:Observation.component.valueCodeableConcept")
	facts, _, _ = x.ValueFacts(b.g, base, pred, cc)
	if len(facts) != 3 {
		t.Fatalf("expected base plus 2 coded facts, got %+v", facts)
	}
	if facts[0].ModifierCD != "FHIR:Observation.component.valueCodeableConcept" {
		t.Errorf("expected base retained first, got %+v", facts[0])
	}
	if s.Diag.Count(session.StructuralAnomaly) != 1 {
		t.Errorf("expected 1 structural anomaly, got %d", s.Diag.Count(session.StructuralAnomaly))
	}
}

func TestValueFacts_TextOnlyConcept(t *testing.T) {
	s := newTestSession()
	x := NewExpander(s, nil)
	b := newBuilder("http://example.org/Observation/1")
	cc := b.child(b.root, vocab.FHIR+"Observation.valueCodeableConcept", -1)
	b.prim(cc, vocab.FHIR+"CodeableConcept.text", graph.Literal("free text", ""))

	facts, _, _ := x.ValueFacts(b.g, NewFact(testKey, "c"), graph.IRI(vocab.FHIR+"Observation.valueCodeableConcept"), cc)
	if len(facts) != 1 || facts[0].ModifierCD != NoModifier || facts[0].TValChar != "free text" {
		t.Errorf("expected plain text fact, got %+v", facts)
	}
}

func TestSlotSuffix(t *testing.T) {
	tests := []struct {
		pred string
		want string
		ok   bool
	}{
		{vocab.FHIR + "Observation.valueQuantity", "Quantity", true},
		{vocab.FHIR + "Observation.component.valueString", "String", true},
		{vocab.FHIR + "Quantity.value", "", false},
		{vocab.FHIR + "ElementDefinition.binding.valueSet", "", false},
		{vocab.FHIR + "Observation.status", "", false},
	}
	for _, tt := range tests {
		got, ok := slotSuffix(graph.IRI(tt.pred))
		if got != tt.want || ok != tt.ok {
			t.Errorf("slotSuffix(%s) = %q, %v", tt.pred, got, ok)
		}
	}
}
