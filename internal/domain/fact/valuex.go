package fact

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/session"
	"github.com/ehr/cdw/internal/vocab"
)

type slotFamily int

const (
	familyQuantity slotFamily = iota + 1
	familyPrimitive
	familyCodeable
	familyUnimplemented
)

type valueSlot struct {
	family slotFamily
	// typeName is the FHIR type whose properties hold the value (quantity
	// family) or the primitive datatype used when a literal is untyped.
	typeName string
}

// valueSlots is keyed by the suffix of a value<Type> property.
var valueSlots = buildValueSlots()

// notSlots are value<Name> properties that are plain elements, not choices.
var notSlots = map[string]bool{
	"Set": true,
}

func buildValueSlots() map[string]valueSlot {
	slots := map[string]valueSlot{
		"Quantity":       {familyQuantity, "Quantity"},
		"Age":            {familyQuantity, "Age"},
		"Count":          {familyQuantity, "Count"},
		"Distance":       {familyQuantity, "Distance"},
		"Duration":       {familyQuantity, "Duration"},
		"SimpleQuantity": {familyQuantity, "SimpleQuantity"},
		"Money":          {familyQuantity, "Money"},

		"CodeableConcept": {familyCodeable, "CodeableConcept"},
	}
	for _, p := range []string{
		"string", "integer", "decimal", "boolean", "date", "dateTime", "instant",
		"time", "uri", "url", "canonical", "code", "id", "oid", "uuid", "markdown",
		"positiveInt", "unsignedInt", "base64Binary",
	} {
		slots[upperFirst(p)] = valueSlot{familyPrimitive, p}
	}
	for _, t := range []string{
		"Range", "Ratio", "Period", "Reference", "Identifier", "Attachment",
		"SampledData", "Coding", "HumanName", "Address", "ContactPoint", "Timing",
		"Annotation", "Signature", "Dosage", "Meta", "Expression", "ContactDetail",
		"Contributor", "DataRequirement", "ParameterDefinition", "RelatedArtifact",
		"TriggerDefinition", "UsageContext",
	} {
		slots[t] = valueSlot{familyUnimplemented, t}
	}
	return slots
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// slotSuffix returns the Type of a "...value<Type>" property.
func slotSuffix(predicate graph.Term) (string, bool) {
	last := vocab.LastSegment(vocab.LocalName(predicate.Value))
	rest, ok := strings.CutPrefix(last, "value")
	if !ok || rest == "" || !unicode.IsUpper(rune(rest[0])) || notSlots[rest] {
		return "", false
	}
	return rest, true
}

var comparators = map[string]string{
	"<":  "L",
	"<=": "LE",
	">=": "GE",
	">":  "G",
}

// ComparatorTag maps a Quantity.comparator to the tval_char operator tag.
// An absent or unknown comparator is "E".
func ComparatorTag(comparator string) string {
	if tag, ok := comparators[comparator]; ok {
		return tag
	}
	return "E"
}

// ValueFacts decodes a value[x] edge onto base. handled is false when the
// predicate is not a value slot. A value<Type> predicate with no registered
// decoder is a configuration error.
func (x *Expander) ValueFacts(g graph.Reader, base Fact, predicate, obj graph.Term) (facts []Fact, handled bool, err error) {
	suffix, ok := slotSuffix(predicate)
	if !ok {
		return nil, false, nil
	}
	slot, ok := valueSlots[suffix]
	if !ok {
		return nil, true, fmt.Errorf("%w: %s", ErrUnknownValueSlot, predicate.Value)
	}

	switch slot.family {
	case familyQuantity:
		return []Fact{x.quantity(g, base, slot, obj)}, true, nil
	case familyPrimitive:
		lit, ok := literalOf(g, obj)
		if !ok {
			return []Fact{base.WithNoValue()}, true, nil
		}
		return []Fact{base.WithValue(DecodeTerm(lit, slot.typeName))}, true, nil
	case familyCodeable:
		return x.codeable(g, base, obj), true, nil
	default:
		x.sess.Report(session.UnimplementedValue).
			Str("predicate", predicate.Value).
			Str("slot", suffix).
			Msg("value type has no decoder; fact emitted without value")
		return []Fact{base.withoutValue()}, true, nil
	}
}

func (x *Expander) quantity(g graph.Reader, base Fact, slot valueSlot, obj graph.Term) Fact {
	prop := func(name string) (string, bool) {
		if v, ok := primitive(g, obj, graph.IRI(vocab.FHIR+slot.typeName+"."+name)); ok {
			return v, true
		}
		return primitive(g, obj, graph.IRI(vocab.FHIR+"Quantity."+name))
	}

	raw, ok := prop("value")
	if !ok {
		return base.WithNoValue()
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return base.WithNoValue()
	}

	var units string
	if slot.typeName == "Money" {
		units, _ = prop("currency")
	} else if u, ok := prop("unit"); ok {
		units = u
	} else if code, ok := prop("code"); ok {
		system, _ := prop("system")
		if c, ok := x.sess.Resolver.CodeForSystem(system, code); ok {
			units = c.String()
		} else {
			units = code
		}
	}

	comparator, _ := prop("comparator")
	return base.WithNumber(ComparatorTag(comparator), n, units)
}

// codeable emits one fact per resolved coding. The first coding supplies
// base's modifier; a base that already has one is a modifier on a modifier
// and is kept alongside.
func (x *Expander) codeable(g graph.Reader, base Fact, obj graph.Term) []Fact {
	codes, text, _ := x.codings(g, obj)
	if len(codes) == 0 {
		if text != "" {
			return []Fact{base.WithText(graph.Escape(text))}
		}
		return []Fact{base.WithNoValue()}
	}

	var facts []Fact
	if base.ModifierCD != NoModifier {
		x.sess.Report(session.StructuralAnomaly).
			Str("concept", base.ConceptCD).
			Str("modifier", base.ModifierCD).
			Str("coding", codes[0].code.String()).
			Msg("coded value under an existing modifier")
		facts = append(facts, base.withoutValue())
	}
	for _, c := range codes {
		display := c.display
		if display == "" {
			display = text
		}
		f := base.WithModifier(c.code.String())
		if display != "" {
			f = f.WithText(graph.Escape(display))
		} else {
			f = f.withoutValue()
		}
		facts = append(facts, f)
	}
	return facts
}
