package fhirjson

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/vocab"
)

// Converter renders resources in the FHIR RDF layout: the resource subject
// is typed and marked fhir:treeRoot, every element is a blank node, and
// primitives hang off fhir:value. Repeated elements carry fhir:index.
type Converter struct {
	// Base prefixes resource subject and fhir:link IRIs. Defaults to the
	// FHIR namespace.
	Base string
}

func NewConverter(base string) *Converter {
	if base == "" {
		base = vocab.FHIR
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Converter{Base: base}
}

// Graph converts r and returns the graph and its root subject. Blank node
// labels are assigned in sorted key order, so equal input gives equal
// output.
func (c *Converter) Graph(r *Resource) (*graph.Graph, graph.Term) {
	b := &builder{g: graph.New(), base: c.Base}

	root := graph.Blank("root")
	if r.ID != "" {
		root = graph.IRI(c.Base + r.Type + "/" + r.ID)
	}
	b.g.Add(root, vocab.RDFType, graph.IRI(vocab.FHIR+r.Type))
	b.g.Add(root, vocab.FHIRNodeRole, vocab.FHIRTreeRoot)
	b.object(root, r.Type, r.Fields, true)
	return b.g, root
}

type builder struct {
	g    *graph.Graph
	base string
	n    int
}

func (b *builder) blank() graph.Term {
	b.n++
	return graph.Blank(fmt.Sprintf("n%05d", b.n))
}

// skipKeys are never converted. Contained resources would need their own
// tree root and are left to the caller.
var skipKeys = map[string]bool{
	"resourceType":  true,
	"contained":     true,
	"fhir_comments": true,
}

func (b *builder) object(subject graph.Term, path string, fields map[string]interface{}, isResource bool) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if skipKeys[k] || strings.HasPrefix(k, "_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		pred := graph.IRI(vocab.FHIR + predicateName(path, k, isResource))
		switch v := fields[k].(type) {
		case []interface{}:
			for i, e := range v {
				b.element(subject, pred, path, k, e, i)
			}
		default:
			b.element(subject, pred, path, k, v, -1)
		}
	}
}

func predicateName(path, key string, isResource bool) string {
	if isResource {
		switch key {
		case "id", "meta", "implicitRules", "language":
			return "Resource." + key
		case "text", "extension", "modifierExtension":
			return "DomainResource." + key
		}
		return path + "." + key
	}
	switch key {
	case "id", "extension":
		return "Element." + key
	case "modifierExtension":
		return "BackboneElement." + key
	}
	return path + "." + key
}

func (b *builder) element(subject, pred graph.Term, path, key string, v interface{}, index int) {
	if v == nil {
		return
	}
	node := b.blank()
	b.g.Add(subject, pred, node)
	if index >= 0 {
		b.g.Add(node, vocab.FHIRIndex, graph.Literal(strconv.Itoa(index), vocab.XSD+"nonNegativeInteger"))
	}

	switch v := v.(type) {
	case map[string]interface{}:
		typ := typeOf(path, key, v)
		if typ == "Reference" {
			if ref, ok := v["reference"].(string); ok {
				if rt, id, ok := SplitReference(ref); ok && rt != "" {
					b.g.Add(node, vocab.FHIRLink, graph.IRI(b.base+rt+"/"+id))
				}
			}
		}
		b.object(node, typ, v, false)
	default:
		b.g.Add(node, vocab.FHIRValue, literalFor(key, v))
	}
}

var complexTypes = map[string]bool{
	"Quantity": true, "Age": true, "Count": true, "Distance": true, "Duration": true,
	"SimpleQuantity": true, "Money": true, "CodeableConcept": true, "Coding": true,
	"Range": true, "Ratio": true, "Period": true, "Reference": true, "Identifier": true,
	"Attachment": true, "SampledData": true, "HumanName": true, "Address": true,
	"ContactPoint": true, "Timing": true, "Annotation": true, "Signature": true,
	"Dosage": true, "Meta": true, "Expression": true, "ContactDetail": true,
	"Contributor": true, "DataRequirement": true, "ParameterDefinition": true,
	"RelatedArtifact": true, "TriggerDefinition": true, "UsageContext": true,
}

// primitiveXSD maps FHIR primitive type names to XSD datatypes.
var primitiveXSD = map[string]string{
	"boolean":      "boolean",
	"integer":      "integer",
	"decimal":      "decimal",
	"positiveInt":  "positiveInteger",
	"unsignedInt":  "nonNegativeInteger",
	"string":       "string",
	"code":         "string",
	"id":           "string",
	"markdown":     "string",
	"uri":          "anyURI",
	"url":          "anyURI",
	"canonical":    "anyURI",
	"oid":          "anyURI",
	"uuid":         "anyURI",
	"base64Binary": "base64Binary",
	"date":         "date",
	"dateTime":     "dateTime",
	"instant":      "dateTime",
	"time":         "time",
}

// choiceType returns the type named by a choice element suffix:
// "valueQuantity" -> "Quantity", "effectiveDateTime" -> "dateTime".
func choiceType(key string) string {
	for i := 1; i < len(key); i++ {
		if key[i] < 'A' || key[i] > 'Z' {
			continue
		}
		suffix := key[i:]
		if complexTypes[suffix] {
			return suffix
		}
		prim := strings.ToLower(suffix[:1]) + suffix[1:]
		if _, ok := primitiveXSD[prim]; ok {
			return prim
		}
	}
	return ""
}

// backbonePaths keep their dotted element path even when their shape would
// pass for a datatype.
var backbonePaths = map[string]bool{
	"Observation.referenceRange":        true,
	"Observation.component":             true,
	"Encounter.participant":             true,
	"Encounter.location":                true,
	"Encounter.diagnosis":               true,
	"Encounter.hospitalization":         true,
	"Encounter.statusHistory":           true,
	"Patient.contact":                   true,
	"Patient.communication":             true,
	"Patient.link":                      true,
	"AllergyIntolerance.reaction":       true,
	"Condition.stage":                   true,
	"Condition.evidence":                true,
	"Immunization.performer":            true,
	"Immunization.protocolApplied":      true,
	"Procedure.performer":               true,
	"Procedure.focalDevice":             true,
	"MedicationRequest.dispenseRequest": true,
	"MedicationRequest.substitution":    true,
	"DiagnosticReport.media":            true,
	"FamilyMemberHistory.condition":     true,
}

var keyTypes = map[string]string{
	"extension":         "Extension",
	"modifierExtension": "Extension",
	"meta":              "Meta",
	"identifier":        "Identifier",
	"telecom":           "ContactPoint",
	"address":           "Address",
	"note":              "Annotation",
	"dosage":            "Dosage",
	"dosageInstruction": "Dosage",
	"period":            "Period",
	"attachment":        "Attachment",
}

func typeOf(path, key string, m map[string]interface{}) string {
	full := path + "." + key
	if backbonePaths[full] {
		return full
	}
	if t := choiceType(key); complexTypes[t] {
		return t
	}
	if t, ok := keyTypes[key]; ok {
		return t
	}
	return shapeOf(m, full)
}

func has(m map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

var codingKeys = map[string]bool{
	"system": true, "version": true, "code": true, "display": true,
	"userSelected": true, "id": true, "extension": true,
}

func shapeOf(m map[string]interface{}, fallback string) string {
	switch {
	case has(m, "coding"):
		return "CodeableConcept"
	case has(m, "reference"):
		return "Reference"
	case has(m, "div"):
		return "Narrative"
	case has(m, "currency"):
		return "Money"
	}

	switch m["value"].(type) {
	case json.Number, float64:
		return "Quantity"
	case string:
		if sys, _ := m["system"].(string); sys != "" && !strings.Contains(sys, ":") {
			return "ContactPoint"
		}
		return "Identifier"
	}

	if has(m, "system", "code") {
		coding := true
		for k := range m {
			if !codingKeys[k] {
				coding = false
				break
			}
		}
		if coding {
			return "Coding"
		}
	}

	switch {
	case has(m, "start", "end"):
		return "Period"
	case has(m, "low", "high"):
		return "Range"
	case has(m, "numerator", "denominator"):
		return "Ratio"
	case has(m, "family", "given"):
		return "HumanName"
	case has(m, "line", "city", "postalCode", "country"):
		return "Address"
	case has(m, "contentType", "data"):
		return "Attachment"
	case has(m, "lastUpdated", "versionId", "profile"):
		return "Meta"
	case len(m) == 1 && has(m, "text"):
		return "CodeableConcept"
	}
	return fallback
}

var (
	dateTimeRE  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:\d{2})?$`)
	dateRE      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	yearMonthRE = regexp.MustCompile(`^\d{4}-\d{2}$`)
	yearRE      = regexp.MustCompile(`^\d{4}$`)
	timeRE      = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2}(\.\d+)?)?$`)
)

var uriKeys = map[string]bool{
	"system": true, "url": true, "profile": true, "instantiatesCanonical": true,
	"instantiatesUri": true, "implicitRules": true,
}

func literalFor(key string, v interface{}) graph.Term {
	hint := choiceType(key)

	switch v := v.(type) {
	case bool:
		return graph.Literal(strconv.FormatBool(v), vocab.XSD+"boolean")
	case json.Number:
		s := v.String()
		dt := "integer"
		if strings.ContainsAny(s, ".eE") {
			dt = "decimal"
		}
		switch hint {
		case "decimal", "integer", "positiveInt", "unsignedInt":
			dt = primitiveXSD[hint]
		}
		return graph.Literal(s, vocab.XSD+dt)
	case float64:
		return graph.Literal(strconv.FormatFloat(v, 'f', -1, 64), vocab.XSD+"decimal")
	case string:
		return graph.Literal(v, vocab.XSD+stringType(key, hint, v))
	default:
		return graph.Literal(fmt.Sprint(v), vocab.XSD+"string")
	}
}

func stringType(key, hint, v string) string {
	if dt, ok := primitiveXSD[hint]; ok {
		if dt == "date" || dt == "dateTime" {
			return dateType(v)
		}
		return dt
	}

	switch {
	case uriKeys[key]:
		return "anyURI"
	case dateTimeRE.MatchString(v), dateRE.MatchString(v):
		return dateType(v)
	case strings.Contains(strings.ToLower(key), "date") && (yearMonthRE.MatchString(v) || yearRE.MatchString(v)):
		return dateType(v)
	case key == "time" && timeRE.MatchString(v):
		return "time"
	}
	return "string"
}

func dateType(v string) string {
	switch {
	case dateTimeRE.MatchString(v):
		return "dateTime"
	case dateRE.MatchString(v):
		return "date"
	case yearMonthRE.MatchString(v):
		return "gYearMonth"
	case yearRE.MatchString(v):
		return "gYear"
	}
	return "string"
}
