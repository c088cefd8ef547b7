// Package vocab holds the namespace IRIs used by clinical resource and
// metadata graphs, the "NAMESPACE:LOCAL" concept code form used by the
// warehouse, and the resolver that maps one onto the other.
package vocab

import "github.com/ehr/cdw/internal/graph"

// Namespace IRIs.
const (
	FHIR = "http://hl7.org/fhir/"
	W5   = "http://hl7.org/fhir/w5#"
	RDF  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFS = "http://www.w3.org/2000/01/rdf-schema#"
	OWL  = "http://www.w3.org/2002/07/owl#"
	XSD  = "http://www.w3.org/2001/XMLSchema#"
)

// Code system URIs that appear in Coding.system.
const (
	SystemLOINC   = "http://loinc.org"
	SystemSNOMED  = "http://snomed.info/sct"
	SystemRxNorm  = "http://www.nlm.nih.gov/research/umls/rxnorm"
	SystemICD10CM = "http://hl7.org/fhir/sid/icd-10-cm"
	SystemICD9CM  = "http://hl7.org/fhir/sid/icd-9-cm"
	SystemCPT     = "http://www.ama-assn.org/go/cpt"
	SystemUCUM    = "http://unitsofmeasure.org"
	SystemNDC     = "http://hl7.org/fhir/sid/ndc"
	SystemCVX     = "http://hl7.org/fhir/sid/cvx"
	SystemHL7     = "http://terminology.hl7.org/CodeSystem/"
)

// RDF, RDFS and OWL terms.
var (
	RDFType = graph.IRI(RDF + "type")

	RDFSSubClassOf = graph.IRI(RDFS + "subClassOf")
	RDFSDomain     = graph.IRI(RDFS + "domain")
	RDFSRange      = graph.IRI(RDFS + "range")
	RDFSLabel      = graph.IRI(RDFS + "label")
	RDFSComment    = graph.IRI(RDFS + "comment")

	OWLClass          = graph.IRI(OWL + "Class")
	OWLRestriction    = graph.IRI(OWL + "Restriction")
	OWLOnProperty     = graph.IRI(OWL + "onProperty")
	OWLCardinality    = graph.IRI(OWL + "cardinality")
	OWLMinCardinality = graph.IRI(OWL + "minCardinality")
	OWLMaxCardinality = graph.IRI(OWL + "maxCardinality")
)

// FHIR structural terms.
var (
	FHIRNodeRole  = graph.IRI(FHIR + "nodeRole")
	FHIRTreeRoot  = graph.IRI(FHIR + "treeRoot")
	FHIRIndex     = graph.IRI(FHIR + "index")
	FHIRValue     = graph.IRI(FHIR + "value")
	FHIRLink      = graph.IRI(FHIR + "link")
	FHIRPrimitive = graph.IRI(FHIR + "Primitive")

	FHIRResource       = graph.IRI(FHIR + "Resource")
	FHIRDomainResource = graph.IRI(FHIR + "DomainResource")
	FHIRResourceID     = graph.IRI(FHIR + "Resource.id")
	FHIRResourceMeta   = graph.IRI(FHIR + "Resource.meta")
	FHIRNarrative      = graph.IRI(FHIR + "DomainResource.text")

	FHIRCodeableConceptCoding = graph.IRI(FHIR + "CodeableConcept.coding")
	FHIRCodeableConceptText   = graph.IRI(FHIR + "CodeableConcept.text")
	FHIRCodingSystem          = graph.IRI(FHIR + "Coding.system")
	FHIRCodingCode            = graph.IRI(FHIR + "Coding.code")
	FHIRCodingDisplay         = graph.IRI(FHIR + "Coding.display")

	FHIRQuantityValue      = graph.IRI(FHIR + "Quantity.value")
	FHIRQuantityComparator = graph.IRI(FHIR + "Quantity.comparator")
	FHIRQuantityUnit       = graph.IRI(FHIR + "Quantity.unit")
	FHIRQuantitySystem     = graph.IRI(FHIR + "Quantity.system")
	FHIRQuantityCode       = graph.IRI(FHIR + "Quantity.code")
	FHIRMoneyValue         = graph.IRI(FHIR + "Money.value")
	FHIRMoneyCurrency      = graph.IRI(FHIR + "Money.currency")
)

// W5Infrastructure is the classification branch that holds exchange and
// conformance resources. It is excluded from the browse tree by default.
var W5Infrastructure = graph.IRI(W5 + "infrastructure")
