package integration

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/cdw/internal/domain/fact"
	"github.com/ehr/cdw/internal/domain/mapping"
	"github.com/ehr/cdw/internal/domain/ontology"
	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/graph/fhirjson"
	"github.com/ehr/cdw/internal/loader"
	"github.com/ehr/cdw/internal/session"
	"github.com/ehr/cdw/internal/vocab"
)

const bundleJSON = `{"resourceType": "Bundle", "entry": [
	{"resource": {"resourceType": "Patient", "id": "p1", "gender": "female", "birthDate": "1974-12-25"}},
	{"resource": {"resourceType": "Observation", "id": "obs1", "status": "final",
		"subject": {"reference": "Patient/p1"},
		"effectiveDateTime": "2013-04-02T09:30:10Z",
		"code": {"coding": [{"system": "http://loinc.org", "code": "2345-7"}]},
		"valueQuantity": {"value": 6.3, "unit": "mmol/l"}}},
	{"resource": {"resourceType": "Encounter", "id": "e1", "status": "finished",
		"subject": {"reference": "Patient/p1"}, "period": {"start": "2013-04-02"}}}
]}`

type stack struct {
	sess     *session.Session
	facts    *fact.Service
	mappings *mapping.Service
	loader   *loader.Service
}

func newStack() *stack {
	sess := session.New(zerolog.Nop(), session.Options{
		PatientFloor:   100000,
		EncounterFloor: 500000,
		IdentitySource: "HIVE",
	})
	facts := fact.NewService(fact.NewRepo(globalDB.Pool), zerolog.Nop())
	mappings := mapping.NewService(mapping.NewRepo(globalDB.Pool), sess.Patients, sess.Encounters, zerolog.Nop())
	return &stack{
		sess:     sess,
		facts:    facts,
		mappings: mappings,
		loader: loader.NewService(sess, facts, mappings, loader.Options{
			ProjectID:       "demo",
			PatientSource:   "FHIR",
			EncounterSource: "FHIR",
			ProviderID:      "@",
			SourcesystemCD:  "IT",
			UploadID:        1,
		}, nil),
	}
}

func TestLoadIntoWarehouse(t *testing.T) {
	ctx := context.Background()
	schema := uniqueSchema("load")
	createSchema(t, ctx, schema)
	defer dropSchema(t, ctx, schema)

	resources, err := fhirjson.Parse([]byte(bundleJSON))
	if err != nil {
		t.Fatal(err)
	}

	var first loader.Stats
	t.Run("Load", func(t *testing.T) {
		s := newStack()
		err := withSchemaConn(ctx, schema, func(ctx context.Context) error {
			var err error
			first, err = s.loader.LoadResources(ctx, resources)
			return err
		})
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if first.Loaded != 3 || first.Facts == 0 {
			t.Fatalf("unexpected stats %+v", first)
		}
		if got := countRows(t, ctx, schema, "observation_fact"); got != first.Facts {
			t.Errorf("expected %d stored facts, got %d", first.Facts, got)
		}
		if got := countRows(t, ctx, schema, "patient_mapping"); got != 2 {
			t.Errorf("expected 2 patient mapping rows, got %d", got)
		}
	})

	t.Run("RestoreKeepsKeys", func(t *testing.T) {
		s := newStack()
		err := withSchemaConn(ctx, schema, func(ctx context.Context) error {
			if err := s.mappings.Restore(ctx, "demo"); err != nil {
				return err
			}
			n, existed, err := s.mappings.NumberFor(mapping.KindPatient, "p1", "FHIR", "demo")
			if err != nil {
				return err
			}
			if !existed || n != 100000 {
				t.Errorf("expected restored key 100000, got %d (existed=%v)", n, existed)
			}
			n, existed, _ = s.mappings.NumberFor(mapping.KindPatient, "p2", "FHIR", "demo")
			if existed || n != 100001 {
				t.Errorf("expected next key 100001, got %d", n)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		s := newStack()
		var stats loader.Stats
		err := withSchemaConn(ctx, schema, func(ctx context.Context) error {
			if err := s.mappings.Restore(ctx, "demo"); err != nil {
				return err
			}
			var err error
			stats, err = s.loader.Reload(ctx, resources)
			return err
		})
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if stats.Counts.Deleted != int64(first.Facts) {
			t.Errorf("expected %d deleted, got %d", first.Facts, stats.Counts.Deleted)
		}
		if stats.Mappings.Patients != 0 {
			t.Errorf("restored keys must not be flushed again, got %+v", stats.Mappings)
		}
		if got := countRows(t, ctx, schema, "observation_fact"); got != first.Facts {
			t.Errorf("expected %d facts after reload, got %d", first.Facts, got)
		}
	})

	t.Run("ListByPatient", func(t *testing.T) {
		s := newStack()
		err := withSchemaConn(ctx, schema, func(ctx context.Context) error {
			facts, total, err := s.facts.ListByPatient(ctx, 100000, 10, 0)
			if err != nil {
				return err
			}
			if total != first.Facts || len(facts) == 0 {
				t.Errorf("expected %d facts for patient, got total=%d page=%d", first.Facts, total, len(facts))
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}

func metadata() *graph.Graph {
	fhir := func(local string) graph.Term { return graph.IRI(vocab.FHIR + local) }
	g := graph.New()
	g.Add(graph.IRI(vocab.W5+"clinical"), vocab.RDFType, vocab.OWLClass)
	g.Add(vocab.FHIRResource, vocab.RDFType, vocab.OWLClass)
	g.Add(vocab.FHIRDomainResource, vocab.RDFSSubClassOf, vocab.FHIRResource)
	g.Add(fhir("Quantity"), vocab.RDFSSubClassOf, fhir("Element"))
	g.Add(fhir("Observation"), vocab.RDFSSubClassOf, vocab.FHIRDomainResource)
	g.Add(fhir("Observation"), vocab.RDFSSubClassOf, graph.IRI(vocab.W5+"clinical"))
	for _, p := range [][3]string{
		{"Observation.status", "Observation", "code"},
		{"Observation.valueQuantity", "Observation", "Quantity"},
		{"Quantity.value", "Quantity", "decimal"},
		{"Quantity.unit", "Quantity", "string"},
	} {
		g.Add(fhir(p[0]), vocab.RDFSDomain, fhir(p[1]))
		g.Add(fhir(p[0]), vocab.RDFSRange, fhir(p[2]))
	}
	return g
}

func TestPublishOntology(t *testing.T) {
	ctx := context.Background()
	schema := uniqueSchema("onto")
	createSchema(t, ctx, schema)
	defer dropSchema(t, ctx, schema)

	sess := session.New(zerolog.Nop(), session.Options{PatientFloor: 1, EncounterFloor: 1, IdentitySource: "HIVE"})
	b := ontology.NewBuilder(sess)
	b.SourcesystemCD = "IT"
	svc := ontology.NewService(ontology.NewRepo(globalDB.Pool), b, zerolog.Nop())

	res, err := svc.Build(metadata(), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var first, second ontology.Published
	err = withSchemaConn(ctx, schema, func(ctx context.Context) error {
		var err error
		if first, err = svc.Publish(ctx); err != nil {
			return err
		}
		second, err = svc.Publish(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if first.Entries != len(res.Entries) || first.Removed != 0 {
		t.Errorf("unexpected first publish %+v", first)
	}
	if second.Removed == 0 {
		t.Error("republish must remove the previous rows")
	}
	if got := countRows(t, ctx, schema, "ontology"); got != len(res.Entries) {
		t.Errorf("expected %d ontology rows, got %d", len(res.Entries), got)
	}
	if got := countRows(t, ctx, schema, "table_access"); got != 1 {
		t.Errorf("expected one table_access row, got %d", got)
	}
	if got := countRows(t, ctx, schema, "modifier_dimension"); got != len(res.Modifiers) {
		t.Errorf("expected %d modifiers, got %d", len(res.Modifiers), got)
	}

	err = withSchemaConn(ctx, schema, func(ctx context.Context) error {
		kids, err := svc.Children(ctx, `\FHIR\clinical\Observation\`)
		if err != nil {
			return err
		}
		if len(kids) != 2 {
			t.Errorf("expected 2 properties under Observation, got %d", len(kids))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
