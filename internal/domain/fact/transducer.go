package fact

import (
	"fmt"
	"time"

	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/session"
	"github.com/ehr/cdw/internal/vocab"
)

// Structural predicates never turned into facts at the resource root.
// rdf:type is handled separately.
var rootDeny = map[graph.Term]bool{
	vocab.FHIRNodeRole:     true,
	vocab.FHIRIndex:        true,
	vocab.FHIRLink:         true,
	vocab.FHIRResourceID:   true,
	vocab.FHIRResourceMeta: true,
	vocab.FHIRNarrative:    true,
}

// Predicates skipped while walking inside an element. Codings are covered
// by the expander.
var modifierDeny = map[graph.Term]bool{
	vocab.RDFType:                   true,
	vocab.FHIRNodeRole:              true,
	vocab.FHIRIndex:                 true,
	vocab.FHIRLink:                  true,
	vocab.FHIRValue:                 true,
	vocab.FHIRResourceID:            true,
	vocab.FHIRResourceMeta:          true,
	vocab.FHIRNarrative:             true,
	vocab.FHIRCodeableConceptCoding: true,
}

// Transducer flattens a resource graph into observation facts.
type Transducer struct {
	sess  *session.Session
	x     *Expander
	audit Audit
	now   func() time.Time

	// EncounterOptional lists resource types (local names) whose facts may
	// be written without an encounter.
	EncounterOptional map[string]bool
}

func NewTransducer(sess *session.Session, x *Expander, audit Audit) *Transducer {
	return &Transducer{
		sess:              sess,
		x:                 x,
		audit:             audit,
		now:               time.Now,
		EncounterOptional: map[string]bool{"Patient": true},
	}
}

// FindRoot returns the subject marked as the resource tree root.
func FindRoot(g graph.Reader) (graph.Term, bool) {
	roots := g.Subjects(vocab.FHIRNodeRole, vocab.FHIRTreeRoot)
	if len(roots) == 0 {
		return graph.Term{}, false
	}
	return roots[0], true
}

// ResourceType returns the local name of the root's type assertion.
func ResourceType(g graph.Reader, root graph.Term) string {
	for _, t := range g.Objects(root, vocab.RDFType) {
		if t.IsIRI() && vocab.NamespaceOf(t.Value) == vocab.FHIR {
			return vocab.LocalName(t.Value)
		}
	}
	return ""
}

// FactsFor converts the resource rooted at root (or at the tree root marker
// when root is nil) into facts. The output is deduplicated by (instance,
// concept, modifier) and is identical for identical graphs.
func (t *Transducer) FactsFor(g graph.Reader, key FactKey, root *graph.Term) ([]Fact, error) {
	var subject graph.Term
	if root != nil {
		subject = *root
	} else {
		r, ok := FindRoot(g)
		if !ok {
			return nil, ErrNoRootSubject
		}
		subject = r
	}

	if err := key.Validate(!t.EncounterOptional[ResourceType(g, subject)]); err != nil {
		return nil, err
	}

	w := &walk{t: t, g: g, base: NewFact(key, "")}
	if err := w.root(subject); err != nil {
		return nil, fmt.Errorf("facts for %s: %w", subject, err)
	}

	audit := t.audit
	if audit.ImportDate.IsZero() {
		now := t.now()
		audit.ImportDate = now
		if audit.UpdateDate.IsZero() {
			audit.UpdateDate = now
		}
		if audit.DownloadDate.IsZero() {
			audit.DownloadDate = now
		}
	}

	facts := Dedup(w.facts)
	for i := range facts {
		facts[i] = facts[i].withAudit(audit)
	}
	return facts, nil
}

// walk holds the state of one FactsFor call.
type walk struct {
	t           *Transducer
	g           graph.Reader
	base        Fact
	nextInst    int
	facts       []Fact
	identifying []vocab.ConceptCode
}

func (w *walk) fresh() int {
	w.nextInst++
	return w.nextInst
}

func (w *walk) emit(fs ...Fact) { w.facts = append(w.facts, fs...) }

func (w *walk) code(p graph.Term) (vocab.ConceptCode, bool) {
	return w.t.sess.Resolver.CodeFor(p.Value)
}

func (w *walk) expand(top vocab.ConceptCode, p, o graph.Term, base Fact, inst int) {
	fs, ids := w.t.x.Expand(w.g, Expansion{
		Root:        top,
		Predicate:   p,
		Object:      o,
		Base:        base,
		Instance:    inst,
		Identifying: w.identifying,
	})
	w.emit(fs...)
	w.identifying = append(w.identifying, ids...)
}

// siblings counts the objects of each predicate in edges.
func siblings(edges []graph.PredicateObject) map[graph.Term]int {
	n := make(map[graph.Term]int)
	for _, e := range edges {
		n[e.P]++
	}
	return n
}

func (w *walk) root(subject graph.Term) error {
	edges := sortedEdges(w.g, subject)
	count := siblings(edges)

	for _, e := range edges {
		if e.P == vocab.RDFType {
			if e.O.IsIRI() {
				if c, ok := w.code(e.O); ok {
					w.emit(w.base.WithConcept(c.String()))
				}
			}
			continue
		}
		if rootDeny[e.P] {
			continue
		}
		pc, ok := w.code(e.P)
		if !ok {
			continue
		}
		base := w.base.WithConcept(pc.String())

		w.expand(pc, e.P, e.O, base, 0)

		vf, handled, err := w.t.x.ValueFacts(w.g, base, e.P, e.O)
		if err != nil {
			return err
		}
		if handled {
			w.emit(vf...)
			continue
		}

		switch {
		case isSimple(w.g, e.O):
			inst := 0
			if hasIndex(w.g, e.O) && count[e.P] > 1 {
				inst = w.fresh()
			}
			lit, _ := literalOf(w.g, e.O)
			w.emit(base.WithInstance(inst).WithValue(DecodeTerm(lit, "")))
		case e.O.IsBlank():
			if err := w.composite(pc, vocab.ConceptCode{}, e.O, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// composite walks the children of an element node. prefix is the dotted
// modifier name of the element while it shares its parent's instance.
func (w *walk) composite(top, prefix vocab.ConceptCode, node graph.Term, parentInst int) error {
	var children []graph.PredicateObject
	for _, e := range sortedEdges(w.g, node) {
		if !modifierDeny[e.P] {
			children = append(children, e)
		}
	}

	inst := parentInst
	if hasIndex(w.g, node) && len(children) >= 1 {
		inst = w.fresh()
		prefix = vocab.ConceptCode{}
	}
	count := siblings(children)

	for _, e := range children {
		pc, ok := w.code(e.P)
		if !ok {
			continue
		}
		mod := pc
		if !prefix.IsZero() {
			mod = vocab.Composite(prefix, pc)
		}
		base := w.base.WithConcept(top.String()).WithModifier(mod.String()).WithInstance(inst)

		w.expand(top, e.P, e.O, base, inst)

		vf, handled, err := w.t.x.ValueFacts(w.g, base, e.P, e.O)
		if err != nil {
			return err
		}
		if handled {
			w.emit(vf...)
			continue
		}

		switch {
		case isSimple(w.g, e.O):
			f := base
			if hasIndex(w.g, e.O) && count[e.P] > 1 {
				f = f.WithInstance(w.fresh())
			}
			lit, _ := literalOf(w.g, e.O)
			w.emit(f.WithValue(DecodeTerm(lit, "")))
		case e.O.IsBlank():
			if err := w.composite(top, mod, e.O, inst); err != nil {
				return err
			}
		}
	}
	return nil
}
