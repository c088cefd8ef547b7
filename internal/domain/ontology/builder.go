package ontology

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/session"
	"github.com/ehr/cdw/internal/vocab"
)

var (
	ErrEmptyMetadata   = errors.New("metadata graph has no classes")
	ErrUnknownResource = errors.New("not a resource type")
)

// modifierDeny lists structural properties that never become modifiers.
var modifierDeny = map[string]bool{
	vocab.FHIR + "Element.id":                        true,
	vocab.FHIR + "Element.extension":                 true,
	vocab.FHIR + "BackboneElement.modifierExtension": true,
	vocab.FHIR + "Resource.id":                       true,
	vocab.FHIR + "Resource.meta":                     true,
	vocab.FHIR + "Resource.implicitRules":            true,
	vocab.FHIR + "Resource.language":                 true,
	vocab.FHIR + "DomainResource.text":               true,
	vocab.FHIR + "DomainResource.contained":          true,
	vocab.FHIR + "DomainResource.extension":          true,
	vocab.FHIR + "DomainResource.modifierExtension":  true,
	vocab.FHIRIndex.Value:                            true,
	vocab.FHIRNodeRole.Value:                         true,
	vocab.FHIRLink.Value:                             true,
}

// Builder turns a class/property metadata graph into the ontology browse
// tree: navigation folders for the classification taxonomy, one concept per
// resource type and per first-level property, and a modifier forest under
// every structured property.
type Builder struct {
	sess *session.Session

	// Root is the top path segment and the table_access code.
	Root string
	// Table is the ontology table name recorded in table_access.
	Table string
	// Filtered branches of the taxonomy are left out with their descendants.
	Filtered []graph.Term
	// MaxDepth bounds modifier nesting; 0 means unbounded.
	MaxDepth       int
	SourcesystemCD string

	now func() time.Time
}

func NewBuilder(sess *session.Session) *Builder {
	return &Builder{
		sess:     sess,
		Root:     "FHIR",
		Table:    "ontology",
		Filtered: []graph.Term{vocab.W5Infrastructure},
		now:      time.Now,
	}
}

type buildState struct {
	b       *Builder
	m       *Meta
	res     *Result
	now     time.Time
	entries map[string]bool
	dims    map[string]bool
}

// Build produces the ontology for every resource type in meta, or for root
// alone when it is non-nil.
func (b *Builder) Build(meta graph.Reader, root *graph.Term) (*Result, error) {
	m := NewMeta(meta)
	if len(m.Classes()) == 0 {
		return nil, ErrEmptyMetadata
	}

	st := &buildState{
		b:       b,
		m:       m,
		res:     &Result{},
		now:     b.now(),
		entries: make(map[string]bool),
		dims:    make(map[string]bool),
	}

	rootPath := JoinPath(b.Root)
	st.add(conceptEntry(rootPath, b.Root, "", VisualContainer))
	st.res.TableAccess = TableAccess{
		TableCD:          b.Root,
		TableName:        b.Table,
		ProtectedAccess:  "N",
		HLevel:           HLevel(rootPath),
		FullName:         rootPath,
		Name:             b.Root,
		SynonymCD:        "N",
		VisualAttributes: VisualContainer,
		FactTableColumn:  "concept_cd",
		DimTableName:     "concept_dimension",
		ColumnName:       "concept_path",
		ColumnDataType:   "T",
		Operator:         "LIKE",
		DimCode:          rootPath,
		Tooltip:          b.Root,
	}

	for _, c := range m.Classes() {
		if !isTaxonomy(c) {
			continue
		}
		code, ok := st.code(c)
		if !ok {
			continue
		}
		for _, segs := range st.paths(c) {
			path := JoinPath(append([]string{b.Root}, segs...)...)
			st.addConcept(conceptEntry(path, m.Label(c), code.String(), VisualFolder))
		}
	}

	var types []graph.Term
	if root != nil {
		if !st.isResource(*root) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownResource, root.Value)
		}
		types = []graph.Term{*root}
	} else {
		for _, c := range m.Classes() {
			if st.isResource(c) {
				types = append(types, c)
			}
		}
	}

	for _, t := range types {
		code, ok := st.code(t)
		if !ok {
			continue
		}
		for _, segs := range st.paths(t) {
			path := JoinPath(append([]string{b.Root}, segs...)...)
			e := conceptEntry(path, m.Label(t), code.String(), VisualFolder)
			e.Tooltip = m.Comment(t)
			st.addConcept(e)
			for _, p := range m.Properties(t) {
				if err := st.property(t, p, path); err != nil {
					return nil, err
				}
			}
		}
	}

	for i := range st.res.Entries {
		st.res.Entries[i].UpdateDate = st.now
		st.res.Entries[i].SourcesystemCD = b.SourcesystemCD
	}

	b.sess.Logger.Info().
		Int("entries", len(st.res.Entries)).
		Int("concepts", len(st.res.Concepts)).
		Int("modifiers", len(st.res.Modifiers)).
		Msg("ontology built")
	return st.res, nil
}

func isTaxonomy(c graph.Term) bool {
	return strings.HasPrefix(c.Value, vocab.W5)
}

func (st *buildState) isResource(c graph.Term) bool {
	if c == vocab.FHIRResource || c == vocab.FHIRDomainResource {
		return false
	}
	return st.m.Reaches(c, vocab.FHIRDomainResource) || st.m.Reaches(c, vocab.FHIRResource)
}

func (st *buildState) code(t graph.Term) (vocab.ConceptCode, bool) {
	return st.b.sess.Resolver.CodeFor(t.Value)
}

func (st *buildState) filtered(t graph.Term) bool {
	for _, f := range st.b.Filtered {
		if t == f {
			return true
		}
	}
	return false
}

// paths returns the segment lists placing c in the tree, one per ancestor
// chain that stays clear of filtered branches and, when c has a parent,
// enters the taxonomy directly.
func (st *buildState) paths(c graph.Term) [][]string {
	if st.filtered(c) {
		return nil
	}
	var out [][]string
next:
	for _, chain := range st.m.Ancestors(c) {
		if len(chain) > 0 && !isTaxonomy(chain[0]) {
			continue
		}
		for _, a := range chain {
			if st.filtered(a) {
				continue next
			}
		}
		segs := make([]string, 0, len(chain)+1)
		for i := len(chain) - 1; i >= 0; i-- {
			segs = append(segs, Segment(chain[i]))
		}
		out = append(out, append(segs, Segment(c)))
	}
	return out
}

func (st *buildState) add(e Entry) bool {
	k := e.FullName + "|" + e.AppliedPath
	if st.entries[k] {
		return false
	}
	st.entries[k] = true
	st.res.Entries = append(st.res.Entries, e)
	return true
}

func (st *buildState) addConcept(e Entry) {
	if !st.add(e) || e.BaseCode == "" || st.dims["c"+e.FullName] {
		return
	}
	st.dims["c"+e.FullName] = true
	st.res.Concepts = append(st.res.Concepts, ConceptDimension{Path: e.FullName, Code: e.BaseCode, Name: e.Name})
}

func (st *buildState) addModifier(e Entry) {
	if !st.add(e) || st.dims["m"+e.FullName] {
		return
	}
	st.dims["m"+e.FullName] = true
	st.res.Modifiers = append(st.res.Modifiers, ModifierDimension{Path: e.FullName, Code: e.BaseCode, Name: e.Name})
}

func (st *buildState) tooltip(owner, p graph.Term, ranges []graph.Term) string {
	lo, hi := st.m.Cardinality(owner, p)
	parts := []string{}
	if c := st.m.Comment(p); c != "" {
		parts = append(parts, c)
	}
	parts = append(parts, "["+lo+".."+hi+"]")
	for _, r := range ranges {
		if IsComplex(r) {
			parts = append(parts, "("+Segment(r)+", complex)")
		}
	}
	return strings.Join(parts, " ")
}

// property adds the concept entry for a first-level property of a resource
// and, for each structured range, its modifier forest.
func (st *buildState) property(owner, p graph.Term, parentPath string) error {
	code, ok := st.code(p)
	if !ok {
		return nil
	}
	seg := Segment(p)
	path := parentPath + seg + Sep
	ranges := st.m.Ranges(p)

	visual := VisualLeaf
	if _, hi := st.m.Cardinality(owner, p); hi == "0" {
		visual = VisualLeafHidden
	}
	e := conceptEntry(path, seg, code.String(), visual)
	e.Tooltip = st.tooltip(owner, p, ranges)
	if len(ranges) > 0 && st.m.IsPrimitive(ranges[0]) {
		xml, err := metadataXML(e.BaseCode, seg, vocab.LocalName(ranges[0].Value), st.now)
		if err != nil {
			return fmt.Errorf("value metadata for %s: %w", p.Value, err)
		}
		e.MetadataXML = xml
	}
	st.addConcept(e)

	for _, r := range ranges {
		if st.m.IsPrimitive(r) {
			continue
		}
		rootPath := JoinPath(code.Local)
		st.addModifier(modifierEntry(rootPath, seg, code.String(), VisualModifierContainer, path))
		seen := map[graph.Term]bool{r: true}
		if err := st.modifiers(p, code, r, 0, seen, rootPath, path); err != nil {
			return err
		}
	}
	return nil
}

// modifiers records a modifier for every (property, range) reachable from
// rangeType and recurses into structured ranges. seen holds the ranges on the
// current depth-first path; it is restored on return so a range can appear
// again under a sibling branch.
func (st *buildState) modifiers(prop graph.Term, name vocab.ConceptCode, rangeType graph.Term, depth int, seen map[graph.Term]bool, parentPath, applied string) error {
	if st.b.MaxDepth > 0 && depth >= st.b.MaxDepth {
		return nil
	}
	for _, q := range st.m.Properties(rangeType) {
		if q == prop || modifierDeny[q.Value] {
			continue
		}
		qc, ok := st.code(q)
		if !ok {
			continue
		}
		composite := vocab.Composite(name, qc)
		ranges := st.m.Ranges(q)
		for _, s := range ranges {
			if seen[s] {
				continue
			}
			seg := Segment(q)
			if len(ranges) > 1 {
				seg += "_" + Segment(s)
			}
			path := parentPath + seg + Sep

			prim := st.m.IsPrimitive(s)
			visual := VisualModifierFolder
			if prim {
				visual = VisualModifierLeaf
			}
			e := modifierEntry(path, seg, composite.String(), visual, applied)
			e.Tooltip = st.tooltip(rangeType, q, []graph.Term{s})
			if prim {
				xml, err := metadataXML(e.BaseCode, seg, vocab.LocalName(s.Value), st.now)
				if err != nil {
					return fmt.Errorf("value metadata for %s: %w", q.Value, err)
				}
				e.MetadataXML = xml
			}
			st.addModifier(e)

			if !prim {
				seen[s] = true
				err := st.modifiers(q, composite, s, depth+1, seen, path, applied)
				delete(seen, s)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}
