package graph

// Reader is the read-only lookup surface the converters depend on. Results
// are returned in insertion order; callers that need a canonical order sort
// them explicitly.
type Reader interface {
	// Objects returns every object o of (s, p, o).
	Objects(s, p Term) []Term
	// PredicateObjects returns every outgoing (p, o) edge of s.
	PredicateObjects(s Term) []PredicateObject
	// Value returns the first object of (s, p, o), if any.
	Value(s, p Term) (Term, bool)
	// Subjects returns every subject s of (s, p, o).
	Subjects(p, o Term) []Term
	// SubjectObjects returns every (s, o) pair carrying predicate p.
	SubjectObjects(p Term) []SubjectObject
}

// Graph is an in-memory triple index. It is built once by a loader and then
// treated as immutable; it is not safe for concurrent writes.
type Graph struct {
	spo   map[Term]map[Term][]Term
	preds map[Term][]Term // subject -> predicates in insertion order
	pos   map[Term]map[Term][]Term
	psub  map[Term][]SubjectObject
	seen  map[Triple]struct{}
	order []Triple
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		spo:   make(map[Term]map[Term][]Term),
		preds: make(map[Term][]Term),
		pos:   make(map[Term]map[Term][]Term),
		psub:  make(map[Term][]SubjectObject),
		seen:  make(map[Triple]struct{}),
	}
}

// Add inserts a triple. Duplicate triples are ignored.
func (g *Graph) Add(s, p, o Term) {
	t := Triple{S: s, P: p, O: o}
	if _, ok := g.seen[t]; ok {
		return
	}
	g.seen[t] = struct{}{}
	g.order = append(g.order, t)

	byPred, ok := g.spo[s]
	if !ok {
		byPred = make(map[Term][]Term)
		g.spo[s] = byPred
	}
	if _, ok := byPred[p]; !ok {
		g.preds[s] = append(g.preds[s], p)
	}
	byPred[p] = append(byPred[p], o)

	byObj, ok := g.pos[p]
	if !ok {
		byObj = make(map[Term][]Term)
		g.pos[p] = byObj
	}
	byObj[o] = append(byObj[o], s)
	g.psub[p] = append(g.psub[p], SubjectObject{S: s, O: o})
}

// AddTriple inserts t.
func (g *Graph) AddTriple(t Triple) { g.Add(t.S, t.P, t.O) }

// Len returns the number of distinct triples.
func (g *Graph) Len() int { return len(g.order) }

// Triples returns all triples in insertion order.
func (g *Graph) Triples() []Triple {
	out := make([]Triple, len(g.order))
	copy(out, g.order)
	return out
}

func (g *Graph) Objects(s, p Term) []Term {
	objs := g.spo[s][p]
	out := make([]Term, len(objs))
	copy(out, objs)
	return out
}

func (g *Graph) PredicateObjects(s Term) []PredicateObject {
	var out []PredicateObject
	for _, p := range g.preds[s] {
		for _, o := range g.spo[s][p] {
			out = append(out, PredicateObject{P: p, O: o})
		}
	}
	return out
}

func (g *Graph) Value(s, p Term) (Term, bool) {
	objs := g.spo[s][p]
	if len(objs) == 0 {
		return Term{}, false
	}
	return objs[0], true
}

func (g *Graph) Subjects(p, o Term) []Term {
	subs := g.pos[p][o]
	out := make([]Term, len(subs))
	copy(out, subs)
	return out
}

func (g *Graph) SubjectObjects(p Term) []SubjectObject {
	pairs := g.psub[p]
	out := make([]SubjectObject, len(pairs))
	copy(out, pairs)
	return out
}
