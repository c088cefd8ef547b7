package fact

import (
	"sort"
	"strconv"

	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/vocab"
)

// literalOf returns the literal carried by o: o itself, or the fhir:value of
// a primitive element node.
func literalOf(g graph.Reader, o graph.Term) (graph.Term, bool) {
	if o.IsLiteral() {
		return o, true
	}
	v, ok := g.Value(o, vocab.FHIRValue)
	if !ok || !v.IsLiteral() {
		return graph.Term{}, false
	}
	return v, true
}

// primitive returns the lexical value of (s, p) when it is a literal or a
// primitive element node.
func primitive(g graph.Reader, s, p graph.Term) (string, bool) {
	o, ok := g.Value(s, p)
	if !ok {
		return "", false
	}
	lit, ok := literalOf(g, o)
	if !ok {
		return "", false
	}
	return lit.Value, true
}

// indexOf returns the fhir:index of a list element node.
func indexOf(g graph.Reader, n graph.Term) (int, bool) {
	if n.IsLiteral() {
		return 0, false
	}
	v, ok := g.Value(n, vocab.FHIRIndex)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(v.Value)
	if err != nil {
		return 0, false
	}
	return i, true
}

func hasIndex(g graph.Reader, n graph.Term) bool {
	if n.IsLiteral() {
		return false
	}
	_, ok := g.Value(n, vocab.FHIRIndex)
	return ok
}

// isSimple reports whether o is a bare literal or a node whose only content
// is a literal fhir:value (an index marker is allowed, a type assertion is
// not).
func isSimple(g graph.Reader, o graph.Term) bool {
	if o.IsLiteral() {
		return true
	}
	hasValue := false
	for _, po := range g.PredicateObjects(o) {
		switch po.P {
		case vocab.FHIRIndex:
		case vocab.FHIRValue:
			if !po.O.IsLiteral() || hasValue {
				return false
			}
			hasValue = true
		default:
			return false
		}
	}
	return hasValue
}

// sortedEdges returns the outgoing edges of s in canonical order:
// predicates by IRI, then literals by lexical form, IRIs lexically, and
// blank nodes by fhir:index then label.
func sortedEdges(g graph.Reader, s graph.Term) []graph.PredicateObject {
	edges := g.PredicateObjects(s)
	idx := make(map[graph.Term]int)
	for _, e := range edges {
		if e.O.IsBlank() {
			if i, ok := indexOf(g, e.O); ok {
				idx[e.O] = i
			} else {
				idx[e.O] = -1
			}
		}
	}
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.P.Value != b.P.Value {
			return a.P.Value < b.P.Value
		}
		if a.O.IsBlank() && b.O.IsBlank() {
			if idx[a.O] != idx[b.O] {
				return idx[a.O] < idx[b.O]
			}
			return a.O.Value < b.O.Value
		}
		return graph.Compare(a.O, b.O) < 0
	})
	return edges
}

// sortedByIndex orders list element nodes by fhir:index then label.
func sortedByIndex(g graph.Reader, nodes []graph.Term) []graph.Term {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, aok := indexOf(g, nodes[i])
		b, bok := indexOf(g, nodes[j])
		if !aok {
			a = -1
		}
		if !bok {
			b = -1
		}
		if a != b {
			return a < b
		}
		return graph.Compare(nodes[i], nodes[j]) < 0
	})
	return nodes
}
