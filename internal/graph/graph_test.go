package graph

import "testing"

func TestGraph_AddAndLookup(t *testing.T) {
	g := New()
	s := IRI("http://x/s")
	p := IRI("http://x/p")
	q := IRI("http://x/q")
	a := Literal("a", "")
	b := Blank("b1")

	g.Add(s, p, a)
	g.Add(s, p, b)
	g.Add(s, q, a)
	g.Add(s, p, a)

	if g.Len() != 3 {
		t.Errorf("expected 3 triples after dedup, got %d", g.Len())
	}
	objs := g.Objects(s, p)
	if len(objs) != 2 || objs[0] != a || objs[1] != b {
		t.Errorf("unexpected objects %v", objs)
	}
	if v, ok := g.Value(s, q); !ok || v != a {
		t.Errorf("unexpected value %v", v)
	}
	if _, ok := g.Value(b, p); ok {
		t.Error("expected no value for unknown subject")
	}

	po := g.PredicateObjects(s)
	if len(po) != 3 || po[0].P != p || po[2].P != q {
		t.Errorf("unexpected predicate objects %v", po)
	}
	if subs := g.Subjects(q, a); len(subs) != 1 || subs[0] != s {
		t.Errorf("unexpected subjects %v", subs)
	}
	if so := g.SubjectObjects(p); len(so) != 2 {
		t.Errorf("expected 2 subject objects, got %d", len(so))
	}

	objs[0] = Literal("mutated", "")
	if g.Objects(s, p)[0] != a {
		t.Error("Objects must return a copy")
	}
}

func TestCompare(t *testing.T) {
	lit := Literal("z", "")
	iri := IRI("a")
	blank := Blank("a")
	if Compare(lit, iri) >= 0 || Compare(iri, blank) >= 0 {
		t.Error("expected literal < iri < blank")
	}
	if Compare(Literal("1", "x"), Literal("1", "y")) >= 0 {
		t.Error("expected datatype to break ties")
	}
	if Compare(iri, IRI("a")) != 0 {
		t.Error("expected equal terms to compare 0")
	}
}

func TestTerm_String(t *testing.T) {
	tests := []struct {
		term Term
		want string
	}{
		{IRI("http://x/a"), "<http://x/a>"},
		{Blank("n1"), "_:n1"},
		{Literal("say \"hi\"\n", ""), `"say \"hi\"\n"`},
		{Literal("5", "http://www.w3.org/2001/XMLSchema#integer"), `"5"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		{LangLiteral("chat", "fr"), `"chat"@fr`},
	}
	for _, tt := range tests {
		if got := tt.term.String(); got != tt.want {
			t.Errorf("got %s, want %s", got, tt.want)
		}
	}
	if Escape(`a"b\c`) != `a\"b\\c` {
		t.Errorf("unexpected escape %s", Escape(`a"b\c`))
	}
	if Quote("x") != `"x"` {
		t.Errorf("unexpected quote %s", Quote("x"))
	}
}
