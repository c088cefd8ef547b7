package graph

import (
	"fmt"
	"strings"
)

// Kind distinguishes the three kinds of RDF terms the warehouse cares about.
type Kind int

const (
	KindIRI Kind = iota
	KindBlank
	KindLiteral
)

func (k Kind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "blank"
	case KindLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// Term is a node or literal in a graph. Terms are comparable and are used
// directly as map keys by the in-memory index.
type Term struct {
	Kind     Kind   `json:"kind"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"lang,omitempty"`
}

// IRI returns a named node.
func IRI(v string) Term { return Term{Kind: KindIRI, Value: v} }

// Blank returns an anonymous (composite) node with the given label.
func Blank(label string) Term { return Term{Kind: KindBlank, Value: label} }

// Literal returns a typed literal. An empty datatype denotes a plain literal.
func Literal(v, datatype string) Term {
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

// LangLiteral returns a language-tagged literal.
func LangLiteral(v, lang string) Term {
	return Term{Kind: KindLiteral, Value: v, Lang: lang}
}

func (t Term) IsIRI() bool     { return t.Kind == KindIRI }
func (t Term) IsBlank() bool   { return t.Kind == KindBlank }
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// IsZero reports whether t is the zero Term.
func (t Term) IsZero() bool { return t == Term{} }

// String renders the term in N-Triples syntax.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	default:
		s := quoteLiteral(t.Value)
		if t.Lang != "" {
			return s + "@" + t.Lang
		}
		if t.Datatype != "" {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	}
}

// Compare orders terms by kind, then lexical value, then datatype and
// language. Literals sort before IRIs, IRIs before blank nodes.
func Compare(a, b Term) int {
	if a.Kind != b.Kind {
		return kindRank(a.Kind) - kindRank(b.Kind)
	}
	if c := strings.Compare(a.Value, b.Value); c != 0 {
		return c
	}
	if c := strings.Compare(a.Datatype, b.Datatype); c != 0 {
		return c
	}
	return strings.Compare(a.Lang, b.Lang)
}

func kindRank(k Kind) int {
	switch k {
	case KindLiteral:
		return 0
	case KindIRI:
		return 1
	default:
		return 2
	}
}

// Triple is a single (subject, predicate, object) statement.
type Triple struct {
	S Term `json:"subject"`
	P Term `json:"predicate"`
	O Term `json:"object"`
}

func (t Triple) String() string {
	return t.S.String() + " " + t.P.String() + " " + t.O.String() + " ."
}

// PredicateObject is one outgoing edge of a subject.
type PredicateObject struct {
	P Term
	O Term
}

// SubjectObject is one (subject, object) pair for a fixed predicate.
type SubjectObject struct {
	S Term
	O Term
}

// Quote returns v as a double-quoted N-Triples string literal.
func Quote(v string) string { return quoteLiteral(v) }

// Escape backslash-escapes quotes, backslashes and control characters in v
// without adding surrounding quotes.
func Escape(v string) string {
	q := quoteLiteral(v)
	return q[1 : len(q)-1]
}

func quoteLiteral(v string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range v {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04X`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
