package graph

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/knakk/rdf"
)

// ErrSyntax wraps decoder errors for malformed documents.
var ErrSyntax = errors.New("rdf syntax error")

// Format is an RDF serialisation accepted by Read.
type Format int

const (
	NTriples Format = iota
	Turtle
)

func (f Format) String() string {
	if f == Turtle {
		return "turtle"
	}
	return "ntriples"
}

func (f Format) decoderFormat() rdf.Format {
	if f == Turtle {
		return rdf.Turtle
	}
	return rdf.NTriples
}

// FormatForPath picks Turtle for .ttl files and N-Triples otherwise.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".ttl") {
		return Turtle
	}
	return NTriples
}

// FormatForMediaType picks Turtle for text/turtle bodies and N-Triples
// otherwise, including an empty or unparseable Content-Type.
func FormatForMediaType(contentType string) Format {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return NTriples
	}
	switch mt {
	case "text/turtle", "application/x-turtle":
		return Turtle
	}
	return NTriples
}

// Read parses a document in format f into a new graph.
func Read(r io.Reader, f Format) (*Graph, error) {
	g := New()
	if err := Parse(r, f, g.AddTriple); err != nil {
		return nil, err
	}
	return g, nil
}

// ReadNTriples parses an N-Triples document into a new graph.
func ReadNTriples(r io.Reader) (*Graph, error) {
	return Read(r, NTriples)
}

// LoadFile reads the RDF file at path, choosing the format by extension.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	g, err := Read(bufio.NewReader(f), FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return g, nil
}

// Parse streams every triple of r to emit.
func Parse(r io.Reader, f Format, emit func(Triple)) error {
	dec := rdf.NewTripleDecoder(r, f.decoderFormat())
	for n := 1; ; n++ {
		rt, err := dec.Decode()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s triple %d: %v", ErrSyntax, f, n, err)
		}
		t, err := fromRDF(rt)
		if err != nil {
			return fmt.Errorf("%s triple %d: %w", f, n, err)
		}
		emit(t)
	}
}

const xsdString = "http://www.w3.org/2001/XMLSchema#string"

func fromRDF(rt rdf.Triple) (Triple, error) {
	s, err := termOf(rt.Subj)
	if err != nil {
		return Triple{}, err
	}
	p, err := termOf(rt.Pred)
	if err != nil {
		return Triple{}, err
	}
	o, err := termOf(rt.Obj)
	if err != nil {
		return Triple{}, err
	}
	return Triple{S: s, P: p, O: o}, nil
}

// termOf converts a decoded term. Plain and xsd:string literals both
// decode without a datatype.
func termOf(t rdf.Term) (Term, error) {
	switch v := t.(type) {
	case rdf.IRI:
		return IRI(v.String()), nil
	case rdf.Blank:
		return Blank(strings.TrimPrefix(v.String(), "_:")), nil
	case rdf.Literal:
		if lang := v.Lang(); lang != "" {
			return LangLiteral(v.String(), lang), nil
		}
		dt := v.DataType.String()
		if dt == xsdString {
			dt = ""
		}
		return Literal(v.String(), dt), nil
	}
	return Term{}, fmt.Errorf("%w: unsupported term %v", ErrSyntax, t)
}

// WriteNTriples serialises g in insertion order.
func WriteNTriples(w io.Writer, g *Graph) error {
	bw := bufio.NewWriter(w)
	for _, t := range g.Triples() {
		if _, err := bw.WriteString(t.String() + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
