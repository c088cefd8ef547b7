package vocab

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestResolver_CodeFor(t *testing.T) {
	r := NewResolver(zerolog.Nop())

	tests := []struct {
		iri  string
		want string
		ok   bool
	}{
		{FHIR + "Observation.status", "FHIR:Observation.status", true},
		{W5 + "clinical.diagnostics", "W5:clinical.diagnostics", true},
		{"http://loinc.org/rdf#2345-7", "LOINC:2345-7", true},
		{"http://snomed.info/id/73211009", "SCT:73211009", true},
		{"http://purl.bioontology.org/ontology/RXNORM/197361", "RXNORM:197361", true},
		{FHIR, "", false},
		{"http://example.com/unknown/thing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.iri, func(t *testing.T) {
			got, ok := r.CodeFor(tt.iri)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if got.String() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got.String())
			}
		})
	}
}

func TestResolver_LongestPrefixWins(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	r.AddPrefix("http://hl7.org/fhir/w5#clinical.", "W5C")

	got, ok := r.CodeFor(W5 + "clinical.diagnostics")
	if !ok || got.String() != "W5C:diagnostics" {
		t.Errorf("expected W5C:diagnostics, got %q (ok=%v)", got, ok)
	}
	got, _ = r.CodeFor(W5 + "administrative")
	if got.String() != "W5:administrative" {
		t.Errorf("expected W5:administrative, got %q", got)
	}
}

func TestResolver_CodeForSystem(t *testing.T) {
	r := NewResolver(zerolog.Nop())

	tests := []struct {
		system, code string
		want         string
		ok           bool
	}{
		{SystemLOINC, "2345-7", "LOINC:2345-7", true},
		{SystemLOINC + "/", "2345-7", "LOINC:2345-7", true},
		{SystemSNOMED, "73211009", "SCT:73211009", true},
		{SystemHL7 + "v3-ActCode", "AMB", "HL7:v3-ActCode/AMB", true},
		{SystemLOINC, "", "", false},
		{"", "123", "", false},
		{"urn:oid:1.2.3", "x", "", false},
	}
	for _, tt := range tests {
		got, ok := r.CodeForSystem(tt.system, tt.code)
		if ok != tt.ok || got.String() != tt.want {
			t.Errorf("CodeForSystem(%q, %q) = %q, %v; want %q, %v",
				tt.system, tt.code, got, ok, tt.want, tt.ok)
		}
	}
}

func TestResolver_GapLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	r := NewResolver(zerolog.New(&buf))
	gaps := 0
	r.OnGap = func(string) { gaps++ }

	for i := 0; i < 3; i++ {
		r.CodeFor("http://example.com/ns/a")
	}
	r.CodeFor("http://example.com/other/b")

	if gaps != 4 {
		t.Errorf("expected OnGap for every miss (4), got %d", gaps)
	}
	if r.Unresolved() != 4 {
		t.Errorf("expected 4 unresolved, got %d", r.Unresolved())
	}
	if n := strings.Count(buf.String(), "unrecognized namespace"); n != 2 {
		t.Errorf("expected 2 log lines, got %d: %s", n, buf.String())
	}
	prefixes := r.UnresolvedPrefixes()
	if len(prefixes) != 2 || prefixes[0] != "http://example.com/ns/" {
		t.Errorf("unexpected prefixes: %v", prefixes)
	}
}

func TestResolver_Load(t *testing.T) {
	doc := `
prefixes:
  NS: http://example.org/ns/
systems:
  http://example.org/codes: NS
system_prefixes:
  LOCAL: urn:local:
`
	r := NewResolver(zerolog.Nop())
	if err := r.Load([]byte(doc)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, ok := r.CodeFor("http://example.org/ns/Four"); !ok || got.String() != "NS:Four" {
		t.Errorf("expected NS:Four, got %q", got)
	}
	if got, ok := r.CodeForSystem("http://example.org/codes", "Five"); !ok || got.String() != "NS:Five" {
		t.Errorf("expected NS:Five, got %q", got)
	}
	if got, ok := r.CodeForSystem("urn:local:lab", "k"); !ok || got.String() != "LOCAL:lab/k" {
		t.Errorf("expected LOCAL:lab/k, got %q", got)
	}
}

func TestResolver_LoadErrors(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	if err := r.Load([]byte("prefixes: [")); err == nil {
		t.Error("expected parse error")
	}
	if err := r.Load([]byte("prefixes:\n  X: \"\"\n")); err == nil {
		t.Error("expected error for empty prefix IRI")
	}
	if err := r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestResolver_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "namespaces.yaml")
	if err := os.WriteFile(path, []byte("prefixes:\n  EX: http://example.com/\n"), 0644); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(zerolog.Nop())
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, ok := r.CodeFor("http://example.com/x"); !ok || got.String() != "EX:x" {
		t.Errorf("expected EX:x, got %q", got)
	}
}
