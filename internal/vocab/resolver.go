package vocab

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type prefixEntry struct {
	uri string
	tag string
}

// Resolver maps IRIs and code systems to concept code namespaces. It never
// fails: an unrecognised prefix is reported once through the logger and the
// lookup returns ok=false.
type Resolver struct {
	mu             sync.Mutex
	prefixes       []prefixEntry
	systems        map[string]string
	systemPrefixes []prefixEntry
	reported       map[string]bool
	unresolved     int
	logger         zerolog.Logger

	// OnGap, when set, is called for every unresolved lookup (not only
	// the first per prefix).
	OnGap func(prefix string)
}

// NewResolver returns a resolver preloaded with the default registry.
func NewResolver(logger zerolog.Logger) *Resolver {
	r := &Resolver{
		systems:  make(map[string]string),
		reported: make(map[string]bool),
		logger:   logger,
	}
	for uri, tag := range defaultPrefixes {
		r.AddPrefix(uri, tag)
	}
	for uri, tag := range defaultSystems {
		r.AddSystem(uri, tag)
	}
	for uri, tag := range defaultSystemPrefixes {
		r.AddSystemPrefix(uri, tag)
	}
	return r
}

var defaultPrefixes = map[string]string{
	FHIR:                                            "FHIR",
	W5:                                              "W5",
	"http://loinc.org/rdf#":                         "LOINC",
	"http://loinc.org/owl#":                         "LOINC",
	"http://snomed.info/id/":                        "SCT",
	"http://purl.bioontology.org/ontology/RXNORM/":  "RXNORM",
	"http://purl.bioontology.org/ontology/ICD10CM/": "ICD10CM",
	"http://purl.bioontology.org/ontology/CPT/":     "CPT",
}

var defaultSystems = map[string]string{
	SystemLOINC:   "LOINC",
	SystemSNOMED:  "SCT",
	SystemRxNorm:  "RXNORM",
	SystemICD10CM: "ICD10CM",
	SystemICD9CM:  "ICD9CM",
	SystemCPT:     "CPT",
	SystemUCUM:    "UCUM",
	SystemNDC:     "NDC",
	SystemCVX:     "CVX",
}

var defaultSystemPrefixes = map[string]string{
	SystemHL7: "HL7",
}

// AddPrefix registers an IRI namespace. Longer prefixes win.
func (r *Resolver) AddPrefix(uri, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.prefixes {
		if p.uri == uri {
			r.prefixes[i].tag = tag
			return
		}
	}
	r.prefixes = append(r.prefixes, prefixEntry{uri: uri, tag: tag})
	sortPrefixes(r.prefixes)
}

// AddSystem registers a code system URI (exact match).
func (r *Resolver) AddSystem(system, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systems[normalizeSystem(system)] = tag
}

// AddSystemPrefix registers a family of code systems sharing a URI prefix;
// the remainder of the system URI becomes part of the local code.
func (r *Resolver) AddSystemPrefix(uri, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systemPrefixes = append(r.systemPrefixes, prefixEntry{uri: uri, tag: tag})
	sortPrefixes(r.systemPrefixes)
}

func sortPrefixes(p []prefixEntry) {
	sort.SliceStable(p, func(i, j int) bool {
		if len(p[i].uri) != len(p[j].uri) {
			return len(p[i].uri) > len(p[j].uri)
		}
		return p[i].uri < p[j].uri
	})
}

func normalizeSystem(s string) string {
	return strings.TrimRight(s, "/#")
}

// CodeFor converts an IRI into a concept code using the longest matching
// namespace prefix.
func (r *Resolver) CodeFor(iri string) (ConceptCode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.prefixes {
		if strings.HasPrefix(iri, p.uri) && len(iri) > len(p.uri) {
			return ConceptCode{Namespace: p.tag, Local: iri[len(p.uri):]}, true
		}
	}
	r.gapLocked(NamespaceOf(iri))
	return ConceptCode{}, false
}

// CodeForSystem synthesises a concept code from a Coding's system and code.
func (r *Resolver) CodeForSystem(system, code string) (ConceptCode, bool) {
	if code == "" {
		return ConceptCode{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if tag, ok := r.systems[normalizeSystem(system)]; ok {
		return ConceptCode{Namespace: tag, Local: code}, true
	}
	for _, p := range r.systemPrefixes {
		if strings.HasPrefix(system, p.uri) && len(system) > len(p.uri) {
			rest := strings.Trim(system[len(p.uri):], "/")
			return ConceptCode{Namespace: p.tag, Local: rest + "/" + code}, true
		}
	}
	if system == "" {
		system = "<no system>"
	}
	r.gapLocked(system)
	return ConceptCode{}, false
}

func (r *Resolver) gapLocked(prefix string) {
	r.unresolved++
	if r.OnGap != nil {
		r.OnGap(prefix)
	}
	if r.reported[prefix] {
		return
	}
	r.reported[prefix] = true
	r.logger.Warn().Str("prefix", prefix).Msg("unrecognized namespace; entries dropped")
}

// Unresolved returns the number of failed lookups so far.
func (r *Resolver) Unresolved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unresolved
}

// UnresolvedPrefixes returns the distinct prefixes that failed, sorted.
func (r *Resolver) UnresolvedPrefixes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.reported))
	for p := range r.reported {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RegistryFile is the YAML shape of a namespace registry extension.
type RegistryFile struct {
	Prefixes       map[string]string `yaml:"prefixes"`        // tag -> IRI namespace
	Systems        map[string]string `yaml:"systems"`         // code system URI -> tag
	SystemPrefixes map[string]string `yaml:"system_prefixes"` // tag -> code system URI prefix
}

// LoadFile merges the registry file at path into r.
func (r *Resolver) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read namespace file: %w", err)
	}
	return r.Load(data)
}

// Load merges a YAML registry document into r.
func (r *Resolver) Load(data []byte) error {
	var rf RegistryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse namespace file: %w", err)
	}
	for tag, uri := range rf.Prefixes {
		if tag == "" || uri == "" {
			return fmt.Errorf("namespace file: empty prefix entry %q=%q", tag, uri)
		}
		r.AddPrefix(uri, tag)
	}
	for system, tag := range rf.Systems {
		r.AddSystem(system, tag)
	}
	for tag, uri := range rf.SystemPrefixes {
		r.AddSystemPrefix(uri, tag)
	}
	return nil
}
