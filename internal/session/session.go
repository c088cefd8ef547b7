// Package session holds the per-run state shared by every conversion call:
// the namespace resolver, the surrogate key registries, and diagnostic
// counters. A Session is built once and threaded explicitly through the
// transducer, the ontology builder and the loader.
package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/cdw/internal/domain/mapping"
	"github.com/ehr/cdw/internal/vocab"
)

// DiagKind classifies a recoverable condition reported during conversion.
type DiagKind string

const (
	MappingGap         DiagKind = "mapping_gap"
	StructuralAnomaly  DiagKind = "structural_anomaly"
	UnimplementedValue DiagKind = "unimplemented_value"
)

// Diagnostics counts recoverable conditions by kind.
type Diagnostics struct {
	mu     sync.Mutex
	counts map[DiagKind]int

	// OnReport is invoked after every counted report.
	OnReport func(kind DiagKind)
}

func (d *Diagnostics) add(kind DiagKind) {
	d.mu.Lock()
	if d.counts == nil {
		d.counts = make(map[DiagKind]int)
	}
	d.counts[kind]++
	hook := d.OnReport
	d.mu.Unlock()
	if hook != nil {
		hook(kind)
	}
}

// Count returns the number of reports of the given kind.
func (d *Diagnostics) Count(kind DiagKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[kind]
}

// Snapshot returns a copy of all counters.
func (d *Diagnostics) Snapshot() map[DiagKind]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[DiagKind]int, len(d.counts))
	for k, v := range d.counts {
		out[k] = v
	}
	return out
}

// Session is the conversion context.
type Session struct {
	RunID      uuid.UUID
	Logger     zerolog.Logger
	Resolver   *vocab.Resolver
	Patients   *mapping.Registry
	Encounters *mapping.Registry
	Diag       *Diagnostics
}

// Options configures New.
type Options struct {
	PatientFloor   int
	EncounterFloor int
	IdentitySource string
}

// New builds a session with a fresh run id, the default namespace registry
// and empty registries. Unresolved namespaces are counted as mapping gaps.
func New(logger zerolog.Logger, opts Options) *Session {
	id := uuid.New()
	logger = logger.With().Str("run_id", id.String()).Logger()

	s := &Session{
		RunID:      id,
		Logger:     logger,
		Resolver:   vocab.NewResolver(logger),
		Patients:   mapping.NewRegistry(opts.PatientFloor, opts.IdentitySource),
		Encounters: mapping.NewRegistry(opts.EncounterFloor, opts.IdentitySource),
		Diag:       &Diagnostics{},
	}
	s.Resolver.OnGap = func(string) { s.Diag.add(MappingGap) }
	return s
}

// Report counts a diagnostic and returns a warn-level event for the caller
// to finish.
func (s *Session) Report(kind DiagKind) *zerolog.Event {
	s.Diag.add(kind)
	return s.Logger.Warn().Str("diagnostic", string(kind))
}
