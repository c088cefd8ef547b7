// Package loader drives a batch of FHIR resources through graph conversion,
// key assignment and the fact transducer into the warehouse.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/cdw/internal/domain/fact"
	"github.com/ehr/cdw/internal/domain/mapping"
	"github.com/ehr/cdw/internal/graph/fhirjson"
	"github.com/ehr/cdw/internal/platform/db"
	"github.com/ehr/cdw/internal/session"
)

// Recorder receives per-resource outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	Resource(status string)
	Facts(n int)
	ObserveConversion(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Resource(string)                 {}
func (nopRecorder) Facts(int)                       {}
func (nopRecorder) ObserveConversion(time.Duration) {}

// Options carries the identifiers stamped on a load.
type Options struct {
	ProjectID       string
	PatientSource   string
	EncounterSource string
	ProviderID      string
	SourcesystemCD  string
	UploadID        int
	BaseIRI         string
	BarePredicates  []string
}

// Stats summarises one LoadResources call.
type Stats struct {
	Resources   int                      `json:"resources"`
	Loaded      int                      `json:"loaded"`
	Skipped     int                      `json:"skipped"`
	Facts       int                      `json:"facts"`
	Counts      fact.Counts              `json:"counts"`
	Mappings    mapping.FlushCounts      `json:"mappings"`
	Diagnostics map[session.DiagKind]int `json:"diagnostics"`
	Unresolved  []string                 `json:"unresolved_prefixes,omitempty"`
	Errors      []string                 `json:"errors,omitempty"`
}

// maxErrors bounds Stats.Errors.
const maxErrors = 50

type Service struct {
	sess     *session.Session
	conv     *fhirjson.Converter
	tx       *fact.Transducer
	facts    *fact.Service
	mappings *mapping.Service
	opts     Options
	rec      Recorder
	logger   zerolog.Logger
	now      func() time.Time
	inTx     func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewService(sess *session.Session, facts *fact.Service, mappings *mapping.Service, opts Options, rec Recorder) *Service {
	if rec == nil {
		rec = nopRecorder{}
	}
	audit := fact.Audit{SourcesystemCD: opts.SourcesystemCD, UploadID: opts.UploadID}
	return &Service{
		sess:     sess,
		conv:     fhirjson.NewConverter(opts.BaseIRI),
		tx:       fact.NewTransducer(sess, fact.NewExpander(sess, opts.BarePredicates), audit),
		facts:    facts,
		mappings: mappings,
		opts:     opts,
		rec:      rec,
		logger:   sess.Logger.With().Str("component", "loader").Logger(),
		now:      time.Now,
		inTx:     db.InTx,
	}
}

// Convert turns one resource into facts, assigning patient and encounter
// keys on the way. Nothing is written.
func (s *Service) Convert(r *fhirjson.Resource) ([]fact.Fact, error) {
	key := fact.FactKey{ProviderID: s.opts.ProviderID, StartDate: startOf(r, s.now())}

	pid, ok := patientOf(r)
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", r.Type, r.ID, fact.ErrMissingPatient)
	}
	n, _, err := s.mappings.NumberFor(mapping.KindPatient, pid, s.opts.PatientSource, s.opts.ProjectID)
	if err != nil {
		return nil, err
	}
	key.PatientNum = n

	if eid, ok := encounterOf(r); ok {
		n, _, err := s.mappings.NumberFor(mapping.KindEncounter, eid, s.opts.EncounterSource, s.opts.ProjectID,
			mapping.WithPatient(pid, s.opts.PatientSource))
		if err != nil {
			return nil, err
		}
		key.EncounterNum = n
	}

	g, root := s.conv.Graph(r)
	facts, err := s.tx.FactsFor(g, key, &root)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", r.Type, r.ID, err)
	}
	return facts, nil
}

// LoadResources converts and stores every resource. A resource that cannot
// be converted is skipped and counted; storage failures abort the batch.
// Mapping rows allocated along the way are flushed at the end.
func (s *Service) LoadResources(ctx context.Context, resources []*fhirjson.Resource) (Stats, error) {
	stats, err := s.store(ctx, resources)
	if err != nil {
		return stats, err
	}
	return stats, s.finish(ctx, &stats)
}

// store converts and upserts facts without touching the mapping tables.
func (s *Service) store(ctx context.Context, resources []*fhirjson.Resource) (Stats, error) {
	stats := Stats{Resources: len(resources)}

	for _, r := range resources {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		start := time.Now()

		facts, err := s.Convert(r)
		if err != nil {
			if errors.Is(err, fact.ErrUnknownValueSlot) {
				s.logger.Error().Err(err).Msg("value slot table is incomplete")
			} else {
				s.logger.Warn().Err(err).Str("resource", r.Type+"/"+r.ID).Msg("resource skipped")
			}
			stats.Skipped++
			if len(stats.Errors) < maxErrors {
				stats.Errors = append(stats.Errors, err.Error())
			}
			s.rec.Resource("skipped")
			continue
		}

		counts, err := s.facts.Store(ctx, facts)
		if err != nil {
			return stats, fmt.Errorf("store %s/%s: %w", r.Type, r.ID, err)
		}
		stats.Loaded++
		stats.Facts += len(facts)
		stats.Counts = stats.Counts.Add(counts)
		s.rec.Resource("loaded")
		s.rec.Facts(len(facts))
		s.rec.ObserveConversion(time.Since(start))
	}
	return stats, nil
}

// finish flushes mapping rows allocated by the batch and logs the summary.
func (s *Service) finish(ctx context.Context, stats *Stats) error {
	flushed, err := s.mappings.Flush(ctx, s.opts.UploadID, s.opts.SourcesystemCD)
	if err != nil {
		return err
	}
	stats.Mappings = flushed
	stats.Diagnostics = s.sess.Diag.Snapshot()
	stats.Unresolved = s.sess.Resolver.UnresolvedPrefixes()

	s.logger.Info().
		Int("resources", stats.Resources).
		Int("loaded", stats.Loaded).
		Int("skipped", stats.Skipped).
		Int("facts", stats.Facts).
		Int64("inserted", stats.Counts.Inserted).
		Int64("updated", stats.Counts.Updated).
		Int("unresolved_prefixes", len(stats.Unresolved)).
		Int("unresolved_lookups", s.sess.Resolver.Unresolved()).
		Msg("load complete")
	return nil
}

// Reload replaces the facts written under the configured upload id with
// those of resources. The delete and the new facts commit together, so a
// failed reload leaves the previous facts in place. Mapping rows are kept
// so keys stay stable.
func (s *Service) Reload(ctx context.Context, resources []*fhirjson.Resource) (Stats, error) {
	var stats Stats
	err := s.inTx(ctx, func(ctx context.Context) error {
		deleted, err := s.facts.DeleteUpload(ctx, s.opts.UploadID)
		if err != nil {
			return fmt.Errorf("delete upload %d: %w", s.opts.UploadID, err)
		}
		stats, err = s.store(ctx, resources)
		stats.Counts.Deleted += deleted.Deleted
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("reload upload %d: %w", s.opts.UploadID, err)
	}
	return stats, s.finish(ctx, &stats)
}
