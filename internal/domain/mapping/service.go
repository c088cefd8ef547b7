package mapping

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// FlushCounts reports rows written by Flush.
type FlushCounts struct {
	Patients   int64 `json:"patients"`
	Encounters int64 `json:"encounters"`
}

type Service struct {
	repo       Repository
	patients   *Registry
	encounters *Registry
	logger     zerolog.Logger
}

func NewService(repo Repository, patients, encounters *Registry, logger zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, encounters: encounters, logger: logger}
}

func (s *Service) Registry(kind Kind) (*Registry, error) {
	switch kind {
	case KindPatient:
		return s.patients, nil
	case KindEncounter:
		return s.encounters, nil
	}
	return nil, fmt.Errorf("unknown mapping kind %q", kind)
}

// NumberFor resolves or assigns a key in the registry for kind.
func (s *Service) NumberFor(kind Kind, id, source, project string, opts ...Option) (int, bool, error) {
	if id == "" {
		return 0, false, fmt.Errorf("external id is required")
	}
	if source == "" {
		return 0, false, fmt.Errorf("source is required")
	}
	reg, err := s.Registry(kind)
	if err != nil {
		return 0, false, err
	}
	n, existed := reg.NumberFor(id, source, project, opts...)
	return n, existed, nil
}

// Lookup resolves a key for kind without allocating one.
func (s *Service) Lookup(kind Kind, id, source, project string) (int, bool, error) {
	reg, err := s.Registry(kind)
	if err != nil {
		return 0, false, err
	}
	n, ok := reg.Lookup(id, source, project)
	return n, ok, nil
}

// RegistryStats describes the in-memory state of one registry.
type RegistryStats struct {
	Kind    Kind `json:"kind"`
	Entries int  `json:"entries"`
	Next    int  `json:"next"`
}

func (s *Service) Stats(kind Kind) (RegistryStats, error) {
	reg, err := s.Registry(kind)
	if err != nil {
		return RegistryStats{}, err
	}
	return RegistryStats{Kind: kind, Entries: reg.Len(), Next: reg.Next()}, nil
}

// Refresh moves the allocator of kind past the persisted maximum.
func (s *Service) Refresh(ctx context.Context, kind Kind, excludeUploadID *int) (int, error) {
	reg, err := s.Registry(kind)
	if err != nil {
		return 0, err
	}
	q := MaxKeyFunc(func(ctx context.Context, exclude *int) (int, bool, error) {
		return s.repo.MaxKey(ctx, kind, exclude)
	})
	next, err := reg.Refresh(ctx, q, excludeUploadID)
	if err != nil {
		return 0, fmt.Errorf("refresh %s registry: %w", kind, err)
	}
	s.logger.Info().Str("kind", string(kind)).Int("next", next).Msg("mapping registry refreshed")
	return next, nil
}

// Restore preloads both registries from storage and refreshes their
// allocators.
func (s *Service) Restore(ctx context.Context, project string) error {
	for _, kind := range []Kind{KindPatient, KindEncounter} {
		reg, _ := s.Registry(kind)
		rows, err := s.repo.List(ctx, kind, project)
		if err != nil {
			return fmt.Errorf("list %s mappings: %w", kind, err)
		}
		reg.Preload(rows)
		if _, err := s.Refresh(ctx, kind, nil); err != nil {
			return err
		}
	}
	return nil
}

// Flush persists rows allocated since the last flush.
func (s *Service) Flush(ctx context.Context, uploadID int, sourcesystem string) (FlushCounts, error) {
	var counts FlushCounts
	n, err := s.repo.Upsert(ctx, KindPatient, s.patients.Pending(), uploadID, sourcesystem)
	if err != nil {
		return counts, fmt.Errorf("flush patient mappings: %w", err)
	}
	counts.Patients = n

	n, err = s.repo.Upsert(ctx, KindEncounter, s.encounters.Pending(), uploadID, sourcesystem)
	if err != nil {
		return counts, fmt.Errorf("flush encounter mappings: %w", err)
	}
	counts.Encounters = n
	return counts, nil
}

// DeleteUpload removes both kinds of mapping rows written by an upload.
func (s *Service) DeleteUpload(ctx context.Context, uploadID int) (int64, error) {
	var total int64
	for _, kind := range []Kind{KindPatient, KindEncounter} {
		n, err := s.repo.DeleteByUpload(ctx, kind, uploadID)
		if err != nil {
			return total, fmt.Errorf("delete %s mappings: %w", kind, err)
		}
		total += n
	}
	return total, nil
}
