package fact

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Store upserts facts produced by one resource.
func (s *Service) Store(ctx context.Context, facts []Fact) (Counts, error) {
	seen := make(map[DedupKey]bool, len(facts))
	for _, f := range facts {
		if f.PatientNum == 0 {
			return Counts{}, ErrMissingPatient
		}
		k := f.Key()
		if seen[k] {
			return Counts{}, fmt.Errorf("duplicate fact key %s", k)
		}
		seen[k] = true
	}
	return s.repo.Upsert(ctx, facts)
}

func (s *Service) DeleteUpload(ctx context.Context, uploadID int) (Counts, error) {
	n, err := s.repo.DeleteByUpload(ctx, uploadID)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Deleted: n}, nil
}

func (s *Service) DeleteSource(ctx context.Context, sourcesystem string) (Counts, error) {
	if sourcesystem == "" {
		return Counts{}, fmt.Errorf("sourcesystem is required")
	}
	n, err := s.repo.DeleteBySource(ctx, sourcesystem)
	if err != nil {
		return Counts{}, fmt.Errorf("delete source %s: %w", sourcesystem, err)
	}
	s.logger.Info().Str("sourcesystem", sourcesystem).Int64("deleted", n).Msg("source facts deleted")
	return Counts{Deleted: n}, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientNum, limit, offset int) ([]Fact, int, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.repo.ListByPatient(ctx, patientNum, limit, offset)
}
