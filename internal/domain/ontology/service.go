package ontology

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/cdw/internal/graph"
)

var (
	ErrNotBuilt    = errors.New("ontology has not been built")
	ErrInvalidPath = errors.New("invalid ontology path")
)

// Service builds the ontology from a metadata graph, keeps the latest result
// and publishes it to the warehouse.
type Service struct {
	repo    Repository
	builder *Builder
	logger  zerolog.Logger

	mu      sync.RWMutex
	current *Result
}

func NewService(repo Repository, builder *Builder, logger zerolog.Logger) *Service {
	return &Service{repo: repo, builder: builder, logger: logger}
}

// Build runs the builder and keeps the result for Publish.
func (s *Service) Build(meta graph.Reader, root *graph.Term) (*Result, error) {
	res, err := s.builder.Build(meta, root)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.current = res
	s.mu.Unlock()
	return res, nil
}

func (s *Service) Current() (*Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != nil
}

// Publish replaces the rows written by the previous publish from the same
// source system with the current result.
func (s *Service) Publish(ctx context.Context) (Published, error) {
	res, ok := s.Current()
	if !ok {
		return Published{}, ErrNotBuilt
	}
	out, err := s.repo.Replace(ctx, s.builder.SourcesystemCD, res)
	if err != nil {
		return out, fmt.Errorf("publish ontology: %w", err)
	}
	s.logger.Info().
		Int("entries", out.Entries).
		Int("concepts", out.Concepts).
		Int("modifiers", out.Modifiers).
		Int64("removed", out.Removed).
		Msg("ontology published")
	return out, nil
}

// Children lists published entries directly below a terminated path.
func (s *Service) Children(ctx context.Context, parent string) ([]Entry, error) {
	if !strings.HasPrefix(parent, Sep) || !strings.HasSuffix(parent, Sep) || len(parent) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, parent)
	}
	return s.repo.Children(ctx, parent)
}
