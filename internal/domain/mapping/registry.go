package mapping

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

type key struct {
	id      string
	source  string
	project string
}

// Registry assigns stable integer surrogate keys to external identifiers.
// Keys are allocated monotonically from a floor and never reassigned for
// the same (id, source, project). All methods are safe for concurrent use.
type Registry struct {
	mu             sync.Mutex
	floor          int
	next           int
	ids            map[key]int
	identitySource string
	pending        []Mapping
}

// NewRegistry returns an empty registry allocating from floor. Every new key
// is also made self-addressable under identitySource.
func NewRegistry(floor int, identitySource string) *Registry {
	return &Registry{
		floor:          floor,
		next:           floor,
		ids:            make(map[key]int),
		identitySource: identitySource,
	}
}

// NumberFor returns the key for (id, source, project), allocating one on a
// miss. The boolean reports whether the key already existed.
func (r *Registry) NumberFor(id, source, project string, opts ...Option) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{id: id, source: source, project: project}
	if n, ok := r.ids[k]; ok {
		return n, true
	}

	n := r.next
	r.next++
	r.ids[k] = n

	row := Mapping{ExternalID: id, Source: source, ProjectID: project, Key: n, Status: "A"}
	for _, opt := range opts {
		opt(&row)
	}
	r.pending = append(r.pending, row)

	self := key{id: strconv.Itoa(n), source: r.identitySource, project: project}
	if _, ok := r.ids[self]; !ok {
		r.ids[self] = n
		selfRow := row
		selfRow.ExternalID = self.id
		selfRow.Source = self.source
		r.pending = append(r.pending, selfRow)
	}
	return n, false
}

// Lookup returns the key for (id, source, project) without allocating.
func (r *Registry) Lookup(id, source, project string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.ids[key{id: id, source: source, project: project}]
	return n, ok
}

// Preload restores persisted rows. Preloaded rows are not reported by
// Pending and advance the allocator past their keys.
func (r *Registry) Preload(rows []Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range rows {
		r.ids[key{id: m.ExternalID, source: m.Source, project: m.ProjectID}] = m.Key
		if m.Key >= r.next {
			r.next = m.Key + 1
		}
	}
}

// Pending drains the rows registered since the last call.
func (r *Registry) Pending() []Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

// Len returns the number of known (id, source, project) entries, self
// identity rows included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// Next returns the key the next allocation will receive.
func (r *Registry) Next() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// MaxKeyQuerier reports the largest persisted surrogate key, optionally
// ignoring rows written by one upload batch.
type MaxKeyQuerier interface {
	MaxKey(ctx context.Context, excludeUploadID *int) (int, bool, error)
}

// MaxKeyFunc adapts a function to MaxKeyQuerier.
type MaxKeyFunc func(ctx context.Context, excludeUploadID *int) (int, bool, error)

func (f MaxKeyFunc) MaxKey(ctx context.Context, excludeUploadID *int) (int, bool, error) {
	return f(ctx, excludeUploadID)
}

// Refresh re-derives the next key from the persisted maximum so a restarted
// process never hands out a key already in storage. The result is never
// below the configured floor nor at or below a key held in memory.
func (r *Registry) Refresh(ctx context.Context, q MaxKeyQuerier, excludeUploadID *int) (int, error) {
	top, ok, err := q.MaxKey(ctx, excludeUploadID)
	if err != nil {
		return 0, fmt.Errorf("query max key: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.floor
	if ok && top+1 > next {
		next = top + 1
	}
	for _, n := range r.ids {
		if n+1 > next {
			next = n + 1
		}
	}
	r.next = next
	return next, nil
}
