package ontology

import "context"

// Published counts the rows written by one publish.
type Published struct {
	Entries   int   `json:"entries"`
	Concepts  int   `json:"concepts"`
	Modifiers int   `json:"modifiers"`
	Removed   int64 `json:"removed"`
}

type Repository interface {
	// Replace removes every ontology, concept and modifier row tagged with
	// sourcesystem and writes res in their place.
	Replace(ctx context.Context, sourcesystem string, res *Result) (Published, error)
	// Children lists the entries one level below parent.
	Children(ctx context.Context, parent string) ([]Entry, error)
}
