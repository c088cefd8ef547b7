package mapping

import "context"

type Repository interface {
	// Upsert inserts rows not yet stored; existing (ide, source, project)
	// rows are left untouched. It returns the number of rows inserted.
	Upsert(ctx context.Context, kind Kind, rows []Mapping, uploadID int, sourcesystem string) (int64, error)
	List(ctx context.Context, kind Kind, project string) ([]Mapping, error)
	MaxKey(ctx context.Context, kind Kind, excludeUploadID *int) (int, bool, error)
	DeleteByUpload(ctx context.Context, kind Kind, uploadID int) (int64, error)
}
