package fact

import "context"

// Counts reports the effect of a write on observation_fact.
type Counts struct {
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
	Deleted  int64 `json:"deleted"`
}

func (c Counts) Add(o Counts) Counts {
	return Counts{
		Inserted: c.Inserted + o.Inserted,
		Updated:  c.Updated + o.Updated,
		Deleted:  c.Deleted + o.Deleted,
	}
}

type Repository interface {
	// Upsert writes facts keyed by (encounter, patient, concept, provider,
	// start date, modifier, instance).
	Upsert(ctx context.Context, facts []Fact) (Counts, error)
	DeleteByUpload(ctx context.Context, uploadID int) (int64, error)
	DeleteBySource(ctx context.Context, sourcesystem string) (int64, error)
	ListByPatient(ctx context.Context, patientNum int, limit, offset int) ([]Fact, int, error)
}
