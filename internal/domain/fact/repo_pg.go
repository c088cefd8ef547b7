package fact

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cdw/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const factCols = `encounter_num, patient_num, concept_cd, provider_id, start_date,
	modifier_cd, instance_num, valtype_cd, tval_char, nval_num, units_cd, observation_blob,
	update_date, download_date, import_date, sourcesystem_cd, upload_id`

const upsertFact = `
	INSERT INTO observation_fact (` + factCols + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	ON CONFLICT (encounter_num, patient_num, concept_cd, provider_id, start_date, modifier_cd, instance_num)
	DO UPDATE SET
		valtype_cd=EXCLUDED.valtype_cd, tval_char=EXCLUDED.tval_char, nval_num=EXCLUDED.nval_num,
		units_cd=EXCLUDED.units_cd, observation_blob=EXCLUDED.observation_blob,
		update_date=EXCLUDED.update_date, download_date=EXCLUDED.download_date,
		import_date=EXCLUDED.import_date, sourcesystem_cd=EXCLUDED.sourcesystem_cd,
		upload_id=EXCLUDED.upload_id
	RETURNING (xmax = 0) AS inserted`

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *repoPG) Upsert(ctx context.Context, facts []Fact) (Counts, error) {
	var counts Counts
	if len(facts) == 0 {
		return counts, nil
	}

	b := &pgx.Batch{}
	for _, f := range facts {
		b.Queue(upsertFact,
			f.EncounterNum, f.PatientNum, f.ConceptCD, f.ProviderID, f.StartDate,
			f.ModifierCD, f.InstanceNum, nullable(string(f.ValTypeCD)), nullable(f.TValChar), f.NValNum,
			nullable(f.UnitsCD), nullable(f.ObservationBlob),
			f.UpdateDate, f.DownloadDate, f.ImportDate, f.SourcesystemCD, f.UploadID,
		)
	}

	br := r.conn(ctx).SendBatch(ctx, b)
	defer br.Close()

	for _, f := range facts {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			return counts, fmt.Errorf("upsert fact %s: %w", f.Key(), err)
		}
		if inserted {
			counts.Inserted++
		} else {
			counts.Updated++
		}
	}
	return counts, nil
}

func (r *repoPG) DeleteByUpload(ctx context.Context, uploadID int) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM observation_fact WHERE upload_id = $1`, uploadID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) DeleteBySource(ctx context.Context, sourcesystem string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM observation_fact WHERE sourcesystem_cd = $1`, sourcesystem)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientNum int, limit, offset int) ([]Fact, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM observation_fact WHERE patient_num = $1`, patientNum).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+factCols+` FROM observation_fact
		WHERE patient_num = $1
		ORDER BY encounter_num, start_date, concept_cd, instance_num, modifier_cd
		LIMIT $2 OFFSET $3`, patientNum, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}

func scanFact(row pgx.Row) (Fact, error) {
	var f Fact
	var valType, tval, units, blob *string
	err := row.Scan(
		&f.EncounterNum, &f.PatientNum, &f.ConceptCD, &f.ProviderID, &f.StartDate,
		&f.ModifierCD, &f.InstanceNum, &valType, &tval, &f.NValNum, &units, &blob,
		&f.UpdateDate, &f.DownloadDate, &f.ImportDate, &f.SourcesystemCD, &f.UploadID,
	)
	if err != nil {
		return f, err
	}
	if valType != nil {
		f.ValTypeCD = ValType(*valType)
	}
	if tval != nil {
		f.TValChar = *tval
	}
	if units != nil {
		f.UnitsCD = *units
	}
	if blob != nil {
		f.ObservationBlob = *blob
	}
	return f, nil
}
