package mapping

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

const insertPatient = `
	INSERT INTO patient_mapping (
		patient_ide, patient_ide_source, patient_num, patient_ide_status, project_id,
		upload_id, sourcesystem_cd, update_date, download_date, import_date
	) VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW(),NOW())
	ON CONFLICT (patient_ide, patient_ide_source, project_id) DO NOTHING`

const insertEncounter = `
	INSERT INTO encounter_mapping (
		encounter_ide, encounter_ide_source, encounter_num, encounter_ide_status, project_id,
		patient_ide, patient_ide_source,
		upload_id, sourcesystem_cd, update_date, download_date, import_date
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW(),NOW())
	ON CONFLICT (encounter_ide, encounter_ide_source, project_id, patient_ide, patient_ide_source) DO NOTHING`

func (r *repoPG) Upsert(ctx context.Context, kind Kind, rows []Mapping, uploadID int, sourcesystem string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for _, m := range rows {
		switch kind {
		case KindPatient:
			b.Queue(insertPatient, m.ExternalID, m.Source, m.Key, m.Status, m.ProjectID, uploadID, sourcesystem)
		case KindEncounter:
			b.Queue(insertEncounter, m.ExternalID, m.Source, m.Key, m.Status, m.ProjectID,
				m.PatientIDE, m.PatientIDESource, uploadID, sourcesystem)
		default:
			return 0, fmt.Errorf("unknown mapping kind %q", kind)
		}
	}

	br := r.conn(ctx).SendBatch(ctx, b)
	defer br.Close()

	var inserted int64
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert %s mapping: %w", kind, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (r *repoPG) List(ctx context.Context, kind Kind, project string) ([]Mapping, error) {
	var q string
	switch kind {
	case KindPatient:
		q = `SELECT patient_ide, patient_ide_source, project_id, patient_num, COALESCE(patient_ide_status, ''),
			'', ''
			FROM patient_mapping WHERE project_id = $1 ORDER BY patient_num`
	case KindEncounter:
		q = `SELECT encounter_ide, encounter_ide_source, project_id, encounter_num, COALESCE(encounter_ide_status, ''),
			patient_ide, patient_ide_source
			FROM encounter_mapping WHERE project_id = $1 ORDER BY encounter_num`
	default:
		return nil, fmt.Errorf("unknown mapping kind %q", kind)
	}

	rows, err := r.conn(ctx).Query(ctx, q, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ExternalID, &m.Source, &m.ProjectID, &m.Key, &m.Status,
			&m.PatientIDE, &m.PatientIDESource); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repoPG) MaxKey(ctx context.Context, kind Kind, excludeUploadID *int) (int, bool, error) {
	table, col, err := tableFor(kind)
	if err != nil {
		return 0, false, err
	}
	q := fmt.Sprintf(`SELECT MAX(%s) FROM %s WHERE ($1::int IS NULL OR upload_id IS DISTINCT FROM $1)`, col, table)

	var top *int
	if err := r.conn(ctx).QueryRow(ctx, q, excludeUploadID).Scan(&top); err != nil {
		return 0, false, fmt.Errorf("max %s: %w", col, err)
	}
	if top == nil {
		return 0, false, nil
	}
	return *top, true, nil
}

func (r *repoPG) DeleteByUpload(ctx context.Context, kind Kind, uploadID int) (int64, error) {
	table, _, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE upload_id = $1`, uploadID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func tableFor(kind Kind) (table, col string, err error) {
	switch kind {
	case KindPatient:
		return "patient_mapping", "patient_num", nil
	case KindEncounter:
		return "encounter_mapping", "encounter_num", nil
	}
	return "", "", fmt.Errorf("unknown mapping kind %q", kind)
}
