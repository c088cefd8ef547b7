package ontology

import (
	"context"
	"fmt"
	"time"

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

const entryCols = `c_hlevel, c_fullname, c_name, c_synonym_cd, c_visualattributes,
	c_basecode, c_metadataxml, c_facttablecolumn, c_tablename, c_columnname,
	c_columndatatype, c_operator, c_dimcode, c_tooltip, m_applied_path,
	update_date, sourcesystem_cd`

const insertEntry = `INSERT INTO ontology (` + entryCols + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	ON CONFLICT (c_fullname, m_applied_path) DO UPDATE SET
		c_hlevel=EXCLUDED.c_hlevel, c_name=EXCLUDED.c_name,
		c_visualattributes=EXCLUDED.c_visualattributes, c_basecode=EXCLUDED.c_basecode,
		c_metadataxml=EXCLUDED.c_metadataxml, c_tooltip=EXCLUDED.c_tooltip,
		update_date=EXCLUDED.update_date, sourcesystem_cd=EXCLUDED.sourcesystem_cd`

const insertConcept = `INSERT INTO concept_dimension (concept_path, concept_cd, name_char, update_date, sourcesystem_cd)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (concept_path) DO UPDATE SET
		concept_cd=EXCLUDED.concept_cd, name_char=EXCLUDED.name_char,
		update_date=EXCLUDED.update_date, sourcesystem_cd=EXCLUDED.sourcesystem_cd`

const insertModifier = `INSERT INTO modifier_dimension (modifier_path, modifier_cd, name_char, update_date, sourcesystem_cd)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (modifier_path) DO UPDATE SET
		modifier_cd=EXCLUDED.modifier_cd, name_char=EXCLUDED.name_char,
		update_date=EXCLUDED.update_date, sourcesystem_cd=EXCLUDED.sourcesystem_cd`

const upsertTableAccess = `INSERT INTO table_access (c_table_cd, c_table_name, c_protected_access,
		c_hlevel, c_fullname, c_name, c_synonym_cd, c_visualattributes, c_facttablecolumn,
		c_dimtablename, c_columnname, c_columndatatype, c_operator, c_dimcode, c_tooltip,
		c_entry_date, c_change_date)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW(),NOW())
	ON CONFLICT (c_table_cd) DO UPDATE SET
		c_table_name=EXCLUDED.c_table_name, c_fullname=EXCLUDED.c_fullname,
		c_name=EXCLUDED.c_name, c_dimcode=EXCLUDED.c_dimcode, c_tooltip=EXCLUDED.c_tooltip,
		c_change_date=NOW()`

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Replace sends the whole publish as one batch, which the server runs as a
// single implicit transaction unless ctx already carries one.
func (r *repoPG) Replace(ctx context.Context, sourcesystem string, res *Result) (Published, error) {
	var out Published
	b := &pgx.Batch{}
	b.Queue(`DELETE FROM ontology WHERE sourcesystem_cd = $1`, sourcesystem)
	b.Queue(`DELETE FROM concept_dimension WHERE sourcesystem_cd = $1`, sourcesystem)
	b.Queue(`DELETE FROM modifier_dimension WHERE sourcesystem_cd = $1`, sourcesystem)

	var updated time.Time
	if len(res.Entries) > 0 {
		updated = res.Entries[0].UpdateDate
	}
	for _, e := range res.Entries {
		b.Queue(insertEntry,
			e.HLevel, e.FullName, e.Name, e.SynonymCD, e.VisualAttributes,
			nullable(e.BaseCode), nullable(e.MetadataXML), e.FactTableColumn, e.TableName, e.ColumnName,
			e.ColumnDataType, e.Operator, e.DimCode, nullable(e.Tooltip), e.AppliedPath,
			e.UpdateDate, nullable(e.SourcesystemCD),
		)
	}
	for _, c := range res.Concepts {
		b.Queue(insertConcept, c.Path, c.Code, c.Name, updated, nullable(sourcesystem))
	}
	for _, m := range res.Modifiers {
		b.Queue(insertModifier, m.Path, m.Code, m.Name, updated, nullable(sourcesystem))
	}
	ta := res.TableAccess
	b.Queue(upsertTableAccess,
		ta.TableCD, ta.TableName, ta.ProtectedAccess, ta.HLevel, ta.FullName, ta.Name,
		ta.SynonymCD, ta.VisualAttributes, ta.FactTableColumn, ta.DimTableName, ta.ColumnName,
		ta.ColumnDataType, ta.Operator, ta.DimCode, ta.Tooltip,
	)

	br := r.conn(ctx).SendBatch(ctx, b)
	defer br.Close()

	for i := 0; i < 3; i++ {
		tag, err := br.Exec()
		if err != nil {
			return out, fmt.Errorf("clear previous ontology: %w", err)
		}
		out.Removed += tag.RowsAffected()
	}
	for _, e := range res.Entries {
		if _, err := br.Exec(); err != nil {
			return out, fmt.Errorf("insert ontology entry %s: %w", e.FullName, err)
		}
		out.Entries++
	}
	for _, c := range res.Concepts {
		if _, err := br.Exec(); err != nil {
			return out, fmt.Errorf("insert concept %s: %w", c.Path, err)
		}
		out.Concepts++
	}
	for _, m := range res.Modifiers {
		if _, err := br.Exec(); err != nil {
			return out, fmt.Errorf("insert modifier %s: %w", m.Path, err)
		}
		out.Modifiers++
	}
	if _, err := br.Exec(); err != nil {
		return out, fmt.Errorf("register table access: %w", err)
	}
	return out, nil
}

func (r *repoPG) Children(ctx context.Context, parent string) ([]Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+entryCols+` FROM ontology
		WHERE c_fullname LIKE $1 AND c_hlevel = $2
		ORDER BY m_applied_path, c_fullname`, escapeLike(parent)+"%", HLevel(parent)+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var base, meta, tooltip, source *string
		if err := rows.Scan(
			&e.HLevel, &e.FullName, &e.Name, &e.SynonymCD, &e.VisualAttributes,
			&base, &meta, &e.FactTableColumn, &e.TableName, &e.ColumnName,
			&e.ColumnDataType, &e.Operator, &e.DimCode, &tooltip, &e.AppliedPath,
			&e.UpdateDate, &source,
		); err != nil {
			return nil, err
		}
		if base != nil {
			e.BaseCode = *base
		}
		if meta != nil {
			e.MetadataXML = *meta
		}
		if tooltip != nil {
			e.Tooltip = *tooltip
		}
		if source != nil {
			e.SourcesystemCD = *source
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// escapeLike escapes LIKE metacharacters, including the backslash that
// separates path segments.
func escapeLike(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%', '_':
			b = append(b, '\\')
		}
		b = append(b, s[i])
	}
	return string(b)
}
