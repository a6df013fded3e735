package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a HistoryStore backed by PostgreSQL.
func NewPostgresStore(ctx context.Context, dsn string) (*postgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	st := &postgresStore{db: db}
	if err := st.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (p *postgresStore) init(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (id TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}
	for _, m := range migrations {
		applied, err := p.isApplied(ctx, m.ID)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *postgresStore) Close(ctx context.Context) error {
	return p.db.Close()
}

func (p *postgresStore) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *postgresStore) Record(ctx context.Context, r PhaseRecord) error {
	r = prepare(r)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO phase_history (id, cluster, generation, previous, phase, reason, message, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.Cluster, r.Generation, string(r.Previous), string(r.Phase), r.Reason, r.Message, r.At)
	return err
}

func (p *postgresStore) History(ctx context.Context, cluster string, limit int) ([]PhaseRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, cluster, generation, previous, phase, reason, message, at
		FROM phase_history
		WHERE cluster = $1
		ORDER BY at DESC, id
		LIMIT $2
	`, cluster, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PhaseRecord
	for rows.Next() {
		var (
			r               PhaseRecord
			previous, phase string
		)
		if err := rows.Scan(&r.ID, &r.Cluster, &r.Generation, &previous, &phase, &r.Reason, &r.Message, &r.At); err != nil {
			return nil, err
		}
		r.Previous, r.Phase = v1alpha1.Phase(previous), v1alpha1.Phase(phase)
		r.At = r.At.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (p *postgresStore) Forget(ctx context.Context, cluster string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM phase_history WHERE cluster = $1`, cluster)
	return err
}

type migration struct {
	ID  string
	SQL string
}

var migrations = []migration{
	{
		ID: "0001_phase_history",
		SQL: `
CREATE TABLE IF NOT EXISTS phase_history (
	id UUID PRIMARY KEY,
	cluster TEXT NOT NULL,
	generation BIGINT NOT NULL,
	previous TEXT NOT NULL DEFAULT '',
	phase TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS phase_history_cluster_at ON phase_history (cluster, at DESC);
`,
	},
}

func (p *postgresStore) isApplied(ctx context.Context, id string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE id=$1`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *postgresStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: %w", m.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`, m.ID, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: %w", m.ID, err)
	}
	return tx.Commit()
}
