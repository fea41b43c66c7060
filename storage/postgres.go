package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	editor "github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         text PRIMARY KEY,
	snapshot   bytea NOT NULL,
	content    text NOT NULL DEFAULT '',
	version    bigint NOT NULL DEFAULT 0,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// PgStore keeps documents in postgres, one row per document. The
// version column increments on every save so readers can tell snapshots
// apart without decoding them.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(ctx context.Context, url string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "storage: bad postgres url")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "storage: postgres unreachable")
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "storage: schema setup failed")
	}
	return &PgStore{pool: pool}, nil
}

func (p *PgStore) Load(ctx context.Context, docID string) ([]byte, int64, error) {
	var snapshot []byte
	var version int64
	err := p.pool.QueryRow(ctx,
		`SELECT snapshot, version FROM documents WHERE id = $1`, docID,
	).Scan(&snapshot, &version)
	if err == pgx.ErrNoRows {
		return nil, 0, editor.ErrNotFound
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "storage: load failed")
	}
	return snapshot, version, nil
}

func (p *PgStore) Save(ctx context.Context, docID string, snapshot []byte, text string) (int64, error) {
	var version int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO documents (id, snapshot, content, version)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (id) DO UPDATE
		 SET snapshot = EXCLUDED.snapshot,
		     content = EXCLUDED.content,
		     version = documents.version + 1,
		     updated_at = now()
		 RETURNING version`,
		docID, snapshot, text,
	).Scan(&version)
	if err != nil {
		return 0, errors.Wrap(err, "storage: save failed")
	}
	return version, nil
}

// Text reads the stored plain-text projection.
func (p *PgStore) Text(ctx context.Context, docID string) (string, error) {
	var text string
	err := p.pool.QueryRow(ctx,
		`SELECT content FROM documents WHERE id = $1`, docID,
	).Scan(&text)
	if err == pgx.ErrNoRows {
		return "", editor.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "storage: text read failed")
	}
	return text, nil
}

func (p *PgStore) Close() {
	p.pool.Close()
}
