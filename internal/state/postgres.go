package state

import (
	"context"
	"fmt"

	"videogateway/internal/infra"
	"videogateway/internal/sqlinline"
)

// PostgresKV stores values in the studio_state table.
type PostgresKV struct {
	db infra.SQLExecutor
}

func NewPostgresKV(db infra.SQLExecutor) *PostgresKV {
	return &PostgresKV{db: db}
}

// EnsureSchema creates the backing table when missing.
func (p *PostgresKV) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, sqlinline.QStateEnsureTable); err != nil {
		return fmt.Errorf("state: ensure schema: %w", err)
	}
	return nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	if err := p.db.QueryRow(ctx, sqlinline.QStateGet, key).Scan(&value); err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: select %s: %w", key, err)
	}
	return value, nil
}

func (p *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := p.db.Exec(ctx, sqlinline.QStateUpsert, key, value); err != nil {
		return fmt.Errorf("state: upsert %s: %w", key, err)
	}
	return nil
}

func (p *PostgresKV) Delete(ctx context.Context, key string) error {
	if _, err := p.db.Exec(ctx, sqlinline.QStateDelete, key); err != nil {
		return fmt.Errorf("state: delete %s: %w", key, err)
	}
	return nil
}

var _ KV = (*PostgresKV)(nil)
