package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pcider/printbot/internal/repository"
)

// PostgresPersister stores the session document as a single JSONB row.
type PostgresPersister struct {
	pool *pgxpool.Pool
}

func NewPostgresPersister(pool *pgxpool.Pool) *PostgresPersister {
	return &PostgresPersister{pool: pool}
}

func (r *PostgresPersister) Load(ctx context.Context) (*repository.State, error) {
	var document []byte
	err := r.pool.QueryRow(ctx, `SELECT document FROM printbot_state WHERE id = 1`).Scan(&document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.NewState(), nil
		}
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return repository.DecodeState(document)
}

func (r *PostgresPersister) Save(ctx context.Context, state *repository.State) error {
	document, err := repository.EncodeState(state)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO printbot_state (id, document, updated_at)
		 VALUES (1, $1, NOW())
		 ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		string(document))
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func (r *PostgresPersister) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresPersister) Shutdown() error {
	r.pool.Close()
	return nil
}
