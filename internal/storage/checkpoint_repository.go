package storage

import (
	"context"
	"fmt"

	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/types"
)

// CheckpointRepository persists poller progress
type CheckpointRepository struct {
	db *PostgresDB
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(db *PostgresDB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Seed creates the checkpoint row if it does not exist yet
func (r *CheckpointRepository) Seed(ctx context.Context, project string, chainID types.ChainID, block uint64) error {
	query := `
		INSERT INTO poll_checkpoints (project_name, chain_id, last_polled_block)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_name, chain_id) DO NOTHING
	`
	if _, err := r.db.Pool().Exec(ctx, query, project, chainID, block); err != nil {
		return fmt.Errorf("failed to seed checkpoint: %w", err)
	}
	return nil
}

// Get returns the checkpoint or ErrNotFound
func (r *CheckpointRepository) Get(ctx context.Context, project string, chainID types.ChainID) (*models.Checkpoint, error) {
	query := `
		SELECT project_name, chain_id, last_polled_block, updated_at
		FROM poll_checkpoints
		WHERE project_name = $1 AND chain_id = $2
	`

	var cp models.Checkpoint
	err := r.db.Pool().QueryRow(ctx, query, project, chainID).Scan(
		&cp.ProjectName,
		&cp.ChainID,
		&cp.LastPolledBlock,
		&cp.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("checkpoint %s/%s", project, chainID))
	}
	return &cp, nil
}

// Advance moves the checkpoint forward to block. It never moves it backwards;
// the returned bool reports whether a row was updated.
func (r *CheckpointRepository) Advance(ctx context.Context, project string, chainID types.ChainID, block uint64) (bool, error) {
	query := `
		UPDATE poll_checkpoints
		SET last_polled_block = $3, updated_at = NOW()
		WHERE project_name = $1 AND chain_id = $2 AND last_polled_block < $3
	`
	tag, err := r.db.Pool().Exec(ctx, query, project, chainID, block)
	if err != nil {
		return false, fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns every checkpoint, used for lag reporting
func (r *CheckpointRepository) List(ctx context.Context) ([]*models.Checkpoint, error) {
	query := `
		SELECT project_name, chain_id, last_polled_block, updated_at
		FROM poll_checkpoints
		ORDER BY chain_id, project_name
	`
	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		var cp models.Checkpoint
		if err := rows.Scan(&cp.ProjectName, &cp.ChainID, &cp.LastPolledBlock, &cp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}
