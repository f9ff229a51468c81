package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/types"
)

// TraitRepository handles the trait search table
type TraitRepository struct {
	db *PostgresDB
}

// NewTraitRepository creates a new trait repository
func NewTraitRepository(db *PostgresDB) *TraitRepository {
	return &TraitRepository{db: db}
}

// Count returns the number of trait rows of an asset
func (r *TraitRepository) Count(ctx context.Context, assetID int64) (int, error) {
	var n int
	if err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM asset_traits WHERE asset_id = $1`, assetID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count traits: %w", err)
	}
	return n, nil
}

// Replace deletes every trait row of the asset and inserts the given set
func (r *TraitRepository) Replace(ctx context.Context, asset *models.Asset, traits []types.Attribute) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM asset_traits WHERE asset_id = $1`, asset.ID); err != nil {
			return fmt.Errorf("failed to clear traits: %w", err)
		}
		if len(traits) == 0 {
			return nil
		}

		rows := make([][]any, 0, len(traits))
		for _, t := range traits {
			rows = append(rows, []any{asset.ID, asset.ChainID, asset.ContractID, t.TraitType, t.DisplayType, t.Value})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"asset_traits"},
			[]string{"asset_id", "chain_id", "contract_id", "trait_type", "display_type", "value"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("failed to insert traits: %w", err)
		}
		return nil
	})
}
