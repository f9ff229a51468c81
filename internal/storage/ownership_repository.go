package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/types"
)

// OwnershipRepository handles asset ownership rows
type OwnershipRepository struct {
	db *PostgresDB
}

// NewOwnershipRepository creates a new ownership repository
func NewOwnershipRepository(db *PostgresDB) *OwnershipRepository {
	return &OwnershipRepository{db: db}
}

// SetSingleOwner makes owner the only holder of an ERC-721 asset with quantity "1".
// Rows of any other owner are removed in the same transaction.
func (r *OwnershipRepository) SetSingleOwner(ctx context.Context, assetID, contractID int64, owner string) error {
	owner = types.NormalizeAddress(owner)
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM asset_ownerships WHERE asset_id = $1 AND owner_address <> $2`,
			assetID, owner,
		); err != nil {
			return fmt.Errorf("failed to clear previous owners: %w", err)
		}

		query := `
			INSERT INTO asset_ownerships (asset_id, contract_id, owner_address, quantity)
			VALUES ($1, $2, $3, '1')
			ON CONFLICT (asset_id, owner_address) DO UPDATE SET
				quantity = '1',
				updated_at = CASE WHEN asset_ownerships.quantity = '1'
					THEN asset_ownerships.updated_at ELSE NOW() END
		`
		if _, err := tx.Exec(ctx, query, assetID, contractID, owner); err != nil {
			return fmt.Errorf("failed to upsert owner: %w", err)
		}
		return nil
	})
}

// DeleteAll removes every ownership row of an asset
func (r *OwnershipRepository) DeleteAll(ctx context.Context, assetID int64) error {
	if _, err := r.db.Pool().Exec(ctx, `DELETE FROM asset_ownerships WHERE asset_id = $1`, assetID); err != nil {
		return fmt.Errorf("failed to delete ownerships: %w", err)
	}
	return nil
}

// Get returns the row for (asset, owner) or ErrNotFound
func (r *OwnershipRepository) Get(ctx context.Context, assetID int64, owner string) (*models.Ownership, error) {
	query := `
		SELECT id, asset_id, contract_id, owner_address, quantity, updated_at
		FROM asset_ownerships
		WHERE asset_id = $1 AND owner_address = $2
	`
	var o models.Ownership
	err := r.db.Pool().QueryRow(ctx, query, assetID, types.NormalizeAddress(owner)).Scan(
		&o.ID, &o.AssetID, &o.ContractID, &o.OwnerAddress, &o.Quantity, &o.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("ownership %d/%s", assetID, owner))
	}
	return &o, nil
}

// ListByAsset returns all holders of an asset
func (r *OwnershipRepository) ListByAsset(ctx context.Context, assetID int64) ([]*models.Ownership, error) {
	query := `
		SELECT id, asset_id, contract_id, owner_address, quantity, updated_at
		FROM asset_ownerships
		WHERE asset_id = $1
		ORDER BY owner_address
	`
	rows, err := r.db.Pool().Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ownerships: %w", err)
	}
	defer rows.Close()

	var out []*models.Ownership
	for rows.Next() {
		var o models.Ownership
		if err := rows.Scan(&o.ID, &o.AssetID, &o.ContractID, &o.OwnerAddress, &o.Quantity, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ownership: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// Upsert writes quantity for (asset, owner), creating the row when missing
func (r *OwnershipRepository) Upsert(ctx context.Context, o *models.Ownership) error {
	query := `
		INSERT INTO asset_ownerships (asset_id, contract_id, owner_address, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset_id, owner_address) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			updated_at = NOW()
	`
	if _, err := r.db.Pool().Exec(ctx, query,
		o.AssetID, o.ContractID, types.NormalizeAddress(o.OwnerAddress), o.Quantity,
	); err != nil {
		return fmt.Errorf("failed to upsert ownership: %w", err)
	}
	return nil
}

// Delete removes the row for (asset, owner)
func (r *OwnershipRepository) Delete(ctx context.Context, assetID int64, owner string) error {
	query := `DELETE FROM asset_ownerships WHERE asset_id = $1 AND owner_address = $2`
	if _, err := r.db.Pool().Exec(ctx, query, assetID, types.NormalizeAddress(owner)); err != nil {
		return fmt.Errorf("failed to delete ownership: %w", err)
	}
	return nil
}

// CountOwners returns the number of distinct holders of an asset
func (r *OwnershipRepository) CountOwners(ctx context.Context, assetID int64) (int64, error) {
	var n int64
	if err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM asset_ownerships WHERE asset_id = $1`, assetID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}
	return n, nil
}
