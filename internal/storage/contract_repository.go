package storage

import (
	"context"
	"fmt"

	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/types"
)

// ContractRepository handles contract and collection rows
type ContractRepository struct {
	db *PostgresDB
}

// NewContractRepository creates a new contract repository
func NewContractRepository(db *PostgresDB) *ContractRepository {
	return &ContractRepository{db: db}
}

// GetContract returns the contract for (chain, address) or ErrNotFound
func (r *ContractRepository) GetContract(ctx context.Context, chainID types.ChainID, address string) (*models.Contract, error) {
	query := `
		SELECT id, chain_id, address, name, symbol, contract_type, created_at, updated_at
		FROM contracts
		WHERE chain_id = $1 AND address = $2
	`
	var c models.Contract
	err := r.db.Pool().QueryRow(ctx, query, chainID, types.NormalizeAddress(address)).Scan(
		&c.ID, &c.ChainID, &c.Address, &c.Name, &c.Symbol, &c.ContractType, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "contract "+address)
	}
	return &c, nil
}

// UpsertContract creates the contract or fills in fields that were empty.
// A known contract type is never replaced by an unknown one.
func (r *ContractRepository) UpsertContract(ctx context.Context, c *models.Contract) (*models.Contract, error) {
	query := `
		INSERT INTO contracts (chain_id, address, name, symbol, contract_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chain_id, address) DO UPDATE SET
			name = CASE WHEN contracts.name = '' THEN EXCLUDED.name ELSE contracts.name END,
			symbol = CASE WHEN contracts.symbol = '' THEN EXCLUDED.symbol ELSE contracts.symbol END,
			contract_type = CASE WHEN EXCLUDED.contract_type <> '' THEN EXCLUDED.contract_type ELSE contracts.contract_type END,
			updated_at = CASE
				WHEN (contracts.name = '' AND EXCLUDED.name <> '')
				  OR (contracts.symbol = '' AND EXCLUDED.symbol <> '')
				  OR (EXCLUDED.contract_type <> '' AND EXCLUDED.contract_type <> contracts.contract_type)
				THEN NOW() ELSE contracts.updated_at END
		RETURNING id, chain_id, address, name, symbol, contract_type, created_at, updated_at
	`
	var out models.Contract
	err := r.db.Pool().QueryRow(ctx, query,
		c.ChainID, types.NormalizeAddress(c.Address), c.Name, c.Symbol, c.ContractType,
	).Scan(&out.ID, &out.ChainID, &out.Address, &out.Name, &out.Symbol, &out.ContractType, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contract: %w", err)
	}
	return &out, nil
}

// GetCollectionByContract returns the collection of a contract or ErrNotFound
func (r *ContractRepository) GetCollectionByContract(ctx context.Context, contractID int64) (*models.Collection, error) {
	query := `
		SELECT id, chain_id, contract_id, name, owner_address, created_at, updated_at
		FROM collections
		WHERE contract_id = $1
	`
	var c models.Collection
	err := r.db.Pool().QueryRow(ctx, query, contractID).Scan(
		&c.ID, &c.ChainID, &c.ContractID, &c.Name, &c.OwnerAddress, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("collection for contract %d", contractID))
	}
	return &c, nil
}

// EnsureCollection returns the collection of a contract, creating it when missing
func (r *ContractRepository) EnsureCollection(ctx context.Context, contract *models.Contract) (*models.Collection, error) {
	query := `
		INSERT INTO collections (chain_id, contract_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (contract_id) DO UPDATE SET contract_id = EXCLUDED.contract_id
		RETURNING id, chain_id, contract_id, name, owner_address, created_at, updated_at
	`
	var c models.Collection
	err := r.db.Pool().QueryRow(ctx, query, contract.ChainID, contract.ID, contract.Name).Scan(
		&c.ID, &c.ChainID, &c.ContractID, &c.Name, &c.OwnerAddress, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}
	return &c, nil
}

// UpdateCollectionOwner writes the owner address only when it differs
func (r *ContractRepository) UpdateCollectionOwner(ctx context.Context, collectionID int64, owner string) (bool, error) {
	query := `
		UPDATE collections
		SET owner_address = $2, updated_at = NOW()
		WHERE id = $1 AND owner_address IS DISTINCT FROM $2
	`
	tag, err := r.db.Pool().Exec(ctx, query, collectionID, types.NormalizeAddress(owner))
	if err != nil {
		return false, fmt.Errorf("failed to update collection owner: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
