package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/types"
)

// FailureRepository persists metadata fetch failures per asset and per collection
type FailureRepository struct {
	db *PostgresDB
}

// NewFailureRepository creates a new failure repository
func NewFailureRepository(db *PostgresDB) *FailureRepository {
	return &FailureRepository{db: db}
}

// GetAssetFailure returns the failure record of an asset or ErrNotFound
func (r *FailureRepository) GetAssetFailure(ctx context.Context, chainID types.ChainID, contract, tokenID string) (*models.MetadataFailure, error) {
	query := `
		SELECT chain_id, contract_address, token_id, fail_count, last_failed_at,
			next_retry_at, error_reason, request_count, metadata_url
		FROM metadata_failures
		WHERE chain_id = $1 AND contract_address = $2 AND token_id = $3
	`
	var f models.MetadataFailure
	err := r.db.Pool().QueryRow(ctx, query, chainID, types.NormalizeAddress(contract), tokenID).Scan(
		&f.ChainID, &f.ContractAddress, &f.TokenID, &f.FailCount, &f.LastFailedAt,
		&f.NextRetryAt, &f.ErrorReason, &f.RequestCount, &f.MetadataURL,
	)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("metadata failure %s/%s/%s", chainID, contract, tokenID))
	}
	return &f, nil
}

// IncrementRequestCount bumps request_count of an existing record and returns the new value.
// It returns ErrNotFound when the asset has no record.
func (r *FailureRepository) IncrementRequestCount(ctx context.Context, chainID types.ChainID, contract, tokenID string) (int, error) {
	query := `
		UPDATE metadata_failures
		SET request_count = request_count + 1
		WHERE chain_id = $1 AND contract_address = $2 AND token_id = $3
		RETURNING request_count
	`
	var n int
	err := r.db.Pool().QueryRow(ctx, query, chainID, types.NormalizeAddress(contract), tokenID).Scan(&n)
	if err != nil {
		return 0, notFound(err, "metadata failure")
	}
	return n, nil
}

// UpsertAssetFailure records a failure at failedAt with retry allowed from nextRetryAt.
// An existing record has fail_count incremented and the other fields replaced.
func (r *FailureRepository) UpsertAssetFailure(ctx context.Context, f *models.MetadataFailure) (*models.MetadataFailure, error) {
	query := `
		INSERT INTO metadata_failures (
			chain_id, contract_address, token_id, fail_count, last_failed_at,
			next_retry_at, error_reason, request_count, metadata_url
		)
		VALUES ($1, $2, $3, 1, $4, $5, $6, 1, $7)
		ON CONFLICT (chain_id, contract_address, token_id) DO UPDATE SET
			fail_count = metadata_failures.fail_count + 1,
			last_failed_at = EXCLUDED.last_failed_at,
			next_retry_at = EXCLUDED.next_retry_at,
			error_reason = EXCLUDED.error_reason,
			metadata_url = CASE WHEN EXCLUDED.metadata_url <> ''
				THEN EXCLUDED.metadata_url ELSE metadata_failures.metadata_url END,
			updated_at = NOW()
		RETURNING chain_id, contract_address, token_id, fail_count, last_failed_at,
			next_retry_at, error_reason, request_count, metadata_url
	`
	var out models.MetadataFailure
	err := r.db.Pool().QueryRow(ctx, query,
		f.ChainID, types.NormalizeAddress(f.ContractAddress), f.TokenID,
		f.LastFailedAt, f.NextRetryAt, f.ErrorReason, f.MetadataURL,
	).Scan(
		&out.ChainID, &out.ContractAddress, &out.TokenID, &out.FailCount, &out.LastFailedAt,
		&out.NextRetryAt, &out.ErrorReason, &out.RequestCount, &out.MetadataURL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert metadata failure: %w", err)
	}
	return &out, nil
}

// GetCollectionFailure returns the collection failure row or ErrNotFound
func (r *FailureRepository) GetCollectionFailure(ctx context.Context, chainID types.ChainID, contract string) (*models.CollectionFailure, error) {
	query := `
		SELECT chain_id, contract_address, status, total_asset_failures, suspended_at, retry_after
		FROM collection_failures
		WHERE chain_id = $1 AND contract_address = $2
	`
	var c models.CollectionFailure
	err := r.db.Pool().QueryRow(ctx, query, chainID, types.NormalizeAddress(contract)).Scan(
		&c.ChainID, &c.ContractAddress, &c.Status, &c.TotalAssetFailures, &c.SuspendedAt, &c.RetryAfter,
	)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("collection failure %s/%s", chainID, contract))
	}
	return &c, nil
}

// IncrementCollectionFailures adds one to the lifetime failure total of a collection
func (r *FailureRepository) IncrementCollectionFailures(ctx context.Context, chainID types.ChainID, contract string) (int, error) {
	query := `
		INSERT INTO collection_failures (chain_id, contract_address, total_asset_failures)
		VALUES ($1, $2, 1)
		ON CONFLICT (chain_id, contract_address) DO UPDATE SET
			total_asset_failures = collection_failures.total_asset_failures + 1,
			updated_at = NOW()
		RETURNING total_asset_failures
	`
	var n int
	if err := r.db.Pool().QueryRow(ctx, query, chainID, types.NormalizeAddress(contract)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to increment collection failures: %w", err)
	}
	return n, nil
}

// BlacklistCollection marks a collection BLACKLISTED with no retry time. Nothing reverts it.
func (r *FailureRepository) BlacklistCollection(ctx context.Context, chainID types.ChainID, contract string, at time.Time) error {
	query := `
		INSERT INTO collection_failures (chain_id, contract_address, status, suspended_at, retry_after)
		VALUES ($1, $2, $3, $4, NULL)
		ON CONFLICT (chain_id, contract_address) DO UPDATE SET
			status = EXCLUDED.status,
			suspended_at = COALESCE(collection_failures.suspended_at, EXCLUDED.suspended_at),
			retry_after = NULL,
			updated_at = NOW()
	`
	if _, err := r.db.Pool().Exec(ctx, query,
		chainID, types.NormalizeAddress(contract), models.CollectionBlacklisted, at,
	); err != nil {
		return fmt.Errorf("failed to blacklist collection: %w", err)
	}
	return nil
}
