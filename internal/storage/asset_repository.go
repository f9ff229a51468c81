package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/types"
)

// AssetRepository handles asset and asset extra rows
type AssetRepository struct {
	db *PostgresDB
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(db *PostgresDB) *AssetRepository {
	return &AssetRepository{db: db}
}

const assetColumns = `
	id, chain_id, contract_id, token_id, name, description, image_url, image_data,
	external_url, background_color, animation_url, animation_type, traits, token_uri,
	total_owners, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*models.Asset, error) {
	var (
		a      models.Asset
		traits []byte
	)
	err := row.Scan(
		&a.ID, &a.ChainID, &a.ContractID, &a.TokenID, &a.Name, &a.Description, &a.ImageURL, &a.ImageData,
		&a.ExternalURL, &a.BackgroundColor, &a.AnimationURL, &a.AnimationType, &traits, &a.TokenURI,
		&a.TotalOwners, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(traits) > 0 {
		if err := json.Unmarshal(traits, &a.Traits); err != nil {
			return nil, fmt.Errorf("failed to decode traits of asset %d: %w", a.ID, err)
		}
	}
	return &a, nil
}

func encodeTraits(traits []types.Attribute) ([]byte, error) {
	if traits == nil {
		traits = []types.Attribute{}
	}
	return json.Marshal(traits)
}

// Get returns the asset for (chain, contract, token) or ErrNotFound
func (r *AssetRepository) Get(ctx context.Context, chainID types.ChainID, contractID int64, tokenID string) (*models.Asset, error) {
	query := `SELECT ` + assetColumns + `
		FROM assets
		WHERE chain_id = $1 AND contract_id = $2 AND token_id = $3
	`
	a, err := scanAsset(r.db.Pool().QueryRow(ctx, query, chainID, contractID, tokenID))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("asset %s/%d/%s", chainID, contractID, tokenID))
	}
	return a, nil
}

// Create inserts an asset. A concurrent insert of the same key resolves to the existing row.
func (r *AssetRepository) Create(ctx context.Context, a *models.Asset) (*models.Asset, error) {
	traits, err := encodeTraits(a.Traits)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO assets (
			chain_id, contract_id, token_id, name, description, image_url, image_data,
			external_url, background_color, animation_url, animation_type, traits, token_uri, total_owners
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (chain_id, contract_id, token_id) DO UPDATE SET token_id = EXCLUDED.token_id
		RETURNING ` + assetColumns

	out, err := scanAsset(r.db.Pool().QueryRow(ctx, query,
		a.ChainID, a.ContractID, a.TokenID, a.Name, a.Description, a.ImageURL, a.ImageData,
		a.ExternalURL, a.BackgroundColor, a.AnimationURL, a.AnimationType, traits, a.TokenURI, a.TotalOwners,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}
	return out, nil
}

// Update writes every display field of an existing asset and bumps updated_at
func (r *AssetRepository) Update(ctx context.Context, a *models.Asset) error {
	traits, err := encodeTraits(a.Traits)
	if err != nil {
		return err
	}
	query := `
		UPDATE assets
		SET name = $2, description = $3, image_url = $4, image_data = $5, external_url = $6,
			background_color = $7, animation_url = $8, animation_type = $9, traits = $10,
			token_uri = $11, total_owners = $12, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query,
		a.ID, a.Name, a.Description, a.ImageURL, a.ImageData, a.ExternalURL,
		a.BackgroundColor, a.AnimationURL, a.AnimationType, traits, a.TokenURI, a.TotalOwners,
	)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %d: %w", a.ID, ErrNotFound)
	}
	return nil
}

// EnsureExtra creates the asset extra row with defaults when missing and reports whether it did
func (r *AssetRepository) EnsureExtra(ctx context.Context, extra *models.AssetExtra) (bool, error) {
	query := `
		INSERT INTO asset_extras (asset_id, collection_id, is_spam)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset_id) DO NOTHING
	`
	tag, err := r.db.Pool().Exec(ctx, query, extra.AssetID, extra.CollectionID, extra.IsSpam)
	if err != nil {
		return false, fmt.Errorf("failed to ensure asset extra: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
