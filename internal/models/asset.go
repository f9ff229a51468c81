package models

import (
	"time"

	"github.com/nft-syncer/internal/types"
)

// Asset is one token of a contract on a chain, unique by (chain, contract, token)
type Asset struct {
	ID              int64             `json:"id" db:"id"`
	ChainID         types.ChainID     `json:"chainId" db:"chain_id"`
	ContractID      int64             `json:"contractId" db:"contract_id"`
	TokenID         string            `json:"tokenId" db:"token_id"`
	Name            string            `json:"name" db:"name"`
	Description     string            `json:"description" db:"description"`
	ImageURL        string            `json:"imageUrl" db:"image_url"`
	ImageData       string            `json:"imageData" db:"image_data"`
	ExternalURL     string            `json:"externalUrl" db:"external_url"`
	BackgroundColor string            `json:"backgroundColor" db:"background_color"`
	AnimationURL    string            `json:"animationUrl" db:"animation_url"`
	AnimationType   string            `json:"animationType" db:"animation_type"`
	Traits          []types.Attribute `json:"traits" db:"traits"`
	TokenURI        string            `json:"tokenUri" db:"token_uri"`
	TotalOwners     *int64            `json:"totalOwners,omitempty" db:"total_owners"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time         `json:"updatedAt" db:"updated_at"`
}

// AssetExtra is the one-to-one search companion of an Asset
type AssetExtra struct {
	AssetID      int64     `json:"assetId" db:"asset_id"`
	CollectionID *int64    `json:"collectionId,omitempty" db:"collection_id"`
	IsSpam       bool      `json:"isSpam" db:"is_spam"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Ownership is an asset-as-account row. ERC-721 assets have at most one;
// ERC-1155 assets have one per holder with a non-zero balance.
type Ownership struct {
	ID           int64     `json:"id" db:"id"`
	AssetID      int64     `json:"assetId" db:"asset_id"`
	ContractID   int64     `json:"contractId" db:"contract_id"`
	OwnerAddress string    `json:"ownerAddress" db:"owner_address"`
	Quantity     string    `json:"quantity" db:"quantity"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// AssetTrait is one row of the trait search table
type AssetTrait struct {
	AssetID     int64         `json:"assetId" db:"asset_id"`
	ChainID     types.ChainID `json:"chainId" db:"chain_id"`
	ContractID  int64         `json:"contractId" db:"contract_id"`
	TraitType   string        `json:"traitType" db:"trait_type"`
	DisplayType string        `json:"displayType" db:"display_type"`
	Value       string        `json:"value" db:"value"`
}
