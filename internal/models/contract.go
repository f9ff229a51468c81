package models

import (
	"time"

	"github.com/nft-syncer/internal/types"
)

// Contract is an NFT contract on a chain, unique by (chain, address)
type Contract struct {
	ID           int64              `json:"id" db:"id"`
	ChainID      types.ChainID      `json:"chainId" db:"chain_id"`
	Address      string             `json:"address" db:"address"`
	Name         string             `json:"name" db:"name"`
	Symbol       string             `json:"symbol" db:"symbol"`
	ContractType types.ContractType `json:"contractType" db:"contract_type"`
	CreatedAt    time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time          `json:"updatedAt" db:"updated_at"`
}

// Collection groups the assets of one contract
type Collection struct {
	ID           int64         `json:"id" db:"id"`
	ChainID      types.ChainID `json:"chainId" db:"chain_id"`
	ContractID   int64         `json:"contractId" db:"contract_id"`
	Name         string        `json:"name" db:"name"`
	OwnerAddress string        `json:"ownerAddress" db:"owner_address"`
	CreatedAt    time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time     `json:"updatedAt" db:"updated_at"`
}

// Order is the slice of the order book touched by ownership reconciliation
type Order struct {
	ID         int64         `json:"id" db:"id"`
	ChainID    types.ChainID `json:"chainId" db:"chain_id"`
	AssetID    int64         `json:"assetId" db:"asset_id"`
	Maker      string        `json:"maker" db:"maker"`
	Side       OrderSide     `json:"side" db:"side"`
	IsFillable bool          `json:"isFillable" db:"is_fillable"`
}

// OrderSide is sell (listing) or buy (offer)
type OrderSide string

const (
	OrderSideSell OrderSide = "sell"
	OrderSideBuy  OrderSide = "buy"
)
