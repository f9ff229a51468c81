package models

import (
	"time"

	"github.com/nft-syncer/internal/types"
)

// Checkpoint is the progress of one polling project on one chain.
// LastPolledBlock never decreases.
type Checkpoint struct {
	ProjectName     string        `json:"projectName" db:"project_name"`
	ChainID         types.ChainID `json:"chainId" db:"chain_id"`
	LastPolledBlock uint64        `json:"lastPolledBlock" db:"last_polled_block"`
	UpdatedAt       time.Time     `json:"updatedAt" db:"updated_at"`
}

// MetadataFailure is the permanent per-asset fetch failure record
type MetadataFailure struct {
	ChainID         types.ChainID `json:"chainId" db:"chain_id"`
	ContractAddress string        `json:"contractAddress" db:"contract_address"`
	TokenID         string        `json:"tokenId" db:"token_id"`
	FailCount       int           `json:"failCount" db:"fail_count"`
	LastFailedAt    time.Time     `json:"lastFailedAt" db:"last_failed_at"`
	NextRetryAt     time.Time     `json:"nextRetryAt" db:"next_retry_at"`
	ErrorReason     string        `json:"errorReason" db:"error_reason"`
	RequestCount    int           `json:"requestCount" db:"request_count"`
	MetadataURL     string        `json:"metadataUrl,omitempty" db:"metadata_url"`
}

// CollectionStatus is the persisted collection failure state
type CollectionStatus string

const (
	CollectionNormal      CollectionStatus = "NORMAL"
	CollectionBlacklisted CollectionStatus = "BLACKLISTED"
)

// CollectionFailure is the persisted per-collection failure state
type CollectionFailure struct {
	ChainID            types.ChainID    `json:"chainId" db:"chain_id"`
	ContractAddress    string           `json:"contractAddress" db:"contract_address"`
	Status             CollectionStatus `json:"status" db:"status"`
	TotalAssetFailures int              `json:"totalAssetFailures" db:"total_asset_failures"`
	SuspendedAt        *time.Time       `json:"suspendedAt,omitempty" db:"suspended_at"`
	RetryAfter         *time.Time       `json:"retryAfter,omitempty" db:"retry_after"`
}
