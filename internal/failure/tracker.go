// Package failure gates metadata fetches for assets and collections that keep failing.
//
// Assets back off for a fixed window after each failure. Collections are suspended through a
// short-lived cache flag and, once too many of their assets fail within the sliding window,
// are persisted as BLACKLISTED. Nothing in this package clears a blacklisted collection.
package failure

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/metrics"
	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/storage"
	"github.com/nft-syncer/internal/types"
)

const (
	// AssetBackoff is how long an asset is skipped after a failed fetch
	AssetBackoff = 30 * 24 * time.Hour
	// CollectionWindow is the TTL of the per-collection sliding failure counter
	CollectionWindow = time.Hour
	// CollectionThreshold is the window failure count that blacklists a collection
	CollectionThreshold = 10
	// SuspensionTTL is the lifetime of the cached suspension flag
	SuspensionTTL = 24 * time.Hour
)

// Store is the persistent failure state
type Store interface {
	GetAssetFailure(ctx context.Context, chainID types.ChainID, contract, tokenID string) (*models.MetadataFailure, error)
	IncrementRequestCount(ctx context.Context, chainID types.ChainID, contract, tokenID string) (int, error)
	UpsertAssetFailure(ctx context.Context, f *models.MetadataFailure) (*models.MetadataFailure, error)
	GetCollectionFailure(ctx context.Context, chainID types.ChainID, contract string) (*models.CollectionFailure, error)
	IncrementCollectionFailures(ctx context.Context, chainID types.ChainID, contract string) (int, error)
	BlacklistCollection(ctx context.Context, chainID types.ChainID, contract string, at time.Time) error
}

// Cache is the ephemeral store shared across processes
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Tracker records metadata fetch failures and answers skip questions
type Tracker struct {
	store Store
	cache Cache
	now   func() time.Time
	log   *logging.Logger
}

// NewTracker creates a tracker over the failure tables and the Redis cache
func NewTracker(store Store, cache Cache) *Tracker {
	return &Tracker{
		store: store,
		cache: cache,
		now:   time.Now,
		log:   logging.Component("failure"),
	}
}

// WithClock replaces the time source
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func suspendedKey(chainID types.ChainID, contract string) string {
	return fmt.Sprintf("metadata:collection:suspended:%d:%s", chainID, types.NormalizeAddress(contract))
}

func failCountKey(chainID types.ChainID, contract string) string {
	return fmt.Sprintf("metadata:collection:failcount:%d:%s", chainID, types.NormalizeAddress(contract))
}

// ShouldSkip reports whether the asset is inside its backoff window. Every check against
// an existing record bumps its request count, whatever the answer. Errors are logged and
// treated as "not skipped".
func (t *Tracker) ShouldSkip(ctx context.Context, chainID types.ChainID, contract, tokenID string) bool {
	contract = types.NormalizeAddress(contract)
	rec, err := t.store.GetAssetFailure(ctx, chainID, contract, tokenID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.log.WithError(err).WithField("contract", contract).Warn("Failed to read asset failure record")
		}
		return false
	}

	if _, err := t.store.IncrementRequestCount(ctx, chainID, contract, tokenID); err != nil {
		t.log.WithError(err).WithField("contract", contract).Warn("Failed to bump request count")
	}
	return rec.NextRetryAt.After(t.now())
}

// IsCollectionSuspended checks the cached flag first, then the persisted BLACKLISTED status.
// A blacklisted row found in the database refills the cache flag.
func (t *Tracker) IsCollectionSuspended(ctx context.Context, chainID types.ChainID, contract string) bool {
	key := suspendedKey(chainID, contract)
	if _, err := t.cache.Get(ctx, key); err == nil {
		return true
	} else if !errors.Is(err, storage.ErrCacheMiss) {
		t.log.WithError(err).WithField("key", key).Warn("Suspension cache read failed")
	}

	rec, err := t.store.GetCollectionFailure(ctx, chainID, contract)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.log.WithError(err).WithField("contract", contract).Warn("Failed to read collection failure record")
		}
		return false
	}
	if rec.Status != models.CollectionBlacklisted {
		return false
	}

	if err := t.cache.Set(ctx, key, "1", SuspensionTTL); err != nil {
		t.log.WithError(err).WithField("key", key).Warn("Failed to refill suspension flag")
	}
	return true
}

// RecordFailure stores an asset failure and advances the collection's sliding counter,
// blacklisting the collection when the counter reaches the threshold. The writes are
// independent; a failed write is logged and does not undo the others.
func (t *Tracker) RecordFailure(ctx context.Context, chainID types.ChainID, contract, tokenID string, cause error, metadataURL string) {
	contract = types.NormalizeAddress(contract)
	now := t.now()
	reason := synerr.ClassifyReason(cause)
	log := t.log.WithFields(map[string]interface{}{
		"chainId":  chainID.String(),
		"contract": contract,
		"tokenId":  tokenID,
		"reason":   reason,
	})
	metrics.MetadataFailure(reason)

	rec, err := t.store.UpsertAssetFailure(ctx, &models.MetadataFailure{
		ChainID:         chainID,
		ContractAddress: contract,
		TokenID:         tokenID,
		LastFailedAt:    now,
		NextRetryAt:     now.Add(AssetBackoff),
		ErrorReason:     reason,
		MetadataURL:     metadataURL,
	})
	if err != nil {
		log.WithError(err).Error("Failed to record asset failure")
	} else {
		log.WithField("failCount", rec.FailCount).Debug("Asset failure recorded")
	}

	if _, err := t.store.IncrementCollectionFailures(ctx, chainID, contract); err != nil {
		log.WithError(err).Warn("Failed to bump collection failure total")
	}

	count, err := t.cache.IncrWithTTL(ctx, failCountKey(chainID, contract), CollectionWindow)
	if err != nil {
		log.WithError(err).Warn("Failed to bump collection failure window")
		return
	}
	if count < CollectionThreshold {
		return
	}

	// Concurrent processes may all cross the threshold; blacklisting twice is harmless.
	if err := t.store.BlacklistCollection(ctx, chainID, contract, now); err != nil {
		log.WithError(err).Error("Failed to blacklist collection")
	} else {
		metrics.CollectionBlacklisted()
		log.WithField("windowFailures", count).Warn("Collection blacklisted")
	}
	if err := t.cache.Set(ctx, suspendedKey(chainID, contract), "1", SuspensionTTL); err != nil {
		log.WithError(err).Warn("Failed to set suspension flag")
	}
}

// CollectionState is the suspension picture of one collection
type CollectionState struct {
	ChainID         types.ChainID             `json:"chainId"`
	ContractAddress string                    `json:"contractAddress"`
	Suspended       bool                      `json:"suspended"`
	Cached          bool                      `json:"cached"`
	WindowFailures  int64                     `json:"windowFailures"`
	Record          *models.CollectionFailure `json:"record,omitempty"`
}

// State reports the cache flag, sliding counter and persisted record of a collection
func (t *Tracker) State(ctx context.Context, chainID types.ChainID, contract string) (*CollectionState, error) {
	contract = types.NormalizeAddress(contract)
	state := &CollectionState{ChainID: chainID, ContractAddress: contract}

	if _, err := t.cache.Get(ctx, suspendedKey(chainID, contract)); err == nil {
		state.Cached = true
	} else if !errors.Is(err, storage.ErrCacheMiss) {
		return nil, synerr.Wrap(synerr.KindTransient, synerr.CodeInternalError, "suspension cache unavailable", err)
	}

	if v, err := t.cache.Get(ctx, failCountKey(chainID, contract)); err == nil {
		state.WindowFailures, _ = strconv.ParseInt(v, 10, 64)
	}

	rec, err := t.store.GetCollectionFailure(ctx, chainID, contract)
	switch {
	case err == nil:
		state.Record = rec
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, synerr.NewDatabaseError("get collection failure", err)
	}

	state.Suspended = state.Cached || (rec != nil && rec.Status == models.CollectionBlacklisted)
	return state, nil
}
