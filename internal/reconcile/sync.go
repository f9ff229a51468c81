package reconcile

import (
	"context"
	"errors"
	"fmt"

	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/metrics"
	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/storage"
	"github.com/nft-syncer/internal/types"
)

// SyncAssetOnChain fetches one token and writes its asset, extra and ownership rows.
// It never panics; every failure comes back as a *SyncError. Skipped gates return
// KindSkipped, and fetch failures are recorded with the failure tracker before returning.
func (s *Service) SyncAssetOnChain(ctx context.Context, key types.AssetKey, opts SyncOptions) (asset *models.Asset, err error) {
	key = key.Normalize()
	log := s.log.WithFields(map[string]interface{}{
		"chainId":  key.ChainID.String(),
		"contract": key.ContractAddress,
		"tokenId":  key.TokenID,
	})
	ctx = logging.WithLogger(ctx, log)

	defer func() {
		if r := recover(); r != nil {
			err = synerr.New(synerr.KindInternal, synerr.CodeInternalError, fmt.Sprintf("sync panicked: %v", r))
			s.failures.RecordFailure(ctx, key.ChainID, key.ContractAddress, key.TokenID, err, "")
			asset = nil
		}
		s.observe("sync_onchain", err)
		if err != nil {
			if synerr.IsSkipped(err) {
				log.WithError(err).Debug("Asset sync skipped")
			} else {
				log.WithError(err).Warn("Asset sync failed")
			}
		}
	}()

	if _, ok := types.LookupChain(key.ChainID); !ok {
		return nil, synerr.NewUnsupportedChainError(key.ChainID)
	}
	if err := validateTokenID(key.TokenID); err != nil {
		return nil, err
	}
	if s.blacklist.Contains(key.ChainID, key.ContractAddress) {
		return nil, synerr.NewSkippedError(synerr.CodeRefreshBlacklisted, key)
	}
	if s.failures.IsCollectionSuspended(ctx, key.ChainID, key.ContractAddress) {
		return nil, synerr.NewSkippedError(synerr.CodeCollectionSuspended, key)
	}
	if s.failures.ShouldSkip(ctx, key.ChainID, key.ContractAddress, key.TokenID) {
		return nil, synerr.NewSkippedError(synerr.CodeAssetBackoff, key)
	}

	nft, err := s.fetch(ctx, key, opts.class())
	if err != nil {
		s.failures.RecordFailure(ctx, key.ChainID, key.ContractAddress, key.TokenID, err, "")
		return nil, synerr.Categorize(err)
	}
	if nft.Metadata == nil {
		missing := synerr.New(synerr.KindContent, synerr.CodeMetadataMissing, "no metadata for "+key.String())
		s.failures.RecordFailure(ctx, key.ChainID, key.ContractAddress, key.TokenID, missing, nft.TokenURI)
		return nil, missing
	}
	if opts.IsSpam != nil {
		nft.IsSpam = *opts.IsSpam
	}

	contract, collection, err := s.resolveContract(ctx, key.ChainID, key.ContractAddress, nft.Contract)
	if err != nil {
		return nil, err
	}

	asset, err = s.upsertAsset(ctx, key, contract, collection, nft)
	if err != nil {
		return nil, err
	}

	if opts.SyncOwnership && nft.Owner != nil && contract.ContractType == types.ContractERC721 &&
		!types.IsZeroAddress(nft.Owner.Address) {
		if err := s.stores.Ownerships.SetSingleOwner(ctx, asset.ID, contract.ID, types.NormalizeAddress(nft.Owner.Address)); err != nil {
			return nil, synerr.NewDatabaseError("set owner", err)
		}
	}

	if opts.hasTransfer() {
		if _, err := s.transferOwnership(ctx, asset, contract, opts.FromAddress, opts.ToAddress, types.ClassDefault); err != nil {
			return nil, err
		}
	}
	return asset, nil
}

// SyncAssetByNft writes the asset rows for an NFT record the caller already fetched.
// Errors are returned for the caller to handle per item; nothing is recorded as a failure.
func (s *Service) SyncAssetByNft(ctx context.Context, key types.AssetKey, nft *types.NFT) (asset *models.Asset, err error) {
	key = key.Normalize()
	defer func() { s.observe("sync_by_nft", err) }()

	if nft == nil {
		return nil, synerr.NewInvalidParameterError("nft", "is nil")
	}
	if _, ok := types.LookupChain(key.ChainID); !ok {
		return nil, synerr.NewUnsupportedChainError(key.ChainID)
	}
	if err := validateTokenID(key.TokenID); err != nil {
		return nil, err
	}
	if s.blacklist.Contains(key.ChainID, key.ContractAddress) {
		return nil, synerr.NewSkippedError(synerr.CodeRefreshBlacklisted, key)
	}

	contract, collection, err := s.resolveContract(ctx, key.ChainID, key.ContractAddress, nft.Contract)
	if err != nil {
		return nil, err
	}
	asset, err = s.upsertAsset(ctx, key, contract, collection, nft)
	if err != nil {
		return nil, err
	}

	if nft.Owner != nil && contract.ContractType == types.ContractERC721 && !types.IsZeroAddress(nft.Owner.Address) {
		if err := s.stores.Ownerships.SetSingleOwner(ctx, asset.ID, contract.ID, types.NormalizeAddress(nft.Owner.Address)); err != nil {
			return nil, synerr.NewDatabaseError("set owner", err)
		}
	}
	return asset, nil
}

// fetch reads the token through its provider and falls back to the chain when the
// provider fails or returns metadata without any image.
func (s *Service) fetch(ctx context.Context, key types.AssetKey, class types.TrafficClass) (*types.NFT, error) {
	log := logging.FromContext(ctx)

	nft, providerErr := s.gateway.GetNFT(ctx, key.ChainID, key.ContractAddress, key.TokenID)
	if providerErr == nil && nft.Metadata.HasImage() {
		return nft, nil
	}
	if s.gateway.ProviderFor(key.ChainID) == "onchain" {
		if providerErr != nil {
			return nil, providerErr
		}
		return nft, nil
	}
	if providerErr != nil {
		log.WithError(providerErr).Debug("Provider fetch failed, reading on-chain")
	} else {
		log.Debug("Provider metadata incomplete, reading on-chain")
	}

	onchain, err := s.gateway.GetNFTOnchain(ctx, key.ChainID, key.ContractAddress, key.TokenID, class)
	if err != nil {
		if providerErr != nil {
			return nil, providerErr
		}
		// the provider answered, keep what it had
		return nft, nil
	}
	if nft == nil {
		return onchain, nil
	}
	return mergeNFT(nft, onchain), nil
}

// mergeNFT prefers on-chain metadata and keeps provider fields the chain read lacks
func mergeNFT(provider, onchain *types.NFT) *types.NFT {
	out := *onchain
	if out.Owner == nil {
		out.Owner = provider.Owner
	}
	if out.Contract.Name == "" {
		out.Contract.Name = provider.Contract.Name
	}
	if out.Contract.Symbol == "" {
		out.Contract.Symbol = provider.Contract.Symbol
	}
	if out.Contract.ContractType == types.ContractUnknown {
		out.Contract.ContractType = provider.Contract.ContractType
	}
	if out.Metadata == nil {
		out.Metadata = provider.Metadata
	}
	out.IsSpam = provider.IsSpam
	return &out
}

func contractCacheKey(chainID types.ChainID, address string) string {
	return fmt.Sprintf("contract:%d:%s", chainID, address)
}

func collectionCacheKey(contractID int64) string {
	return fmt.Sprintf("collection:%d", contractID)
}

// resolveContract returns the contract and collection rows for a chain+contract, creating
// them when missing. Both are cached in memory; a cached contract with an unknown schema is
// refreshed when the NFT record knows better.
func (s *Service) resolveContract(ctx context.Context, chainID types.ChainID, address string, hint types.NFTContract) (*models.Contract, *models.Collection, error) {
	address = types.NormalizeAddress(address)
	key := contractCacheKey(chainID, address)

	var contract *models.Contract
	if v, ok := s.lookups.Get(key); ok {
		cached := v.(*models.Contract)
		if cached.ContractType != types.ContractUnknown || hint.ContractType == types.ContractUnknown {
			contract = cached
		}
	}

	if contract == nil {
		contractType := hint.ContractType
		if contractType == types.ContractUnknown {
			detected, err := s.chain.ContractType(ctx, chainID, types.ClassDefault, address)
			if err == nil {
				contractType = detected
			}
		}
		upserted, err := s.stores.Contracts.UpsertContract(ctx, &models.Contract{
			ChainID:      chainID,
			Address:      address,
			Name:         hint.Name,
			Symbol:       hint.Symbol,
			ContractType: contractType,
		})
		if err != nil {
			return nil, nil, synerr.NewDatabaseError("upsert contract", err)
		}
		contract = upserted
		s.lookups.SetDefault(key, contract)
	}

	collection, err := s.resolveCollection(ctx, contract)
	if err != nil {
		return nil, nil, err
	}
	return contract, collection, nil
}

// resolveCollection loads the collection of a contract. On a cache miss the collection's
// on-chain owner is refreshed, writing only when it changed.
func (s *Service) resolveCollection(ctx context.Context, contract *models.Contract) (*models.Collection, error) {
	key := collectionCacheKey(contract.ID)
	if v, ok := s.lookups.Get(key); ok {
		return v.(*models.Collection), nil
	}

	collection, err := s.stores.Contracts.EnsureCollection(ctx, contract)
	if err != nil {
		return nil, synerr.NewDatabaseError("ensure collection", err)
	}

	owner, err := s.chain.ContractOwner(ctx, contract.ChainID, contract.Address)
	if err == nil && owner != "" && owner != collection.OwnerAddress {
		changed, err := s.stores.Contracts.UpdateCollectionOwner(ctx, collection.ID, owner)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Failed to update collection owner")
		} else if changed {
			collection.OwnerAddress = owner
		}
	}

	s.lookups.SetDefault(key, collection)
	return collection, nil
}

// lookupAsset finds the asset for key via the cached contract row
func (s *Service) lookupAsset(ctx context.Context, key types.AssetKey) (*models.Asset, *models.Contract, error) {
	ckey := contractCacheKey(key.ChainID, key.ContractAddress)
	var contract *models.Contract
	if v, ok := s.lookups.Get(ckey); ok {
		contract = v.(*models.Contract)
	} else {
		c, err := s.stores.Contracts.GetContract(ctx, key.ChainID, key.ContractAddress)
		if err != nil {
			return nil, nil, err
		}
		contract = c
		s.lookups.SetDefault(ckey, contract)
	}

	asset, err := s.stores.Assets.Get(ctx, key.ChainID, contract.ID, key.TokenID)
	if err != nil {
		return nil, contract, err
	}
	return asset, contract, nil
}

func (s *Service) observe(operation string, err error) {
	if err == nil {
		metrics.SyncOutcome(operation, "ok")
		return
	}
	metrics.SyncOutcome(operation, string(synerr.KindOf(err)))
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func validateTokenID(tokenID string) error {
	if _, err := types.CanonicalTokenID(tokenID); err != nil {
		return synerr.NewInvalidParameterError("tokenId", err.Error())
	}
	return nil
}
