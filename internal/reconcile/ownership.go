package reconcile

import (
	"context"
	"fmt"

	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/types"
)

// TransferParams identifies one ownership change to reconcile
type TransferParams struct {
	ChainID         types.ChainID `json:"chainId"`
	ContractAddress string        `json:"contractAddress"`
	TokenID         string        `json:"tokenId"`
	FromAddress     string        `json:"fromAddress"`
	ToAddress       string        `json:"toAddress"`
}

func (p TransferParams) key() types.AssetKey {
	return types.AssetKey{ChainID: p.ChainID, ContractAddress: p.ContractAddress, TokenID: p.TokenID}.Normalize()
}

// TransferAssetOwnershipOnchain reconciles the ownership rows touched by a transfer. A missing
// asset is synced first. It reports false with an error when nothing could be reconciled.
func (s *Service) TransferAssetOwnershipOnchain(ctx context.Context, p TransferParams) (ok bool, err error) {
	key := p.key()
	log := s.log.WithFields(map[string]interface{}{
		"chainId":  key.ChainID.String(),
		"contract": key.ContractAddress,
		"tokenId":  key.TokenID,
	})
	ctx = logging.WithLogger(ctx, log)
	defer func() { s.observe("transfer_ownership", err) }()

	if _, supported := types.LookupChain(key.ChainID); !supported {
		return false, synerr.NewUnsupportedChainError(key.ChainID)
	}
	if err := validateTokenID(key.TokenID); err != nil {
		return false, err
	}

	asset, contract, err := s.lookupAsset(ctx, key)
	if err != nil {
		if !isNotFound(err) {
			return false, synerr.NewDatabaseError("get asset", err)
		}
		if _, err := s.SyncAssetOnChain(ctx, key, SyncOptions{SyncOwnership: true}); err != nil {
			return false, err
		}
		asset, contract, err = s.lookupAsset(ctx, key)
		if err != nil {
			return false, synerr.NewDatabaseError("get asset after sync", err)
		}
	}

	return s.transferOwnership(ctx, asset, contract, p.FromAddress, p.ToAddress, types.ClassDefault)
}

func (s *Service) transferOwnership(ctx context.Context, asset *models.Asset, contract *models.Contract, from, to string, class types.TrafficClass) (bool, error) {
	from, to = types.NormalizeAddress(from), types.NormalizeAddress(to)
	switch contract.ContractType {
	case types.ContractERC721:
		return s.transfer721(ctx, asset, contract, to)
	case types.ContractERC1155:
		return s.transfer1155(ctx, asset, contract, from, to, class)
	default:
		return false, synerr.New(synerr.KindUnsupported, synerr.CodeUnsupportedSchema,
			fmt.Sprintf("unknown token standard for contract %s", contract.Address))
	}
}

// transfer721 moves the single owner row to the recipient, or removes it on burn, and
// invalidates every fillable listing of the asset
func (s *Service) transfer721(ctx context.Context, asset *models.Asset, contract *models.Contract, to string) (bool, error) {
	log := logging.FromContext(ctx)

	if types.IsZeroAddress(to) {
		if err := s.stores.Ownerships.DeleteAll(ctx, asset.ID); err != nil {
			return false, synerr.NewDatabaseError("delete burned ownership", err)
		}
		log.Debug("Burned token ownership removed")
	} else if err := s.stores.Ownerships.SetSingleOwner(ctx, asset.ID, contract.ID, to); err != nil {
		return false, synerr.NewDatabaseError("set owner", err)
	}

	n, err := s.stores.Orders.InvalidateSellOrders(ctx, asset.ID)
	if err != nil {
		return false, synerr.NewDatabaseError("invalidate sell orders", err)
	}
	if n > 0 {
		log.WithField("orders", n).Info("Invalidated listings after transfer")
	}
	return true, nil
}

// transfer1155 reads both holders' balances and stores them: zero deletes the row,
// a different non-zero balance updates or creates it
func (s *Service) transfer1155(ctx context.Context, asset *models.Asset, contract *models.Contract, from, to string, class types.TrafficClass) (bool, error) {
	var holders []string
	for _, h := range []string{from, to} {
		if types.IsZeroAddress(h) {
			continue
		}
		if len(holders) == 1 && holders[0] == h {
			continue
		}
		holders = append(holders, h)
	}
	if len(holders) == 0 {
		return true, nil
	}

	balances, err := s.chain.BalancesOf(ctx, asset.ChainID, class, contract.Address, asset.TokenID, holders)
	if err != nil {
		return false, synerr.Categorize(err)
	}

	for _, holder := range holders {
		bal, ok := balances[holder]
		if !ok {
			return false, synerr.New(synerr.KindTransient, synerr.CodeRPCExhausted, "missing balance for "+holder)
		}
		if err := s.reconcileBalance(ctx, asset, contract, holder, bal.String()); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Service) reconcileBalance(ctx context.Context, asset *models.Asset, contract *models.Contract, holder, balance string) error {
	existing, err := s.stores.Ownerships.Get(ctx, asset.ID, holder)
	if err != nil && !isNotFound(err) {
		return synerr.NewDatabaseError("get ownership", err)
	}

	switch {
	case existing == nil && balance == "0":
		return nil
	case existing != nil && balance == "0":
		if err := s.stores.Ownerships.Delete(ctx, asset.ID, holder); err != nil {
			return synerr.NewDatabaseError("delete ownership", err)
		}
	case existing != nil && existing.Quantity == balance:
		return nil
	default:
		if err := s.stores.Ownerships.Upsert(ctx, &models.Ownership{
			AssetID:      asset.ID,
			ContractID:   contract.ID,
			OwnerAddress: holder,
			Quantity:     balance,
		}); err != nil {
			return synerr.NewDatabaseError("upsert ownership", err)
		}
	}
	return nil
}
