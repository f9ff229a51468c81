package reconcile

import (
	"context"
	"strings"

	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/types"
)

// roughEqual treats empty and whitespace-only strings as the same absent value
func roughEqual(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

// normalizeTraits trims every field and drops empty traits so stored and fetched sets compare by value
func normalizeTraits(in []types.Attribute) []types.Attribute {
	out := make([]types.Attribute, 0, len(in))
	for _, a := range in {
		n := types.Attribute{
			TraitType:   strings.TrimSpace(a.TraitType),
			DisplayType: strings.TrimSpace(a.DisplayType),
			Value:       strings.TrimSpace(a.Value),
		}
		if n.TraitType == "" && n.Value == "" {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func traitsEqual(a, b []types.Attribute) bool {
	a, b = normalizeTraits(a), normalizeTraits(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Column limits of the bounded asset fields
const (
	maxBackgroundColor = 32
	maxAnimationType   = 64
)

// assetFields translates an NFT record into the display fields of an asset
func assetFields(key types.AssetKey, contractID int64, nft *types.NFT) *models.Asset {
	a := &models.Asset{
		ChainID:    key.ChainID,
		ContractID: contractID,
		TokenID:    key.TokenID,
		TokenURI:   strings.TrimSpace(nft.TokenURI),
	}
	if m := nft.Metadata; m != nil {
		a.Name = strings.TrimSpace(m.Name)
		a.Description = strings.TrimSpace(m.Description)
		a.ImageURL = m.PrimaryImage()
		a.ImageData = strings.TrimSpace(m.ImageData)
		a.ExternalURL = strings.TrimSpace(m.ExternalURL)
		a.BackgroundColor = types.TruncateUTF8(strings.TrimSpace(m.BackgroundColor), maxBackgroundColor)
		a.AnimationURL = strings.TrimSpace(m.AnimationURL)
		a.AnimationType = types.TruncateUTF8(strings.TrimSpace(m.AnimationType), maxAnimationType)
		a.Traits = normalizeTraits(m.Attributes)
	}
	if a.Name == "" {
		a.Name = "#" + key.TokenID
	}
	return a
}

// applyFields copies fresh display fields onto stored and reports whether anything differed.
// A nil fresh.TotalOwners leaves the stored value alone.
func applyFields(stored, fresh *models.Asset) (changed, traitsChanged bool) {
	fields := []struct {
		dst *string
		src string
	}{
		{&stored.Name, fresh.Name},
		{&stored.Description, fresh.Description},
		{&stored.ImageURL, fresh.ImageURL},
		{&stored.ImageData, fresh.ImageData},
		{&stored.ExternalURL, fresh.ExternalURL},
		{&stored.BackgroundColor, fresh.BackgroundColor},
		{&stored.AnimationURL, fresh.AnimationURL},
		{&stored.AnimationType, fresh.AnimationType},
		{&stored.TokenURI, fresh.TokenURI},
	}
	for _, f := range fields {
		if !roughEqual(*f.dst, f.src) {
			*f.dst = f.src
			changed = true
		}
	}

	if !traitsEqual(stored.Traits, fresh.Traits) {
		stored.Traits = fresh.Traits
		changed = true
		traitsChanged = true
	}

	if fresh.TotalOwners != nil && (stored.TotalOwners == nil || *stored.TotalOwners != *fresh.TotalOwners) {
		v := *fresh.TotalOwners
		stored.TotalOwners = &v
		changed = true
	}
	return changed, traitsChanged
}

// totalOwners resolves the holder count. A failed lookup yields nil so a known value is kept.
func (s *Service) totalOwners(ctx context.Context, key types.AssetKey, contract *models.Contract, nft *types.NFT) *int64 {
	switch contract.ContractType {
	case types.ContractERC721:
		if nft.Owner != nil && !types.IsZeroAddress(nft.Owner.Address) {
			one := int64(1)
			return &one
		}
	case types.ContractERC1155:
		n, err := s.gateway.GetTotalOwners(ctx, key.ChainID, key.ContractAddress, key.TokenID)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Debug("Total owners unavailable")
			return nil
		}
		return &n
	}
	return nil
}

// upsertAsset creates or updates the asset row, ensures its extra row and schedules a
// trait rebuild when the trait table may be stale
func (s *Service) upsertAsset(ctx context.Context, key types.AssetKey, contract *models.Contract, collection *models.Collection, nft *types.NFT) (*models.Asset, error) {
	fresh := assetFields(key, contract.ID, nft)
	fresh.TotalOwners = s.totalOwners(ctx, key, contract, nft)

	var asset *models.Asset
	traitsChanged := false

	stored, err := s.stores.Assets.Get(ctx, key.ChainID, contract.ID, key.TokenID)
	switch {
	case err == nil:
		changed, tc := applyFields(stored, fresh)
		if changed {
			if err := s.stores.Assets.Update(ctx, stored); err != nil {
				return nil, synerr.NewDatabaseError("update asset", err)
			}
		}
		asset, traitsChanged = stored, tc
	case isNotFound(err):
		created, err := s.stores.Assets.Create(ctx, fresh)
		if err != nil {
			return nil, synerr.NewDatabaseError("create asset", err)
		}
		asset, traitsChanged = created, len(created.Traits) > 0
	default:
		return nil, synerr.NewDatabaseError("get asset", err)
	}

	extra := &models.AssetExtra{AssetID: asset.ID, IsSpam: nft.IsSpam}
	if collection != nil {
		id := collection.ID
		extra.CollectionID = &id
	}
	if _, err := s.stores.Assets.EnsureExtra(ctx, extra); err != nil {
		return nil, synerr.NewDatabaseError("ensure asset extra", err)
	}

	s.scheduleTraitRebuild(ctx, asset, traitsChanged)
	return asset, nil
}

// scheduleTraitRebuild replaces the asset's trait rows in the background when the traits
// changed, or when the asset has traits but no rows were ever written
func (s *Service) scheduleTraitRebuild(ctx context.Context, asset *models.Asset, changed bool) {
	if !changed && len(asset.Traits) == 0 {
		return
	}
	snapshot := *asset
	snapshot.Traits = append([]types.Attribute(nil), asset.Traits...)
	log := logging.FromContext(ctx).WithField("assetId", asset.ID)

	rebuild := func(ctx context.Context) {
		if !changed {
			n, err := s.stores.Traits.Count(ctx, snapshot.ID)
			if err != nil {
				log.WithError(err).Warn("Failed to count trait rows")
				return
			}
			if n > 0 {
				return
			}
		}
		if err := s.stores.Traits.Replace(ctx, &snapshot, snapshot.Traits); err != nil {
			log.WithError(err).Warn("Trait rebuild failed")
			return
		}
		log.WithField("traits", len(snapshot.Traits)).Debug("Trait rows rebuilt")
	}

	if s.tasks == nil {
		rebuild(ctx)
		return
	}
	s.tasks.Submit(rebuild)
}
