package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/storage"
	"github.com/nft-syncer/internal/types"
)

// memDB implements every store interface over maps
type memDB struct {
	mu sync.Mutex

	nextID      int64
	contracts   map[string]*models.Contract
	collections map[int64]*models.Collection
	assets      map[string]*models.Asset
	extras      map[int64]*models.AssetExtra
	owners      map[int64]map[string]*models.Ownership
	traits      map[int64][]types.Attribute
	orders      []*models.Order

	assetUpdates int
	traitReplace int
	ownerUpdates int
}

func newMemDB() *memDB {
	return &memDB{
		contracts:   make(map[string]*models.Contract),
		collections: make(map[int64]*models.Collection),
		assets:      make(map[string]*models.Asset),
		extras:      make(map[int64]*models.AssetExtra),
		owners:      make(map[int64]map[string]*models.Ownership),
		traits:      make(map[int64][]types.Attribute),
	}
}

func (m *memDB) id() int64 {
	m.nextID++
	return m.nextID
}

func assetMapKey(chainID types.ChainID, contractID int64, tokenID string) string {
	return fmt.Sprintf("%d/%d/%s", chainID, contractID, tokenID)
}

func cloneAsset(a *models.Asset) *models.Asset {
	cp := *a
	cp.Traits = append([]types.Attribute(nil), a.Traits...)
	if a.TotalOwners != nil {
		v := *a.TotalOwners
		cp.TotalOwners = &v
	}
	return &cp
}

func (m *memDB) Get(_ context.Context, chainID types.ChainID, contractID int64, tokenID string) (*models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[assetMapKey(chainID, contractID, tokenID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAsset(a), nil
}

func (m *memDB) Create(_ context.Context, a *models.Asset) (*models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := assetMapKey(a.ChainID, a.ContractID, a.TokenID)
	if existing, ok := m.assets[k]; ok {
		return cloneAsset(existing), nil
	}
	stored := cloneAsset(a)
	stored.ID = m.id()
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	m.assets[k] = stored
	return cloneAsset(stored), nil
}

func (m *memDB) Update(_ context.Context, a *models.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := assetMapKey(a.ChainID, a.ContractID, a.TokenID)
	if _, ok := m.assets[k]; !ok {
		return storage.ErrNotFound
	}
	stored := cloneAsset(a)
	stored.UpdatedAt = time.Now()
	m.assets[k] = stored
	m.assetUpdates++
	return nil
}

func (m *memDB) EnsureExtra(_ context.Context, extra *models.AssetExtra) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.extras[extra.AssetID]; ok {
		return false, nil
	}
	cp := *extra
	m.extras[extra.AssetID] = &cp
	return true, nil
}

func (m *memDB) GetContract(_ context.Context, chainID types.ChainID, address string) (*models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[fmt.Sprintf("%d/%s", chainID, types.NormalizeAddress(address))]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memDB) UpsertContract(_ context.Context, c *models.Contract) (*models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := fmt.Sprintf("%d/%s", c.ChainID, types.NormalizeAddress(c.Address))
	existing, ok := m.contracts[k]
	if !ok {
		existing = &models.Contract{ID: m.id(), ChainID: c.ChainID, Address: types.NormalizeAddress(c.Address)}
		m.contracts[k] = existing
	}
	if existing.Name == "" {
		existing.Name = c.Name
	}
	if existing.Symbol == "" {
		existing.Symbol = c.Symbol
	}
	if c.ContractType != types.ContractUnknown {
		existing.ContractType = c.ContractType
	}
	cp := *existing
	return &cp, nil
}

func (m *memDB) EnsureCollection(_ context.Context, contract *models.Contract) (*models.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[contract.ID]
	if !ok {
		c = &models.Collection{ID: m.id(), ChainID: contract.ChainID, ContractID: contract.ID, Name: contract.Name}
		m.collections[contract.ID] = c
	}
	cp := *c
	return &cp, nil
}

func (m *memDB) UpdateCollectionOwner(_ context.Context, collectionID int64, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.collections {
		if c.ID == collectionID {
			if c.OwnerAddress == owner {
				return false, nil
			}
			c.OwnerAddress = owner
			return true, nil
		}
	}
	return false, nil
}

// memOwnerships is the OwnershipStore view of memDB; Get collides with the asset store
type memOwnerships struct{ db *memDB }

func (o memOwnerships) SetSingleOwner(_ context.Context, assetID, contractID int64, owner string) error {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	o.db.owners[assetID] = map[string]*models.Ownership{
		owner: {ID: o.db.id(), AssetID: assetID, ContractID: contractID, OwnerAddress: owner, Quantity: "1"},
	}
	o.db.ownerUpdates++
	return nil
}

func (o memOwnerships) DeleteAll(_ context.Context, assetID int64) error {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	delete(o.db.owners, assetID)
	return nil
}

func (o memOwnerships) Get(_ context.Context, assetID int64, owner string) (*models.Ownership, error) {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	row, ok := o.db.owners[assetID][owner]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (o memOwnerships) Upsert(_ context.Context, row *models.Ownership) error {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	if o.db.owners[row.AssetID] == nil {
		o.db.owners[row.AssetID] = make(map[string]*models.Ownership)
	}
	cp := *row
	o.db.owners[row.AssetID][row.OwnerAddress] = &cp
	o.db.ownerUpdates++
	return nil
}

func (o memOwnerships) Delete(_ context.Context, assetID int64, owner string) error {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	delete(o.db.owners[assetID], owner)
	return nil
}

// memTraits is the TraitStore view of memDB
type memTraits struct{ db *memDB }

func (t memTraits) Count(_ context.Context, assetID int64) (int, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	return len(t.db.traits[assetID]), nil
}

func (t memTraits) Replace(_ context.Context, asset *models.Asset, traits []types.Attribute) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.traits[asset.ID] = append([]types.Attribute(nil), traits...)
	t.db.traitReplace++
	return nil
}

func (m *memDB) InvalidateSellOrders(_ context.Context, assetID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.orders {
		if o.AssetID == assetID && o.Side == models.OrderSideSell && o.IsFillable {
			o.IsFillable = false
			n++
		}
	}
	return n, nil
}

func (m *memDB) ownersOf(assetID int64) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for addr, row := range m.owners[assetID] {
		out[addr] = row.Quantity
	}
	return out
}

func (m *memDB) stores() Stores {
	return Stores{
		Assets:     m,
		Contracts:  m,
		Ownerships: memOwnerships{m},
		Traits:     memTraits{m},
		Orders:     m,
	}
}

// fakeGateway serves canned NFTs per token id
type fakeGateway struct {
	mu          sync.Mutex
	provider    string
	nfts        map[string]*types.NFT
	err         error
	onchain     map[string]*types.NFT
	onchainErr  error
	owners      int64
	ownersErr   error
	calls       int
	onchainHits int
	panicOnGet  bool
}

func (g *fakeGateway) GetNFT(_ context.Context, _ types.ChainID, _ string, tokenID string) (*types.NFT, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.panicOnGet {
		panic("provider exploded")
	}
	if g.err != nil {
		return nil, g.err
	}
	nft, ok := g.nfts[tokenID]
	if !ok {
		return &types.NFT{TokenID: tokenID}, nil
	}
	cp := *nft
	return &cp, nil
}

func (g *fakeGateway) GetNFTOnchain(_ context.Context, _ types.ChainID, _ string, tokenID string, _ types.TrafficClass) (*types.NFT, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onchainHits++
	if g.onchainErr != nil {
		return nil, g.onchainErr
	}
	nft, ok := g.onchain[tokenID]
	if !ok {
		return nil, fmt.Errorf("execution reverted")
	}
	cp := *nft
	return &cp, nil
}

func (g *fakeGateway) GetTotalOwners(context.Context, types.ChainID, string, string) (int64, error) {
	return g.owners, g.ownersErr
}

func (g *fakeGateway) ProviderFor(types.ChainID) string {
	if g.provider == "" {
		return "alchemy"
	}
	return g.provider
}

// fakeChain serves ERC-1155 balances and contract reads
type fakeChain struct {
	mu           sync.Mutex
	balances     map[string]*big.Int
	balanceReads [][]string
	contractType types.ContractType
	owner        string
}

func (c *fakeChain) BalancesOf(_ context.Context, _ types.ChainID, _ types.TrafficClass, _ string, _ string, holders []string) (map[string]*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceReads = append(c.balanceReads, append([]string(nil), holders...))
	out := make(map[string]*big.Int, len(holders))
	for _, h := range holders {
		if b, ok := c.balances[h]; ok {
			out[h] = new(big.Int).Set(b)
		} else {
			out[h] = big.NewInt(0)
		}
	}
	return out, nil
}

func (c *fakeChain) ContractType(context.Context, types.ChainID, types.TrafficClass, string) (types.ContractType, error) {
	return c.contractType, nil
}

func (c *fakeChain) ContractOwner(context.Context, types.ChainID, string) (string, error) {
	if c.owner == "" {
		return "", fmt.Errorf("execution reverted")
	}
	return c.owner, nil
}

type recordedFailure struct {
	key    types.AssetKey
	reason error
}

// fakeTracker answers gates from flags and records failures
type fakeTracker struct {
	mu        sync.Mutex
	suspended bool
	skip      bool
	failures  []recordedFailure
}

func (t *fakeTracker) ShouldSkip(context.Context, types.ChainID, string, string) bool { return t.skip }

func (t *fakeTracker) IsCollectionSuspended(context.Context, types.ChainID, string) bool {
	return t.suspended
}

func (t *fakeTracker) RecordFailure(_ context.Context, chainID types.ChainID, contract, tokenID string, cause error, _ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, recordedFailure{
		key:    types.AssetKey{ChainID: chainID, ContractAddress: contract, TokenID: tokenID},
		reason: cause,
	})
}
