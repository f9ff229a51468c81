package reconcile

import (
	"fmt"

	"github.com/nft-syncer/internal/types"
)

// RefreshBlacklist is a static deny-list of chain+contract pairs that are never synced.
// It is separate from the failure tracker's dynamic blacklist.
type RefreshBlacklist map[string]struct{}

func blacklistKey(chainID types.ChainID, contract string) string {
	return fmt.Sprintf("%d:%s", chainID, types.NormalizeAddress(contract))
}

// NewRefreshBlacklist builds a deny-list from explicit pairs
func NewRefreshBlacklist(entries map[types.ChainID][]string) RefreshBlacklist {
	b := make(RefreshBlacklist)
	for chainID, contracts := range entries {
		for _, c := range contracts {
			b[blacklistKey(chainID, c)] = struct{}{}
		}
	}
	return b
}

// DefaultRefreshBlacklist holds contracts whose metadata is generated per request and
// cannot be synced meaningfully: ENS names and Uniswap V3 positions.
func DefaultRefreshBlacklist() RefreshBlacklist {
	const uniswapV3Positions = "0xc36442b4a4522e871399cd717abdd847ab11fe88"
	return NewRefreshBlacklist(map[types.ChainID][]string{
		types.ChainEthereum: {
			"0x57f1887a8bf19b14fc0df6fd9b2acc9af147ea85", // ENS base registrar
			"0xd4416b13d2b3a9abae7acd5d6c2bbdbe25686401", // ENS name wrapper
			uniswapV3Positions,
		},
		types.ChainPolygon:  {uniswapV3Positions},
		types.ChainArbitrum: {uniswapV3Positions},
		types.ChainOptimism: {uniswapV3Positions},
	})
}

// Contains reports whether the pair is denied
func (b RefreshBlacklist) Contains(chainID types.ChainID, contract string) bool {
	_, ok := b[blacklistKey(chainID, contract)]
	return ok
}
