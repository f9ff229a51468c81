package types

import "strings"

// ProviderKind names the third-party NFT API a chain is routed to
type ProviderKind string

const (
	ProviderMoralis ProviderKind = "moralis"
	ProviderAlchemy ProviderKind = "alchemy"
	ProviderNFTScan ProviderKind = "nftscan"
)

// ChainInfo is the static descriptor of a supported chain
type ChainInfo struct {
	ID       ChainID
	Name     string
	Provider ProviderKind
	// PublicRPC is the last-resort endpoint appended to every traffic class
	PublicRPC string
	// AlchemyNetwork is the subdomain prefix used by the Alchemy NFT API
	AlchemyNetwork string
	// MoralisChain is the chain parameter used by the Moralis API
	MoralisChain string
	// NFTScanHost is the chain specific NFTScan API host
	NFTScanHost string
	// EventBlacklist holds ERC-721 contracts whose events are never processed
	EventBlacklist []string
}

var chainRegistry = map[ChainID]ChainInfo{
	ChainEthereum: {
		ID:             ChainEthereum,
		Name:           "ethereum",
		Provider:       ProviderAlchemy,
		PublicRPC:      "https://ethereum-rpc.publicnode.com",
		AlchemyNetwork: "eth-mainnet",
		MoralisChain:   "eth",
		NFTScanHost:    "https://restapi.nftscan.com",
	},
	ChainOptimism: {
		ID:             ChainOptimism,
		Name:           "optimism",
		Provider:       ProviderAlchemy,
		PublicRPC:      "https://mainnet.optimism.io",
		AlchemyNetwork: "opt-mainnet",
		MoralisChain:   "optimism",
		NFTScanHost:    "https://optimismapi.nftscan.com",
	},
	ChainBNB: {
		ID:           ChainBNB,
		Name:         "bnb",
		Provider:     ProviderNFTScan,
		PublicRPC:    "https://bsc-dataseed.bnbchain.org",
		MoralisChain: "bsc",
		NFTScanHost:  "https://bnbapi.nftscan.com",
	},
	ChainPolygon: {
		ID:             ChainPolygon,
		Name:           "polygon",
		Provider:       ProviderMoralis,
		PublicRPC:      "https://polygon-rpc.com",
		AlchemyNetwork: "polygon-mainnet",
		MoralisChain:   "polygon",
		NFTScanHost:    "https://polygonapi.nftscan.com",
		EventBlacklist: []string{
			// high-volume game item contracts
			"0x22d5f9b75c524fec1d6619787e582644cd4d7422",
			"0xa5f1ea7df861952863df2e8d1312f7305dabf215",
		},
	},
	ChainBase: {
		ID:             ChainBase,
		Name:           "base",
		Provider:       ProviderAlchemy,
		PublicRPC:      "https://mainnet.base.org",
		AlchemyNetwork: "base-mainnet",
		MoralisChain:   "base",
		NFTScanHost:    "https://baseapi.nftscan.com",
	},
	ChainArbitrum: {
		ID:             ChainArbitrum,
		Name:           "arbitrum",
		Provider:       ProviderMoralis,
		PublicRPC:      "https://arb1.arbitrum.io/rpc",
		AlchemyNetwork: "arb-mainnet",
		MoralisChain:   "arbitrum",
		NFTScanHost:    "https://arbitrumapi.nftscan.com",
	},
}

// LookupChain returns the descriptor for a chain id
func LookupChain(id ChainID) (ChainInfo, bool) {
	info, ok := chainRegistry[id]
	return info, ok
}

// LookupChainByName resolves a configured chain name ("ethereum", "polygon", ...)
func LookupChainByName(name string) (ChainInfo, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, info := range chainRegistry {
		if info.Name == name {
			return info, true
		}
	}
	return ChainInfo{}, false
}

// SupportedChains returns every registered chain
func SupportedChains() []ChainInfo {
	out := make([]ChainInfo, 0, len(chainRegistry))
	for _, info := range chainRegistry {
		out = append(out, info)
	}
	return out
}

// IsEventBlacklisted reports whether a contract's events are ignored on this chain
func (c ChainInfo) IsEventBlacklisted(contract string) bool {
	contract = NormalizeAddress(contract)
	for _, addr := range c.EventBlacklist {
		if addr == contract {
			return true
		}
	}
	return false
}
