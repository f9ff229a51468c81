// Package types provides common type definitions for the NFT asset syncer.
package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"
)

// ChainID is the numeric EVM chain identifier
type ChainID int64

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = 1
	// ChainOptimism represents the Optimism network
	ChainOptimism ChainID = 10
	// ChainBNB represents the BNB Chain (BSC)
	ChainBNB ChainID = 56
	// ChainPolygon represents the Polygon network
	ChainPolygon ChainID = 137
	// ChainBase represents the Base network
	ChainBase ChainID = 8453
	// ChainArbitrum represents the Arbitrum network
	ChainArbitrum ChainID = 42161
)

// String returns the decimal chain id
func (c ChainID) String() string {
	return fmt.Sprintf("%d", int64(c))
}

// TrafficClass selects which RPC endpoint list a call is routed through
type TrafficClass string

const (
	// ClassDefault is used for ordinary reads (owner, balance, token uri)
	ClassDefault TrafficClass = "default"
	// ClassPublic is used for deliberate public-endpoint call sequences
	ClassPublic TrafficClass = "public"
	// ClassEvent is used by the event poller (head block, eth_getLogs)
	ClassEvent TrafficClass = "event"
)

// AllTrafficClasses lists every traffic class
var AllTrafficClasses = []TrafficClass{ClassDefault, ClassPublic, ClassEvent}

// ContractType represents the token standard of an NFT contract
type ContractType string

const (
	// ContractUnknown means the schema could not be determined
	ContractUnknown ContractType = ""
	// ContractERC721 represents single-owner non-fungible tokens
	ContractERC721 ContractType = "ERC721"
	// ContractERC1155 represents multi-owner, multi-edition tokens
	ContractERC1155 ContractType = "ERC1155"
)

// ParseContractType normalizes provider spellings ("erc721", "ERC-1155", ...)
func ParseContractType(s string) ContractType {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	switch norm {
	case "ERC721":
		return ContractERC721
	case "ERC1155":
		return ContractERC1155
	default:
		return ContractUnknown
	}
}

// ZeroAddress is the mint/burn counterparty in Transfer events
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// NormalizeAddress lowercases and trims an EVM address
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsZeroAddress reports whether addr is empty or the zero address
func IsZeroAddress(addr string) bool {
	a := NormalizeAddress(addr)
	return a == "" || a == ZeroAddress
}

// AssetKey identifies a token on-chain
type AssetKey struct {
	ChainID         ChainID `json:"chainId"`
	ContractAddress string  `json:"contractAddress"`
	TokenID         string  `json:"tokenId"`
}

// Normalize returns a copy with a lowercased contract address and, when the
// token id is a valid decimal, its canonical form ("007" becomes "7")
func (k AssetKey) Normalize() AssetKey {
	k.ContractAddress = NormalizeAddress(k.ContractAddress)
	k.TokenID = strings.TrimSpace(k.TokenID)
	if id, err := CanonicalTokenID(k.TokenID); err == nil {
		k.TokenID = id
	}
	return k
}

// ErrInvalidTokenID is returned for token ids that are not non-negative decimals
var ErrInvalidTokenID = errors.New("token id must be a non-negative decimal integer")

// CanonicalTokenID parses a decimal uint256 token id and returns it without
// leading zeros or sign
func CanonicalTokenID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw[0] == '+' || raw[0] == '-' {
		return "", ErrInvalidTokenID
	}
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.BitLen() > 256 {
		return "", ErrInvalidTokenID
	}
	return id.String(), nil
}

// TruncateUTF8 cuts s to at most max bytes without splitting a multi-byte character
func TruncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (k AssetKey) String() string {
	return fmt.Sprintf("%d:%s:%s", k.ChainID, k.ContractAddress, k.TokenID)
}

// Attribute is the canonical trait representation used past the provider boundary
type Attribute struct {
	TraitType   string `json:"trait_type"`
	DisplayType string `json:"display_type,omitempty"`
	Value       string `json:"value"`
}

// Metadata is the canonical token metadata
type Metadata struct {
	Name            string      `json:"name,omitempty"`
	Description     string      `json:"description,omitempty"`
	Image           string      `json:"image,omitempty"`
	ImageURL        string      `json:"image_url,omitempty"`
	ImageData       string      `json:"image_data,omitempty"`
	ExternalURL     string      `json:"external_url,omitempty"`
	BackgroundColor string      `json:"background_color,omitempty"`
	AnimationURL    string      `json:"animation_url,omitempty"`
	AnimationType   string      `json:"animation_type,omitempty"`
	Attributes      []Attribute `json:"attributes,omitempty"`
}

// HasImage reports whether any of the known image fields is populated
func (m *Metadata) HasImage() bool {
	if m == nil {
		return false
	}
	return strings.TrimSpace(m.Image) != "" ||
		strings.TrimSpace(m.ImageURL) != "" ||
		strings.TrimSpace(m.ImageData) != ""
}

// PrimaryImage returns the first populated image field
func (m *Metadata) PrimaryImage() string {
	if m == nil {
		return ""
	}
	for _, v := range []string{m.Image, m.ImageURL} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// NFTContract describes the contract an NFT belongs to
type NFTContract struct {
	Address      string       `json:"address"`
	Name         string       `json:"name,omitempty"`
	Symbol       string       `json:"symbol,omitempty"`
	ContractType ContractType `json:"contractType,omitempty"`
}

// NFTOwner is the holder reported by a provider
type NFTOwner struct {
	Address string `json:"address"`
	Amount  string `json:"amount,omitempty"`
}

// NFT is the canonical "fetch NFT by contract+token" result
type NFT struct {
	TokenID  string      `json:"tokenId"`
	Contract NFTContract `json:"contract"`
	Owner    *NFTOwner   `json:"owner,omitempty"`
	TokenURI string      `json:"tokenUri,omitempty"`
	Metadata *Metadata   `json:"metadata,omitempty"`
	IsSpam   bool        `json:"isSpam"`
	Source   string      `json:"source,omitempty"`
}

// NFTPage is one page of a contract-wide listing
type NFTPage struct {
	NFTs   []*NFT `json:"nfts"`
	Cursor string `json:"cursor,omitempty"`
}

// CollectionStats holds provider collection statistics
type CollectionStats struct {
	TotalTokens    int64 `json:"totalTokens"`
	TotalOwners    int64 `json:"totalOwners"`
	TotalTransfers int64 `json:"totalTransfers"`
}

// LogicalTransfer is one (contract, tokenId, from, to) ownership change
type LogicalTransfer struct {
	ChainID         ChainID `json:"chainId"`
	ContractAddress string  `json:"contractAddress"`
	TokenID         string  `json:"tokenId"`
	FromAddress     string  `json:"fromAddress"`
	ToAddress       string  `json:"toAddress"`
	Value           string  `json:"value,omitempty"`
	BlockNumber     uint64  `json:"blockNumber"`
	TxHash          string  `json:"txHash,omitempty"`
	LogIndex        uint    `json:"logIndex"`
}

// SyncRequest is what the poller hands to the reconciliation side
type SyncRequest struct {
	ID              string  `json:"id"`
	ChainID         ChainID `json:"chainId"`
	ContractAddress string  `json:"contractAddress"`
	TokenID         string  `json:"tokenId"`
	FromAddress     string  `json:"fromAddress,omitempty"`
	ToAddress       string  `json:"toAddress,omitempty"`
}

// Key returns the asset key the request targets
func (r SyncRequest) Key() AssetKey {
	return AssetKey{ChainID: r.ChainID, ContractAddress: r.ContractAddress, TokenID: r.TokenID}
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Message
}
