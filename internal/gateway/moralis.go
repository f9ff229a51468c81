package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nft-syncer/internal/types"
)

const moralisBaseURL = "https://deep-index.moralis.io/api/v2.2"

// MoralisProvider adapts the Moralis NFT API
type MoralisProvider struct {
	http    *restClient
	baseURL string
}

// NewMoralisProvider creates the Moralis adapter
func NewMoralisProvider(cfg Config) *MoralisProvider {
	base := cfg.MoralisBaseURL
	if base == "" {
		base = moralisBaseURL
	}
	return &MoralisProvider{
		http: newRestClient("moralis", cfg.Timeout, cfg.RequestsPerSec, map[string]string{
			"X-API-Key": cfg.MoralisAPIKey,
		}),
		baseURL: strings.TrimRight(base, "/"),
	}
}

// Name implements Provider
func (p *MoralisProvider) Name() string { return string(types.ProviderMoralis) }

type moralisNFT struct {
	TokenAddress       string          `json:"token_address"`
	TokenID            string          `json:"token_id"`
	ContractType       string          `json:"contract_type"`
	OwnerOf            string          `json:"owner_of"`
	Amount             string          `json:"amount"`
	TokenURI           string          `json:"token_uri"`
	Metadata           string          `json:"metadata"`
	Name               string          `json:"name"`
	Symbol             string          `json:"symbol"`
	PossibleSpam       bool            `json:"possible_spam"`
	NormalizedMetadata json.RawMessage `json:"normalized_metadata"`
}

type moralisNormalized struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Image        string          `json:"image"`
	AnimationURL string          `json:"animation_url"`
	ExternalLink string          `json:"external_link"`
	Attributes   json.RawMessage `json:"attributes"`
}

func (n *moralisNFT) canonical() *types.NFT {
	nft := &types.NFT{
		TokenID: n.TokenID,
		Contract: types.NFTContract{
			Address:      types.NormalizeAddress(n.TokenAddress),
			Name:         n.Name,
			Symbol:       n.Symbol,
			ContractType: types.ParseContractType(n.ContractType),
		},
		TokenURI: n.TokenURI,
		Metadata: parseMetadataString(n.Metadata),
		IsSpam:   n.PossibleSpam,
		Source:   string(types.ProviderMoralis),
	}
	if nft.Metadata == nil && len(n.NormalizedMetadata) > 0 {
		var norm moralisNormalized
		if err := json.Unmarshal(n.NormalizedMetadata, &norm); err == nil {
			m := &types.Metadata{
				Name:         norm.Name,
				Description:  norm.Description,
				Image:        norm.Image,
				AnimationURL: norm.AnimationURL,
				ExternalURL:  norm.ExternalLink,
				Attributes:   ParseAttributes(norm.Attributes),
			}
			if !isEmptyMetadata(m) {
				nft.Metadata = m
			}
		}
	}
	if n.OwnerOf != "" {
		nft.Owner = &types.NFTOwner{Address: types.NormalizeAddress(n.OwnerOf), Amount: n.Amount}
	}
	return nft
}

func (p *MoralisProvider) query(chain types.ChainInfo, extra map[string]string) map[string]string {
	q := map[string]string{"chain": chain.MoralisChain, "format": "decimal"}
	for k, v := range extra {
		q[k] = v
	}
	return q
}

// GetNFT implements Provider
func (p *MoralisProvider) GetNFT(ctx context.Context, chain types.ChainInfo, contract, tokenID string) (*types.NFT, error) {
	var resp moralisNFT
	url := fmt.Sprintf("%s/nft/%s/%s", p.baseURL, contract, tokenID)
	if err := p.http.getJSON(ctx, url, p.query(chain, map[string]string{"normalizeMetadata": "true"}), &resp); err != nil {
		return nil, err
	}
	return resp.canonical(), nil
}

type moralisPage struct {
	Cursor string       `json:"cursor"`
	Result []moralisNFT `json:"result"`
}

// GetNFTsByContract implements Provider
func (p *MoralisProvider) GetNFTsByContract(ctx context.Context, chain types.ChainInfo, contract, cursor string, limit int) (*types.NFTPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	q := p.query(chain, map[string]string{"limit": strconv.Itoa(limit), "normalizeMetadata": "true"})
	if cursor != "" {
		q["cursor"] = cursor
	}

	var resp moralisPage
	if err := p.http.getJSON(ctx, fmt.Sprintf("%s/nft/%s", p.baseURL, contract), q, &resp); err != nil {
		return nil, err
	}
	page := &types.NFTPage{Cursor: resp.Cursor, NFTs: make([]*types.NFT, 0, len(resp.Result))}
	for i := range resp.Result {
		page.NFTs = append(page.NFTs, resp.Result[i].canonical())
	}
	return page, nil
}

type moralisStats struct {
	TotalTokens string `json:"total_tokens"`
	Owners      struct {
		Current string `json:"current"`
	} `json:"owners"`
	Transfers struct {
		Total string `json:"total"`
	} `json:"transfers"`
}

// GetCollectionStats implements Provider
func (p *MoralisProvider) GetCollectionStats(ctx context.Context, chain types.ChainInfo, contract string) (*types.CollectionStats, error) {
	var resp moralisStats
	if err := p.http.getJSON(ctx, fmt.Sprintf("%s/nft/%s/stats", p.baseURL, contract), p.query(chain, nil), &resp); err != nil {
		return nil, err
	}
	return &types.CollectionStats{
		TotalTokens:    parseCount(resp.TotalTokens),
		TotalOwners:    parseCount(resp.Owners.Current),
		TotalTransfers: parseCount(resp.Transfers.Total),
	}, nil
}

type moralisOwners struct {
	Cursor string `json:"cursor"`
	Result []struct {
		OwnerOf string `json:"owner_of"`
	} `json:"result"`
}

// maxOwnerPages bounds the pages walked when counting holders of one token
const maxOwnerPages = 10

// GetTotalOwners implements Provider by counting distinct holders across owner pages
func (p *MoralisProvider) GetTotalOwners(ctx context.Context, chain types.ChainInfo, contract, tokenID string) (int64, error) {
	url := fmt.Sprintf("%s/nft/%s/%s/owners", p.baseURL, contract, tokenID)
	seen := make(map[string]struct{})
	cursor := ""
	for page := 0; page < maxOwnerPages; page++ {
		q := p.query(chain, map[string]string{"limit": strconv.Itoa(defaultPageSize)})
		if cursor != "" {
			q["cursor"] = cursor
		}
		var resp moralisOwners
		if err := p.http.getJSON(ctx, url, q, &resp); err != nil {
			return 0, err
		}
		for _, r := range resp.Result {
			seen[types.NormalizeAddress(r.OwnerOf)] = struct{}{}
		}
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}
	return int64(len(seen)), nil
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
