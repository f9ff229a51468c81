package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/types"
)

// alchemyURLTemplate takes the network subdomain and the API key
const alchemyURLTemplate = "https://%s.g.alchemy.com/nft/v3/%s"

// AlchemyProvider adapts the Alchemy NFT API v3
type AlchemyProvider struct {
	http    *restClient
	apiKey  string
	baseURL string
}

// NewAlchemyProvider creates the Alchemy adapter
func NewAlchemyProvider(cfg Config) *AlchemyProvider {
	return &AlchemyProvider{
		http:    newRestClient("alchemy", cfg.Timeout, cfg.RequestsPerSec, nil),
		apiKey:  cfg.AlchemyAPIKey,
		baseURL: strings.TrimRight(cfg.AlchemyBaseURL, "/"),
	}
}

// Name implements Provider
func (p *AlchemyProvider) Name() string { return string(types.ProviderAlchemy) }

func (p *AlchemyProvider) endpoint(chain types.ChainInfo, method string) (string, error) {
	if p.baseURL != "" {
		return p.baseURL + "/" + method, nil
	}
	if chain.AlchemyNetwork == "" {
		return "", synerr.New(synerr.KindUnsupported, synerr.CodeUnsupportedChain,
			fmt.Sprintf("alchemy does not serve chain %s", chain.Name))
	}
	return fmt.Sprintf(alchemyURLTemplate, chain.AlchemyNetwork, p.apiKey) + "/" + method, nil
}

type alchemyNFT struct {
	Contract struct {
		Address   string `json:"address"`
		Name      string `json:"name"`
		Symbol    string `json:"symbol"`
		TokenType string `json:"tokenType"`
		IsSpam    bool   `json:"isSpam"`
	} `json:"contract"`
	TokenID     string `json:"tokenId"`
	TokenType   string `json:"tokenType"`
	Name        string `json:"name"`
	Description string `json:"description"`
	TokenURI    string `json:"tokenUri"`
	Image       struct {
		CachedURL   string `json:"cachedUrl"`
		OriginalURL string `json:"originalUrl"`
	} `json:"image"`
	Animation struct {
		CachedURL   string `json:"cachedUrl"`
		OriginalURL string `json:"originalUrl"`
		ContentType string `json:"contentType"`
	} `json:"animation"`
	Raw struct {
		TokenURI string          `json:"tokenUri"`
		Metadata json.RawMessage `json:"metadata"`
		Error    string          `json:"error"`
	} `json:"raw"`
}

func (n *alchemyNFT) canonical() *types.NFT {
	contractType := types.ParseContractType(n.TokenType)
	if contractType == types.ContractUnknown {
		contractType = types.ParseContractType(n.Contract.TokenType)
	}
	nft := &types.NFT{
		TokenID: n.TokenID,
		Contract: types.NFTContract{
			Address:      types.NormalizeAddress(n.Contract.Address),
			Name:         n.Contract.Name,
			Symbol:       n.Contract.Symbol,
			ContractType: contractType,
		},
		TokenURI: n.TokenURI,
		IsSpam:   n.Contract.IsSpam,
		Source:   string(types.ProviderAlchemy),
	}
	if nft.TokenURI == "" {
		nft.TokenURI = n.Raw.TokenURI
	}

	var meta *types.Metadata
	if len(n.Raw.Metadata) > 0 {
		if m, err := ParseMetadata(n.Raw.Metadata); err == nil && !isEmptyMetadata(m) {
			meta = m
		}
	}
	if meta == nil && (n.Name != "" || n.Image.OriginalURL != "" || n.Image.CachedURL != "") {
		meta = &types.Metadata{Name: n.Name, Description: n.Description}
	}
	if meta != nil {
		if meta.Image == "" {
			meta.Image = firstNonEmpty(n.Image.OriginalURL, n.Image.CachedURL)
		}
		if meta.AnimationURL == "" {
			meta.AnimationURL = firstNonEmpty(n.Animation.OriginalURL, n.Animation.CachedURL)
		}
		if meta.AnimationType == "" {
			meta.AnimationType = n.Animation.ContentType
		}
	}
	nft.Metadata = meta
	return nft
}

// GetNFT implements Provider. ERC-721 owners are looked up separately since the
// metadata endpoint does not return them.
func (p *AlchemyProvider) GetNFT(ctx context.Context, chain types.ChainInfo, contract, tokenID string) (*types.NFT, error) {
	url, err := p.endpoint(chain, "getNFTMetadata")
	if err != nil {
		return nil, err
	}
	var resp alchemyNFT
	if err := p.http.getJSON(ctx, url, map[string]string{
		"contractAddress": contract,
		"tokenId":         tokenID,
		"refreshCache":    "false",
	}, &resp); err != nil {
		return nil, err
	}

	nft := resp.canonical()
	if nft.Contract.ContractType == types.ContractERC721 {
		owners, err := p.owners(ctx, chain, contract, tokenID)
		if err == nil && len(owners) == 1 {
			nft.Owner = &types.NFTOwner{Address: types.NormalizeAddress(owners[0]), Amount: "1"}
		}
	}
	return nft, nil
}

type alchemyPage struct {
	NFTs    []alchemyNFT `json:"nfts"`
	PageKey string       `json:"pageKey"`
}

// GetNFTsByContract implements Provider
func (p *AlchemyProvider) GetNFTsByContract(ctx context.Context, chain types.ChainInfo, contract, cursor string, limit int) (*types.NFTPage, error) {
	url, err := p.endpoint(chain, "getNFTsForContract")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	q := map[string]string{
		"contractAddress": contract,
		"withMetadata":    "true",
		"limit":           strconv.Itoa(limit),
	}
	if cursor != "" {
		q["startToken"] = cursor
	}

	var resp alchemyPage
	if err := p.http.getJSON(ctx, url, q, &resp); err != nil {
		return nil, err
	}
	page := &types.NFTPage{Cursor: resp.PageKey, NFTs: make([]*types.NFT, 0, len(resp.NFTs))}
	for i := range resp.NFTs {
		nft := resp.NFTs[i].canonical()
		if nft.Contract.Address == "" {
			nft.Contract.Address = types.NormalizeAddress(contract)
		}
		page.NFTs = append(page.NFTs, nft)
	}
	return page, nil
}

type alchemyContractMetadata struct {
	TotalSupply string `json:"totalSupply"`
}

type alchemyOwners struct {
	Owners  []json.RawMessage `json:"owners"`
	PageKey string            `json:"pageKey"`
}

// GetCollectionStats implements Provider. Alchemy reports no transfer totals.
func (p *AlchemyProvider) GetCollectionStats(ctx context.Context, chain types.ChainInfo, contract string) (*types.CollectionStats, error) {
	metaURL, err := p.endpoint(chain, "getContractMetadata")
	if err != nil {
		return nil, err
	}
	var meta alchemyContractMetadata
	if err := p.http.getJSON(ctx, metaURL, map[string]string{"contractAddress": contract}, &meta); err != nil {
		return nil, err
	}

	ownersURL, err := p.endpoint(chain, "getOwnersForContract")
	if err != nil {
		return nil, err
	}
	var owners alchemyOwners
	if err := p.http.getJSON(ctx, ownersURL, map[string]string{"contractAddress": contract}, &owners); err != nil {
		return nil, err
	}
	return &types.CollectionStats{
		TotalTokens: parseCount(meta.TotalSupply),
		TotalOwners: int64(len(owners.Owners)),
	}, nil
}

// GetTotalOwners implements Provider
func (p *AlchemyProvider) GetTotalOwners(ctx context.Context, chain types.ChainInfo, contract, tokenID string) (int64, error) {
	owners, err := p.owners(ctx, chain, contract, tokenID)
	if err != nil {
		return 0, err
	}
	return int64(len(owners)), nil
}

func (p *AlchemyProvider) owners(ctx context.Context, chain types.ChainInfo, contract, tokenID string) ([]string, error) {
	url, err := p.endpoint(chain, "getOwnersForNFT")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Owners []string `json:"owners"`
	}
	if err := p.http.getJSON(ctx, url, map[string]string{
		"contractAddress": contract,
		"tokenId":         tokenID,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Owners, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
