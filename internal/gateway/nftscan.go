package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/types"
)

// NFTScanProvider adapts the NFTScan API v2
type NFTScanProvider struct {
	http    *restClient
	baseURL string
}

// NewNFTScanProvider creates the NFTScan adapter
func NewNFTScanProvider(cfg Config) *NFTScanProvider {
	return &NFTScanProvider{
		http: newRestClient("nftscan", cfg.Timeout, cfg.RequestsPerSec, map[string]string{
			"X-API-KEY": cfg.NFTScanAPIKey,
		}),
		baseURL: strings.TrimRight(cfg.NFTScanBaseURL, "/"),
	}
}

// Name implements Provider
func (p *NFTScanProvider) Name() string { return string(types.ProviderNFTScan) }

func (p *NFTScanProvider) url(chain types.ChainInfo, path string) (string, error) {
	base := p.baseURL
	if base == "" {
		if chain.NFTScanHost == "" {
			return "", synerr.New(synerr.KindUnsupported, synerr.CodeUnsupportedChain,
				fmt.Sprintf("nftscan does not serve chain %s", chain.Name))
		}
		base = strings.TrimRight(chain.NFTScanHost, "/")
	}
	return base + "/api/v2" + path, nil
}

// nftscanEnvelope wraps every NFTScan response; failures come back as HTTP 200 with code != 200
type nftscanEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (p *NFTScanProvider) call(ctx context.Context, url string, query map[string]string, out interface{}) error {
	var env nftscanEnvelope
	if err := p.http.getJSON(ctx, url, query, &env); err != nil {
		return err
	}
	if env.Code != http.StatusOK {
		return &synerr.HTTPStatusError{StatusCode: env.Code, URL: url, Body: env.Msg}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &synerr.HTTPStatusError{StatusCode: http.StatusNotFound, URL: url, Body: "empty data"}
	}
	return json.Unmarshal(env.Data, out)
}

type nftscanAttribute struct {
	AttributeName  string `json:"attribute_name"`
	AttributeValue string `json:"attribute_value"`
}

type nftscanAsset struct {
	ContractAddress string             `json:"contract_address"`
	ContractName    string             `json:"contract_name"`
	TokenID         string             `json:"token_id"`
	ErcType         string             `json:"erc_type"`
	Owner           string             `json:"owner"`
	Amount          string             `json:"amount"`
	TokenURI        string             `json:"token_uri"`
	MetadataJSON    string             `json:"metadata_json"`
	Name            string             `json:"name"`
	ImageURI        string             `json:"image_uri"`
	ContentURI      string             `json:"content_uri"`
	ContentType     string             `json:"content_type"`
	ExternalLink    string             `json:"external_link"`
	Attributes      []nftscanAttribute `json:"attributes"`
}

func (a *nftscanAsset) canonical() *types.NFT {
	nft := &types.NFT{
		TokenID: a.TokenID,
		Contract: types.NFTContract{
			Address:      types.NormalizeAddress(a.ContractAddress),
			Name:         a.ContractName,
			ContractType: types.ParseContractType(a.ErcType),
		},
		TokenURI: a.TokenURI,
		Metadata: parseMetadataString(a.MetadataJSON),
		Source:   string(types.ProviderNFTScan),
	}
	if nft.Metadata == nil && (a.Name != "" || a.ImageURI != "") {
		nft.Metadata = &types.Metadata{
			Name:        a.Name,
			Image:       a.ImageURI,
			ExternalURL: a.ExternalLink,
		}
		for _, attr := range a.Attributes {
			nft.Metadata.Attributes = append(nft.Metadata.Attributes, types.Attribute{
				TraitType: attr.AttributeName,
				Value:     attr.AttributeValue,
			})
		}
	}
	if nft.Metadata != nil && nft.Metadata.Image == "" && a.ImageURI != "" {
		nft.Metadata.Image = a.ImageURI
	}
	if a.Owner != "" {
		nft.Owner = &types.NFTOwner{Address: types.NormalizeAddress(a.Owner), Amount: a.Amount}
	}
	return nft
}

// GetNFT implements Provider
func (p *NFTScanProvider) GetNFT(ctx context.Context, chain types.ChainInfo, contract, tokenID string) (*types.NFT, error) {
	url, err := p.url(chain, fmt.Sprintf("/assets/%s/%s", contract, tokenID))
	if err != nil {
		return nil, err
	}
	var asset nftscanAsset
	if err := p.call(ctx, url, map[string]string{"show_attribute": "true"}, &asset); err != nil {
		return nil, err
	}
	return asset.canonical(), nil
}

// GetNFTsByContract implements Provider
func (p *NFTScanProvider) GetNFTsByContract(ctx context.Context, chain types.ChainInfo, contract, cursor string, limit int) (*types.NFTPage, error) {
	url, err := p.url(chain, "/assets/"+contract)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	q := map[string]string{"show_attribute": "true", "limit": strconv.Itoa(limit)}
	if cursor != "" {
		q["cursor"] = cursor
	}

	var data struct {
		Next    string         `json:"next"`
		Content []nftscanAsset `json:"content"`
	}
	if err := p.call(ctx, url, q, &data); err != nil {
		return nil, err
	}
	page := &types.NFTPage{Cursor: data.Next, NFTs: make([]*types.NFT, 0, len(data.Content))}
	for i := range data.Content {
		page.NFTs = append(page.NFTs, data.Content[i].canonical())
	}
	return page, nil
}

// GetCollectionStats implements Provider
func (p *NFTScanProvider) GetCollectionStats(ctx context.Context, chain types.ChainInfo, contract string) (*types.CollectionStats, error) {
	url, err := p.url(chain, "/statistics/collection/"+contract)
	if err != nil {
		return nil, err
	}
	var data struct {
		ItemsTotal  int64 `json:"items_total"`
		OwnersTotal int64 `json:"owners_total"`
		SalesTotal  int64 `json:"sales_total"`
	}
	if err := p.call(ctx, url, nil, &data); err != nil {
		return nil, err
	}
	return &types.CollectionStats{
		TotalTokens:    data.ItemsTotal,
		TotalOwners:    data.OwnersTotal,
		TotalTransfers: data.SalesTotal,
	}, nil
}

// GetTotalOwners implements Provider
func (p *NFTScanProvider) GetTotalOwners(ctx context.Context, chain types.ChainInfo, contract, tokenID string) (int64, error) {
	url, err := p.url(chain, fmt.Sprintf("/assets/%s/%s/owners", contract, tokenID))
	if err != nil {
		return 0, err
	}
	var data struct {
		Total int64 `json:"total"`
	}
	if err := p.call(ctx, url, nil, &data); err != nil {
		return 0, err
	}
	return data.Total, nil
}
