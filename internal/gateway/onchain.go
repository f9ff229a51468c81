package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/types"
)

// ChainReader is the subset of chain reads the on-chain provider needs
type ChainReader interface {
	ResetPublic(chainID types.ChainID)
	ContractType(ctx context.Context, chainID types.ChainID, class types.TrafficClass, contract string) (types.ContractType, error)
	TokenURI(ctx context.Context, chainID types.ChainID, class types.TrafficClass, contractType types.ContractType, contract, tokenID string) (string, error)
	OwnerOf(ctx context.Context, chainID types.ChainID, class types.TrafficClass, contract, tokenID string) (string, error)
	ContractName(ctx context.Context, chainID types.ChainID, contract string) (string, error)
	ContractSymbol(ctx context.Context, chainID types.ChainID, contract string) (string, error)
}

// maxMetadataBytes bounds a metadata document fetched from a token URI
const maxMetadataBytes = 1 << 20

// OnchainProvider reads token URIs from the chain and fetches the metadata document behind them
type OnchainProvider struct {
	reader      ChainReader
	http        *restClient
	ipfsGateway string
	log         *logging.Logger
}

// NewOnchainProvider creates the on-chain provider
func NewOnchainProvider(reader ChainReader, cfg Config) *OnchainProvider {
	gw := cfg.IPFSGateway
	if gw == "" {
		gw = DefaultIPFSGateway
	}
	if !strings.HasSuffix(gw, "/") {
		gw += "/"
	}
	return &OnchainProvider{
		reader:      reader,
		http:        newRestClient("onchain", cfg.Timeout, 0, nil),
		ipfsGateway: gw,
		log:         logging.Component("gateway").WithField("provider", "onchain"),
	}
}

// Name implements Provider
func (p *OnchainProvider) Name() string { return "onchain" }

// GetNFT implements Provider over the public traffic class
func (p *OnchainProvider) GetNFT(ctx context.Context, chain types.ChainInfo, contract, tokenID string) (*types.NFT, error) {
	return p.GetNFTWithClass(ctx, chain, contract, tokenID, types.ClassPublic)
}

// GetNFTWithClass reads the token from the chain using class endpoints. Starting a
// sequence on the public class rewinds its rotation first.
func (p *OnchainProvider) GetNFTWithClass(ctx context.Context, chain types.ChainInfo, contract, tokenID string, class types.TrafficClass) (*types.NFT, error) {
	if class == "" {
		class = types.ClassPublic
	}
	if class == types.ClassPublic {
		p.reader.ResetPublic(chain.ID)
	}
	log := p.log.WithFields(map[string]interface{}{
		"chainId":  chain.ID.String(),
		"contract": contract,
		"tokenId":  tokenID,
	})

	contractType, err := p.reader.ContractType(ctx, chain.ID, class, contract)
	if err != nil {
		log.WithError(err).Debug("ERC-165 lookup failed")
	}

	tokenURI, err := p.reader.TokenURI(ctx, chain.ID, class, contractType, contract, tokenID)
	if err != nil {
		return nil, err
	}

	nft := &types.NFT{
		TokenID: tokenID,
		Contract: types.NFTContract{
			Address:      types.NormalizeAddress(contract),
			ContractType: contractType,
		},
		TokenURI: tokenURI,
		Source:   p.Name(),
	}

	meta, err := p.FetchMetadata(ctx, tokenURI)
	if err != nil {
		return nil, err
	}
	nft.Metadata = meta

	if contractType != types.ContractERC1155 {
		if owner, err := p.reader.OwnerOf(ctx, chain.ID, class, contract, tokenID); err == nil && !types.IsZeroAddress(owner) {
			nft.Owner = &types.NFTOwner{Address: owner, Amount: "1"}
		}
	}
	if name, err := p.reader.ContractName(ctx, chain.ID, contract); err == nil {
		nft.Contract.Name = name
	}
	if symbol, err := p.reader.ContractSymbol(ctx, chain.ID, contract); err == nil {
		nft.Contract.Symbol = symbol
	}
	return nft, nil
}

// GetNFTsByContract is not available without an indexer
func (p *OnchainProvider) GetNFTsByContract(context.Context, types.ChainInfo, string, string, int) (*types.NFTPage, error) {
	return nil, synerr.New(synerr.KindUnsupported, synerr.CodeProviderError, "contract listing is not available on-chain")
}

// GetCollectionStats is not available without an indexer
func (p *OnchainProvider) GetCollectionStats(context.Context, types.ChainInfo, string) (*types.CollectionStats, error) {
	return nil, synerr.New(synerr.KindUnsupported, synerr.CodeProviderError, "collection stats are not available on-chain")
}

// GetTotalOwners is not available without an indexer
func (p *OnchainProvider) GetTotalOwners(context.Context, types.ChainInfo, string, string) (int64, error) {
	return 0, synerr.New(synerr.KindUnsupported, synerr.CodeProviderError, "owner counts are not available on-chain")
}

// ResolveURI rewrites ipfs:// and ar:// URIs to HTTP gateway URLs
func (p *OnchainProvider) ResolveURI(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		path := strings.TrimPrefix(uri, "ipfs://")
		path = strings.TrimPrefix(path, "ipfs/")
		return p.ipfsGateway + path, nil
	case strings.HasPrefix(uri, "ar://"):
		return "https://arweave.net/" + strings.TrimPrefix(uri, "ar://"), nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return uri, nil
	}
	return "", synerr.New(synerr.KindContent, synerr.CodeMetadataMissing,
		fmt.Sprintf("unsupported token URI scheme: %.64s", uri))
}

// FetchMetadata loads and decodes the metadata document a token URI points at.
// data: URIs and inline JSON are decoded without a network call.
func (p *OnchainProvider) FetchMetadata(ctx context.Context, tokenURI string) (*types.Metadata, error) {
	tokenURI = strings.TrimSpace(tokenURI)
	if tokenURI == "" {
		return nil, synerr.New(synerr.KindContent, synerr.CodeMetadataMissing, "empty token URI")
	}
	if strings.HasPrefix(tokenURI, "{") {
		return ParseMetadata([]byte(tokenURI))
	}
	if strings.HasPrefix(tokenURI, "data:") {
		return decodeDataURI(tokenURI)
	}

	target, err := p.ResolveURI(tokenURI)
	if err != nil {
		return nil, err
	}
	body, err := p.http.getLimited(ctx, target, maxMetadataBytes)
	if err != nil {
		return nil, err
	}
	meta, err := ParseMetadata(body)
	if err != nil {
		return nil, synerr.Wrap(synerr.KindContent, synerr.CodeMetadataMissing, "malformed metadata at "+target, err)
	}
	return meta, nil
}

// decodeDataURI handles data:application/json[;base64],... and treats image
// payloads as the token image itself
func decodeDataURI(uri string) (*types.Metadata, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, synerr.New(synerr.KindContent, synerr.CodeMetadataMissing, "malformed data URI")
	}
	mediaType := strings.ToLower(header)
	if strings.HasPrefix(mediaType, "image/") {
		return &types.Metadata{Image: uri}, nil
	}

	var raw []byte
	if strings.HasSuffix(mediaType, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(payload)
		}
		if err != nil {
			return nil, synerr.Wrap(synerr.KindContent, synerr.CodeMetadataMissing, "invalid base64 data URI", err)
		}
		raw = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			unescaped = payload
		}
		raw = []byte(unescaped)
	}

	meta, err := ParseMetadata(raw)
	if err != nil {
		return nil, synerr.Wrap(synerr.KindContent, synerr.CodeMetadataMissing, "malformed inline metadata", err)
	}
	return meta, nil
}
