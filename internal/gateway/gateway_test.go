package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/types"
)

func jsonServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeReader serves fixed chain reads
type fakeReader struct {
	resets       int
	contractType types.ContractType
	tokenURI     string
	owner        string
	uriErr       error
}

func (f *fakeReader) ResetPublic(types.ChainID) { f.resets++ }

func (f *fakeReader) ContractType(context.Context, types.ChainID, types.TrafficClass, string) (types.ContractType, error) {
	return f.contractType, nil
}

func (f *fakeReader) TokenURI(context.Context, types.ChainID, types.TrafficClass, types.ContractType, string, string) (string, error) {
	return f.tokenURI, f.uriErr
}

func (f *fakeReader) OwnerOf(context.Context, types.ChainID, types.TrafficClass, string, string) (string, error) {
	return f.owner, nil
}

func (f *fakeReader) ContractName(context.Context, types.ChainID, string) (string, error) {
	return "Onchain Apes", nil
}

func (f *fakeReader) ContractSymbol(context.Context, types.ChainID, string) (string, error) {
	return "OAPE", nil
}

func TestMoralisProvider_GetNFT(t *testing.T) {
	srv := jsonServer(t, map[string]string{
		"/nft/0xabc/1": `{
			"token_address": "0xABC",
			"token_id": "1",
			"contract_type": "ERC721",
			"owner_of": "0xOWNER",
			"amount": "1",
			"token_uri": "ipfs://Qm/1",
			"metadata": "{\"name\":\"One\",\"image\":\"ipfs://img\",\"attributes\":{\"Hat\":\"Cap\"}}",
			"name": "Apes",
			"symbol": "APE",
			"possible_spam": true
		}`,
	})
	p := NewMoralisProvider(Config{MoralisBaseURL: srv.URL, Timeout: time.Second})
	info, _ := types.LookupChain(types.ChainPolygon)

	nft, err := p.GetNFT(context.Background(), info, "0xabc", "1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", nft.Contract.Address)
	assert.Equal(t, types.ContractERC721, nft.Contract.ContractType)
	assert.Equal(t, "0xowner", nft.Owner.Address)
	assert.True(t, nft.IsSpam)
	require.NotNil(t, nft.Metadata)
	assert.Equal(t, "One", nft.Metadata.Name)
	assert.Equal(t, []types.Attribute{{TraitType: "Hat", Value: "Cap"}}, nft.Metadata.Attributes)
}

func TestMoralisProvider_NotFoundIsHTTPStatusError(t *testing.T) {
	srv := jsonServer(t, nil)
	p := NewMoralisProvider(Config{MoralisBaseURL: srv.URL, Timeout: time.Second})
	info, _ := types.LookupChain(types.ChainPolygon)

	_, err := p.GetNFT(context.Background(), info, "0xabc", "404")
	var hs *synerr.HTTPStatusError
	require.True(t, errors.As(err, &hs))
	assert.Equal(t, http.StatusNotFound, hs.StatusCode)
	assert.Equal(t, synerr.ReasonMetadata404, synerr.ClassifyReason(err))
}

func TestMoralisProvider_TotalOwnersPages(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"cursor":"next","result":[{"owner_of":"0xA"},{"owner_of":"0xB"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"cursor":"","result":[{"owner_of":"0xb"},{"owner_of":"0xC"}]}`))
	}))
	defer srv.Close()

	p := NewMoralisProvider(Config{MoralisBaseURL: srv.URL, Timeout: time.Second})
	info, _ := types.LookupChain(types.ChainPolygon)
	n, err := p.GetTotalOwners(context.Background(), info, "0xabc", "7")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 2, calls)
}

func TestAlchemyProvider_GetNFT(t *testing.T) {
	srv := jsonServer(t, map[string]string{
		"/getNFTMetadata": `{
			"contract": {"address": "0xABC", "name": "Apes", "symbol": "APE", "tokenType": "ERC721"},
			"tokenId": "1",
			"tokenType": "ERC721",
			"name": "One",
			"image": {"originalUrl": "https://img/1.png"},
			"raw": {"tokenUri": "ipfs://Qm/1", "metadata": {"name": "One", "attributes": [{"trait_type": "Hat", "value": "Cap"}]}}
		}`,
		"/getOwnersForNFT": `{"owners": ["0xOWNER"]}`,
	})
	p := NewAlchemyProvider(Config{AlchemyBaseURL: srv.URL, Timeout: time.Second})
	info, _ := types.LookupChain(types.ChainEthereum)

	nft, err := p.GetNFT(context.Background(), info, "0xabc", "1")
	require.NoError(t, err)
	assert.Equal(t, "ipfs://Qm/1", nft.TokenURI)
	require.NotNil(t, nft.Metadata)
	assert.Equal(t, "https://img/1.png", nft.Metadata.Image)
	assert.Len(t, nft.Metadata.Attributes, 1)
	require.NotNil(t, nft.Owner)
	assert.Equal(t, "0xowner", nft.Owner.Address)
}

func TestAlchemyProvider_UnsupportedNetwork(t *testing.T) {
	p := NewAlchemyProvider(Config{AlchemyAPIKey: "k"})
	info, _ := types.LookupChain(types.ChainBNB)

	_, err := p.GetNFT(context.Background(), info, "0xabc", "1")
	assert.Equal(t, synerr.KindUnsupported, synerr.KindOf(err))
}

func TestNFTScanProvider_GetNFTAndEnvelopeErrors(t *testing.T) {
	srv := jsonServer(t, map[string]string{
		"/api/v2/assets/0xabc/1": `{"code":200,"msg":null,"data":{
			"contract_address":"0xABC","contract_name":"Apes","token_id":"1","erc_type":"erc1155",
			"owner":"0xOwner","amount":"3","token_uri":"https://meta/1","metadata_json":"",
			"name":"One","image_uri":"https://img/1.png",
			"attributes":[{"attribute_name":"Hat","attribute_value":"Cap"}]}}`,
		"/api/v2/assets/0xabc/2": `{"code":404,"msg":"Asset not found","data":null}`,
	})
	p := NewNFTScanProvider(Config{NFTScanBaseURL: srv.URL, Timeout: time.Second})
	info, _ := types.LookupChain(types.ChainBNB)

	nft, err := p.GetNFT(context.Background(), info, "0xabc", "1")
	require.NoError(t, err)
	assert.Equal(t, types.ContractERC1155, nft.Contract.ContractType)
	assert.Equal(t, "3", nft.Owner.Amount)
	require.NotNil(t, nft.Metadata)
	assert.Equal(t, "https://img/1.png", nft.Metadata.Image)
	assert.Equal(t, []types.Attribute{{TraitType: "Hat", Value: "Cap"}}, nft.Metadata.Attributes)

	_, err = p.GetNFT(context.Background(), info, "0xabc", "2")
	assert.Equal(t, synerr.ReasonMetadata404, synerr.ClassifyReason(err))
}

func TestOnchainProvider_FetchesAndResolvesIPFS(t *testing.T) {
	srv := jsonServer(t, map[string]string{
		"/ipfs/QmMeta/5": `{"name":"Five","image":"ipfs://QmImg/5.png","attributes":[{"trait_type":"Hat","value":"Cap"}]}`,
	})
	reader := &fakeReader{contractType: types.ContractERC721, tokenURI: "ipfs://QmMeta/5", owner: "0xabc"}
	p := NewOnchainProvider(reader, Config{IPFSGateway: srv.URL + "/ipfs", Timeout: time.Second})
	info, _ := types.LookupChain(types.ChainEthereum)

	nft, err := p.GetNFT(context.Background(), info, "0xC0N", "5")
	require.NoError(t, err)
	assert.Equal(t, 1, reader.resets)
	assert.Equal(t, "Five", nft.Metadata.Name)
	assert.Equal(t, "0xabc", nft.Owner.Address)
	assert.Equal(t, "Onchain Apes", nft.Contract.Name)
	assert.Equal(t, "0xc0n", nft.Contract.Address)

	_, err = p.GetNFTWithClass(context.Background(), info, "0xc0n", "5", types.ClassDefault)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.resets)
}

func TestOnchainProvider_MissingMetadataIs404(t *testing.T) {
	srv := jsonServer(t, nil)
	reader := &fakeReader{contractType: types.ContractERC721, tokenURI: srv.URL + "/meta/1"}
	p := NewOnchainProvider(reader, Config{Timeout: time.Second})
	info, _ := types.LookupChain(types.ChainEthereum)

	_, err := p.GetNFT(context.Background(), info, "0xc0n", "1")
	require.Error(t, err)
	assert.Equal(t, synerr.ReasonMetadata404, synerr.ClassifyReason(err))
}

func TestOnchainProvider_OversizedMetadataRejected(t *testing.T) {
	padding := strings.Repeat(" ", maxMetadataBytes)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/declared" {
			w.Header().Set("Content-Length", strconv.Itoa(len(padding)+2))
		}
		_, _ = w.Write([]byte("{" + padding + "}"))
	}))
	t.Cleanup(srv.Close)
	p := NewOnchainProvider(&fakeReader{}, Config{Timeout: 5 * time.Second})

	for _, path := range []string{"/declared", "/streamed"} {
		_, err := p.FetchMetadata(context.Background(), srv.URL+path)
		require.Error(t, err, path)
		assert.Equal(t, synerr.KindContent, synerr.KindOf(err), path)
		assert.Contains(t, err.Error(), "exceeds", path)
	}

	small := jsonServer(t, map[string]string{"/meta/1": `{"name":"Small"}`})
	meta, err := p.FetchMetadata(context.Background(), small.URL+"/meta/1")
	require.NoError(t, err)
	assert.Equal(t, "Small", meta.Name)
}

func TestOnchainProvider_DataURIs(t *testing.T) {
	p := NewOnchainProvider(&fakeReader{}, Config{})
	ctx := context.Background()

	encoded := base64.StdEncoding.EncodeToString([]byte(`{"name":"B64","image":"data:image/svg+xml;base64,AAAA"}`))
	meta, err := p.FetchMetadata(ctx, "data:application/json;base64,"+encoded)
	require.NoError(t, err)
	assert.Equal(t, "B64", meta.Name)
	assert.True(t, meta.HasImage())

	meta, err = p.FetchMetadata(ctx, `data:application/json;utf8,{"name":"Plain%20Text"}`)
	require.NoError(t, err)
	assert.Equal(t, "Plain Text", meta.Name)

	meta, err = p.FetchMetadata(ctx, `{"name":"Inline"}`)
	require.NoError(t, err)
	assert.Equal(t, "Inline", meta.Name)

	meta, err = p.FetchMetadata(ctx, "data:image/png;base64,iVBOR")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(meta.Image, "data:image/png"))

	_, err = p.FetchMetadata(ctx, "data:application/json;base64,!!!")
	assert.Equal(t, synerr.KindContent, synerr.KindOf(err))

	_, err = p.FetchMetadata(ctx, "")
	assert.Equal(t, synerr.ReasonMetadata404, synerr.ClassifyReason(err))
}

func TestOnchainProvider_ResolveURI(t *testing.T) {
	p := NewOnchainProvider(&fakeReader{}, Config{IPFSGateway: "https://gw.example/ipfs"})

	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "ipfs://QmA/1.json", want: "https://gw.example/ipfs/QmA/1.json"},
		{in: "ipfs://ipfs/QmA/1.json", want: "https://gw.example/ipfs/QmA/1.json"},
		{in: "ar://tx123", want: "https://arweave.net/tx123"},
		{in: " https://meta.example/1 ", want: "https://meta.example/1"},
		{in: "ftp://meta.example/1", wantErr: true},
	}
	for _, tt := range tests {
		got, err := p.ResolveURI(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

type stubProvider struct {
	name  string
	nft   *types.NFT
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) GetNFT(context.Context, types.ChainInfo, string, string) (*types.NFT, error) {
	s.calls++
	return s.nft, s.err
}
func (s *stubProvider) GetNFTsByContract(context.Context, types.ChainInfo, string, string, int) (*types.NFTPage, error) {
	return &types.NFTPage{NFTs: []*types.NFT{s.nft}}, s.err
}
func (s *stubProvider) GetCollectionStats(context.Context, types.ChainInfo, string) (*types.CollectionStats, error) {
	return &types.CollectionStats{TotalOwners: 2}, s.err
}
func (s *stubProvider) GetTotalOwners(context.Context, types.ChainInfo, string, string) (int64, error) {
	return 4, s.err
}

func TestGateway_StaticRouting(t *testing.T) {
	moralis := &stubProvider{name: "moralis", nft: &types.NFT{TokenID: "m"}}
	alchemy := &stubProvider{name: "alchemy", err: &synerr.HTTPStatusError{StatusCode: 503, URL: "x"}}
	onchain := NewOnchainProvider(&fakeReader{}, Config{})
	g := NewWithProviders(map[types.ProviderKind]Provider{
		types.ProviderMoralis: moralis,
		types.ProviderAlchemy: alchemy,
	}, onchain)
	ctx := context.Background()

	nft, err := g.GetNFT(ctx, types.ChainPolygon, "0xabc", "1")
	require.NoError(t, err)
	assert.Equal(t, "m", nft.TokenID)

	_, err = g.GetNFT(ctx, types.ChainEthereum, "0xabc", "1")
	assert.Equal(t, synerr.KindTransient, synerr.KindOf(err))

	// no NFTScan key configured, BNB is served on-chain
	assert.Equal(t, "onchain", g.ProviderFor(types.ChainBNB))

	_, err = g.GetNFT(ctx, types.ChainID(999), "0xabc", "1")
	assert.Equal(t, synerr.KindUnsupported, synerr.KindOf(err))

	n, err := g.GetTotalOwners(ctx, types.ChainArbitrum, "0xabc", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestGateway_CircuitOpensOnTransientFailures(t *testing.T) {
	moralis := &stubProvider{name: "moralis", err: &synerr.HTTPStatusError{StatusCode: 502, URL: "x"}}
	g := NewWithProviders(map[types.ProviderKind]Provider{types.ProviderMoralis: moralis}, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := g.GetNFT(ctx, types.ChainPolygon, "0xabc", "1")
		require.Error(t, err)
	}
	require.Equal(t, 10, moralis.calls)

	_, err := g.GetNFT(ctx, types.ChainPolygon, "0xabc", "1")
	assert.Equal(t, synerr.KindTransient, synerr.KindOf(err))
	assert.Equal(t, 10, moralis.calls, "open circuit must not reach the provider")
	assert.Equal(t, "open", string(g.BreakerStats()["moralis"].State))
}

func TestGateway_NotFoundDoesNotTripCircuit(t *testing.T) {
	moralis := &stubProvider{name: "moralis", err: &synerr.HTTPStatusError{StatusCode: 404, URL: "x"}}
	g := NewWithProviders(map[types.ProviderKind]Provider{types.ProviderMoralis: moralis}, nil)

	for i := 0; i < 25; i++ {
		_, _ = g.GetNFT(context.Background(), types.ChainPolygon, "0xabc", "1")
	}
	assert.Equal(t, 25, moralis.calls)
	assert.Equal(t, "closed", string(g.BreakerStats()["moralis"].State))
}
