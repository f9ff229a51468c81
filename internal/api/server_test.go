package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nft-syncer/internal/circuitbreaker"
	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/failure"
	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/reconcile"
	"github.com/nft-syncer/internal/types"
)

const (
	testContract = "0x00000000000000000000000000000000000000C1"
	testFrom     = "0x00000000000000000000000000000000000000a1"
	testTo       = "0x00000000000000000000000000000000000000b2"
)

type mockSync struct {
	syncKey  types.AssetKey
	syncOpts reconcile.SyncOptions
	syncErr  error
	transfer reconcile.TransferParams
	xferErr  error
	calls    int
}

func (m *mockSync) SyncAssetOnChain(_ context.Context, key types.AssetKey, opts reconcile.SyncOptions) (*models.Asset, error) {
	m.calls++
	m.syncKey, m.syncOpts = key, opts
	if m.syncErr != nil {
		return nil, m.syncErr
	}
	return &models.Asset{ID: 7, ChainID: key.ChainID, TokenID: key.TokenID, Name: "Seven"}, nil
}

func (m *mockSync) TransferAssetOwnershipOnchain(_ context.Context, p reconcile.TransferParams) (bool, error) {
	m.calls++
	m.transfer = p
	if m.xferErr != nil {
		return false, m.xferErr
	}
	return true, nil
}

type mockCheckpoints struct {
	rows []*models.Checkpoint
	err  error
}

func (m *mockCheckpoints) List(context.Context) ([]*models.Checkpoint, error) { return m.rows, m.err }

type mockHeads map[types.ChainID]uint64

func (m mockHeads) LatestBlock(_ context.Context, chainID types.ChainID) (uint64, error) {
	head, ok := m[chainID]
	if !ok {
		return 0, errors.New("all endpoints failed")
	}
	return head, nil
}

type mockSuspensions struct {
	state *failure.CollectionState
	err   error
}

func (m *mockSuspensions) State(_ context.Context, chainID types.ChainID, contract string) (*failure.CollectionState, error) {
	if m.err != nil {
		return nil, m.err
	}
	st := *m.state
	st.ChainID, st.ContractAddress = chainID, contract
	return &st, nil
}

type mockProviders map[string]circuitbreaker.State

func (m mockProviders) BreakerStats() map[string]*circuitbreaker.Stats {
	out := make(map[string]*circuitbreaker.Stats, len(m))
	for name, st := range m {
		out[name] = &circuitbreaker.Stats{Name: name, State: st}
	}
	return out
}

type fixture struct {
	sync        *mockSync
	checkpoints *mockCheckpoints
	heads       mockHeads
	suspensions *mockSuspensions
	providers   mockProviders
	handler     http.Handler
}

func newFixture(writeRPS int) *fixture {
	f := &fixture{
		sync:        &mockSync{},
		checkpoints: &mockCheckpoints{},
		heads:       mockHeads{},
		suspensions: &mockSuspensions{state: &failure.CollectionState{}},
		providers:   mockProviders{"moralis": circuitbreaker.StateClosed},
	}
	srv := NewServer(&ServerConfig{Host: "127.0.0.1", Port: "0", WriteRPS: writeRPS}, f.sync, f.checkpoints, f.heads, f.suspensions, f.providers)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ServiceError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	f := newFixture(0)
	rec := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"nft-syncer","providers":{"moralis":"closed"}}`, rec.Body.String())
}

func TestHealth_DegradedWhileCircuitOpen(t *testing.T) {
	f := newFixture(0)
	f.providers["alchemy"] = circuitbreaker.StateOpen
	rec := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","service":"nft-syncer","providers":{"moralis":"closed","alchemy":"open"}}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(0)
	rec := f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestListCheckpoints(t *testing.T) {
	f := newFixture(0)
	f.checkpoints.rows = []*models.Checkpoint{
		{ProjectName: "nft-transfers-ethereum", ChainID: types.ChainEthereum, LastPolledBlock: 100},
		{ProjectName: "nft-transfers-polygon", ChainID: types.ChainPolygon, LastPolledBlock: 50},
	}
	f.heads[types.ChainEthereum] = 130

	rec := f.do(http.MethodGet, "/api/checkpoints", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Checkpoints []struct {
			ProjectName     string  `json:"projectName"`
			LastPolledBlock uint64  `json:"lastPolledBlock"`
			LatestBlock     *uint64 `json:"latestBlock"`
			Lag             *uint64 `json:"lag"`
			HeadError       string  `json:"headError"`
		} `json:"checkpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Checkpoints, 2)

	eth := resp.Checkpoints[0]
	assert.Equal(t, "nft-transfers-ethereum", eth.ProjectName)
	require.NotNil(t, eth.Lag)
	assert.Equal(t, uint64(30), *eth.Lag)
	assert.Equal(t, uint64(130), *eth.LatestBlock)

	poly := resp.Checkpoints[1]
	assert.Nil(t, poly.Lag)
	assert.NotEmpty(t, poly.HeadError)
}

func TestListCheckpoints_StoreError(t *testing.T) {
	f := newFixture(0)
	f.checkpoints.err = errors.New("connection refused")
	rec := f.do(http.MethodGet, "/api/checkpoints", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRefreshAsset(t *testing.T) {
	f := newFixture(0)
	rec := f.do(http.MethodPost, "/api/assets/1/"+testContract+"/0042/refresh?spam=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, types.ChainEthereum, f.sync.syncKey.ChainID)
	assert.Equal(t, strings.ToLower(testContract), f.sync.syncKey.ContractAddress)
	assert.Equal(t, "42", f.sync.syncKey.TokenID)
	assert.True(t, f.sync.syncOpts.SyncOwnership)
	require.NotNil(t, f.sync.syncOpts.IsSpam)
	assert.True(t, *f.sync.syncOpts.IsSpam)

	var asset models.Asset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &asset))
	assert.Equal(t, "Seven", asset.Name)
}

func TestRefreshAsset_Validation(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"chain not a number", "/api/assets/eth/" + testContract + "/1/refresh"},
		{"unsupported chain", "/api/assets/999/" + testContract + "/1/refresh"},
		{"bad contract", "/api/assets/1/0x1234/1/refresh"},
		{"bad token", "/api/assets/1/" + testContract + "/abc/refresh"},
		{"negative token", "/api/assets/1/" + testContract + "/-1/refresh"},
		{"bad spam flag", "/api/assets/1/" + testContract + "/1/refresh?spam=maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			rec := f.do(http.MethodPost, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, ErrCodeInvalidInput, decodeError(t, rec).Code)
			assert.Zero(t, f.sync.calls)
		})
	}
}

func TestRefreshAsset_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"skipped", synerr.NewSkippedError(synerr.CodeCollectionSuspended, types.AssetKey{}), http.StatusConflict, synerr.CodeCollectionSuspended},
		{"transient", synerr.New(synerr.KindTransient, synerr.CodeRPCExhausted, "all endpoints failed"), http.StatusServiceUnavailable, synerr.CodeRPCExhausted},
		{"content", synerr.New(synerr.KindContent, synerr.CodeMetadataMissing, "no metadata"), http.StatusBadGateway, synerr.CodeMetadataMissing},
		{"internal", synerr.NewDatabaseError("update asset", errors.New("deadlock")), http.StatusInternalServerError, synerr.CodeDatabaseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			f.sync.syncErr = tt.err
			rec := f.do(http.MethodPost, "/api/assets/1/"+testContract+"/1/refresh", nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(0)
	rec := f.do(http.MethodPost, "/api/ownership/transfer", map[string]interface{}{
		"chainId":         137,
		"contractAddress": testContract,
		"tokenId":         "9",
		"fromAddress":     testFrom,
		"toAddress":       testTo,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"reconciled":true}`, rec.Body.String())
	assert.Equal(t, types.ChainPolygon, f.sync.transfer.ChainID)
	assert.Equal(t, "9", f.sync.transfer.TokenID)
}

func TestTransferOwnership_CanonicalTokenID(t *testing.T) {
	f := newFixture(0)
	rec := f.do(http.MethodPost, "/api/ownership/transfer", map[string]interface{}{
		"chainId":         1,
		"contractAddress": testContract,
		"tokenId":         "0009",
		"fromAddress":     testFrom,
		"toAddress":       testTo,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "9", f.sync.transfer.TokenID)
}

func TestTransferOwnership_Validation(t *testing.T) {
	valid := func() map[string]interface{} {
		return map[string]interface{}{
			"chainId":         1,
			"contractAddress": testContract,
			"tokenId":         "9",
			"fromAddress":     testFrom,
			"toAddress":       testTo,
		}
	}
	tests := []struct {
		name string
		body interface{}
	}{
		{"not json", "{"},
		{"unknown field", `{"chainId":1,"bogus":true}`},
		{"unsupported chain", func() interface{} { b := valid(); b["chainId"] = 5; return b }()},
		{"bad to", func() interface{} { b := valid(); b["toAddress"] = "bob"; return b }()},
		{"bad token", func() interface{} { b := valid(); b["tokenId"] = "0x1"; return b }()},
		{"negative token", func() interface{} { b := valid(); b["tokenId"] = "-9"; return b }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			rec := f.do(http.MethodPost, "/api/ownership/transfer", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, f.sync.calls)
		})
	}
}

func TestTransferOwnership_UnknownSchema(t *testing.T) {
	f := newFixture(0)
	f.sync.xferErr = synerr.New(synerr.KindUnsupported, synerr.CodeUnsupportedSchema, "unknown token standard")
	rec := f.do(http.MethodPost, "/api/ownership/transfer", map[string]interface{}{
		"chainId":         1,
		"contractAddress": testContract,
		"tokenId":         "9",
		"fromAddress":     testFrom,
		"toAddress":       testTo,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, synerr.CodeUnsupportedSchema, decodeError(t, rec).Code)
}

func TestGetSuspension(t *testing.T) {
	f := newFixture(0)
	f.suspensions.state = &failure.CollectionState{Suspended: true, Cached: true, WindowFailures: 10}

	rec := f.do(http.MethodGet, "/api/collections/1/"+testContract+"/suspension", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state failure.CollectionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Suspended)
	assert.Equal(t, int64(10), state.WindowFailures)
	assert.Equal(t, strings.ToLower(testContract), state.ContractAddress)
}

func TestGetSuspension_CacheDown(t *testing.T) {
	f := newFixture(0)
	f.suspensions.err = synerr.Wrap(synerr.KindTransient, synerr.CodeInternalError, "suspension cache unavailable", errors.New("dial tcp"))
	rec := f.do(http.MethodGet, "/api/collections/1/"+testContract+"/suspension", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWriteEndpointsAreRateLimited(t *testing.T) {
	f := newFixture(1)
	path := "/api/assets/1/" + testContract + "/1/refresh"

	// burst of two, then rejected
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, path, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, path, nil).Code)
	rec := f.do(http.MethodPost, path, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ErrCodeRateLimited, decodeError(t, rec).Code)

	// reads share no budget with writes
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/collections/1/"+testContract+"/suspension", nil).Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	f := newFixture(0)
	f.sync.syncErr = nil
	srv := NewServer(&ServerConfig{}, panicSync{}, f.checkpoints, f.heads, f.suspensions, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/assets/1/"+testContract+"/1/refresh", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panicSync struct{}

func (panicSync) SyncAssetOnChain(context.Context, types.AssetKey, reconcile.SyncOptions) (*models.Asset, error) {
	panic("boom")
}

func (panicSync) TransferAssetOwnershipOnchain(context.Context, reconcile.TransferParams) (bool, error) {
	panic("boom")
}
