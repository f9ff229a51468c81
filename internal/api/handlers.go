package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/nft-syncer/internal/circuitbreaker"
	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/reconcile"
	"github.com/nft-syncer/internal/types"
)

// CheckpointView is one checkpoint with its distance from the chain head
type CheckpointView struct {
	*models.Checkpoint
	LatestBlock *uint64 `json:"latestBlock,omitempty"`
	Lag         *uint64 `json:"lag,omitempty"`
	HeadError   string  `json:"headError,omitempty"`
}

// handleHealth handles health check requests. The service reports "degraded"
// while any provider circuit is not closed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	providers := map[string]string{}
	if s.providers != nil {
		for name, st := range s.providers.BreakerStats() {
			providers[name] = string(st.State)
			if st.State != circuitbreaker.StateClosed {
				status = "degraded"
			}
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"service":   "nft-syncer",
		"providers": providers,
	})
}

// handleListCheckpoints reports every checkpoint with the current lag behind the head
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.checkpoints.List(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list checkpoints")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list checkpoints", nil)
		return
	}

	type head struct {
		block uint64
		err   error
	}
	heads := make(map[types.ChainID]head)

	views := make([]CheckpointView, 0, len(cps))
	for _, cp := range cps {
		h, ok := heads[cp.ChainID]
		if !ok {
			h.block, h.err = s.heads.LatestBlock(r.Context(), cp.ChainID)
			heads[cp.ChainID] = h
		}

		view := CheckpointView{Checkpoint: cp}
		if h.err != nil {
			view.HeadError = h.err.Error()
		} else {
			latest := h.block
			lag := uint64(0)
			if latest > cp.LastPolledBlock {
				lag = latest - cp.LastPolledBlock
			}
			view.LatestBlock = &latest
			view.Lag = &lag
		}
		views = append(views, view)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"checkpoints": views,
	})
}

// handleRefreshAsset force-syncs one token. The optional spam query parameter overrides
// the provider's spam flag.
func (s *Server) handleRefreshAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chainID, ok := parseChainID(w, vars["chainId"])
	if !ok {
		return
	}
	contract, ok := parseContract(w, vars["contract"])
	if !ok {
		return
	}
	tokenID, ok := parseTokenID(w, vars["tokenId"])
	if !ok {
		return
	}

	opts := reconcile.SyncOptions{SyncOwnership: true}
	if v := r.URL.Query().Get("spam"); v != "" {
		spam, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "spam must be a boolean", nil)
			return
		}
		opts.IsSpam = &spam
	}

	asset, err := s.sync.SyncAssetOnChain(r.Context(), types.AssetKey{
		ChainID:         chainID,
		ContractAddress: contract,
		TokenID:         tokenID,
	}, opts)
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, asset)
}

// handleTransferOwnership applies a manual ownership correction
func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var p reconcile.TransferParams
	if err := parseJSONBody(r, &p); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body: "+err.Error(), nil)
		return
	}
	if _, supported := types.LookupChain(p.ChainID); !supported {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "unsupported chainId", nil)
		return
	}
	for name, addr := range map[string]string{
		"contractAddress": p.ContractAddress,
		"fromAddress":     p.FromAddress,
		"toAddress":       p.ToAddress,
	} {
		if !common.IsHexAddress(addr) {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, name+" must be a hex address", nil)
			return
		}
	}
	tokenID, err := types.CanonicalTokenID(p.TokenID)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "tokenId must be a non-negative integer", nil)
		return
	}
	p.TokenID = tokenID

	reconciled, err := s.sync.TransferAssetOwnershipOnchain(r.Context(), p)
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"reconciled": reconciled,
	})
}

// handleGetSuspension reports whether a collection is suspended and why
func (s *Server) handleGetSuspension(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chainID, ok := parseChainID(w, vars["chainId"])
	if !ok {
		return
	}
	contract, ok := parseContract(w, vars["contract"])
	if !ok {
		return
	}

	state, err := s.suspensions.State(r.Context(), chainID, contract)
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func parseChainID(w http.ResponseWriter, raw string) (types.ChainID, bool) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "chainId must be an integer", nil)
		return 0, false
	}
	id := types.ChainID(n)
	if _, ok := types.LookupChain(id); !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "unsupported chainId", map[string]interface{}{
			"chainId": n,
		})
		return 0, false
	}
	return id, true
}

func parseContract(w http.ResponseWriter, raw string) (string, bool) {
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "contract must be a hex address", nil)
		return "", false
	}
	return types.NormalizeAddress(raw), true
}

func parseTokenID(w http.ResponseWriter, raw string) (string, bool) {
	id, err := types.CanonicalTokenID(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "tokenId must be a non-negative integer", nil)
		return "", false
	}
	return id, true
}
