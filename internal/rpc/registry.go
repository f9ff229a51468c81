// Package rpc owns RPC endpoint rotation and the retry wrapper every chain call goes through.
package rpc

import (
	"fmt"
	"sync"

	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/metrics"
	"github.com/nft-syncer/internal/types"
)

// EndpointRegistry keeps, per chain, one ordered endpoint list per traffic class
// and a rotation index per (chain, class). Indices start at 0.
type EndpointRegistry struct {
	mu    sync.RWMutex
	lists map[types.ChainID]map[types.TrafficClass][]string
	index map[types.ChainID]map[types.TrafficClass]int
}

// NewEndpointRegistry creates an empty registry
func NewEndpointRegistry() *EndpointRegistry {
	return &EndpointRegistry{
		lists: make(map[types.ChainID]map[types.TrafficClass][]string),
		index: make(map[types.ChainID]map[types.TrafficClass]int),
	}
}

// Register installs the endpoint lists for a chain. Each class prefers its own
// dedicated endpoints and falls back to the shared ones:
//
//	default: default, public
//	public:  public, default
//	event:   event, default, public
//
// The chain's built-in public RPC is appended to every list as last resort.
func (r *EndpointRegistry) Register(chainID types.ChainID, defaults, public, event []string) {
	var fallback []string
	if info, ok := types.LookupChain(chainID); ok && info.PublicRPC != "" {
		fallback = []string{info.PublicRPC}
	}

	lists := map[types.TrafficClass][]string{
		types.ClassDefault: dedupe(defaults, public, fallback),
		types.ClassPublic:  dedupe(public, defaults, fallback),
		types.ClassEvent:   dedupe(event, defaults, public, fallback),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists[chainID] = lists
	r.index[chainID] = map[types.TrafficClass]int{}
}

// Endpoint returns list[index mod len] for the chain and class
func (r *EndpointRegistry) Endpoint(chainID types.ChainID, class types.TrafficClass) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.lists[chainID][class]
	if len(list) == 0 {
		return "", fmt.Errorf("no %s endpoint registered for chain %s", class, chainID)
	}
	return list[r.index[chainID][class]%len(list)], nil
}

// Advance moves the class to its next endpoint, wrapping around, and returns the new index
func (r *EndpointRegistry) Advance(chainID types.ChainID, class types.TrafficClass) int {
	r.mu.Lock()
	list := r.lists[chainID][class]
	if len(list) == 0 {
		r.mu.Unlock()
		return 0
	}
	if r.index[chainID] == nil {
		r.index[chainID] = map[types.TrafficClass]int{}
	}
	next := (r.index[chainID][class] + 1) % len(list)
	r.index[chainID][class] = next
	r.mu.Unlock()

	metrics.RPCRotation(chainID.String(), string(class))
	logging.Component("rpc").WithFields(map[string]interface{}{
		"chainId": chainID.String(),
		"class":   string(class),
		"index":   next,
	}).Debug("Rotated RPC endpoint")
	return next
}

// Reset puts the class back on its first endpoint
func (r *EndpointRegistry) Reset(chainID types.ChainID, class types.TrafficClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.index[chainID]; ok {
		idx[class] = 0
	}
}

// Endpoints returns a copy of the ordered list for a class
func (r *EndpointRegistry) Endpoints(chainID types.ChainID, class types.TrafficClass) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.lists[chainID][class]...)
}

// Chains returns the registered chain ids
func (r *EndpointRegistry) Chains() []types.ChainID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ChainID, 0, len(r.lists))
	for id := range r.lists {
		out = append(out, id)
	}
	return out
}

func dedupe(groups ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range groups {
		for _, url := range group {
			if url == "" {
				continue
			}
			if _, ok := seen[url]; ok {
				continue
			}
			seen[url] = struct{}{}
			out = append(out, url)
		}
	}
	return out
}
