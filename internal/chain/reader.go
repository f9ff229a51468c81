package chain

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/rpc"
	"github.com/nft-syncer/internal/types"
)

// LatestBlockTTL bounds how often the head block is fetched per chain
const LatestBlockTTL = 5 * time.Second

// Cache is the ephemeral key-value store used for the head block number
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Reader performs typed contract reads over the retrying RPC caller
type Reader struct {
	caller *rpc.Caller
	cache  Cache
	logger *logging.Logger
}

// NewReader creates a reader. cache may be nil, in which case the head block is never cached.
func NewReader(caller *rpc.Caller, cache Cache) *Reader {
	return &Reader{
		caller: caller,
		cache:  cache,
		logger: logging.Component("chain"),
	}
}

// ResetPublic rewinds the public class rotation of a chain before a fresh call sequence
func (r *Reader) ResetPublic(chainID types.ChainID) {
	r.caller.Registry().Reset(chainID, types.ClassPublic)
}

func latestBlockKey(chainID types.ChainID) string {
	return fmt.Sprintf("block:latest:%d", chainID)
}

// LatestBlock returns the chain head, served from cache for up to LatestBlockTTL
func (r *Reader) LatestBlock(ctx context.Context, chainID types.ChainID) (uint64, error) {
	key := latestBlockKey(chainID)
	if r.cache != nil {
		if v, err := r.cache.Get(ctx, key); err == nil {
			if n, perr := strconv.ParseUint(v, 10, 64); perr == nil {
				return n, nil
			}
		}
	}

	head, err := rpc.Call(ctx, r.caller, chainID, types.ClassEvent, rpc.CallOptions{Method: "eth_blockNumber"},
		func(ctx context.Context, conn *rpc.Conn) (uint64, error) {
			eth, err := conn.Eth(ctx)
			if err != nil {
				return 0, err
			}
			return eth.BlockNumber(ctx)
		})
	if err != nil {
		return 0, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, strconv.FormatUint(head, 10), LatestBlockTTL); err != nil {
			r.logger.WithError(err).Warn("Failed to cache latest block")
		}
	}
	return head, nil
}

// FilterTransferLogs returns every Transfer, TransferSingle and TransferBatch log in
// [from, to]. A failure rotates the event endpoint before returning.
func (r *Reader) FilterTransferLogs(ctx context.Context, chainID types.ChainID, from, to uint64) ([]ethtypes.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{{TopicTransfer, TopicTransferSingle, TopicTransferBatch}},
	}

	logs, err := rpc.Call(ctx, r.caller, chainID, types.ClassEvent, rpc.CallOptions{Method: "eth_getLogs", AllowEmpty: true},
		func(ctx context.Context, conn *rpc.Conn) ([]ethtypes.Log, error) {
			eth, err := conn.Eth(ctx)
			if err != nil {
				return nil, err
			}
			return eth.FilterLogs(ctx, query)
		})
	if err != nil {
		r.caller.Registry().Advance(chainID, types.ClassEvent)
		return nil, err
	}
	return logs, nil
}

func view[T any](ctx context.Context, r *Reader, chainID types.ChainID, class types.TrafficClass, contract string, opts rpc.CallOptions, method string, args ...interface{}) (T, error) {
	var zero T
	data, err := nftABI.Pack(method, args...)
	if err != nil {
		return zero, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	to := common.HexToAddress(contract)
	opts.Method = method

	return rpc.Call(ctx, r.caller, chainID, class, opts, func(ctx context.Context, conn *rpc.Conn) (T, error) {
		eth, err := conn.Eth(ctx)
		if err != nil {
			return zero, err
		}
		raw, err := eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return zero, err
		}
		out, err := nftABI.Unpack(method, raw)
		if err != nil {
			return zero, fmt.Errorf("failed to unpack %s: %w", method, err)
		}
		if len(out) == 0 {
			return zero, fmt.Errorf("%s returned nothing", method)
		}
		v, ok := out[0].(T)
		if !ok {
			return zero, fmt.Errorf("%s returned %T", method, out[0])
		}
		return v, nil
	})
}

func parseTokenID(tokenID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(tokenID), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}
	return id, nil
}

// OwnerOf returns the ERC-721 owner of a token
func (r *Reader) OwnerOf(ctx context.Context, chainID types.ChainID, class types.TrafficClass, contract, tokenID string) (string, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return "", err
	}
	owner, err := view[common.Address](ctx, r, chainID, class, contract, rpc.CallOptions{}, "ownerOf", id)
	if err != nil {
		return "", err
	}
	return types.NormalizeAddress(owner.Hex()), nil
}

// BalancesOf reads the ERC-1155 balance of every holder in one JSON-RPC batch.
// Keys of the result are normalized holder addresses.
func (r *Reader) BalancesOf(ctx context.Context, chainID types.ChainID, class types.TrafficClass, contract, tokenID string, holders []string) (map[string]*big.Int, error) {
	if len(holders) == 0 {
		return map[string]*big.Int{}, nil
	}
	id, err := parseTokenID(tokenID)
	if err != nil {
		return nil, err
	}

	to := common.HexToAddress(contract)
	payloads := make([]hexutil.Bytes, len(holders))
	for i, h := range holders {
		data, err := nftABI.Pack("balanceOf", common.HexToAddress(h), id)
		if err != nil {
			return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
		}
		payloads[i] = data
	}

	return rpc.Call(ctx, r.caller, chainID, class, rpc.CallOptions{Method: "balanceOf", AllowEmpty: true},
		func(ctx context.Context, conn *rpc.Conn) (map[string]*big.Int, error) {
			client, err := conn.Raw(ctx)
			if err != nil {
				return nil, err
			}

			results := make([]hexutil.Bytes, len(holders))
			batch := make([]gethrpc.BatchElem, len(holders))
			for i := range holders {
				batch[i] = gethrpc.BatchElem{
					Method: "eth_call",
					Args:   []any{map[string]any{"to": to, "data": payloads[i]}, "latest"},
					Result: &results[i],
				}
			}
			if err := client.BatchCallContext(ctx, batch); err != nil {
				return nil, err
			}

			balances := make(map[string]*big.Int, len(holders))
			for i, elem := range batch {
				if elem.Error != nil {
					return nil, elem.Error
				}
				out, err := nftABI.Unpack("balanceOf", results[i])
				if err != nil {
					return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
				}
				bal, ok := out[0].(*big.Int)
				if !ok {
					return nil, fmt.Errorf("balanceOf returned %T", out[0])
				}
				balances[types.NormalizeAddress(holders[i])] = bal
			}
			return balances, nil
		})
}

// TokenURI returns the metadata URI of a token. ERC-1155 uri templates have
// their {id} placeholder substituted.
func (r *Reader) TokenURI(ctx context.Context, chainID types.ChainID, class types.TrafficClass, contractType types.ContractType, contract, tokenID string) (string, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return "", err
	}

	switch contractType {
	case types.ContractERC1155:
		uri, err := view[string](ctx, r, chainID, class, contract, rpc.CallOptions{}, "uri", id)
		if err != nil {
			return "", err
		}
		return ExpandURITemplate(uri, id), nil
	case types.ContractERC721:
		return view[string](ctx, r, chainID, class, contract, rpc.CallOptions{}, "tokenURI", id)
	}

	if uri, err := view[string](ctx, r, chainID, class, contract, rpc.CallOptions{MaxRetries: 2}, "tokenURI", id); err == nil {
		return uri, nil
	}
	uri, err := view[string](ctx, r, chainID, class, contract, rpc.CallOptions{MaxRetries: 2}, "uri", id)
	if err != nil {
		return "", err
	}
	return ExpandURITemplate(uri, id), nil
}

// ExpandURITemplate replaces {id} with the 64 character lowercase hex token id
func ExpandURITemplate(uri string, id *big.Int) string {
	if !strings.Contains(uri, "{id}") {
		return uri
	}
	return strings.ReplaceAll(uri, "{id}", fmt.Sprintf("%064x", id))
}

// ContractType queries ERC-165 for the ERC-721 and ERC-1155 interface ids. A
// contract that answers neither, or reverts on supportsInterface, is ContractUnknown.
func (r *Reader) ContractType(ctx context.Context, chainID types.ChainID, class types.TrafficClass, contract string) (types.ContractType, error) {
	opts := rpc.CallOptions{AllowEmpty: true, MaxRetries: 2}

	is721, err := view[bool](ctx, r, chainID, class, contract, opts, "supportsInterface", InterfaceERC721)
	if rpc.IsExecutionReverted(err) {
		return types.ContractUnknown, nil
	}
	if err != nil {
		return types.ContractUnknown, err
	}
	if is721 {
		return types.ContractERC721, nil
	}

	is1155, err := view[bool](ctx, r, chainID, class, contract, opts, "supportsInterface", InterfaceERC1155)
	if err != nil {
		return types.ContractUnknown, err
	}
	if is1155 {
		return types.ContractERC1155, nil
	}
	return types.ContractUnknown, nil
}

// ContractOwner returns the Ownable owner() of a contract
func (r *Reader) ContractOwner(ctx context.Context, chainID types.ChainID, contract string) (string, error) {
	owner, err := view[common.Address](ctx, r, chainID, types.ClassDefault, contract,
		rpc.CallOptions{MaxRetries: 2}, "owner")
	if err != nil {
		return "", err
	}
	return types.NormalizeAddress(owner.Hex()), nil
}

// ContractName returns name(), empty when the contract has none
func (r *Reader) ContractName(ctx context.Context, chainID types.ChainID, contract string) (string, error) {
	return view[string](ctx, r, chainID, types.ClassDefault, contract,
		rpc.CallOptions{AllowEmpty: true, MaxRetries: 2}, "name")
}

// ContractSymbol returns symbol(), empty when the contract has none
func (r *Reader) ContractSymbol(ctx context.Context, chainID types.ChainID, contract string) (string, error) {
	return view[string](ctx, r, chainID, types.ClassDefault, contract,
		rpc.CallOptions{AllowEmpty: true, MaxRetries: 2}, "symbol")
}
