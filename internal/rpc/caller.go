package rpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/metrics"
	"github.com/nft-syncer/internal/retry"
	"github.com/nft-syncer/internal/types"
)

// CallerConfig configures the retry wrapper
type CallerConfig struct {
	MaxRetries     int
	SwapStep       int // rotate the endpoint every SwapStep failed attempts
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
}

// DefaultCallerConfig returns 5 attempts, a swap step of 2 and a 10s attempt timeout
func DefaultCallerConfig() CallerConfig {
	return CallerConfig{
		MaxRetries:     5,
		SwapStep:       2,
		AttemptTimeout: 10 * time.Second,
		RetryDelay:     100 * time.Millisecond,
	}
}

// Caller applies retry, per-attempt timeout and endpoint rotation to chain calls
type Caller struct {
	registry *EndpointRegistry
	pool     *ClientPool
	cfg      CallerConfig
}

// NewCaller creates a caller over a registry and client pool
func NewCaller(registry *EndpointRegistry, pool *ClientPool, cfg CallerConfig) *Caller {
	def := DefaultCallerConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.SwapStep <= 0 {
		cfg.SwapStep = def.SwapStep
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if pool == nil {
		pool = NewClientPool()
	}
	return &Caller{registry: registry, pool: pool, cfg: cfg}
}

// Registry exposes the rotation registry the caller uses
func (c *Caller) Registry() *EndpointRegistry {
	return c.registry
}

// CallOptions tunes a single wrapped call
type CallOptions struct {
	// AllowEmpty accepts a zero-valued result as success
	AllowEmpty bool
	// Method is used for logging only
	Method string
	// MaxRetries overrides the caller default when positive
	MaxRetries int
}

// errEmptyResult marks an attempt that returned nothing where something was required
var errEmptyResult = errors.New("empty result")

// Call runs fn against the current endpoint of (chainID, class) until it succeeds or
// MaxRetries attempts have failed. A contract revert stops at once with a content
// error and does not rotate the endpoint. A zero-valued result counts as a failure unless
// opts.AllowEmpty is set. Every SwapStep failures the endpoint is rotated. After the
// last attempt the zero value and a transient RPC_EXHAUSTED error are returned.
func Call[T any](ctx context.Context, c *Caller, chainID types.ChainID, class types.TrafficClass, opts CallOptions, fn func(ctx context.Context, conn *Conn) (T, error)) (T, error) {
	var (
		mu       sync.Mutex
		result   T
		failures int
	)

	attempts := c.cfg.MaxRetries
	if opts.MaxRetries > 0 {
		attempts = opts.MaxRetries
	}
	cfg := &retry.RetryConfig{
		MaxAttempts:    attempts,
		AttemptTimeout: c.cfg.AttemptTimeout,
		InitialDelay:   c.cfg.RetryDelay,
		MaxDelay:       time.Second,
		Multiplier:     2,
		OnFailure: func(attempt int, err error) {
			failures++
			if failures%c.cfg.SwapStep == 0 {
				c.registry.Advance(chainID, class)
			}
		},
	}

	res := retry.WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
		url, err := c.registry.Endpoint(chainID, class)
		if err != nil {
			return err
		}
		v, err := fn(ctx, &Conn{URL: url, pool: c.pool})
		if err != nil {
			if IsExecutionReverted(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if !opts.AllowEmpty && isZero(v) {
			return errEmptyResult
		}
		// an attempt abandoned by its timeout must not overwrite a later result
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result = v
		return nil
	})

	if res.Success {
		mu.Lock()
		defer mu.Unlock()
		return result, nil
	}

	var zero T
	if res.Permanent {
		return zero, synerr.Wrap(synerr.KindContent, synerr.CodeExecutionReverted,
			fmt.Sprintf("%s reverted on chain %s", opts.Method, chainID), res.LastError)
	}
	metrics.RPCExhausted(chainID.String(), string(class))
	logging.FromContext(ctx).WithComponent("rpc").WithFields(map[string]interface{}{
		"chainId":  chainID.String(),
		"class":    string(class),
		"method":   opts.Method,
		"attempts": res.Attempts,
	}).WithError(res.LastError).Warn("RPC call exhausted retries")

	return zero, synerr.Wrap(synerr.KindTransient, synerr.CodeRPCExhausted,
		fmt.Sprintf("%s failed after %d attempts on chain %s", opts.Method, res.Attempts, chainID), res.LastError)
}

// revertErrorCode is the JSON-RPC error code nodes use for a reverted eth_call
const revertErrorCode = 3

// IsExecutionReverted reports whether err is a contract revert. A revert is a
// property of the contract, not the endpoint, so it is never retried.
func IsExecutionReverted(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		if rv.IsNil() {
			return true
		}
	}
	return rv.IsZero()
}
