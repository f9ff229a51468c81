package chain

import (
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

type callArgs struct {
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
}

func (a callArgs) payload() []byte {
	if len(a.Input) > 0 {
		return a.Input
	}
	return a.Data
}

// fakeEth serves the eth_ namespace over a real JSON-RPC server
type fakeEth struct {
	head       atomic.Uint64
	blockCalls atomic.Int32
	logCalls   atomic.Int32
	failLogs   atomic.Bool

	mu       sync.Mutex
	logs     []*ethtypes.Log
	handlers map[string]func(args []interface{}) ([]byte, error)
}

func (f *fakeEth) BlockNumber() hexutil.Uint64 {
	f.blockCalls.Add(1)
	return hexutil.Uint64(f.head.Load())
}

func (f *fakeEth) GetLogs(crit map[string]interface{}) ([]*ethtypes.Log, error) {
	f.logCalls.Add(1)
	if f.failLogs.Load() {
		return nil, errors.New("query returned more than 10000 results")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs, nil
}

func (f *fakeEth) Call(args callArgs, block string) (hexutil.Bytes, error) {
	data := args.payload()
	if len(data) < 4 {
		return nil, errors.New("execution reverted")
	}
	method, err := nftABI.MethodById(data[:4])
	if err != nil {
		return nil, errors.New("execution reverted")
	}
	in, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	h, ok := f.handlers[method.Name]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("execution reverted")
	}
	out, err := h(in)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeEth) handle(method string, fn func(args []interface{}) ([]byte, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]func(args []interface{}) ([]byte, error))
	}
	f.handlers[method] = fn
}

// returns packs outputs of method or fails the test
func returns(t *testing.T, method string, values ...interface{}) []byte {
	t.Helper()
	out, err := nftABI.Methods[method].Outputs.Pack(values...)
	if err != nil {
		t.Fatalf("pack %s: %v", method, err)
	}
	return out
}

func startFakeNode(t *testing.T, svc *fakeEth) string {
	t.Helper()
	srv := gethrpc.NewServer()
	if err := srv.RegisterName("eth", svc); err != nil {
		t.Fatalf("register: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return ts.URL
}
