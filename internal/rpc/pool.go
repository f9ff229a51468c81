package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// ClientPool lazily dials one client per endpoint URL and reuses it
type ClientPool struct {
	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewClientPool creates an empty pool
func NewClientPool() *ClientPool {
	return &ClientPool{clients: make(map[string]*ethclient.Client)}
}

// Get returns the client for url, dialing it on first use
func (p *ClientPool) Get(ctx context.Context, url string) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[url]; ok {
		return c, nil
	}
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint %s: %w", url, err)
	}
	p.clients[url] = c
	return c, nil
}

// Close closes all client connections
func (p *ClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.clients {
		c.Close()
		delete(p.clients, url)
	}
}

// Conn is the endpoint handed to a single attempt
type Conn struct {
	URL  string
	pool *ClientPool
}

// Eth returns the go-ethereum client for this endpoint
func (c *Conn) Eth(ctx context.Context) (*ethclient.Client, error) {
	return c.pool.Get(ctx, c.URL)
}

// Raw returns the JSON-RPC client for batch calls
func (c *Conn) Raw(ctx context.Context) (*gethrpc.Client, error) {
	ec, err := c.pool.Get(ctx, c.URL)
	if err != nil {
		return nil, err
	}
	return ec.Client(), nil
}
