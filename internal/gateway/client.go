// Package gateway fetches NFT metadata, ownership and collection statistics from
// third-party providers and directly from the chain.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/logging"
)

const maxErrorBody = 512

// restClient is the shared HTTP transport of every provider adapter
type restClient struct {
	name    string
	client  *resty.Client
	limiter *rate.Limiter
	log     *logging.Logger
}

func newRestClient(name string, timeout time.Duration, rps float64, headers map[string]string) *restClient {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	rc := &restClient{
		name:    name,
		limiter: rate.NewLimiter(limit, burst),
		log:     logging.Component("gateway").WithField("provider", name),
	}
	rc.client = resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeaders(headers).
		OnBeforeRequest(rc.onRateLimit)
	return rc
}

// onRateLimit blocks until the provider budget allows the request or the context ends
func (c *restClient) onRateLimit(_ *resty.Client, req *resty.Request) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		c.log.WithError(err).Debug("Rate limiter wait aborted")
		return err
	}
	return nil
}

// get performs a GET and returns the body of a 2xx response
func (c *restClient) get(ctx context.Context, url string, query map[string]string) ([]byte, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	if resp.IsError() {
		return nil, c.statusError(url, resp.StatusCode(), resp.Body())
	}
	return resp.Body(), nil
}

// getLimited performs a GET and reads at most limit bytes of the body. A longer
// body is rejected without being buffered.
func (c *restClient) getLimited(ctx context.Context, url string, limit int64) ([]byte, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.IsError() {
		body, _ := io.ReadAll(io.LimitReader(raw, maxErrorBody))
		return nil, c.statusError(url, resp.StatusCode(), body)
	}
	if resp.RawResponse != nil && resp.RawResponse.ContentLength > limit {
		return nil, errBodyTooLarge(url, limit)
	}
	body, err := io.ReadAll(io.LimitReader(raw, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%s read failed: %w", c.name, err)
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge(url, limit)
	}
	return body, nil
}

func (c *restClient) statusError(url string, status int, raw []byte) error {
	body := string(raw)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	c.log.WithFields(map[string]interface{}{
		"status": status,
		"url":    url,
	}).Debug("Provider returned error status")
	return &synerr.HTTPStatusError{StatusCode: status, URL: url, Body: body}
}

func errBodyTooLarge(url string, limit int64) error {
	return synerr.New(synerr.KindContent, synerr.CodeMetadataMissing,
		fmt.Sprintf("response from %s exceeds %d bytes", url, limit))
}

// getJSON performs a GET and decodes the JSON body into out
func (c *restClient) getJSON(ctx context.Context, url string, query map[string]string, out interface{}) error {
	body, err := c.get(ctx, url, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}
	return nil
}
