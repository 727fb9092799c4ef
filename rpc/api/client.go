package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned by Get if the key has no live value
var ErrNotFound = errors.New("key not found")

// Client talks to the HTTP api of a replica
type Client struct {
	base       *url.URL
	client     *http.Client
	retryCount int
}

// NewClient creates a client for config.Endpoint
func NewClient(config common.ClientConfig) (*Client, error) {
	endpoint := config.Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	base, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid endpoint %q", config.Endpoint)
	}

	retries := config.RetryCount
	if retries < 1 {
		retries = 1
	}
	return &Client{
		base:       base,
		client:     &http.Client{Timeout: time.Duration(config.TimeoutSecond) * time.Second},
		retryCount: retries,
	}, nil
}

// Get returns the live value of key
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.keyURL(key, nil), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, errors.Newf("http error %d: %s", status, strings.TrimSpace(string(body)))
	}
}

// Has reports whether key has a live value
func (c *Client) Has(ctx context.Context, key string) (bool, error) {
	status, _, err := c.do(ctx, http.MethodHead, c.keyURL(key, nil), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, errors.Newf("http error %d", status)
	}
}

// Put sets the value of key
func (c *Client) Put(ctx context.Context, key string, value []byte) (Result, error) {
	return c.result(ctx, http.MethodPut, c.keyURL(key, nil), value)
}

// PutIfAbsent sets the value of key if it has no live value
func (c *Client) PutIfAbsent(ctx context.Context, key string, value []byte) (Result, error) {
	return c.result(ctx, http.MethodPut, c.keyURL(key, url.Values{"if": {"absent"}}), value)
}

// Replace sets the value of key if it has a live value
func (c *Client) Replace(ctx context.Context, key string, value []byte) (Result, error) {
	return c.result(ctx, http.MethodPut, c.keyURL(key, url.Values{"if": {"present"}}), value)
}

// ReplaceIf sets the value of key if its live value equals expected
func (c *Client) ReplaceIf(ctx context.Context, key string, expected, value []byte) (Result, error) {
	return c.result(ctx, http.MethodPut, c.keyURL(key, url.Values{"expected": {string(expected)}}), value)
}

// Remove deletes key
func (c *Client) Remove(ctx context.Context, key string) (Result, error) {
	return c.result(ctx, http.MethodDelete, c.keyURL(key, nil), nil)
}

// RemoveIf deletes key if its live value equals expected
func (c *Client) RemoveIf(ctx context.Context, key string, expected []byte) (Result, error) {
	return c.result(ctx, http.MethodDelete, c.keyURL(key, url.Values{"expected": {string(expected)}}), nil)
}

// Info returns database and session information of the replica
func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	u := *c.base
	u.Path += "/info"
	status, body, err := c.do(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return info, err
	}
	if status != http.StatusOK {
		return info, errors.Newf("http error %d: %s", status, strings.TrimSpace(string(body)))
	}
	return info, errors.Wrap(json.Unmarshal(body, &info), "invalid info response")
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Client) keyURL(key string, query url.Values) string {
	u := *c.base
	u.Path += "/kv/" + key
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) result(ctx context.Context, method, target string, body []byte) (Result, error) {
	var res Result
	status, resp, err := c.do(ctx, method, target, body)
	if err != nil {
		return res, err
	}
	if status != http.StatusOK {
		return res, errors.Newf("http error %d: %s", status, strings.TrimSpace(string(resp)))
	}
	return res, errors.Wrap(json.Unmarshal(resp, &res), "invalid response")
}

// do sends the request, retrying transport errors up to retryCount times
func (c *Client) do(ctx context.Context, method, target string, body []byte) (int, []byte, error) {
	var lastErr error
	for i := 0; i < c.retryCount; i++ {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return 0, nil, errors.Wrap(err, "failed to create request")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return 0, nil, errors.Wrap(err, "failed to read response")
		}
		return resp.StatusCode, data, nil
	}
	return 0, nil, errors.Wrapf(lastErr, "%s %s failed after %d attempts", method, target, c.retryCount)
}
