// Package fetch materializes input coordinates as content-addressed
// snapshots: each fetch pins a revision, hashes the fetched archive, and
// unpacks it into a local store keyed by that hash.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"devpin/pkg/descriptor"
)

// Snapshot is the result of resolving one coordinate: a pinned revision,
// the content hash of its archive, and the unpacked tree in the store.
type Snapshot struct {
	Revision string
	SHA256   string
	Dir      string
}

// Pin records what a re-fetch must reproduce. Resolving against a pin
// skips revision discovery; a content hash that differs from Pin.SHA256
// fails the fetch rather than silently drifting.
type Pin struct {
	Revision string
	SHA256   string
}

// Fetchable resolves one coordinate to a snapshot. One implementation
// exists per coordinate kind.
type Fetchable interface {
	Resolve(ctx context.Context, pin *Pin) (*Snapshot, error)
}

// Client fetches coordinates over HTTPS into a local store.
type Client struct {
	httpc *http.Client
	store *Store
}

// NewClient wires a fetch client to a store. A nil httpc gets a 30 second
// timeout client.
func NewClient(store *Store, httpc *http.Client) (*Client, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{httpc: httpc, store: store}, nil
}

// Store exposes the client's backing store.
func (c *Client) Store() *Store { return c.store }

// For returns the fetchable for coord. Data-only coordinates fetch like
// any other; the flag only matters to evaluation downstream.
func (c *Client) For(coord descriptor.Coordinate) (Fetchable, error) {
	kind, err := coord.Kind()
	if err != nil {
		return nil, err
	}
	switch kind {
	case descriptor.KindChannel:
		return &channelFetch{client: c, index: coord.Channel}, nil
	case descriptor.KindGit:
		return &gitFetch{client: c, repo: coord.Git, ref: coord.Ref}, nil
	default:
		return nil, fmt.Errorf("unsupported coordinate kind %q", kind)
	}
}

// get issues a GET with context and fails on any non-200 status.
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", url, err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: unexpected status %s", url, resp.Status)
	}
	return resp, nil
}
