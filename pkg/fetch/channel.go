package fetch

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// channelIndex is the document served at a channel locator: the channel's
// published releases, current first.
type channelIndex struct {
	Channel  string           `yaml:"channel"`
	Releases []channelRelease `yaml:"releases"`
}

type channelRelease struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	SHA256 string `yaml:"sha256,omitempty"`
}

// channelFetch resolves a versioned release channel. Unpinned resolution
// takes the channel's current release; pinned resolution reproduces the
// recorded release or fails, so upstream channel movement never changes a
// locked environment.
type channelFetch struct {
	client *Client
	index  string
}

func (f *channelFetch) Resolve(ctx context.Context, pin *Pin) (*Snapshot, error) {
	if pin != nil && f.client.store.Has(pin.SHA256) {
		return &Snapshot{
			Revision: pin.Revision,
			SHA256:   pin.SHA256,
			Dir:      f.client.store.TreePath(pin.SHA256),
		}, nil
	}

	idx, err := f.fetchIndex(ctx)
	if err != nil {
		return nil, err
	}

	var release channelRelease
	switch {
	case pin != nil:
		found := false
		for _, r := range idx.Releases {
			if r.Name == pin.Revision {
				release = r
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("pinned release %q no longer published by %s", pin.Revision, f.index)
		}
	case len(idx.Releases) == 0:
		return nil, fmt.Errorf("channel %s publishes no releases", f.index)
	default:
		release = idx.Releases[0]
	}
	if release.Name == "" {
		return nil, fmt.Errorf("channel %s lists a release without a name", f.index)
	}
	if release.URL == "" {
		return nil, fmt.Errorf("release %q has no artifact url", release.Name)
	}

	resp, err := f.client.get(ctx, release.URL)
	if err != nil {
		return nil, err
	}
	sum, err := f.client.store.Ingest(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("ingest release %q: %w", release.Name, err)
	}

	if release.SHA256 != "" && !strings.EqualFold(sum, release.SHA256) {
		return nil, fmt.Errorf("artifact hash mismatch for release %q: index declares %s, fetched %s", release.Name, release.SHA256, sum)
	}
	if pin != nil && !strings.EqualFold(sum, pin.SHA256) {
		return nil, fmt.Errorf("content hash mismatch for pinned release %q: locked %s, fetched %s", pin.Revision, pin.SHA256, sum)
	}

	return &Snapshot{
		Revision: release.Name,
		SHA256:   sum,
		Dir:      f.client.store.TreePath(sum),
	}, nil
}

func (f *channelFetch) fetchIndex(ctx context.Context) (*channelIndex, error) {
	resp, err := f.client.get(ctx, f.index)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read channel index: %w", err)
	}
	var idx channelIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode channel index %s: %w", f.index, err)
	}
	return &idx, nil
}
