package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// gitFetch resolves a repository locator: the smart-HTTP ref advertisement
// pins the ref to a commit, and the forge's archive endpoint supplies the
// tree for that commit.
type gitFetch struct {
	client *Client
	repo   string
	ref    string
}

func (f *gitFetch) Resolve(ctx context.Context, pin *Pin) (*Snapshot, error) {
	if pin != nil && f.client.store.Has(pin.SHA256) {
		return &Snapshot{
			Revision: pin.Revision,
			SHA256:   pin.SHA256,
			Dir:      f.client.store.TreePath(pin.SHA256),
		}, nil
	}

	var revision string
	switch {
	case pin != nil:
		revision = pin.Revision
	case isCommitSHA(f.ref):
		revision = f.ref
	default:
		rev, err := f.lookupRef(ctx)
		if err != nil {
			return nil, err
		}
		revision = rev
	}

	resp, err := f.client.get(ctx, f.archiveURL(revision))
	if err != nil {
		return nil, err
	}
	sum, err := f.client.store.Ingest(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("ingest %s at %s: %w", f.repo, revision, err)
	}

	if pin != nil && !strings.EqualFold(sum, pin.SHA256) {
		return nil, fmt.Errorf("content hash mismatch for %s at %s: locked %s, fetched %s", f.repo, revision, pin.SHA256, sum)
	}

	return &Snapshot{
		Revision: revision,
		SHA256:   sum,
		Dir:      f.client.store.TreePath(sum),
	}, nil
}

// archiveURL is the forge archive endpoint for a revision.
func (f *gitFetch) archiveURL(revision string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(f.repo, "/"), ".git")
	return base + "/archive/" + revision + ".tar.gz"
}

// lookupRef reads the ref advertisement and returns the commit the
// configured ref points at. HEAD applies when no ref is configured;
// annotated tags resolve to their peeled commit.
func (f *gitFetch) lookupRef(ctx context.Context) (string, error) {
	url := strings.TrimSuffix(f.repo, "/") + "/info/refs?service=git-upload-pack"
	resp, err := f.client.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	refs, err := parseRefAdvertisement(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse ref advertisement from %s: %w", url, err)
	}

	want := []string{"HEAD"}
	if f.ref != "" {
		want = []string{f.ref, "refs/heads/" + f.ref, "refs/tags/" + f.ref + "^{}", "refs/tags/" + f.ref}
	}
	for _, name := range want {
		if sha, ok := refs[name]; ok {
			return sha, nil
		}
	}
	if f.ref == "" {
		return "", fmt.Errorf("%s advertises no HEAD", f.repo)
	}
	return "", fmt.Errorf("ref %q not found in %s", f.ref, f.repo)
}

// parseRefAdvertisement decodes the pkt-line stream of a git-upload-pack
// advertisement into refname to commit. Service banners and capability
// lists are skipped; flush-pkts delimit sections.
func parseRefAdvertisement(r io.Reader) (map[string]string, error) {
	br := bufio.NewReader(r)
	refs := make(map[string]string)
	for {
		var sizeBuf [4]byte
		if _, err := io.ReadFull(br, sizeBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read pkt length: %w", err)
		}
		size, err := strconv.ParseUint(string(sizeBuf[:]), 16, 16)
		if err != nil {
			return nil, fmt.Errorf("bad pkt length %q", string(sizeBuf[:]))
		}
		if size == 0 {
			// flush-pkt
			continue
		}
		if size < 4 {
			return nil, fmt.Errorf("bad pkt length %d", size)
		}
		payload := make([]byte, size-4)
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil, fmt.Errorf("read pkt payload: %w", err)
		}

		line := strings.TrimSuffix(string(payload), "\n")
		if strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, 0); i >= 0 {
			line = line[:i]
		}
		sha, name, ok := strings.Cut(line, " ")
		if !ok || !isCommitSHA(sha) || name == "" {
			continue
		}
		refs[name] = sha
	}
	return refs, nil
}

// isCommitSHA reports whether s is a full 40-character hex object name.
func isCommitSHA(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
