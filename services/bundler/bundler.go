// Package bundler builds and imports air-gap bundles: a signed manifest,
// the project descriptor and lock, and every snapshot archive the lock
// pins, packed as tar.zst. An imported bundle seeds a snapshot store so
// locked resolution works without network access.
package bundler

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"devpin/pkg/descriptor"
	"devpin/pkg/fetch"
	"devpin/pkg/lockfile"
	gos3 "devpin/pkg/s3"
)

const (
	manifestFileName   = "manifest.yaml"
	snapshotsTarPrefix = "snapshots"
	manifestVersion    = "1"
)

// Build assembles a bundle for a locked project and writes the tar.zst
// archive to Output. Every input pinned by the lock must already be in
// the snapshot store; Build never fetches.
func Build(ctx context.Context, cfg BuildConfig) (*Manifest, error) {
	if cfg.ProjectDir == "" {
		return nil, errors.New("project directory is required")
	}
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("snapshot store is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	desc, err := descriptor.Load(filepath.Join(cfg.ProjectDir, descriptor.DefaultFile))
	if err != nil {
		return nil, err
	}
	lock, err := lockfile.Read(filepath.Join(cfg.ProjectDir, lockfile.DefaultFile))
	if err != nil {
		return nil, fmt.Errorf("a bundle needs a lock; run a lock pass first: %w", err)
	}

	snapshots, err := collectSnapshots(desc, lock, cfg.Store)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Version:          manifestVersion,
		CreatedAt:        cfg.Now().UTC().Truncate(time.Second),
		LockDigest:       lock.Digest,
		Signer:           cfg.Signer.Recipient(),
		SigningPublicKey: cfg.Signer.PublicKeyBase64(),
		Snapshots:        snapshots,
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for signing: %w", err)
	}
	sig, err := cfg.Signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	manifest.Signature = sig

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeBundle(cfg, manifestBytes, snapshots); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote bundle %s (%d snapshots, lock %.12s)\n", cfg.Output, len(snapshots), lock.Digest)
	return manifest, nil
}

// collectSnapshots cross-checks the lock against the descriptor and maps
// every pinned entry onto its archive in the store.
func collectSnapshots(desc *descriptor.Descriptor, lock *lockfile.Lock, store *fetch.Store) ([]ManifestSnapshot, error) {
	var snapshots []ManifestSnapshot
	for _, name := range desc.InputNames() {
		coord := desc.Inputs[name]
		entry, ok := lock.Entry(name)
		if !ok {
			return nil, fmt.Errorf("input %q is not pinned by the lock; re-run the lock pass", name)
		}
		if entry.Locator != coord.Locator() {
			return nil, fmt.Errorf("input %q drifted from its lock entry; re-run the lock pass", name)
		}
		if !store.Has(entry.SHA256) {
			return nil, fmt.Errorf("snapshot for %q (%s) is not in the store; re-run the lock pass", name, entry.Revision)
		}
		info, err := os.Stat(store.ArchivePath(entry.SHA256))
		if err != nil {
			return nil, fmt.Errorf("stat snapshot archive for %q: %w", name, err)
		}
		snapshots = append(snapshots, ManifestSnapshot{
			Name:     name,
			Locator:  entry.Locator,
			Revision: entry.Revision,
			Size:     info.Size(),
			SHA256:   entry.SHA256,
		})
	}
	return snapshots, nil
}

func writeBundle(cfg BuildConfig, manifest []byte, snapshots []ManifestSnapshot) error {
	dir := filepath.Dir(cfg.Output)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(cfg.Output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	defer encoder.Close()

	tw := tar.NewWriter(encoder)
	defer tw.Close()

	now := cfg.Now().UTC()
	writeEntry := func(name string, data []byte) error {
		header := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  now,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %q: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write body for %q: %w", name, err)
		}
		return nil
	}

	if err := writeEntry(manifestFileName, manifest); err != nil {
		return err
	}

	descBytes, err := os.ReadFile(filepath.Join(cfg.ProjectDir, descriptor.DefaultFile))
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}
	if err := writeEntry(descriptor.DefaultFile, descBytes); err != nil {
		return err
	}

	lockBytes, err := os.ReadFile(filepath.Join(cfg.ProjectDir, lockfile.DefaultFile))
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if err := writeEntry(lockfile.DefaultFile, lockBytes); err != nil {
		return err
	}

	seen := make(map[string]bool, len(snapshots))
	for _, snap := range snapshots {
		if seen[snap.SHA256] {
			continue
		}
		seen[snap.SHA256] = true

		archivePath := cfg.Store.ArchivePath(snap.SHA256)
		info, err := os.Stat(archivePath)
		if err != nil {
			return fmt.Errorf("stat %q: %w", snap.Name, err)
		}
		src, err := os.Open(archivePath)
		if err != nil {
			return fmt.Errorf("open %q: %w", snap.Name, err)
		}

		header := &tar.Header{
			Name:     snapshotsTarPrefix + "/sha256-" + snap.SHA256 + ".tar.gz",
			Mode:     0o644,
			Size:     info.Size(),
			ModTime:  now,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			src.Close()
			return fmt.Errorf("write header for %q: %w", snap.Name, err)
		}
		if _, err := io.Copy(tw, src); err != nil {
			src.Close()
			return fmt.Errorf("copy %q: %w", snap.Name, err)
		}
		src.Close()
	}

	return nil
}

// Import verifies a bundle, seeds the snapshot store from it, and
// optionally registers the snapshots with envd, mirrors them to S3, and
// materializes the bundled project.
func Import(ctx context.Context, cfg ImportConfig) (*Manifest, error) {
	if cfg.BundlePath == "" {
		return nil, errors.New("bundle file is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("snapshot store is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contents, err := readBundle(ctx, cfg.BundlePath)
	if err != nil {
		return nil, err
	}

	if len(contents.manifest) == 0 {
		return nil, errors.New("bundle missing manifest.yaml")
	}
	var manifest Manifest
	if err := yaml.Unmarshal(contents.manifest, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}
	if manifest.Signature == "" {
		return nil, errors.New("manifest missing signature")
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if err := cfg.Signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
		return nil, fmt.Errorf("verify manifest signature: %w", err)
	}
	fmt.Fprintf(cfg.Stdout, "verified manifest signed at %s\n", manifest.CreatedAt.Format(time.RFC3339))

	if len(contents.lock) == 0 {
		return nil, errors.New("bundle missing lock")
	}
	lock, err := lockfile.Parse(contents.lock)
	if err != nil {
		return nil, fmt.Errorf("bundled lock: %w", err)
	}
	if lock.Digest != manifest.LockDigest {
		return nil, fmt.Errorf("bundled lock digest %.12s does not match manifest %.12s", lock.Digest, manifest.LockDigest)
	}
	if len(contents.descriptor) == 0 {
		return nil, errors.New("bundle missing descriptor")
	}
	desc, err := descriptor.Parse(contents.descriptor)
	if err != nil {
		return nil, fmt.Errorf("bundled descriptor: %w", err)
	}
	// The lock is tied to the signed manifest by digest; tie the descriptor
	// to the lock the same way collectSnapshots does on the build side.
	for _, name := range desc.InputNames() {
		entry, ok := lock.Entry(name)
		if !ok {
			return nil, fmt.Errorf("bundled descriptor input %q is not pinned by the bundled lock", name)
		}
		if entry.Locator != desc.Inputs[name].Locator() {
			return nil, fmt.Errorf("bundled descriptor input %q does not match its lock entry", name)
		}
	}

	for _, snap := range manifest.Snapshots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, ok := contents.snapshots[strings.ToLower(snap.SHA256)]
		if !ok {
			return nil, fmt.Errorf("snapshot for %q missing from bundle", snap.Name)
		}
		if int64(len(data)) != snap.Size {
			return nil, fmt.Errorf("size mismatch for %q: expected %d got %d", snap.Name, snap.Size, len(data))
		}

		sum, err := cfg.Store.Ingest(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("ingest snapshot for %q: %w", snap.Name, err)
		}
		if !strings.EqualFold(sum, snap.SHA256) {
			return nil, fmt.Errorf("sha256 mismatch for %q", snap.Name)
		}
		fmt.Fprintf(cfg.Stdout, "seeded %s (%s, %d bytes)\n", snap.Name, snap.Revision, snap.Size)

		if err := mirrorSnapshot(ctx, cfg, snap, data); err != nil {
			return nil, err
		}
	}

	if cfg.ProjectDir != "" {
		if err := materializeProject(cfg.ProjectDir, contents); err != nil {
			return nil, err
		}
		fmt.Fprintf(cfg.Stdout, "materialized project in %s\n", cfg.ProjectDir)
	}

	return &manifest, nil
}

type bundleContents struct {
	manifest   []byte
	descriptor []byte
	lock       []byte
	// snapshots maps lowercased content hashes onto archive bytes.
	snapshots map[string][]byte
}

func readBundle(ctx context.Context, path string) (*bundleContents, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	contents := &bundleContents{snapshots: make(map[string][]byte)}

	tr := tar.NewReader(decoder)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.ToSlash(filepath.Clean(header.Name))
		if strings.HasPrefix(name, "../") || filepath.IsAbs(name) {
			return nil, fmt.Errorf("invalid entry path %q", header.Name)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}

		switch {
		case name == manifestFileName:
			contents.manifest = data
		case name == descriptor.DefaultFile:
			contents.descriptor = data
		case name == lockfile.DefaultFile:
			contents.lock = data
		case strings.HasPrefix(name, snapshotsTarPrefix+"/sha256-") && strings.HasSuffix(name, ".tar.gz"):
			sum := strings.TrimSuffix(strings.TrimPrefix(name, snapshotsTarPrefix+"/sha256-"), ".tar.gz")
			contents.snapshots[strings.ToLower(sum)] = data
		}
	}

	return contents, nil
}

func mirrorSnapshot(ctx context.Context, cfg ImportConfig, snap ManifestSnapshot, data []byte) error {
	switch {
	case cfg.APIBaseURL != "":
		target, err := registerSnapshot(ctx, cfg.HTTPClient, strings.TrimRight(cfg.APIBaseURL, "/"), snap)
		if err != nil {
			return err
		}
		if target == nil || cfg.S3 == nil {
			return nil
		}
		if err := cfg.S3.PutObject(ctx, target.Bucket, target.Key, bytes.NewReader(data), snap.Size, snap.SHA256); err != nil {
			return fmt.Errorf("upload %q: %w", snap.Name, err)
		}
		fmt.Fprintf(cfg.Stdout, "mirrored %s to s3://%s/%s\n", snap.Name, target.Bucket, target.Key)
	case cfg.S3 != nil && cfg.Bucket != "":
		key := gos3.SnapshotKey(snap.SHA256)
		if err := cfg.S3.PutObject(ctx, cfg.Bucket, key, bytes.NewReader(data), snap.Size, snap.SHA256); err != nil {
			return fmt.Errorf("upload %q: %w", snap.Name, err)
		}
		fmt.Fprintf(cfg.Stdout, "mirrored %s to s3://%s/%s\n", snap.Name, cfg.Bucket, key)
	}
	return nil
}

type s3Target struct {
	Bucket string
	Key    string
}

func registerSnapshot(ctx context.Context, client *http.Client, baseURL string, snap ManifestSnapshot) (*s3Target, error) {
	body := map[string]any{
		"name":     snap.Name,
		"revision": snap.Revision,
		"sha256":   snap.SHA256,
		"size":     snap.Size,
		"meta": map[string]any{
			"locator": snap.Locator,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/snapshots", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("snapshot register failed: %s", strings.TrimSpace(string(data)))
	}

	var response struct {
		S3 struct {
			Bucket string `json:"bucket"`
			Key    string `json:"key"`
		} `json:"s3"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode snapshot response: %w", err)
	}
	if response.S3.Bucket == "" || response.S3.Key == "" {
		return nil, nil
	}
	return &s3Target{Bucket: response.S3.Bucket, Key: response.S3.Key}, nil
}

func materializeProject(dir string, contents *bundleContents) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, descriptor.DefaultFile), contents.descriptor, 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, lockfile.DefaultFile), contents.lock, 0o644); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return nil
}
