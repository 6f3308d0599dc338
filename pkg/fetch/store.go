package fetch

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Store is a content-addressed cache of fetched archives and their
// unpacked trees, keyed by the archive's sha256 hex digest. Layout:
//
//	<root>/archives/sha256-<hex>.tar.gz
//	<root>/trees/sha256-<hex>/...
//
// A populated key never changes, so re-resolving a pinned input is a pure
// local lookup.
type Store struct {
	root string
}

// NewStore opens (creating if needed) a store rooted at root.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root is required")
	}
	for _, dir := range []string{filepath.Join(root, "archives"), filepath.Join(root, "trees")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return &Store{root: root}, nil
}

// DefaultRoot is the per-user store location.
func DefaultRoot() (string, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate user cache dir: %w", err)
	}
	return filepath.Join(cache, "devpin"), nil
}

// ArchivePath returns where the archive for sum lives.
func (s *Store) ArchivePath(sum string) string {
	return filepath.Join(s.root, "archives", "sha256-"+sum+".tar.gz")
}

// TreePath returns where the unpacked tree for sum lives.
func (s *Store) TreePath(sum string) string {
	return filepath.Join(s.root, "trees", "sha256-"+sum)
}

// Has reports whether both the archive and its tree are present.
func (s *Store) Has(sum string) bool {
	if _, err := os.Stat(s.ArchivePath(sum)); err != nil {
		return false
	}
	info, err := os.Stat(s.TreePath(sum))
	return err == nil && info.IsDir()
}

// Ingest streams a tar.gz archive into the store and returns its content
// hash. The archive is kept verbatim and its tree unpacked next to it;
// ingesting bytes already present is a no-op beyond hashing.
func (s *Store) Ingest(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(s.root, "ingest-*")
	if err != nil {
		return "", fmt.Errorf("create ingest temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("read archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close ingest temp: %w", err)
	}
	sum := hex.EncodeToString(hash.Sum(nil))

	archivePath := s.ArchivePath(sum)
	if _, err := os.Stat(archivePath); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(tmpName, archivePath); err != nil {
			return "", fmt.Errorf("store archive: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}

	if err := s.ensureTree(sum); err != nil {
		return "", err
	}
	return sum, nil
}

// ensureTree unpacks the stored archive for sum unless its tree exists.
func (s *Store) ensureTree(sum string) error {
	treePath := s.TreePath(sum)
	if info, err := os.Stat(treePath); err == nil && info.IsDir() {
		return nil
	}

	tmpDir, err := os.MkdirTemp(filepath.Join(s.root, "trees"), ".unpack-*")
	if err != nil {
		return fmt.Errorf("create unpack temp: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := s.unpack(sum, tmpDir); err != nil {
		return err
	}
	if err := os.Rename(tmpDir, treePath); err != nil {
		// A concurrent ingest finishing first leaves the same content.
		if _, statErr := os.Stat(treePath); statErr == nil {
			return nil
		}
		return fmt.Errorf("store tree: %w", err)
	}
	return nil
}

// unpack extracts the archive for sum into dest. Channel and forge
// archives wrap their contents in a single root directory; that first
// path element is dropped so trees start at the snapshot root.
func (s *Store) unpack(sum, dest string) error {
	file, err := os.Open(s.ArchivePath(sum))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		name := stripRoot(header.Name)
		if name == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
			return fmt.Errorf("invalid entry path %q", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("mkdir %q: %w", name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("mkdir %q: %w", filepath.Dir(name), err)
			}
			mode := os.FileMode(header.Mode).Perm()
			if mode == 0 {
				mode = 0o644
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return fmt.Errorf("create %q: %w", name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("write %q: %w", name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("close %q: %w", name, err)
			}
		default:
			// Symlinks and special files have no place in input trees.
			continue
		}
	}
	return nil
}

// stripRoot drops the wrapping root directory from an archive entry name.
func stripRoot(name string) string {
	name = path.Clean(strings.TrimPrefix(name, "./"))
	if name == "." || name == ".." || strings.HasPrefix(name, "../") {
		return ""
	}
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}
