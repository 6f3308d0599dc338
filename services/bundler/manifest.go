package bundler

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the signed metadata included in bundles. It ties the
// carried snapshot archives to the lock they were pinned under.
type Manifest struct {
	Version          string             `yaml:"version"`
	CreatedAt        time.Time          `yaml:"created_at"`
	LockDigest       string             `yaml:"lock_digest"`
	Signer           string             `yaml:"signer,omitempty"`
	SigningPublicKey string             `yaml:"signing_public_key,omitempty"`
	Signature        string             `yaml:"signature,omitempty"`
	Snapshots        []ManifestSnapshot `yaml:"snapshots"`
}

// SigningBytes marshals the manifest without its signature for signing/verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// ManifestSnapshot describes one pinned input archive within the bundle.
type ManifestSnapshot struct {
	Name     string `yaml:"name"`
	Locator  string `yaml:"locator"`
	Revision string `yaml:"revision"`
	Size     int64  `yaml:"size"`
	SHA256   string `yaml:"sha256"`
}
