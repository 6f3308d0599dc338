// Package inventory holds the record-keeping pieces shared by the
// control plane and the event ledger: the session report contract,
// audit log writes, and snapshot diffing.
package inventory

import (
	"errors"
	"strings"
)

// SessionReport is the record a shell entry posts to the control plane:
// which toolchain ran where, under which lock. The same shape travels
// over the session event subject.
type SessionReport struct {
	Platform   string         `json:"platform"`
	Toolchain  string         `json:"toolchain"`
	Version    string         `json:"version"`
	LockDigest string         `json:"lock_digest"`
	Host       map[string]any `json:"host"`
}

// Normalize trims the identifying fields and defaults the host facts.
func (r *SessionReport) Normalize() {
	r.Platform = strings.TrimSpace(r.Platform)
	r.Toolchain = strings.TrimSpace(r.Toolchain)
	r.Version = strings.TrimSpace(r.Version)
	r.LockDigest = strings.TrimSpace(r.LockDigest)
	if r.Host == nil {
		r.Host = map[string]any{}
	}
}

// Validate reports whether the record identifies a session.
func (r *SessionReport) Validate() error {
	if r.Platform == "" || r.Toolchain == "" || r.Version == "" {
		return errors.New("platform, toolchain, and version are required")
	}
	return nil
}
