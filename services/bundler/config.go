package bundler

import (
	"io"
	"net/http"
	"time"

	"devpin/pkg/fetch"
	gos3 "devpin/pkg/s3"
)

// BuildConfig configures bundle creation.
type BuildConfig struct {
	// ProjectDir holds the descriptor and the lock the bundle pins to.
	ProjectDir string
	// Output is the destination bundle file (tar.zst).
	Output string
	// Store supplies the locked snapshot archives.
	Store  *fetch.Store
	Signer *Signer
	Now    func() time.Time
	Stdout io.Writer
}

// ImportConfig configures bundle import operations.
type ImportConfig struct {
	BundlePath string
	// Store receives the carried snapshot archives.
	Store *fetch.Store
	// ProjectDir, when set, is materialized with the bundled descriptor
	// and lock so the project is ready for an offline shell.
	ProjectDir string
	// APIBaseURL, when set, registers each snapshot with envd and mirrors
	// it to the S3 target the API hands back.
	APIBaseURL string
	// Bucket mirrors snapshots directly to S3 when no API is configured.
	Bucket     string
	HTTPClient *http.Client
	S3         *gos3.Client
	Signer     *Signer
	Now        func() time.Time
	Stdout     io.Writer
}
