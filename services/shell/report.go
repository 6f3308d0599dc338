package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"devpin/services/inventory"
)

const (
	// ReportURLEnv points the session reporter at an envd base URL.
	// Unset means sessions are not reported.
	ReportURLEnv = "DEVPIN_REPORT_URL"
	// ReportTokenEnv carries the bearer token for the reporter.
	ReportTokenEnv = "DEVPIN_REPORT_TOKEN"
	// InsecureHTTPEnv permits plain-http report endpoints when truthy.
	InsecureHTTPEnv = "DEVPIN_ALLOW_INSECURE_HTTP"
)

// Reporter posts shell session records to the control plane. Reporting
// is best effort: a failed report never blocks the shell.
type Reporter struct {
	client *http.Client
	base   string
	token  string
	logger zerolog.Logger
}

// NewReporterFromEnv builds a Reporter from the environment. It returns
// nil when no report URL is configured, and an error-free nil when the
// configured URL is unusable so a bad endpoint cannot keep a developer
// out of the shell.
func NewReporterFromEnv(logger zerolog.Logger) *Reporter {
	base := strings.TrimSpace(os.Getenv(ReportURLEnv))
	if base == "" {
		return nil
	}
	if err := ensureHTTPS(base, allowInsecureHTTP()); err != nil {
		logger.Warn().Err(err).Msg("session reporting disabled")
		return nil
	}

	return &Reporter{
		client: &http.Client{Timeout: 15 * time.Second},
		base:   strings.TrimRight(base, "/"),
		token:  strings.TrimSpace(os.Getenv(ReportTokenEnv)),
		logger: logger,
	}
}

// Report posts one session record.
func (r *Reporter) Report(ctx context.Context, env *Env) error {
	hostname, _ := os.Hostname()
	payload := inventory.SessionReport{
		Platform:   env.Platform.String(),
		Toolchain:  env.Toolchain.Name,
		Version:    env.Toolchain.Version,
		LockDigest: env.LockDigest,
		Host: map[string]any{
			"hostname": hostname,
			"os":       runtime.GOOS,
			"arch":     runtime.GOARCH,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("post session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("post session unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("drain response body: %w", err)
	}
	return nil
}

func allowInsecureHTTP() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(InsecureHTTPEnv)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func ensureHTTPS(raw string, allowInsecure bool) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse report url: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http", "":
		if allowInsecure {
			return nil
		}
		if parsed.Scheme == "" {
			return fmt.Errorf("report url must include https scheme")
		}
		return fmt.Errorf("report url must use https: %s", raw)
	default:
		if allowInsecure {
			return nil
		}
		return fmt.Errorf("report url must use https: %s", raw)
	}
}
