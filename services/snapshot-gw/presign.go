// Package snapshotgw is a thin gateway that hands out presigned URLs
// for mirrored snapshot archives. Mirrors and air-gap importers talk to
// it instead of holding S3 credentials themselves.
package snapshotgw

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gos3 "devpin/pkg/s3"
)

const (
	defaultTTLSeconds = 300
	maxTTLSeconds     = 3600
)

// Server exposes helpers for presigning snapshot transfers.
type Server struct {
	bucket string
	s3     *gos3.Client
}

// NewServer configures a Server using the provided S3 client and bucket.
func NewServer(bucket string, client *gos3.Client) (*Server, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	return &Server{bucket: bucket, s3: client}, nil
}

// RegisterHandlers attaches HTTP routes for presign features.
func (s *Server) RegisterHandlers(mux *http.ServeMux) error {
	if s == nil {
		return errors.New("nil server")
	}
	if mux == nil {
		return errors.New("nil mux")
	}

	mux.HandleFunc("/v1/snapshots/presign/get", s.handleGetPresign)
	mux.HandleFunc("/v1/snapshots/presign/put", s.handlePutPresign)
	return nil
}

func (s *Server) handleGetPresign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, ttl, ok := s.presignParams(w, r)
	if !ok {
		return
	}

	url, err := s.s3.PresignGet(r.Context(), s.bucket, key, ttl)
	if err != nil {
		http.Error(w, fmt.Sprintf("presign: %v", err), http.StatusInternalServerError)
		return
	}

	writePresigned(w, url)
}

func (s *Server) handlePutPresign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, ttl, ok := s.presignParams(w, r)
	if !ok {
		return
	}

	url, err := s.s3.PresignPut(r.Context(), s.bucket, key, ttl)
	if err != nil {
		http.Error(w, fmt.Sprintf("presign: %v", err), http.StatusInternalServerError)
		return
	}

	writePresigned(w, url)
}

// presignParams maps the sha256 and ttl query parameters onto an object
// key and a clamped expiry, writing the error response on failure.
func (s *Server) presignParams(w http.ResponseWriter, r *http.Request) (string, time.Duration, bool) {
	sum, err := gos3.ParseSnapshotSHA(r.URL.Query().Get("sha256"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", 0, false
	}

	ttlSeconds := defaultTTLSeconds
	if raw := strings.TrimSpace(r.URL.Query().Get("ttl")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid ttl", http.StatusBadRequest)
			return "", 0, false
		}
		if parsed > maxTTLSeconds {
			parsed = maxTTLSeconds
		}
		ttlSeconds = parsed
	}

	return gos3.SnapshotKey(sum), time.Duration(ttlSeconds) * time.Second, true
}

func writePresigned(w http.ResponseWriter, url string) {
	w.Header().Set("Content-Type", "application/json")
	// When fronted by ingress-nginx ensure Range headers reach the backend:
	// nginx.ingress.kubernetes.io/configuration-snippet: |
	//   proxy_set_header Range $http_range;
	//   proxy_set_header If-Range $http_if_range;
	_ = json.NewEncoder(w).Encode(map[string]string{"url": url})
}
