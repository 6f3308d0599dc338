package snapshotgw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gos3 "devpin/pkg/s3"
)

func testClient(t *testing.T) *gos3.Client {
	t.Helper()
	t.Setenv("S3_ENDPOINT", "http://127.0.0.1:9000")
	t.Setenv("S3_ACCESS_KEY", "devpin")
	t.Setenv("S3_SECRET_KEY", "devpin-secret")
	client, err := gos3.NewClientFromEnv()
	if err != nil {
		t.Fatalf("NewClientFromEnv() error = %v", err)
	}
	return client
}

func testMux(t *testing.T) *http.ServeMux {
	t.Helper()
	server, err := NewServer("devpin-snapshots", testClient(t))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	mux := http.NewServeMux()
	if err := server.RegisterHandlers(mux); err != nil {
		t.Fatalf("RegisterHandlers() error = %v", err)
	}
	return mux
}

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer("", testClient(t)); err == nil {
		t.Error("NewServer() accepted an empty bucket")
	}
	if _, err := NewServer("devpin-snapshots", nil); err == nil {
		t.Error("NewServer() accepted a nil client")
	}
}

func TestGetPresign(t *testing.T) {
	mux := testMux(t)
	sum := strings.Repeat("ab", 32)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/snapshots/presign/get?sha256="+sum, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.URL, "snapshots/sha256-"+sum+".tar.gz") {
		t.Errorf("presigned URL %q does not address the snapshot key", resp.URL)
	}
	if !strings.Contains(resp.URL, "devpin-snapshots") {
		t.Errorf("presigned URL %q does not address the bucket", resp.URL)
	}
}

func TestGetPresignRejectsBadRequests(t *testing.T) {
	mux := testMux(t)
	sum := strings.Repeat("ab", 32)

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{name: "wrong method", method: http.MethodPost, target: "/v1/snapshots/presign/get?sha256=" + sum, want: http.StatusMethodNotAllowed},
		{name: "missing sha", method: http.MethodGet, target: "/v1/snapshots/presign/get", want: http.StatusBadRequest},
		{name: "short sha", method: http.MethodGet, target: "/v1/snapshots/presign/get?sha256=abcd", want: http.StatusBadRequest},
		{name: "bad ttl", method: http.MethodGet, target: "/v1/snapshots/presign/get?sha256=" + sum + "&ttl=abc", want: http.StatusBadRequest},
		{name: "negative ttl", method: http.MethodGet, target: "/v1/snapshots/presign/get?sha256=" + sum + "&ttl=-5", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestPutPresign(t *testing.T) {
	mux := testMux(t)
	sum := strings.Repeat("cd", 32)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/snapshots/presign/put?sha256="+sum+"&ttl=60", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.URL, "snapshots/sha256-"+sum+".tar.gz") {
		t.Errorf("presigned URL %q does not address the snapshot key", resp.URL)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/snapshots/presign/put?sha256="+sum, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET on put presign: status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
