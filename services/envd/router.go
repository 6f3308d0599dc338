package envd

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"devpin/pkg/db"
)

const presignURLExpiry = 15 * time.Minute

// Config controls runtime behaviour for the API handlers.
type Config struct {
	// SnapshotBucket is the S3 bucket snapshot mirrors live in. Falls
	// back to S3_BUCKET; required only when an S3 client is configured.
	SnapshotBucket string
	// PresignTTL bounds presigned snapshot download URLs.
	PresignTTL time.Duration
	// RequireAuth gates /v1 behind registered API tokens.
	RequireAuth bool
	// AllowedOrigins configures CORS for browser consumers.
	AllowedOrigins []string
}

// API wires dependencies and configuration for HTTP handlers.
type API struct {
	store  *Store
	config Config
}

// New initialises the API layer with defaults applied to the provided
// configuration.
func New(store *Store, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.DB == nil {
		return nil, errors.New("store DB is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}

	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = presignURLExpiry
	}
	if store.S3 != nil {
		if cfg.SnapshotBucket == "" {
			cfg.SnapshotBucket = os.Getenv("S3_BUCKET")
		}
		if cfg.SnapshotBucket == "" {
			return nil, errors.New("snapshot bucket is required")
		}
	}

	return &API{store: store, config: cfg}, nil
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	allowed := a.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))
	r.Use(httprate.Limit(100, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if a.config.RequireAuth {
			r.Use(a.requireToken)
		}

		r.Post("/projects", a.handleUpsertProject)
		r.Get("/projects", a.handleListProjects)
		r.Get("/projects/{projectID}", a.handleGetProject)
		r.Put("/projects/{projectID}/lock", a.handleRecordLock)
		r.Get("/projects/{projectID}/lock", a.handleGetLock)
		r.Post("/resolves/start", a.handleResolveStart)
		r.Post("/resolves/finish", a.handleResolveFinish)
		r.Get("/resolves", a.handleListResolves)
		r.Post("/sessions", a.handleReportSession)
		r.Get("/sessions", a.handleListSessions)
		r.Post("/snapshots", a.handleRegisterSnapshot)
		r.Get("/snapshots", a.handleListSnapshots)
		r.Get("/snapshots/{sha256}/download", a.handleSnapshotDownload)
		r.Post("/tokens", a.handleCreateToken)
	})

	return r, nil
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := db.Ping(r.Context(), a.store.DB); err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
