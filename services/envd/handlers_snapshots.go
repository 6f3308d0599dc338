package envd

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"devpin/pkg/db"
	gos3 "devpin/pkg/s3"
)

// handleRegisterSnapshot records a snapshot by content hash and hands the
// caller the S3 target the archive should be mirrored to. Registering an
// already-known hash is idempotent.
func (a *API) handleRegisterSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string         `json:"name"`
		Revision string         `json:"revision"`
		SHA256   string         `json:"sha256"`
		Size     int64          `json:"size"`
		Meta     map[string]any `json:"meta"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Revision = strings.TrimSpace(req.Revision)
	if req.Name == "" || req.Revision == "" {
		respondError(w, http.StatusBadRequest, errors.New("name and revision are required"))
		return
	}
	sum, err := gos3.ParseSnapshotSHA(req.SHA256)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Size < 0 {
		respondError(w, http.StatusBadRequest, errors.New("size cannot be negative"))
		return
	}
	if req.Meta == nil {
		req.Meta = map[string]any{}
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var s3Target map[string]any
	if a.store.S3 != nil {
		s3Target = map[string]any{
			"bucket": a.config.SnapshotBucket,
			"key":    gos3.SnapshotKey(sum),
		}
	}

	var existing snapshotModel
	err = orm.Where("sha256 = ?", sum).First(&existing).Error
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{
			"snapshot": existing.toAPI(),
			"s3":       s3Target,
		})
		return
	case !errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	model := snapshotModel{
		ID:        uuid.New(),
		Name:      req.Name,
		Revision:  req.Revision,
		SHA256:    sum,
		Size:      req.Size,
		Meta:      toJSONMap(req.Meta),
		CreatedAt: time.Now().UTC(),
	}
	if err := orm.Create(&model).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"snapshot": model.toAPI(),
		"s3":       s3Target,
	})
}

func (a *API) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	var snapshots []Snapshot
	err := db.Select(r.Context(), a.store.DB, &snapshots, `
        SELECT id, name, revision, sha256, size, meta, created_at
        FROM snapshots
        ORDER BY created_at DESC
        LIMIT 200
    `)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if snapshots == nil {
		snapshots = []Snapshot{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"snapshots": snapshots})
}

// handleSnapshotDownload presigns a time-bounded GET for a registered
// snapshot's mirrored archive.
func (a *API) handleSnapshotDownload(w http.ResponseWriter, r *http.Request) {
	if a.store.S3 == nil {
		respondError(w, http.StatusFailedDependency, errors.New("s3 client not configured"))
		return
	}

	sum, err := gos3.ParseSnapshotSHA(chi.URLParam(r, "sha256"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var model snapshotModel
	if err := a.store.ORM.WithContext(ctx).Where("sha256 = ?", sum).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("snapshot %s not registered", sum))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	url, err := a.store.S3.PresignGet(ctx, a.config.SnapshotBucket, gos3.SnapshotKey(sum), a.config.PresignTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("presign get: %w", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"expires_in": int(a.config.PresignTTL.Seconds()),
	})
}
