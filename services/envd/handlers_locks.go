package envd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"

	"devpin/pkg/db"
	"devpin/pkg/lockfile"
)

type lockEntryBody struct {
	Locator  string `json:"locator"`
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

func (a *API) handleRecordLock(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid project id is required"))
		return
	}

	var req struct {
		Digest string                   `json:"digest"`
		Inputs map[string]lockEntryBody `json:"inputs"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Digest == "" {
		respondError(w, http.StatusBadRequest, errors.New("digest is required"))
		return
	}
	if len(req.Inputs) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("inputs are required"))
		return
	}

	entries := make(map[string]lockfile.Entry, len(req.Inputs))
	inputsJSON := make(map[string]any, len(req.Inputs))
	for name, in := range req.Inputs {
		if in.Locator == "" || in.Revision == "" || in.SHA256 == "" {
			respondError(w, http.StatusBadRequest, fmt.Errorf("input %q is incomplete", name))
			return
		}
		entries[name] = lockfile.Entry{Locator: in.Locator, Revision: in.Revision, SHA256: in.SHA256}
		inputsJSON[name] = map[string]any{
			"locator":  in.Locator,
			"revision": in.Revision,
			"sha256":   in.SHA256,
		}
	}
	// The digest is recomputed server side so a corrupted client cannot
	// record entries under a digest they do not hash to.
	if want := lockfile.Digest(entries); req.Digest != want {
		respondError(w, http.StatusBadRequest, fmt.Errorf("digest does not match inputs: got %.12s, computed %.12s", req.Digest, want))
		return
	}

	if _, err := a.fetchProject(r, projectID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("project %s not found", projectID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var latest lockModel
	err = orm.Where("project_id = ?", projectID).Order("created_at DESC").First(&latest).Error
	switch {
	case err == nil && latest.Digest == req.Digest:
		respondJSON(w, http.StatusOK, map[string]any{"lock": latest.toAPI()})
		return
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	model := lockModel{
		ID:        uuid.New(),
		ProjectID: projectID,
		Digest:    req.Digest,
		Inputs:    toJSONMap(inputsJSON),
		CreatedAt: time.Now().UTC(),
	}
	if err := orm.Create(&model).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.publish(r.Context(), locksUpdatedTopic, map[string]any{
		"project_id": projectID,
		"lock_id":    model.ID,
		"digest":     model.Digest,
	})

	respondJSON(w, http.StatusCreated, map[string]any{"lock": model.toAPI()})
}

func (a *API) handleGetLock(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid project id is required"))
		return
	}

	var lock Lock
	err = db.Get(r.Context(), a.store.DB, &lock, `
        SELECT id, project_id, digest, inputs, created_at
        FROM locks
        WHERE project_id = $1
        ORDER BY created_at DESC
        LIMIT 1
    `, projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, fmt.Errorf("project %s has no recorded lock", projectID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"lock": lock})
}
