package envd

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"devpin/pkg/db"
)

func (a *API) handleResolveStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID uuid.UUID `json:"project_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.ProjectID == uuid.Nil {
		respondError(w, http.StatusBadRequest, errors.New("project_id is required"))
		return
	}

	if _, err := a.fetchProject(r, req.ProjectID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("project %s not found", req.ProjectID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	now := time.Now().UTC()
	projectID := req.ProjectID
	model := resolveModel{
		ID:        uuid.New(),
		ProjectID: &projectID,
		Status:    "running",
		StartedAt: &now,
	}
	if err := a.store.ORM.WithContext(ctx).Create(&model).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.publish(r.Context(), resolveStartedTopic, map[string]any{
		"resolve_id": model.ID,
		"project_id": projectID,
		"started_at": now,
	})

	respondJSON(w, http.StatusCreated, map[string]any{"resolve": model.toAPI()})
}

func (a *API) handleResolveFinish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResolveID  uuid.UUID `json:"resolve_id"`
		Status     string    `json:"status"`
		Error      string    `json:"error"`
		LockDigest string    `json:"lock_digest"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.ResolveID == uuid.Nil {
		respondError(w, http.StatusBadRequest, errors.New("resolve_id is required"))
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if req.Status != "succeeded" && req.Status != "failed" {
		respondError(w, http.StatusBadRequest, errors.New(`status must be "succeeded" or "failed"`))
		return
	}
	if req.Status == "succeeded" && req.Error != "" {
		respondError(w, http.StatusBadRequest, errors.New("a succeeded resolve cannot carry an error"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var model resolveModel
	if err := orm.Where("id = ?", req.ResolveID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("resolve %s not found", req.ResolveID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":      req.Status,
		"error":       req.Error,
		"finished_at": now,
	}
	if req.LockDigest != "" && model.ProjectID != nil {
		var lock lockModel
		err := orm.Where("project_id = ? AND digest = ?", *model.ProjectID, req.LockDigest).
			Order("created_at DESC").First(&lock).Error
		switch {
		case err == nil:
			updates["lock_id"] = lock.ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}

	if err := orm.Model(&model).Updates(updates).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if err := orm.First(&model, "id = ?", model.ID).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.publish(r.Context(), resolveFinishedTopic, map[string]any{
		"resolve_id":  model.ID,
		"project_id":  valueOrZero(model.ProjectID),
		"status":      model.Status,
		"error":       model.Error,
		"finished_at": model.FinishedAt,
	})

	respondJSON(w, http.StatusOK, map[string]any{"resolve": model.toAPI()})
}

// resolveRow carries the nullable columns a finished or orphaned resolve
// can have; the API shape flattens them.
type resolveRow struct {
	ID         uuid.UUID  `db:"id"`
	ProjectID  *uuid.UUID `db:"project_id"`
	LockID     *uuid.UUID `db:"lock_id"`
	Status     string     `db:"status"`
	Error      string     `db:"error"`
	StartedAt  *time.Time `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

func (a *API) handleListResolves(w http.ResponseWriter, r *http.Request) {
	query := `
        SELECT id, project_id, lock_id, status, error, started_at, finished_at
        FROM resolves
    `
	args := []any{}
	if raw := strings.TrimSpace(r.URL.Query().Get("project_id")); raw != "" {
		projectID, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("valid project_id is required"))
			return
		}
		query += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	query += ` ORDER BY started_at DESC LIMIT 100`

	var rows []resolveRow
	if err := db.Select(r.Context(), a.store.DB, &rows, query, args...); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	resolves := make([]Resolve, 0, len(rows))
	for _, row := range rows {
		resolves = append(resolves, Resolve{
			ID:         row.ID,
			ProjectID:  valueOrZero(row.ProjectID),
			LockID:     row.LockID,
			Status:     row.Status,
			Error:      row.Error,
			StartedAt:  row.StartedAt,
			FinishedAt: row.FinishedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"resolves": resolves})
}
