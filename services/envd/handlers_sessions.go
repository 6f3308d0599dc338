package envd

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"devpin/pkg/db"
	"devpin/services/inventory"
)

// handleReportSession ingests the record the devpin CLI posts when a
// developer enters a shell.
func (a *API) handleReportSession(w http.ResponseWriter, r *http.Request) {
	var req inventory.SessionReport
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	model := sessionModel{
		ID:         uuid.New(),
		Platform:   req.Platform,
		Toolchain:  req.Toolchain,
		Version:    req.Version,
		LockDigest: req.LockDigest,
		Host:       toJSONMap(req.Host),
		StartedAt:  time.Now().UTC(),
	}
	if err := a.store.ORM.WithContext(ctx).Create(&model).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	session := model.toAPI()

	a.publish(r.Context(), sessionsReportedTopic, map[string]any{
		"session_id":  session.ID,
		"platform":    session.Platform,
		"toolchain":   session.Toolchain,
		"version":     session.Version,
		"lock_digest": session.LockDigest,
		"host":        session.Host,
		"started_at":  session.StartedAt,
	})

	respondJSON(w, http.StatusCreated, map[string]any{"session": session})
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		if parsed > 500 {
			parsed = 500
		}
		limit = parsed
	}

	query := `
        SELECT id, platform, toolchain, version, lock_digest, host, started_at
        FROM sessions
    `
	args := []any{}
	if digest := strings.TrimSpace(r.URL.Query().Get("lock_digest")); digest != "" {
		query += ` WHERE lock_digest = $1`
		args = append(args, digest)
	}
	query += ` ORDER BY started_at DESC LIMIT ` + strconv.Itoa(limit)

	var sessions []Session
	if err := db.Select(r.Context(), a.store.DB, &sessions, query, args...); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []Session{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
