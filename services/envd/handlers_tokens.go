package envd

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// handleCreateToken mints an API token. The plaintext value appears in
// this response only; the database keeps its hash.
func (a *API) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	value := uuid.New().String() + uuid.New().String()

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	model := tokenModel{
		ID:        uuid.New(),
		Name:      req.Name,
		Hash:      hashToken(value),
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.ORM.WithContext(ctx).Create(&model).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"token": model.toAPI(),
		"value": value,
	})
}
