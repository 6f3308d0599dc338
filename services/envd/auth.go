package envd

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"
)

// hashToken maps a presented token value onto its stored form. Only the
// hash ever touches the database.
func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

// requireToken rejects requests whose bearer token does not hash-match a
// registered token. Applied to /v1 only when auth is enabled; mint the
// first token before turning enforcement on.
func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value := bearerToken(r)
		if value == "" {
			respondError(w, http.StatusUnauthorized, errors.New("bearer token required"))
			return
		}

		ctx, cancel := withTimeout(r.Context())
		defer cancel()

		var model tokenModel
		err := a.store.ORM.WithContext(ctx).Where("hash = ?", hashToken(value)).First(&model).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			respondError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		case err != nil:
			respondError(w, http.StatusInternalServerError, err)
			return
		}

		now := time.Now().UTC()
		_ = a.store.ORM.WithContext(ctx).Model(&model).Update("last_used_at", now).Error

		next.ServeHTTP(w, r)
	})
}
