package envd

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"devpin/pkg/db"
	"devpin/pkg/descriptor"
)

// validateDescriptorMap runs the submitted descriptor through the same
// validation the CLI applies to devpin.yaml.
func validateDescriptorMap(m map[string]any) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	if _, err := descriptor.Parse(data); err != nil {
		return err
	}
	return nil
}

func (a *API) handleUpsertProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string         `json:"name"`
		Descriptor map[string]any `json:"descriptor"`
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
	if len(req.Descriptor) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("descriptor is required"))
		return
	}
	if err := validateDescriptorMap(req.Descriptor); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("descriptor: %w", err))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var existing projectModel
	err := orm.Where("name = ?", req.Name).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		now := time.Now().UTC()
		model := projectModel{
			ID:         uuid.New(),
			Name:       req.Name,
			Descriptor: toJSONMap(req.Descriptor),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := orm.Create(&model).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusCreated, map[string]any{"project": model.toAPI()})
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		updates := map[string]any{
			"descriptor": toJSONMap(req.Descriptor),
			"updated_at": time.Now().UTC(),
		}
		if err := orm.Model(&existing).Updates(updates).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if err := orm.First(&existing, "id = ?", existing.ID).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"project": existing.toAPI()})
	}
}

func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	var projects []Project
	err := db.Select(r.Context(), a.store.DB, &projects, `
        SELECT id, name, descriptor, created_at, updated_at
        FROM projects
        ORDER BY name
    `)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if projects == nil {
		projects = []Project{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid project id is required"))
		return
	}

	project, err := a.fetchProject(r, projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("project %s not found", projectID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (a *API) fetchProject(r *http.Request, id uuid.UUID) (Project, error) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var model projectModel
	if err := a.store.ORM.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return Project{}, err
	}
	return model.toAPI(), nil
}
