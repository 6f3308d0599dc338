// Package envd is the devpin control plane: it keeps projects, their
// recorded locks, resolve passes, reported shell sessions, and the
// snapshot registry in Postgres, and hands out S3 mirror targets and
// presigned snapshot downloads.
package envd

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"devpin/pkg/bus"
	gos3 "devpin/pkg/s3"
)

// Project is a registered devpin project and its current descriptor.
type Project struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	Name       string         `json:"name" db:"name"`
	Descriptor map[string]any `json:"descriptor" db:"descriptor"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// Lock is one recorded lock generation for a project.
type Lock struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	ProjectID uuid.UUID      `json:"project_id" db:"project_id"`
	Digest    string         `json:"digest" db:"digest"`
	Inputs    map[string]any `json:"inputs" db:"inputs"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Resolve tracks one resolve pass from start to finish.
type Resolve struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	ProjectID  uuid.UUID  `json:"project_id" db:"project_id"`
	LockID     *uuid.UUID `json:"lock_id,omitempty" db:"lock_id"`
	Status     string     `json:"status" db:"status"`
	Error      string     `json:"error,omitempty" db:"error"`
	StartedAt  *time.Time `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// Session is one reported developer shell session.
type Session struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	Platform   string         `json:"platform" db:"platform"`
	Toolchain  string         `json:"toolchain" db:"toolchain"`
	Version    string         `json:"version" db:"version"`
	LockDigest string         `json:"lock_digest" db:"lock_digest"`
	Host       map[string]any `json:"host" db:"host"`
	StartedAt  time.Time      `json:"started_at" db:"started_at"`
}

// Snapshot is one registered input snapshot, addressed by content hash.
type Snapshot struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Revision  string         `json:"revision" db:"revision"`
	SHA256    string         `json:"sha256" db:"sha256"`
	Size      int64          `json:"size" db:"size"`
	Meta      map[string]any `json:"meta" db:"meta"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Token identifies an API token; the value itself is only returned once
// at creation and stored as a hash.
type Token struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Store holds external dependencies required by the API layer.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	S3  *gos3.Client
	Bus *bus.Bus
}
