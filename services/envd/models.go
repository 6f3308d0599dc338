package envd

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type projectModel struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Name       string            `gorm:"type:text;uniqueIndex;not null"`
	Descriptor datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt  time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (projectModel) TableName() string { return "projects" }

func (m projectModel) toAPI() Project {
	return Project{
		ID:         m.ID,
		Name:       m.Name,
		Descriptor: mapFromJSONMap(m.Descriptor),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

type lockModel struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ProjectID uuid.UUID         `gorm:"type:uuid;not null;index"`
	Digest    string            `gorm:"type:text;not null;index"`
	Inputs    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (lockModel) TableName() string { return "locks" }

func (m lockModel) toAPI() Lock {
	return Lock{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		Digest:    m.Digest,
		Inputs:    mapFromJSONMap(m.Inputs),
		CreatedAt: m.CreatedAt,
	}
}

type resolveModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ProjectID  *uuid.UUID `gorm:"type:uuid"`
	LockID     *uuid.UUID `gorm:"type:uuid"`
	Status     string     `gorm:"type:text"`
	Error      string     `gorm:"type:text"`
	StartedAt  *time.Time `gorm:"type:timestamptz"`
	FinishedAt *time.Time `gorm:"type:timestamptz"`
}

func (resolveModel) TableName() string { return "resolves" }

func (m resolveModel) toAPI() Resolve {
	return Resolve{
		ID:         m.ID,
		ProjectID:  valueOrZero(m.ProjectID),
		LockID:     m.LockID,
		Status:     m.Status,
		Error:      m.Error,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
}

type sessionModel struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Platform   string            `gorm:"type:text;not null"`
	Toolchain  string            `gorm:"type:text;not null"`
	Version    string            `gorm:"type:text;not null"`
	LockDigest string            `gorm:"type:text;index"`
	Host       datatypes.JSONMap `gorm:"type:jsonb"`
	StartedAt  time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (sessionModel) TableName() string { return "sessions" }

func (m sessionModel) toAPI() Session {
	return Session{
		ID:         m.ID,
		Platform:   m.Platform,
		Toolchain:  m.Toolchain,
		Version:    m.Version,
		LockDigest: m.LockDigest,
		Host:       mapFromJSONMap(m.Host),
		StartedAt:  m.StartedAt,
	}
}

type snapshotModel struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Name      string            `gorm:"type:text;not null"`
	Revision  string            `gorm:"type:text;not null"`
	SHA256    string            `gorm:"type:text;uniqueIndex;not null"`
	Size      int64             `gorm:"type:bigint"`
	Meta      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (snapshotModel) TableName() string { return "snapshots" }

func (m snapshotModel) toAPI() Snapshot {
	return Snapshot{
		ID:        m.ID,
		Name:      m.Name,
		Revision:  m.Revision,
		SHA256:    m.SHA256,
		Size:      m.Size,
		Meta:      mapFromJSONMap(m.Meta),
		CreatedAt: m.CreatedAt,
	}
}

type tokenModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name       string     `gorm:"type:text;not null"`
	Hash       string     `gorm:"type:text;uniqueIndex;not null"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	LastUsedAt *time.Time `gorm:"type:timestamptz"`
}

func (tokenModel) TableName() string { return "tokens" }

func (m tokenModel) toAPI() Token {
	return Token{
		ID:         m.ID,
		Name:       m.Name,
		CreatedAt:  m.CreatedAt,
		LastUsedAt: m.LastUsedAt,
	}
}

func mapFromJSONMap(src datatypes.JSONMap) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func toJSONMap(src map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	if src == nil {
		return out
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func valueOrZero(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
