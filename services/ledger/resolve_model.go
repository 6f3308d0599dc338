package ledger

import (
	"time"

	"github.com/google/uuid"
)

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

const (
	resolveStatusRunning   = "running"
	resolveStatusSucceeded = "succeeded"
	resolveStatusFailed    = "failed"
)
