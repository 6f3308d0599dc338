package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Project struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Name       string            `gorm:"type:text;uniqueIndex;not null"`
	Descriptor datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt  time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Lock struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ProjectID uuid.UUID         `gorm:"type:uuid;not null;index"`
	Digest    string            `gorm:"type:text;not null;index"`
	Inputs    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Project   Project           `gorm:"foreignKey:ProjectID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Resolve struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ProjectID  *uuid.UUID `gorm:"type:uuid"`
	LockID     *uuid.UUID `gorm:"type:uuid"`
	Status     string     `gorm:"type:text"`
	Error      string     `gorm:"type:text"`
	StartedAt  *time.Time `gorm:"type:timestamptz"`
	FinishedAt *time.Time `gorm:"type:timestamptz"`
	Project    Project    `gorm:"foreignKey:ProjectID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
	Lock       Lock       `gorm:"foreignKey:LockID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

type Session struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Platform   string            `gorm:"type:text;not null"`
	Toolchain  string            `gorm:"type:text;not null"`
	Version    string            `gorm:"type:text;not null"`
	LockDigest string            `gorm:"type:text;index"`
	Host       datatypes.JSONMap `gorm:"type:jsonb"`
	StartedAt  time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Snapshot struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Name      string            `gorm:"type:text;not null"`
	Revision  string            `gorm:"type:text;not null"`
	SHA256    string            `gorm:"type:text;uniqueIndex;not null"`
	Size      int64             `gorm:"type:bigint"`
	Meta      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Token struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name       string     `gorm:"type:text;not null"`
	Hash       string     `gorm:"type:text;uniqueIndex;not null"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	LastUsedAt *time.Time `gorm:"type:timestamptz"`
}

type Audit struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Audit) TableName() string { return "audit" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Project{},
		&Lock{},
		&Resolve{},
		&Session{},
		&Snapshot{},
		&Token{},
		&Audit{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&Lock{}, "Project"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Resolve{}, "Project"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Resolve{}, "Lock"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&Audit{},
		&Token{},
		&Snapshot{},
		&Session{},
		&Resolve{},
		&Lock{},
		&Project{},
	); err != nil {
		return err
	}

	return nil
}
