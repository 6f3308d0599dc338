// Package ledger consumes the control-plane event stream into the audit
// trail. It keeps resolve pass rows consistent with their lifecycle
// events, remembers which pass is active per project, and records lock,
// session, and drift events as audit entries.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"devpin/pkg/bus"
	"devpin/pkg/db"
	"devpin/services/inventory"
)

const (
	locksUpdatedSubject     = "devpin.locks.updated"
	resolveStartedSubject   = "devpin.resolves.started"
	resolveFinishedSubject  = "devpin.resolves.finished"
	sessionsReportedSubject = "devpin.sessions.reported"
	driftDetectedSubject    = "devpin.drift.detected"

	streamName = "DEVPIN"

	controlPlaneActor = "envd"
	shellActor        = "shell"
	watcherActor      = "syncd"
)

// Ledger subscribes to lifecycle events and writes the audit trail.
type Ledger struct {
	pool *pgxpool.Pool
	orm  *gorm.DB
	bus  *bus.Bus

	activeMu sync.RWMutex
	active   map[uuid.UUID]uuid.UUID

	subsMu sync.Mutex
	subs   []io.Closer
}

// New creates a ledger bound to the provided dependencies.
func New(pool *pgxpool.Pool, orm *gorm.DB, b *bus.Bus) (*Ledger, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if b == nil {
		return nil, errors.New("bus is required")
	}

	return &Ledger{
		pool:   pool,
		orm:    orm,
		bus:    b,
		active: make(map[uuid.UUID]uuid.UUID),
	}, nil
}

// Start provisions the event stream and registers the durable
// subscriptions, then returns; processing continues until the context
// is cancelled or Close is called.
func (l *Ledger) Start(ctx context.Context) error {
	if l == nil {
		return errors.New("nil ledger")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := l.bus.EnsureStream(streamName, []string{"devpin.>"}); err != nil {
		return err
	}

	specs := []struct {
		subject string
		durable string
		handler func(context.Context, []byte) error
	}{
		{resolveStartedSubject, "ledger-resolves-started", l.handleResolveStarted},
		{resolveFinishedSubject, "ledger-resolves-finished", l.handleResolveFinished},
		{locksUpdatedSubject, "ledger-locks", l.handleLockUpdated},
		{sessionsReportedSubject, "ledger-sessions", l.handleSessionReported},
		{driftDetectedSubject, "ledger-drift", l.handleDriftDetected},
	}

	for _, spec := range specs {
		closer, err := l.bus.Subscribe(ctx, spec.subject, spec.durable, spec.handler)
		if err != nil {
			l.Close()
			return err
		}
		l.subsMu.Lock()
		l.subs = append(l.subs, closer)
		l.subsMu.Unlock()
	}

	return nil
}

// Close tears down active subscriptions.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}

	l.subsMu.Lock()
	defer l.subsMu.Unlock()

	var firstErr error
	for _, sub := range l.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.subs = nil
	return firstErr
}

// Malformed events are dropped rather than returned as errors: a nack
// would redeliver them forever. Only transient failures, database
// writes mostly, propagate and trigger redelivery.

func (l *Ledger) handleResolveStarted(ctx context.Context, data []byte) error {
	evt, err := parseResolveEvent(data)
	if err != nil {
		return nil
	}

	details := map[string]any{"resolve_id": evt.ResolveID.String()}
	if evt.ProjectID != uuid.Nil {
		details["project_id"] = evt.ProjectID.String()
		if prev, ok := l.getActive(evt.ProjectID); ok && prev != evt.ResolveID {
			details["superseded"] = prev.String()
		}
		l.setActive(evt.ProjectID, evt.ResolveID)
	}

	if err := l.ensureResolveRow(ctx, evt); err != nil {
		return err
	}

	return inventory.Record(ctx, l.pool, inventory.Entry{
		Actor:   controlPlaneActor,
		Action:  "resolve_started",
		Obj:     evt.ResolveID.String(),
		Details: details,
	})
}

func (l *Ledger) handleResolveFinished(ctx context.Context, data []byte) error {
	evt, err := parseResolveEvent(data)
	if err != nil {
		return nil
	}
	status := strings.ToLower(strings.TrimSpace(evt.Status))
	if status != resolveStatusSucceeded && status != resolveStatusFailed {
		return nil
	}

	if evt.ProjectID != uuid.Nil {
		l.clearActive(evt.ProjectID, evt.ResolveID)
	}

	finishedAt := time.Now().UTC()
	if evt.FinishedAt != nil {
		finishedAt = evt.FinishedAt.UTC()
	}

	// Guarded by status so a redelivered event cannot flip a pass that
	// already reached a terminal state.
	err = l.orm.WithContext(ctx).
		Model(&resolveModel{}).
		Where("id = ? AND status = ?", evt.ResolveID, resolveStatusRunning).
		Updates(map[string]any{
			"status":      status,
			"error":       evt.Error,
			"finished_at": finishedAt,
		}).Error
	if err != nil {
		return err
	}

	return inventory.Record(ctx, l.pool, inventory.Entry{
		Actor:  controlPlaneActor,
		Action: "resolve_finished",
		Obj:    evt.ResolveID.String(),
		Details: map[string]any{
			"resolve_id": evt.ResolveID.String(),
			"status":     status,
			"error":      evt.Error,
		},
	})
}

func (l *Ledger) handleLockUpdated(ctx context.Context, data []byte) error {
	evt, err := parseLockEvent(data)
	if err != nil {
		return nil
	}

	changes, err := l.lockChanges(ctx, evt.ProjectID, evt.LockID)
	if err != nil {
		return err
	}

	return inventory.Record(ctx, l.pool, inventory.Entry{
		Actor:  controlPlaneActor,
		Action: "lock_recorded",
		Obj:    evt.ProjectID.String(),
		Details: map[string]any{
			"lock_id": evt.LockID.String(),
			"digest":  evt.Digest,
			"changes": changes,
		},
	})
}

func (l *Ledger) handleSessionReported(ctx context.Context, data []byte) error {
	var evt sessionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil
	}
	evt.Normalize()
	if evt.Validate() != nil {
		return nil
	}

	return inventory.Record(ctx, l.pool, inventory.Entry{
		Actor:  shellActor,
		Action: "session_reported",
		Obj:    evt.LockDigest,
		Details: map[string]any{
			"session_id": evt.SessionID.String(),
			"platform":   evt.Platform,
			"toolchain":  evt.Toolchain,
			"version":    evt.Version,
			"host":       evt.Host,
		},
	})
}

func (l *Ledger) handleDriftDetected(ctx context.Context, data []byte) error {
	var evt driftEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil
	}
	if strings.TrimSpace(evt.Project) == "" {
		return nil
	}

	return inventory.Record(ctx, l.pool, inventory.Entry{
		Actor:  watcherActor,
		Action: "drift_detected",
		Obj:    evt.Project,
		Details: map[string]any{
			"locked":     evt.Locked,
			"resolved":   evt.Resolved,
			"changed":    evt.Changed,
			"checked_at": evt.CheckedAt,
		},
	})
}

// ensureResolveRow records a pass the database has not seen yet. Events
// published by the control plane land on existing rows; passes reported
// by other producers get a running row created here.
func (l *Ledger) ensureResolveRow(ctx context.Context, evt resolveEvent) error {
	var existing resolveModel
	err := l.orm.WithContext(ctx).
		Where("id = ?", evt.ResolveID).
		First(&existing).Error
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	startedAt := time.Now().UTC()
	if evt.StartedAt != nil {
		startedAt = evt.StartedAt.UTC()
	}
	model := resolveModel{
		ID:        evt.ResolveID,
		Status:    resolveStatusRunning,
		StartedAt: &startedAt,
	}
	if evt.ProjectID != uuid.Nil {
		projectID := evt.ProjectID
		model.ProjectID = &projectID
	}
	return l.orm.WithContext(ctx).Create(&model).Error
}

// lockChanges diffs the new lock's pinned inputs against the previous
// lock of the same project. The first lock diffs against nothing and
// reports every input as new.
func (l *Ledger) lockChanges(ctx context.Context, projectID, lockID uuid.UUID) (map[string]map[string]any, error) {
	current, err := l.lockInputs(ctx, `
SELECT inputs
FROM locks
WHERE id = $1
`, lockID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return map[string]map[string]any{}, nil
		}
		return nil, err
	}

	previous, err := l.lockInputs(ctx, `
SELECT inputs
FROM locks
WHERE project_id = $1 AND id <> $2
ORDER BY created_at DESC
LIMIT 1
`, projectID, lockID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	return inventory.Diff(previous, current), nil
}

func (l *Ledger) lockInputs(ctx context.Context, query string, args ...any) (map[string]any, error) {
	var raw []byte
	if err := db.Get(ctx, l.pool, &raw, query, args...); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var inputs map[string]any
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}

func (l *Ledger) setActive(projectID, resolveID uuid.UUID) {
	l.activeMu.Lock()
	defer l.activeMu.Unlock()
	if l.active == nil {
		l.active = make(map[uuid.UUID]uuid.UUID)
	}
	l.active[projectID] = resolveID
}

func (l *Ledger) clearActive(projectID, resolveID uuid.UUID) {
	l.activeMu.Lock()
	defer l.activeMu.Unlock()
	if current, ok := l.active[projectID]; ok && current == resolveID {
		delete(l.active, projectID)
	}
}

func (l *Ledger) getActive(projectID uuid.UUID) (uuid.UUID, bool) {
	l.activeMu.RLock()
	defer l.activeMu.RUnlock()
	resolveID, ok := l.active[projectID]
	return resolveID, ok
}
