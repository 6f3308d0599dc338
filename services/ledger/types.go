package ledger

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"devpin/services/inventory"
)

type resolveEvent struct {
	ResolveID  uuid.UUID  `json:"resolve_id"`
	ProjectID  uuid.UUID  `json:"project_id"`
	Status     string     `json:"status"`
	Error      string     `json:"error"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

func parseResolveEvent(data []byte) (resolveEvent, error) {
	var evt resolveEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return resolveEvent{}, err
	}
	if evt.ResolveID == uuid.Nil {
		return resolveEvent{}, errors.New("resolve_id missing from event")
	}
	return evt, nil
}

type lockEvent struct {
	ProjectID uuid.UUID `json:"project_id"`
	LockID    uuid.UUID `json:"lock_id"`
	Digest    string    `json:"digest"`
}

func parseLockEvent(data []byte) (lockEvent, error) {
	var evt lockEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return lockEvent{}, err
	}
	if evt.ProjectID == uuid.Nil {
		return lockEvent{}, errors.New("project_id missing from event")
	}
	if evt.LockID == uuid.Nil {
		return lockEvent{}, errors.New("lock_id missing from event")
	}
	return evt, nil
}

type sessionEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	inventory.SessionReport
}

type driftEvent struct {
	Project   string    `json:"project"`
	Locked    string    `json:"locked"`
	Resolved  string    `json:"resolved"`
	Changed   []string  `json:"changed"`
	CheckedAt time.Time `json:"checked_at"`
}
