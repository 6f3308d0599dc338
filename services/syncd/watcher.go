// Package syncd watches locked projects for pin drift. It polls each
// registered project directory, re-resolves the descriptor against the
// live sources, and publishes an event when the lock on disk no longer
// matches what resolution produces. The watcher never rewrites a lock;
// repinning stays a deliberate act in the project's own workflow.
package syncd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"devpin/pkg/bus"
	"devpin/pkg/fetch"
	"devpin/services/shell"
)

const (
	defaultInterval = 5 * time.Minute
	driftTopicName  = "devpin.drift.detected"
)

// Status is the latest check outcome for one watched project.
type Status struct {
	Project  string `json:"project"`
	Locked   string `json:"locked,omitempty"`
	Resolved string `json:"resolved,omitempty"`
	InSync   bool   `json:"in_sync"`
	// Changed lists the inputs whose pins moved, sorted by name.
	Changed   []string  `json:"changed,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Config carries the watcher knobs.
type Config struct {
	// Projects are the directories to watch, each holding a descriptor
	// and a lock.
	Projects []string
	// Interval between sweeps. Defaults to five minutes.
	Interval time.Duration
	// Store overrides the default snapshot store.
	Store *fetch.Store
	// HTTPClient overrides the default fetch client.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Watcher polls project directories and publishes drift events. A nil
// bus disables publishing; drift still shows up in the status view.
type Watcher struct {
	bus *bus.Bus
	cfg Config

	mu     sync.RWMutex
	status map[string]Status
}

// NewWatcher builds a Watcher over the given project directories.
func NewWatcher(b *bus.Bus, cfg Config) (*Watcher, error) {
	projects := make([]string, 0, len(cfg.Projects))
	seen := make(map[string]struct{}, len(cfg.Projects))
	for _, raw := range cfg.Projects {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		projects = append(projects, p)
	}
	if len(projects) == 0 {
		return nil, errors.New("at least one project directory is required")
	}
	cfg.Projects = projects

	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Store == nil {
		root, err := fetch.DefaultRoot()
		if err != nil {
			return nil, fmt.Errorf("locate snapshot store: %w", err)
		}
		store, err := fetch.NewStore(root)
		if err != nil {
			return nil, err
		}
		cfg.Store = store
	}

	return &Watcher{
		bus:    b,
		cfg:    cfg,
		status: make(map[string]Status, len(projects)),
	}, nil
}

// Start begins sweeping and blocks until the context is cancelled. The
// first sweep reports the current view so consumers catch up without
// waiting a full interval.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("nil watcher")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	w.sweep(ctx, true)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx, false)
		}
	}
}

// Status returns a copy of the latest check outcome per project,
// sorted by project path.
func (w *Watcher) Status() []Status {
	if w == nil {
		return nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Status, 0, len(w.status))
	for _, st := range w.status {
		st.Changed = append([]string(nil), st.Changed...)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}

// sweep checks every project once. Check failures land in the status
// view instead of stopping the loop; a source being unreachable is a
// finding about that project, not a watcher fault.
func (w *Watcher) sweep(ctx context.Context, force bool) {
	for _, dir := range w.cfg.Projects {
		if ctx.Err() != nil {
			return
		}
		current := w.check(ctx, dir)

		w.mu.Lock()
		prev, had := w.status[dir]
		w.status[dir] = current
		w.mu.Unlock()

		if had && !statusChanged(prev, current) && !force {
			continue
		}
		w.report(ctx, current)
	}
}

// statusChanged ignores the check timestamp; a sweep that reproduces
// the same outcome is not news.
func statusChanged(prev, current Status) bool {
	prev.CheckedAt = current.CheckedAt
	return !reflect.DeepEqual(prev, current)
}

func (w *Watcher) check(ctx context.Context, dir string) Status {
	st := Status{Project: dir, CheckedAt: time.Now().UTC()}

	report, err := shell.Verify(ctx, shell.Config{
		Dir:        dir,
		Store:      w.cfg.Store,
		HTTPClient: w.cfg.HTTPClient,
		Logger:     w.cfg.Logger,
	})
	if err != nil {
		st.Error = err.Error()
		return st
	}

	st.Locked = report.Locked
	st.Resolved = report.Resolved
	st.InSync = report.InSync()
	st.Changed = report.Changed
	return st
}

// report logs the outcome and publishes drifted states. In-sync and
// failed checks are log-only so the drift stream stays actionable.
func (w *Watcher) report(ctx context.Context, st Status) {
	log := w.cfg.Logger.With().Str("project", st.Project).Logger()

	switch {
	case st.Error != "":
		log.Warn().Str("error", st.Error).Msg("project check failed")
	case st.InSync:
		log.Info().Str("lock", st.Locked).Msg("project in sync")
	default:
		log.Warn().Strs("changed", st.Changed).Msg("pin drift detected")
		if w.bus == nil {
			return
		}
		payload := map[string]any{
			"project":    st.Project,
			"locked":     st.Locked,
			"resolved":   st.Resolved,
			"changed":    st.Changed,
			"checked_at": st.CheckedAt,
		}
		// The message ID makes repeated sweeps of the same drifted
		// state collapse into one stream entry.
		id := st.Project + "@" + st.Locked + "@" + st.Resolved
		if err := w.bus.PublishMsgID(ctx, driftTopicName, id, payload); err != nil {
			log.Warn().Err(err).Msg("publish drift event")
		}
	}
}
