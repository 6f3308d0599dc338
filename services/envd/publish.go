package envd

import "context"

// Control-plane event subjects. The ledger provisions the stream that
// retains them; publishing is best-effort so API writes never block on
// the bus.
const (
	locksUpdatedTopic     = "devpin.locks.updated"
	resolveStartedTopic   = "devpin.resolves.started"
	resolveFinishedTopic  = "devpin.resolves.finished"
	sessionsReportedTopic = "devpin.sessions.reported"
)

func (a *API) publish(ctx context.Context, subject string, payload map[string]any) {
	if a.store.Bus == nil || subject == "" {
		return
	}
	_ = a.store.Bus.Publish(ctx, subject, payload)
}
