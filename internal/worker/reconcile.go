package worker

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/parley/internal/triage"
)

// DefaultReconcileInterval is how often due follow-ups are swept.
const DefaultReconcileInterval = time.Minute

// Reconciler periodically reopens deferred conversations whose follow-up
// time has passed.
type Reconciler struct {
	svc      *triage.Service
	logger   log.Logger
	interval time.Duration
}

// NewReconciler creates a reconciler. interval <= 0 uses the default.
func NewReconciler(svc *triage.Service, logger log.Logger, interval time.Duration) *Reconciler {
	if logger == nil {
		logger = log.Nop()
	}
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{svc: svc, logger: logger, interval: interval}
}

// Tick runs one reconciliation sweep at the given time.
func (r *Reconciler) Tick(ctx context.Context, now time.Time) (int, error) {
	return r.svc.ReconcileFollowups(ctx, now)
}

// Run sweeps on the configured interval until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			if _, err := r.Tick(ctx, now); err != nil {
				r.logger.Error(ctx, err, "follow-up reconciliation failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
