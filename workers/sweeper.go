package workers

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"devbout/ledger"
	"devbout/settlement"
)

// ReconciliationSweeper resolves actions stuck in SUBMITTED: the process may
// have crashed between the backend's acknowledgement and the ledger update,
// or the external system may simply still be working. Each pass claims stuck
// rows one at a time, asks the backend for the truth, and records it.
type ReconciliationSweeper struct {
	Store   *ledger.Store
	Backend settlement.Backend

	// StuckAfter is how long a row may sit in SUBMITTED before a pass picks
	// it up. MaxAge is how long an action with no external record is given
	// before it is declared lost and FAILED.
	StuckAfter time.Duration
	MaxAge     time.Duration
	BatchSize  int
}

func NewReconciliationSweeper(store *ledger.Store, backend settlement.Backend) *ReconciliationSweeper {
	stuckAfter := 2 * time.Minute
	if v := os.Getenv("SWEEPER_STUCK_AFTER_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			stuckAfter = time.Duration(n) * time.Second
		}
	}
	maxAge := 24 * time.Hour
	if v := os.Getenv("SWEEPER_MAX_AGE_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxAge = time.Duration(n) * time.Hour
		}
	}

	return &ReconciliationSweeper{
		Store:      store,
		Backend:    backend,
		StuckAfter: stuckAfter,
		MaxAge:     maxAge,
		BatchSize:  50,
	}
}

// Run polls until the context is cancelled.
func (w *ReconciliationSweeper) Run(ctx context.Context, pollInterval time.Duration) {
	log.Println("Starting settlement reconciliation sweeper...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciliation sweeper stopped.")
			return
		case <-ticker.C:
			if err := w.SweepOnce(ctx); err != nil {
				log.Printf("❌ Reconciliation pass failed: %v", err)
			}
		}
	}
}

// SweepOnce runs a single reconciliation pass over both ledger tables.
func (w *ReconciliationSweeper) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.StuckAfter)

	contributions, err := w.Store.StuckContributions(cutoff, w.BatchSize)
	if err != nil {
		return err
	}
	claims, err := w.Store.StuckClaims(cutoff, w.BatchSize)
	if err != nil {
		return err
	}

	if len(contributions) == 0 && len(claims) == 0 {
		return nil
	}
	log.Printf("🔎 Reconciling %d contribution(s) and %d claim(s)...", len(contributions), len(claims))

	for _, c := range contributions {
		w.reconcile(ctx, reconcileTarget{
			id:          c.ID,
			externalRef: derefRef(c.ExternalRef),
			submittedAt: c.SubmittedAt,
			begin:       w.Store.BeginContributionReconcile,
			abort:       w.Store.AbortContributionReconcile,
			confirm: func(id string) error {
				_, err := w.Store.MarkContributionConfirmed(id)
				return err
			},
			fail: func(id, reason string) error {
				_, err := w.Store.MarkContributionFailed(id, reason)
				return err
			},
		})
	}
	for _, c := range claims {
		w.reconcile(ctx, reconcileTarget{
			id:          c.ID,
			externalRef: derefRef(c.ExternalRef),
			submittedAt: c.SubmittedAt,
			begin:       w.Store.BeginClaimReconcile,
			abort:       w.Store.AbortClaimReconcile,
			confirm: func(id string) error {
				_, err := w.Store.MarkClaimConfirmed(id)
				return err
			},
			fail: func(id, reason string) error {
				_, err := w.Store.MarkClaimFailed(id, reason)
				return err
			},
		})
	}
	return nil
}

// reconcileTarget abstracts over the two ledger tables so one pass handles
// both lifecycles.
type reconcileTarget struct {
	id          string
	externalRef string
	submittedAt *time.Time
	begin       func(id string) (bool, error)
	abort       func(id string) error
	confirm     func(id string) error
	fail        func(id, reason string) error
}

func (w *ReconciliationSweeper) reconcile(ctx context.Context, t reconcileTarget) {
	claimed, err := t.begin(t.id)
	if err != nil {
		log.Printf("❌ Failed to claim action %s for reconciliation: %v", t.id, err)
		return
	}
	if !claimed {
		// Another sweeper instance, or a concurrent confirmation, got here
		// first.
		return
	}

	status, err := w.Backend.QueryStatus(ctx, t.externalRef)
	if err != nil {
		log.Printf("⚠️ Status query failed for %s (%s), will retry next pass: %v", t.id, t.externalRef, err)
		if abortErr := t.abort(t.id); abortErr != nil {
			log.Printf("❌ Failed to release reconcile claim on %s: %v", t.id, abortErr)
		}
		return
	}

	switch status {
	case settlement.StatusFinal:
		if err := t.confirm(t.id); err != nil {
			log.Printf("❌ Failed to confirm %s: %v", t.id, err)
			return
		}
		log.Printf("✅ Reconciled %s as CONFIRMED (%s)", t.id, t.externalRef)

	case settlement.StatusNotFound:
		// The backend has no record. Young submissions get the benefit of
		// the doubt (indexing lag); past MaxAge they are declared lost.
		if t.submittedAt != nil && time.Since(*t.submittedAt) > w.MaxAge {
			if err := t.fail(t.id, "external record missing after reconciliation window"); err != nil {
				log.Printf("❌ Failed to mark %s FAILED: %v", t.id, err)
				return
			}
			log.Printf("🛑 Reconciled %s as FAILED: no external record after %s", t.id, w.MaxAge)
			return
		}
		if err := t.abort(t.id); err != nil {
			log.Printf("❌ Failed to release reconcile claim on %s: %v", t.id, err)
		}

	default: // still pending externally
		if err := t.abort(t.id); err != nil {
			log.Printf("❌ Failed to release reconcile claim on %s: %v", t.id, err)
		}
	}
}

func derefRef(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
