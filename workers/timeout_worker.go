package workers

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/freshnest/fieldops/services"
)

// TimeoutWorker advances cascades whose current offer was never answered.
// A pending assignment does not block anything in-process; this sweep is
// the scheduled re-entrant check that expires it. The cascade's conditional
// update re-validates state, so an assignment answered between the scan and
// the call is simply a no-op.
type TimeoutWorker struct {
	PG      *sql.DB
	Cascade *services.CascadeService

	OfferTimeout  time.Duration
	SweepInterval time.Duration
}

func NewTimeoutWorker(pg *sql.DB, cascade *services.CascadeService,
	offerTimeout, sweepInterval time.Duration) *TimeoutWorker {
	return &TimeoutWorker{
		PG:            pg,
		Cascade:       cascade,
		OfferTimeout:  offerTimeout,
		SweepInterval: sweepInterval,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *TimeoutWorker) Start(ctx context.Context) {
	log.Printf("Timeout worker started, sweeping every %s (offer timeout %s)",
		w.SweepInterval, w.OfferTimeout)

	ticker := time.NewTicker(w.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Timeout worker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *TimeoutWorker) sweep(ctx context.Context) {
	expired, err := w.expiredAssignments()
	if err != nil {
		log.Printf("Timeout worker: failed to scan pending assignments: %v", err)
		return
	}

	if len(expired) == 0 {
		return
	}

	log.Printf("Timeout worker: found %d expired offers", len(expired))

	for _, assignmentID := range expired {
		outcome, err := w.Cascade.OnTimeout(ctx, assignmentID)
		if err != nil {
			log.Printf("Timeout worker: failed to expire assignment %s: %v", assignmentID, err)
			continue
		}
		log.Printf("Timeout worker: assignment %s expired, outcome %s", assignmentID, outcome)
	}
}

// expiredAssignments lists pending offers past their response deadline.
// SKIP LOCKED keeps concurrent worker replicas from fighting over the same
// rows.
func (w *TimeoutWorker) expiredAssignments() ([]string, error) {
	rows, err := w.PG.Query(`
		SELECT id FROM assignments
		WHERE status = 'pending'
		AND offered_at < NOW() - $1::interval
		ORDER BY offered_at ASC
		LIMIT 50
		FOR UPDATE SKIP LOCKED
	`, fmt.Sprintf("%d seconds", int(w.OfferTimeout.Seconds())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			log.Printf("Timeout worker: error scanning assignment id: %v", err)
			continue
		}
		ids = append(ids, id)
	}

	return ids, nil
}
