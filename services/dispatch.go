package services

import (
	"context"
	"log"
	"time"

	"github.com/freshnest/fieldops/db"
)

// DispatchOutcome describes what a dispatch request resulted in.
type DispatchOutcome string

const (
	DispatchOffered           DispatchOutcome = "offered"
	DispatchRouted            DispatchOutcome = "routed"
	DispatchEscalated         DispatchOutcome = "escalated"
	DispatchNeedsManual       DispatchOutcome = "needs_manual"
	DispatchAlreadyDispatched DispatchOutcome = "already_dispatched"
)

// DispatchService is the single entry point for every trigger that makes a
// job eligible for fieldwork: payment confirmation, manual operator action,
// or a scheduled recompute. It consults the idempotency guard, picks the
// tenant's dispatch mode from the tenant record, and routes to the cascade
// or the batch route assigner.
type DispatchService struct {
	Jobs    *JobService
	Ledger  *LedgerService
	Cascade *CascadeService
	Routes  *RoutePlanService

	GuardWindow time.Duration
}

func NewDispatchService(jobs *JobService, ledger *LedgerService, cascade *CascadeService,
	routes *RoutePlanService, guardWindow time.Duration) *DispatchService {
	return &DispatchService{
		Jobs:        jobs,
		Ledger:      ledger,
		Cascade:     cascade,
		Routes:      routes,
		GuardWindow: guardWindow,
	}
}

// Dispatch routes one job to its tenant's assignment path. Duplicate
// triggers inside the guard window return already_dispatched with no side
// effects; the guard is best-effort, so a race inside the window can at
// worst duplicate a notification, never an assignment (those are protected
// by the conditional writes in the cascade and route services).
func (s *DispatchService) Dispatch(ctx context.Context, jobID string) (DispatchOutcome, error) {
	job, err := s.Jobs.GetJob(jobID)
	if err != nil {
		return "", err
	}

	key := JobKey(jobID)

	if !s.Ledger.Reserve(ctx, key, db.EventDispatchRequested, s.GuardWindow) {
		return s.duplicate(key, jobID)
	}
	recent, err := s.Ledger.HasRecentEvent(key, db.EventDispatchRequested, s.GuardWindow)
	if err != nil {
		// The guard degrades open: a broken lookup must not stop a
		// legitimate dispatch.
		log.Printf("Dispatch: guard lookup failed for job %s, proceeding: %v", jobID, err)
	}
	if recent {
		return s.duplicate(key, jobID)
	}

	_ = s.Ledger.Append(db.EventDispatchRequested, key, map[string]interface{}{
		"tenant_id": job.TenantID,
	})

	tenant, err := s.Jobs.GetTenant(job.TenantID)
	if err != nil {
		return "", err
	}

	var outcome DispatchOutcome
	var path string

	if tenant.DispatchMode == db.DispatchModeRoutes {
		path = db.DispatchModeRoutes
		outcome, err = s.dispatchRoutes(ctx, job)
	} else {
		path = db.DispatchModeCascade
		outcome, err = s.dispatchCascade(ctx, job)
	}
	if err != nil {
		return "", err
	}

	_ = s.Ledger.Append(db.EventDispatchCompleted, key, map[string]interface{}{
		"path":    path,
		"outcome": string(outcome),
	})

	log.Printf("Dispatch: job %s dispatched via %s, outcome %s", jobID, path, outcome)

	return outcome, nil
}

func (s *DispatchService) dispatchCascade(ctx context.Context, job *db.Job) (DispatchOutcome, error) {
	placed, err := s.Cascade.Offer(ctx, job.ID, nil)
	if err != nil {
		return "", err
	}
	if placed {
		return DispatchOffered, nil
	}

	if err := s.Cascade.Escalation.EscalateExhausted(ctx, job.ID, ""); err != nil {
		log.Printf("Dispatch: escalation for job %s reported error: %v", job.ID, err)
	}
	return DispatchEscalated, nil
}

func (s *DispatchService) dispatchRoutes(ctx context.Context, job *db.Job) (DispatchOutcome, error) {
	plan, err := s.Routes.Reoptimize(ctx, job.ID, job.ServiceDate, job.TenantID)
	if err != nil {
		return "", err
	}

	for _, u := range plan.Unassignable {
		if u.JobID == job.ID {
			return DispatchNeedsManual, nil
		}
	}

	return DispatchRouted, nil
}

func (s *DispatchService) duplicate(key, jobID string) (DispatchOutcome, error) {
	_ = s.Ledger.Append(db.EventIdempotencyHit, key, map[string]interface{}{
		"window_seconds": int(s.GuardWindow.Seconds()),
	})
	log.Printf("Dispatch: duplicate trigger for job %s inside guard window, skipping", jobID)
	return DispatchAlreadyDispatched, nil
}
