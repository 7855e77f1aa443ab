package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/freshnest/fieldops/db"
)

// RouteOptimizer computes a full-day route plan for one tenant. The
// geometry is a black box behind this interface; the dispatch core only
// cares whether a feasible plan came back.
type RouteOptimizer interface {
	PlanDay(ctx context.Context, tenantID string, serviceDate time.Time,
		jobs []db.Job, cleaners []db.Cleaner) (*db.RoutePlan, error)
}

// RoutePlanService recomputes the whole day's assignments for tenants that
// pre-plan routes. Every trigger recomputes the full plan including the new
// job; nothing is patched incrementally. The plan is persisted in one
// transaction, and only the cleaner affected by the triggering job is
// notified immediately (address redacted); full manifests are distributed
// later by the scheduled worker.
type RoutePlanService struct {
	PG         *sql.DB
	Jobs       *JobService
	Ledger     *LedgerService
	Push       *PushService
	Escalation *EscalationService
	Optimizer  RouteOptimizer
}

func NewRoutePlanService(pg *sql.DB, jobs *JobService, ledger *LedgerService,
	push *PushService, escalation *EscalationService, optimizer RouteOptimizer) *RoutePlanService {
	return &RoutePlanService{
		PG:         pg,
		Jobs:       jobs,
		Ledger:     ledger,
		Push:       push,
		Escalation: escalation,
		Optimizer:  optimizer,
	}
}

// Reoptimize recomputes and persists the route plan for the tenant's
// service date, then notifies the cleaner newly affected by jobID. A
// failed optimizer falls back to the nearest-cleaner heuristic; if that
// cannot place the triggering job either, the job escalates with a
// distinct reason code.
func (s *RoutePlanService) Reoptimize(ctx context.Context, jobID string, serviceDate time.Time, tenantID string) (*db.RoutePlan, error) {
	jobs, err := s.dayJobs(tenantID, serviceDate)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no jobs for tenant %s on %s", tenantID, serviceDate.Format("2006-01-02"))
	}

	cleaners, err := s.activeCleaners(tenantID)
	if err != nil {
		return nil, err
	}

	plan, err := s.Optimizer.PlanDay(ctx, tenantID, serviceDate, jobs, cleaners)
	if err != nil || plan == nil || len(plan.Stops) == 0 {
		if err != nil {
			log.Printf("Routes: optimizer failed for tenant %s on %s: %v",
				tenantID, serviceDate.Format("2006-01-02"), err)
		} else {
			log.Printf("Routes: optimizer returned no feasible plan for tenant %s on %s",
				tenantID, serviceDate.Format("2006-01-02"))
		}
		plan = s.nearestCleanerPlan(tenantID, serviceDate, jobs, cleaners)
	}

	// An empty plan must never replace the stored day: wiping route_stops
	// would orphan jobs that were placed on earlier triggers. Keep the
	// previous plan and let the escalation below handle the new job.
	if len(plan.Stops) == 0 {
		log.Printf("Routes: no placeable jobs for tenant %s on %s, keeping existing plan",
			tenantID, serviceDate.Format("2006-01-02"))
	} else if err := s.persistPlan(plan); err != nil {
		return nil, err
	}

	s.notifyAffected(ctx, plan, jobID, cleaners)

	_ = s.Ledger.Append(db.EventRoutePlanApplied, JobKey(jobID), map[string]interface{}{
		"tenant_id":    tenantID,
		"service_date": serviceDate.Format("2006-01-02"),
		"stops":        len(plan.Stops),
		"unassignable": len(plan.Unassignable),
	})

	// The triggering job failing to place is the caller's escalation
	// signal; other unplaced jobs were already escalated on their own
	// triggers.
	for _, u := range plan.Unassignable {
		if u.JobID == jobID {
			if err := s.Escalation.EscalateOptimizerFailure(ctx, jobID, u.Reason); err != nil {
				log.Printf("Routes: escalation for job %s reported error: %v", jobID, err)
			}
			break
		}
	}

	return plan, nil
}

// dayJobs loads every non-retired job for the tenant and date, including
// already-planned ones: the whole day is always recomputed.
func (s *RoutePlanService) dayJobs(tenantID string, serviceDate time.Time) ([]db.Job, error) {
	rows, err := s.PG.Query(`
		SELECT id, tenant_id, service_type, status, service_date, start_time,
		       customer_name, customer_phone, address, latitude, longitude, price_cents
		FROM jobs
		WHERE tenant_id = $1
		AND service_date = $2
		AND retired_at IS NULL
		AND status <> $3
		ORDER BY start_time ASC
	`, tenantID, serviceDate, db.JobStatusNeedsManual)
	if err != nil {
		return nil, fmt.Errorf("failed to query day jobs: %w", err)
	}
	defer rows.Close()

	var jobs []db.Job
	for rows.Next() {
		var job db.Job
		if err := rows.Scan(
			&job.ID, &job.TenantID, &job.ServiceType, &job.Status, &job.ServiceDate, &job.StartTime,
			&job.CustomerName, &job.CustomerPhone, &job.Address, &job.Latitude, &job.Longitude, &job.PriceCents,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (s *RoutePlanService) activeCleaners(tenantID string) ([]db.Cleaner, error) {
	rows, err := s.PG.Query(`
		SELECT id, tenant_id, name, phone, role, is_active,
		       home_latitude, home_longitude, COALESCE(push_token, '')
		FROM cleaners
		WHERE tenant_id = $1 AND is_active = true
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cleaners: %w", err)
	}
	defer rows.Close()

	var cleaners []db.Cleaner
	for rows.Next() {
		var c db.Cleaner
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Role, &c.IsActive,
			&c.HomeLatitude, &c.HomeLongitude, &c.PushToken); err != nil {
			return nil, fmt.Errorf("failed to scan cleaner: %w", err)
		}
		cleaners = append(cleaners, c)
	}

	return cleaners, nil
}

// nearestCleanerPlan is the fallback heuristic: each job goes to the
// closest cleaner by static home location. Jobs stay unassignable when no
// cleaner has location data.
func (s *RoutePlanService) nearestCleanerPlan(tenantID string, serviceDate time.Time,
	jobs []db.Job, cleaners []db.Cleaner) *db.RoutePlan {
	plan := &db.RoutePlan{
		TenantID:    tenantID,
		ServiceDate: serviceDate,
	}

	var located []db.Cleaner
	for _, c := range cleaners {
		if c.HomeLatitude != 0 || c.HomeLongitude != 0 {
			located = append(located, c)
		}
	}

	if len(located) == 0 {
		for _, job := range jobs {
			plan.Unassignable = append(plan.Unassignable, db.UnassignableJob{
				JobID:  job.ID,
				Reason: db.UnassignableNoTeams,
			})
		}
		return plan
	}

	perCleaner := make(map[string]int)
	for _, job := range jobs {
		best := -1
		bestDist := math.MaxFloat64
		for i, c := range located {
			d := haversineKm(job.Latitude, job.Longitude, c.HomeLatitude, c.HomeLongitude)
			if d < bestDist {
				bestDist = d
				best = i
			}
		}

		cleaner := located[best]
		perCleaner[cleaner.ID]++
		plan.Stops = append(plan.Stops, db.RouteStop{
			JobID:      job.ID,
			CleanerID:  cleaner.ID,
			RouteOrder: perCleaner[cleaner.ID],
		})
	}

	log.Printf("Routes: heuristic fallback placed %d jobs across %d cleaners for tenant %s",
		len(plan.Stops), len(perCleaner), tenantID)

	return plan
}

// persistPlan applies the full plan in one transaction: replace the stored
// stops for the day, update each planned job's cleaner reference, and
// invalidate superseded pending offers.
func (s *RoutePlanService) persistPlan(plan *db.RoutePlan) error {
	tx, err := s.PG.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		DELETE FROM route_stops WHERE tenant_id = $1 AND service_date = $2
	`, plan.TenantID, plan.ServiceDate)
	if err != nil {
		return fmt.Errorf("failed to clear previous plan: %w", err)
	}

	for _, stop := range plan.Stops {
		_, err = tx.Exec(`
			INSERT INTO route_stops (tenant_id, service_date, job_id, cleaner_id, route_order)
			VALUES ($1, $2, $3, $4, $5)
		`, plan.TenantID, plan.ServiceDate, stop.JobID, stop.CleanerID, stop.RouteOrder)
		if err != nil {
			return fmt.Errorf("failed to insert route stop: %w", err)
		}

		_, err = tx.Exec(`
			UPDATE jobs SET cleaner_id = $1, status = $2, updated_at = NOW()
			WHERE id = $3
		`, stop.CleanerID, db.JobStatusConfirmed, stop.JobID)
		if err != nil {
			return fmt.Errorf("failed to update job assignment: %w", err)
		}

		_, err = tx.Exec(`
			UPDATE assignments SET status = $1, responded_at = NOW()
			WHERE job_id = $2 AND status = $3
		`, db.AssignmentStatusExpired, stop.JobID, db.AssignmentStatusPending)
		if err != nil {
			return fmt.Errorf("failed to invalidate superseded assignments: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit route plan: %w", err)
	}

	return nil
}

// notifyAffected pushes an address-redacted heads-up to only the cleaner
// who received the triggering job. Everyone else learns about their day
// from the scheduled manifest, so future routes are not leaked early.
func (s *RoutePlanService) notifyAffected(ctx context.Context, plan *db.RoutePlan, jobID string, cleaners []db.Cleaner) {
	var cleanerID string
	for _, stop := range plan.Stops {
		if stop.JobID == jobID {
			cleanerID = stop.CleanerID
			break
		}
	}
	if cleanerID == "" {
		return
	}

	var pushToken string
	for _, c := range cleaners {
		if c.ID == cleanerID {
			pushToken = c.PushToken
			break
		}
	}
	if pushToken == "" {
		log.Printf("Routes: affected cleaner %s has no push token, skipping notice", cleanerID)
		return
	}

	job, err := s.Jobs.GetJob(jobID)
	if err != nil {
		log.Printf("Routes: failed to load job %s for notification: %v", jobID, err)
		return
	}

	date := plan.ServiceDate.Format("2006-01-02")
	if err := s.Push.SendRouteUpdate(ctx, pushToken, date, redactAddress(job.Address)); err != nil {
		log.Printf("Routes: route update push to cleaner %s failed: %v", cleanerID, err)
	}
}

// haversineKm returns the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
