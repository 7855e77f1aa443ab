package workers

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/freshnest/fieldops/db"
	"github.com/freshnest/fieldops/services"
)

// ScheduleWorker owns the cron-driven jobs: the evening manifest
// distribution and the pre-dawn route recompute for batch-mode tenants.
type ScheduleWorker struct {
	PG     *sql.DB
	Push   *services.PushService
	Routes *services.RoutePlanService

	ManifestCron  string
	RecomputeCron string

	cron *cron.Cron
}

func NewScheduleWorker(pg *sql.DB, push *services.PushService, routes *services.RoutePlanService,
	manifestCron, recomputeCron string) *ScheduleWorker {
	return &ScheduleWorker{
		PG:            pg,
		Push:          push,
		Routes:        routes,
		ManifestCron:  manifestCron,
		RecomputeCron: recomputeCron,
	}
}

// Start registers the cron entries and begins running them. The returned
// error means a cron expression failed to parse; nothing was started.
func (w *ScheduleWorker) Start(ctx context.Context) error {
	w.cron = cron.New()

	if _, err := w.cron.AddFunc(w.ManifestCron, func() { w.distributeManifests(ctx) }); err != nil {
		return fmt.Errorf("invalid manifest cron %q: %w", w.ManifestCron, err)
	}
	if _, err := w.cron.AddFunc(w.RecomputeCron, func() { w.recomputeRoutes(ctx) }); err != nil {
		return fmt.Errorf("invalid recompute cron %q: %w", w.RecomputeCron, err)
	}

	w.cron.Start()
	log.Printf("Schedule worker started (manifests %q, recompute %q)", w.ManifestCron, w.RecomputeCron)

	go func() {
		<-ctx.Done()
		stopCtx := w.cron.Stop()
		<-stopCtx.Done()
		log.Println("Schedule worker stopped")
	}()

	return nil
}

type manifestStop struct {
	cleanerID    string
	cleanerName  string
	pushToken    string
	startTime    string
	serviceType  string
	address      string
	customerName string
}

// distributeManifests sends each cleaner their full next-day route,
// addresses included. This is the only point where full addresses reach
// cleaner devices.
func (w *ScheduleWorker) distributeManifests(ctx context.Context) {
	serviceDate := time.Now().AddDate(0, 0, 1)
	date := serviceDate.Format("2006-01-02")

	rows, err := w.PG.Query(`
		SELECT rs.cleaner_id, c.name, COALESCE(c.push_token, ''),
		       j.start_time, j.service_type, j.address, j.customer_name
		FROM route_stops rs
		JOIN cleaners c ON c.id = rs.cleaner_id
		JOIN jobs j ON j.id = rs.job_id
		WHERE rs.service_date = $1
		AND j.retired_at IS NULL
		ORDER BY rs.cleaner_id, rs.route_order ASC
	`, serviceDate)
	if err != nil {
		log.Printf("Schedule worker: failed to query manifests for %s: %v", date, err)
		return
	}
	defer rows.Close()

	byCleaner := make(map[string][]manifestStop)
	var order []string
	for rows.Next() {
		var stop manifestStop
		if err := rows.Scan(&stop.cleanerID, &stop.cleanerName, &stop.pushToken,
			&stop.startTime, &stop.serviceType, &stop.address, &stop.customerName); err != nil {
			log.Printf("Schedule worker: error scanning manifest stop: %v", err)
			continue
		}
		if _, seen := byCleaner[stop.cleanerID]; !seen {
			order = append(order, stop.cleanerID)
		}
		byCleaner[stop.cleanerID] = append(byCleaner[stop.cleanerID], stop)
	}

	if len(byCleaner) == 0 {
		log.Printf("Schedule worker: no route stops for %s, nothing to distribute", date)
		return
	}

	sent := 0
	for _, cleanerID := range order {
		stops := byCleaner[cleanerID]
		if stops[0].pushToken == "" {
			log.Printf("Schedule worker: cleaner %s has no push token, manifest skipped", cleanerID)
			continue
		}

		if err := w.Push.SendManifest(ctx, stops[0].pushToken, date, renderManifest(stops)); err != nil {
			log.Printf("Schedule worker: manifest push to cleaner %s failed: %v", cleanerID, err)
			continue
		}
		sent++
	}

	log.Printf("Schedule worker: distributed %d manifests for %s", sent, date)
}

func renderManifest(stops []manifestStop) string {
	var b strings.Builder
	for i, stop := range stops {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s %s for %s at %s",
			i+1, stop.startTime, stop.serviceType, stop.customerName, stop.address)
	}
	return b.String()
}

// recomputeRoutes runs one final full-day optimization per batch-mode
// tenant before the workday, folding in any late-evening bookings.
func (w *ScheduleWorker) recomputeRoutes(ctx context.Context) {
	serviceDate := time.Now()
	date := serviceDate.Format("2006-01-02")

	rows, err := w.PG.Query(`
		SELECT t.id, j.id
		FROM tenants t
		JOIN LATERAL (
			SELECT id FROM jobs
			WHERE tenant_id = t.id
			AND service_date = $1
			AND retired_at IS NULL
			AND status <> $2
			ORDER BY start_time ASC
			LIMIT 1
		) j ON true
		WHERE t.is_active = true AND t.dispatch_mode = $3
	`, serviceDate, db.JobStatusNeedsManual, db.DispatchModeRoutes)
	if err != nil {
		log.Printf("Schedule worker: failed to query tenants for recompute: %v", err)
		return
	}
	defer rows.Close()

	type target struct{ tenantID, jobID string }
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.tenantID, &t.jobID); err != nil {
			log.Printf("Schedule worker: error scanning recompute target: %v", err)
			continue
		}
		targets = append(targets, t)
	}

	for _, t := range targets {
		plan, err := w.Routes.Reoptimize(ctx, t.jobID, serviceDate, t.tenantID)
		if err != nil {
			log.Printf("Schedule worker: recompute for tenant %s on %s failed: %v", t.tenantID, date, err)
			continue
		}
		log.Printf("Schedule worker: recomputed tenant %s for %s (%d stops, %d unassignable)",
			t.tenantID, date, len(plan.Stops), len(plan.Unassignable))
	}
}
