package services

import (
	"database/sql"
	"fmt"

	"github.com/freshnest/fieldops/db"
)

// JobService loads job and tenant records for the dispatch core. Writes to
// jobs go through the cascade, route and escalation services, which own the
// state transitions.
type JobService struct {
	PG *sql.DB
}

func NewJobService(pg *sql.DB) *JobService {
	return &JobService{PG: pg}
}

// ErrNotFound reports an unknown job, assignment or tenant id. Retrying
// cannot manufacture a missing record, so callers surface it instead.
var ErrNotFound = fmt.Errorf("record not found")

// GetJob loads one job by id. Soft-retired jobs are still returned; the
// caller decides whether retirement matters for its operation.
func (s *JobService) GetJob(jobID string) (*db.Job, error) {
	var job db.Job
	var cleanerID, teamID sql.NullString
	var retiredAt sql.NullTime

	err := s.PG.QueryRow(`
		SELECT id, tenant_id, service_type, status, service_date, start_time,
		       customer_name, customer_phone, address, latitude, longitude,
		       price_cents, cleaner_id, team_id, customer_notified,
		       created_at, updated_at, retired_at
		FROM jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID, &job.TenantID, &job.ServiceType, &job.Status, &job.ServiceDate, &job.StartTime,
		&job.CustomerName, &job.CustomerPhone, &job.Address, &job.Latitude, &job.Longitude,
		&job.PriceCents, &cleanerID, &teamID, &job.CustomerNotified,
		&job.CreatedAt, &job.UpdatedAt, &retiredAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if cleanerID.Valid {
		job.CleanerID = cleanerID.String
	}
	if teamID.Valid {
		job.TeamID = teamID.String
	}
	if retiredAt.Valid {
		job.RetiredAt = &retiredAt.Time
	}

	return &job, nil
}

// GetTenant loads the dispatch configuration for one tenant.
func (s *JobService) GetTenant(tenantID string) (*db.Tenant, error) {
	var tenant db.Tenant
	var slackChannel, operatorPhone sql.NullString

	err := s.PG.QueryRow(`
		SELECT id, name, dispatch_mode, operator_slack_channel, operator_phone,
		       is_active, created_at
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(
		&tenant.ID, &tenant.Name, &tenant.DispatchMode, &slackChannel, &operatorPhone,
		&tenant.IsActive, &tenant.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if slackChannel.Valid {
		tenant.OperatorSlackChannel = slackChannel.String
	}
	if operatorPhone.Valid {
		tenant.OperatorPhone = operatorPhone.String
	}

	return &tenant, nil
}

// GetCleaner loads one cleaner by id.
func (s *JobService) GetCleaner(cleanerID string) (*db.Cleaner, error) {
	var cleaner db.Cleaner
	var pushToken sql.NullString

	err := s.PG.QueryRow(`
		SELECT id, tenant_id, name, phone, role, is_active,
		       home_latitude, home_longitude, push_token
		FROM cleaners
		WHERE id = $1
	`, cleanerID).Scan(
		&cleaner.ID, &cleaner.TenantID, &cleaner.Name, &cleaner.Phone, &cleaner.Role,
		&cleaner.IsActive, &cleaner.HomeLatitude, &cleaner.HomeLongitude, &pushToken,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("cleaner %s: %w", cleanerID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get cleaner: %w", err)
	}

	if pushToken.Valid {
		cleaner.PushToken = pushToken.String
	}

	return &cleaner, nil
}

// ListAssignments returns the offer history for one job, oldest first.
func (s *JobService) ListAssignments(jobID string) ([]db.Assignment, error) {
	rows, err := s.PG.Query(`
		SELECT a.id, a.job_id, a.cleaner_id, a.status, a.offered_at, a.responded_at, c.name
		FROM assignments a
		JOIN cleaners c ON c.id = a.cleaner_id
		WHERE a.job_id = $1
		ORDER BY a.offered_at ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []db.Assignment
	for rows.Next() {
		var a db.Assignment
		var respondedAt sql.NullTime

		if err := rows.Scan(&a.ID, &a.JobID, &a.CleanerID, &a.Status, &a.OfferedAt, &respondedAt, &a.CleanerName); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if respondedAt.Valid {
			a.RespondedAt = &respondedAt.Time
		}
		assignments = append(assignments, a)
	}

	return assignments, nil
}
