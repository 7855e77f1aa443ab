package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/freshnest/fieldops/db"
)

// Escalation reason codes, recorded in the ledger so operators can tell
// "no cascade workers available" apart from "optimizer crashed".
const (
	ReasonCascadeExhausted = "cascade_exhausted"
	ReasonOptimizerFailed  = "optimizer_failed"
	ReasonNoTeams          = "no_teams"
)

// EscalationService hands a job that automated assignment could not staff
// to a human operator: structured Slack alert with an SMS fallback, a
// customer-facing notice, and exactly one ledger entry regardless of which
// channel succeeded. The job is left in needs_manual_assignment; only a
// human moves it from there.
type EscalationService struct {
	PG     *sql.DB
	Jobs   *JobService
	Ledger *LedgerService
	Slack  *SlackService
	SMS    *SMSService
}

func NewEscalationService(pg *sql.DB, jobs *JobService, ledger *LedgerService,
	slack *SlackService, sms *SMSService) *EscalationService {
	return &EscalationService{
		PG:     pg,
		Jobs:   jobs,
		Ledger: ledger,
		Slack:  slack,
		SMS:    sms,
	}
}

// EscalateExhausted is invoked when the cascade ran out of eligible
// cleaners. lastDeclined may be empty when no cleaner was ever eligible.
func (s *EscalationService) EscalateExhausted(ctx context.Context, jobID, lastDeclined string) error {
	return s.escalate(ctx, jobID, ReasonCascadeExhausted, map[string]interface{}{
		"last_declined_cleaner": lastDeclined,
	})
}

// EscalateOptimizerFailure is invoked when the route optimizer and the
// nearest-cleaner fallback both failed for a batch-mode job.
func (s *EscalationService) EscalateOptimizerFailure(ctx context.Context, jobID, reason string) error {
	return s.escalate(ctx, jobID, ReasonOptimizerFailed, map[string]interface{}{
		"failure_reason": reason,
	})
}

func (s *EscalationService) escalate(ctx context.Context, jobID, reasonCode string, detail map[string]interface{}) error {
	job, err := s.Jobs.GetJob(jobID)
	if err != nil {
		return err
	}

	tenant, err := s.Jobs.GetTenant(job.TenantID)
	if err != nil {
		return err
	}

	if err := s.markNeedsManual(jobID); err != nil {
		return err
	}

	channel := s.alertOperator(tenant, job, reasonCode)
	s.notifyCustomer(job)

	metadata := map[string]interface{}{
		"reason":        reasonCode,
		"service_date":  job.ServiceDate.Format("2006-01-02"),
		"service_type":  job.ServiceType,
		"alert_channel": channel,
	}
	for k, v := range detail {
		metadata[k] = v
	}

	kind := db.EventCascadeExhausted
	if reasonCode != ReasonCascadeExhausted {
		kind = db.EventOptimizerFailed
	}
	_ = s.Ledger.Append(kind, JobKey(jobID), metadata)

	log.Printf("Escalation: job %s escalated to operator (reason: %s, channel: %s)",
		jobID, reasonCode, channel)

	return nil
}

func (s *EscalationService) markNeedsManual(jobID string) error {
	_, err := s.PG.Exec(`
		UPDATE jobs SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status <> $3
	`, db.JobStatusNeedsManual, jobID, db.JobStatusConfirmed)
	if err != nil {
		return fmt.Errorf("failed to mark job for manual assignment: %w", err)
	}
	return nil
}

// alertOperator tries the tenant's Slack channel first and falls back to a
// direct text message. Returns the channel that succeeded, or "none" when
// both failed. A total delivery failure is logged, never raised, because
// the job state transition already happened.
func (s *EscalationService) alertOperator(tenant *db.Tenant, job *db.Job, reasonCode string) string {
	title := fmt.Sprintf("Unstaffed job needs manual assignment (%s)", reasonCode)
	text := fmt.Sprintf("Job %s for %s could not be staffed automatically.", job.ID, job.CustomerName)

	fields := []SlackField{
		{Title: "Service date", Value: job.ServiceDate.Format("2006-01-02"), Short: true},
		{Title: "Start time", Value: job.StartTime, Short: true},
		{Title: "Service type", Value: job.ServiceType, Short: true},
		{Title: "Reason", Value: reasonCode, Short: true},
		{Title: "Address", Value: job.Address, Short: false},
	}

	err := s.Slack.PostAlert(tenant.OperatorSlackChannel, title, text, fields)
	if err == nil {
		return "slack"
	}
	log.Printf("Escalation: slack alert for job %s failed, trying SMS: %v", job.ID, err)

	if tenant.OperatorPhone == "" {
		log.Printf("Escalation: no operator phone configured for tenant %s", tenant.ID)
		return "none"
	}

	body := fmt.Sprintf("FIELDOPS: job %s (%s, %s %s) needs manual assignment. Reason: %s.",
		job.ID, job.ServiceType, job.ServiceDate.Format("Jan 2"), job.StartTime, reasonCode)
	if err := s.SMS.Send(tenant.OperatorPhone, body); err != nil {
		log.Printf("Escalation: operator SMS for job %s also failed: %v", job.ID, err)
		return "none"
	}

	return "sms"
}

// notifyCustomer tells the customer their booking is not staffed yet.
func (s *EscalationService) notifyCustomer(job *db.Job) {
	body := fmt.Sprintf("Hi %s, we're still matching a cleaner to your booking on %s. We'll confirm shortly.",
		job.CustomerName, job.ServiceDate.Format("Mon Jan 2"))
	if err := s.SMS.Send(job.CustomerPhone, body); err != nil {
		log.Printf("Escalation: customer notice for job %s failed: %v", job.ID, err)
	}
}
