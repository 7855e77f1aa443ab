package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/freshnest/fieldops/db"
)

// ResponseOutcome is the result of processing a cleaner's accept or
// decline, or a timeout firing.
type ResponseOutcome string

const (
	OutcomeConfirmed        ResponseOutcome = "confirmed"
	OutcomeReoffered        ResponseOutcome = "reoffered"
	OutcomeExhausted        ResponseOutcome = "exhausted"
	OutcomeAlreadyProcessed ResponseOutcome = "already_processed"
)

// CascadeService runs the sequential worker search for one job: broadcast
// to one cleaner at a time, advance on decline or timeout, stop on accept
// or exhaustion. All state lives in the jobs/assignments tables; every
// transition is a single conditional write so concurrent duplicate
// triggers cannot corrupt the sequence.
type CascadeService struct {
	PG         *sql.DB
	Jobs       *JobService
	Ledger     *LedgerService
	Push       *PushService
	SMS        *SMSService
	Tokens     *ActionTokenService
	Escalation *EscalationService

	OfferTimeout time.Duration
}

func NewCascadeService(pg *sql.DB, jobs *JobService, ledger *LedgerService, push *PushService,
	sms *SMSService, tokens *ActionTokenService, escalation *EscalationService, offerTimeout time.Duration) *CascadeService {
	return &CascadeService{
		PG:           pg,
		Jobs:         jobs,
		Ledger:       ledger,
		Push:         push,
		SMS:          sms,
		Tokens:       tokens,
		Escalation:   escalation,
		OfferTimeout: offerTimeout,
	}
}

// Offer selects the next eligible cleaner not in excluded and places a
// pending assignment for the job. Returns false when no eligible cleaner
// remains; the caller decides whether that means escalation. Cleaners
// without a push token are skipped by the selection query rather than
// blocking the cascade.
func (s *CascadeService) Offer(ctx context.Context, jobID string, excluded []string) (bool, error) {
	job, err := s.Jobs.GetJob(jobID)
	if err != nil {
		return false, err
	}

	if job.Status == db.JobStatusConfirmed {
		log.Printf("Cascade: job %s already confirmed, not offering", jobID)
		return true, nil
	}

	cleaner, err := s.nextCleaner(job, excluded)
	if err != nil {
		return false, err
	}
	if cleaner == nil {
		return false, nil
	}

	assignmentID := uuid.New().String()

	// Conditional insert: a new pending row is only written when no
	// pending or confirmed assignment exists for the job, so two racing
	// triggers cannot both place an offer.
	result, err := s.PG.Exec(`
		INSERT INTO assignments (id, job_id, cleaner_id, status, offered_at)
		SELECT $1, $2, $3, $4, NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM assignments
			WHERE job_id = $2 AND status IN ($5, $6)
		)
	`, assignmentID, job.ID, cleaner.ID, db.AssignmentStatusPending,
		db.AssignmentStatusPending, db.AssignmentStatusConfirmed)
	if err != nil {
		return false, fmt.Errorf("failed to create assignment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Another handler already has an offer in flight for this job.
		log.Printf("Cascade: offer already in flight for job %s, skipping", job.ID)
		return true, nil
	}

	_, err = s.PG.Exec(`
		UPDATE jobs SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
	`, db.JobStatusOffered, job.ID, db.JobStatusUnassigned, db.JobStatusOffered)
	if err != nil {
		log.Printf("Cascade: failed to mark job %s offered: %v", job.ID, err)
	}

	s.sendOffer(ctx, job, cleaner, assignmentID)

	_ = s.Ledger.Append(db.EventOfferSent, JobKey(job.ID), map[string]interface{}{
		"assignment_id": assignmentID,
		"cleaner_id":    cleaner.ID,
		"cleaner_name":  cleaner.Name,
	})

	log.Printf("Cascade: offered job %s to cleaner %s (%s), assignment %s",
		job.ID, cleaner.Name, cleaner.ID, assignmentID)

	return true, nil
}

// nextCleaner ranks eligible cleaners for the job: availability on the
// job's weekday and start time, then distance to the job address, then
// fewest confirmed assignments in the trailing 14 days.
func (s *CascadeService) nextCleaner(job *db.Job, excluded []string) (*db.Cleaner, error) {
	if excluded == nil {
		excluded = []string{}
	}

	query := `
		SELECT c.id, c.name, c.phone, c.push_token
		FROM cleaners c
		WHERE c.tenant_id = $1
		AND c.is_active = true
		AND COALESCE(c.push_token, '') <> ''
		AND c.id <> ALL($2)
		AND EXISTS (
			SELECT 1 FROM cleaner_availability ca
			WHERE ca.cleaner_id = c.id
			AND ca.weekday = EXTRACT(ISODOW FROM $3::date)::int
			AND ca.start_time <= $4::time
			AND ca.end_time >= $4::time
		)
		ORDER BY
			((c.home_longitude - $5) * (c.home_longitude - $5) +
			 (c.home_latitude - $6) * (c.home_latitude - $6)) ASC,
			(
				SELECT COUNT(*) FROM assignments a
				WHERE a.cleaner_id = c.id
				AND a.status = 'confirmed'
				AND a.offered_at > NOW() - INTERVAL '14 days'
			) ASC,
			c.id ASC
		LIMIT 1
	`

	var cleaner db.Cleaner
	var pushToken sql.NullString
	err := s.PG.QueryRow(query,
		job.TenantID, pq.Array(excluded), job.ServiceDate, job.StartTime,
		job.Longitude, job.Latitude,
	).Scan(&cleaner.ID, &cleaner.Name, &cleaner.Phone, &pushToken)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select next cleaner: %w", err)
	}

	if pushToken.Valid {
		cleaner.PushToken = pushToken.String
	}

	return &cleaner, nil
}

// sendOffer delivers the offer push with signed accept/decline actions,
// falling back to SMS once. A delivery failure leaves the assignment
// pending; the timeout sweep advances the cascade if the cleaner never
// sees it.
func (s *CascadeService) sendOffer(ctx context.Context, job *db.Job, cleaner *db.Cleaner, assignmentID string) {
	acceptToken, err := s.Tokens.Mint(assignmentID, job.ID, "accept")
	if err != nil {
		log.Printf("Cascade: failed to mint accept token for %s: %v", assignmentID, err)
		return
	}
	declineToken, err := s.Tokens.Mint(assignmentID, job.ID, "decline")
	if err != nil {
		log.Printf("Cascade: failed to mint decline token for %s: %v", assignmentID, err)
		return
	}

	offer := OfferPush{
		AssignmentID: assignmentID,
		JobID:        job.ID,
		ServiceDate:  job.ServiceDate.Format("2006-01-02"),
		StartTime:    job.StartTime,
		ServiceType:  job.ServiceType,
		Area:         redactAddress(job.Address),
		AcceptToken:  acceptToken,
		DeclineToken: declineToken,
	}

	if err := s.Push.SendOffer(ctx, cleaner.PushToken, offer); err != nil {
		log.Printf("Cascade: push offer to cleaner %s failed, trying SMS: %v", cleaner.ID, err)
		body := fmt.Sprintf("New %s job on %s at %s. Open the app within %d minutes to accept or decline.",
			job.ServiceType, offer.ServiceDate, job.StartTime, int(s.OfferTimeout.Minutes()))
		if smsErr := s.SMS.Send(cleaner.Phone, body); smsErr != nil {
			log.Printf("Cascade: SMS fallback to cleaner %s also failed: %v", cleaner.ID, smsErr)
		}
	}
}

// OnAccept confirms a pending assignment. Invoking it twice is safe: the
// second call finds the assignment already confirmed and reports
// already-processed without side effects.
func (s *CascadeService) OnAccept(ctx context.Context, assignmentID string) (ResponseOutcome, error) {
	var jobID, cleanerID string
	err := s.PG.QueryRow(`
		UPDATE assignments
		SET status = $1, responded_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING job_id, cleaner_id
	`, db.AssignmentStatusConfirmed, assignmentID, db.AssignmentStatusPending).Scan(&jobID, &cleanerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return s.alreadyProcessed(assignmentID)
		}
		return "", fmt.Errorf("failed to confirm assignment: %w", err)
	}

	_, err = s.PG.Exec(`
		UPDATE jobs SET status = $1, cleaner_id = $2, updated_at = NOW()
		WHERE id = $3
	`, db.JobStatusConfirmed, cleanerID, jobID)
	if err != nil {
		return "", fmt.Errorf("failed to confirm job: %w", err)
	}

	s.notifyCustomerOnce(jobID)

	_ = s.Ledger.Append(db.EventOfferAccepted, JobKey(jobID), map[string]interface{}{
		"assignment_id": assignmentID,
		"cleaner_id":    cleanerID,
	})

	log.Printf("Cascade: assignment %s accepted, job %s confirmed with cleaner %s",
		assignmentID, jobID, cleanerID)

	return OutcomeConfirmed, nil
}

// notifyCustomerOnce sends the confirmation SMS at most once per job,
// guarded by a conditional flip of the customer_notified flag.
func (s *CascadeService) notifyCustomerOnce(jobID string) {
	var phone, name, startTime string
	var serviceDate time.Time
	err := s.PG.QueryRow(`
		UPDATE jobs SET customer_notified = true, updated_at = NOW()
		WHERE id = $1 AND customer_notified = false
		RETURNING customer_phone, customer_name, start_time, service_date
	`, jobID).Scan(&phone, &name, &startTime, &serviceDate)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("Cascade: failed to flip notified flag for job %s: %v", jobID, err)
		}
		return
	}

	body := fmt.Sprintf("Hi %s, your cleaning on %s at %s is confirmed. See you then!",
		name, serviceDate.Format("Mon Jan 2"), startTime)
	if err := s.SMS.Send(phone, body); err != nil {
		log.Printf("Cascade: customer confirmation SMS for job %s failed: %v", jobID, err)
	}
}

// OnDecline records a decline and advances the cascade, permanently
// excluding every cleaner who has declined or let an offer for this job
// expire. Exhaustion hands the job to the escalation handler.
func (s *CascadeService) OnDecline(ctx context.Context, assignmentID string) (ResponseOutcome, error) {
	return s.advance(ctx, assignmentID, db.AssignmentStatusDeclined, db.EventOfferDeclined)
}

// OnTimeout has the same effect as a decline, triggered by the timeout
// sweep rather than a cleaner action. If the assignment already left
// pending by the time the sweep fires, the call is a no-op.
func (s *CascadeService) OnTimeout(ctx context.Context, assignmentID string) (ResponseOutcome, error) {
	return s.advance(ctx, assignmentID, db.AssignmentStatusExpired, db.EventOfferExpired)
}

func (s *CascadeService) advance(ctx context.Context, assignmentID, terminalStatus, eventKind string) (ResponseOutcome, error) {
	var jobID, cleanerID string
	err := s.PG.QueryRow(`
		UPDATE assignments
		SET status = $1, responded_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING job_id, cleaner_id
	`, terminalStatus, assignmentID, db.AssignmentStatusPending).Scan(&jobID, &cleanerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return s.alreadyProcessed(assignmentID)
		}
		return "", fmt.Errorf("failed to transition assignment: %w", err)
	}

	_ = s.Ledger.Append(eventKind, JobKey(jobID), map[string]interface{}{
		"assignment_id": assignmentID,
		"cleaner_id":    cleanerID,
	})

	excluded, err := s.unofferableCleaners(jobID)
	if err != nil {
		return "", err
	}

	placed, err := s.Offer(ctx, jobID, excluded)
	if err != nil {
		return "", err
	}
	if placed {
		return OutcomeReoffered, nil
	}

	if err := s.Escalation.EscalateExhausted(ctx, jobID, cleanerID); err != nil {
		log.Printf("Cascade: escalation for job %s reported error: %v", jobID, err)
	}

	return OutcomeExhausted, nil
}

// unofferableCleaners lists every cleaner who has already received an
// offer for the job, in any state. Declines are permanent for the job, and
// a cleaner with an expired offer is not retried either.
func (s *CascadeService) unofferableCleaners(jobID string) ([]string, error) {
	rows, err := s.PG.Query(`
		SELECT DISTINCT cleaner_id FROM assignments WHERE job_id = $1
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query offer history: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cleaner id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// alreadyProcessed distinguishes a duplicate response from an unknown
// assignment id.
func (s *CascadeService) alreadyProcessed(assignmentID string) (ResponseOutcome, error) {
	var status string
	err := s.PG.QueryRow(`SELECT status FROM assignments WHERE id = $1`, assignmentID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("assignment %s: %w", assignmentID, ErrNotFound)
		}
		return "", fmt.Errorf("failed to check assignment status: %w", err)
	}

	log.Printf("Cascade: assignment %s already %s, duplicate response ignored", assignmentID, status)
	return OutcomeAlreadyProcessed, nil
}

// redactAddress reduces a full street address to its trailing locality
// segment for offer pushes. The full address only ships with the manifest.
func redactAddress(address string) string {
	if i := strings.LastIndex(address, ","); i >= 0 {
		return strings.TrimSpace(address[i+1:])
	}
	return address
}
