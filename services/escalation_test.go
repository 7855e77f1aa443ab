package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestEscalateExhausted_ParksJobAndRecordsLedger(t *testing.T) {
	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	jobs := NewJobService(pg)
	ledger := NewLedgerService(pg, nil)
	slack := NewSlackService("")
	sms := NewSMSService("", "", "")
	svc := NewEscalationService(pg, jobs, ledger, slack, sms)

	mock.ExpectQuery("SELECT id, tenant_id, service_type").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "offered"))
	mock.ExpectQuery("SELECT id, name, dispatch_mode").
		WithArgs("tenant-1").
		WillReturnRows(tenantRow("cascade", "", "+15559990000"))
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs("needs_manual_assignment", "job-1", "confirmed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Slack and SMS are unconfigured here, so both alert channels fail;
	// the ledger entry still lands exactly once
	mock.ExpectExec("INSERT INTO event_ledger").
		WithArgs("cascade_exhausted", "job:job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = svc.EscalateExhausted(context.Background(), "job-1", "cleaner-3")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscalateOptimizerFailure_RecordsDistinctEvent(t *testing.T) {
	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	jobs := NewJobService(pg)
	ledger := NewLedgerService(pg, nil)
	svc := NewEscalationService(pg, jobs, ledger, NewSlackService(""), NewSMSService("", "", ""))

	mock.ExpectQuery("SELECT id, tenant_id, service_type").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "unassigned"))
	mock.ExpectQuery("SELECT id, name, dispatch_mode").
		WithArgs("tenant-1").
		WillReturnRows(tenantRow("routes", "", ""))
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs("needs_manual_assignment", "job-1", "confirmed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO event_ledger").
		WithArgs("optimizer_failed", "job:job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = svc.EscalateOptimizerFailure(context.Background(), "job-1", "no_teams")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscalate_UnknownJob(t *testing.T) {
	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	jobs := NewJobService(pg)
	ledger := NewLedgerService(pg, nil)
	svc := NewEscalationService(pg, jobs, ledger, NewSlackService(""), NewSMSService("", "", ""))

	mock.ExpectQuery("SELECT id, tenant_id, service_type").
		WithArgs("job-404").
		WillReturnError(ErrNotFound)

	err = svc.EscalateExhausted(context.Background(), "job-404", "")
	assert.Error(t, err)
}
