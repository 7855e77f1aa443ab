package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func newTestDispatch(pg *sql.DB) *DispatchService {
	jobs := NewJobService(pg)
	ledger := NewLedgerService(pg, nil)
	cascade := newTestCascade(pg)
	routes := NewRoutePlanService(pg, jobs, ledger, cascade.Push, cascade.Escalation, &stubOptimizer{})

	return NewDispatchService(jobs, ledger, cascade, routes, 2*time.Minute)
}

func TestDispatch_DuplicateTriggerInsideGuardWindow(t *testing.T) {
	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	svc := newTestDispatch(pg)

	mock.ExpectQuery("SELECT id, tenant_id, service_type").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "unassigned"))
	// A dispatch_requested entry already sits inside the window
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job:job-1", "dispatch_requested", "120 seconds").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO event_ledger").
		WithArgs("idempotency_hit", "job:job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	outcome, err := svc.Dispatch(context.Background(), "job-1")
	assert.NoError(t, err)
	assert.Equal(t, DispatchAlreadyDispatched, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatch_CascadeModeOffers(t *testing.T) {
	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	svc := newTestDispatch(pg)

	mock.ExpectQuery("SELECT id, tenant_id, service_type").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "unassigned"))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO event_ledger").
		WithArgs("dispatch_requested", "job:job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT id, name, dispatch_mode").
		WithArgs("tenant-1").
		WillReturnRows(tenantRow("cascade", "#dispatch", ""))

	// Cascade path: the job loads again, a cleaner is found, the offer
	// lands
	mock.ExpectQuery("SELECT id, tenant_id, service_type").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "unassigned"))
	mock.ExpectQuery("SELECT c.id, c.name").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "phone", "push_token"}).
			AddRow("cleaner-1", "Avery", "+15550001111", "push-token-1"))
	mock.ExpectExec("INSERT INTO assignments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO event_ledger").
		WithArgs("offer_sent", "job:job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	mock.ExpectExec("INSERT INTO event_ledger").
		WithArgs("dispatch_completed", "job:job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(3, 1))

	outcome, err := svc.Dispatch(context.Background(), "job-1")
	assert.NoError(t, err)
	assert.Equal(t, DispatchOffered, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatch_UnknownJob(t *testing.T) {
	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	svc := newTestDispatch(pg)

	mock.ExpectQuery("SELECT id, tenant_id, service_type").
		WithArgs("job-404").
		WillReturnError(sql.ErrNoRows)

	_, err = svc.Dispatch(context.Background(), "job-404")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
