package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"

	"github.com/freshnest/fieldops/services"
)

func newTestWebhookHandler(pg *sql.DB) *WebhookHandler {
	jobs := services.NewJobService(pg)
	ledger := services.NewLedgerService(pg, nil)
	apiKeys := services.NewAPIKeyService(pg)
	tokens := services.NewActionTokenService("test-secret", 15*time.Minute)
	push := services.NewPushService("", "", "", "")
	sms := services.NewSMSService("", "", "")
	slack := services.NewSlackService("")
	escalation := services.NewEscalationService(pg, jobs, ledger, slack, sms)
	cascade := services.NewCascadeService(pg, jobs, ledger, push, sms, tokens, escalation, 15*time.Minute)
	routes := services.NewRoutePlanService(pg, jobs, ledger, push, escalation,
		services.NewHTTPRouteOptimizer("", ""))
	dispatch := services.NewDispatchService(jobs, ledger, cascade, routes, 2*time.Minute)

	return NewWebhookHandler(apiKeys, jobs, ledger, dispatch, cascade, tokens)
}

func postJSON(r *gin.Engine, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReceivePayment_MissingAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	pg, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	handler := newTestWebhookHandler(pg)
	r := gin.New()
	r.POST("/webhooks/payment", handler.ReceivePayment)

	w := postJSON(r, "/webhooks/payment", map[string]string{
		"job_id":       "job-1",
		"phone_number": "+15550001111",
		"event_kind":   "deposit_paid",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReceivePayment_UnknownAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	handler := newTestWebhookHandler(pg)
	r := gin.New()
	r.POST("/webhooks/payment", handler.ReceivePayment)

	// No active key matches
	mock.ExpectQuery("SELECT tenant_id, key_hash FROM tenant_api_keys").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "key_hash"}))

	w := postJSON(r, "/webhooks/payment", map[string]string{
		"job_id":       "job-1",
		"phone_number": "+15550001111",
		"event_kind":   "deposit_paid",
	}, map[string]string{"X-API-Key": "bogus"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceivePayment_TenantMismatchHidesJob(t *testing.T) {
	gin.SetMode(gin.TestMode)

	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	handler := newTestWebhookHandler(pg)
	r := gin.New()
	r.POST("/webhooks/payment", handler.ReceivePayment)

	hash, err := bcrypt.GenerateFromPassword([]byte("valid-key"), bcrypt.DefaultCost)
	assert.NoError(t, err)

	mock.ExpectQuery("SELECT tenant_id, key_hash FROM tenant_api_keys").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "key_hash"}).
			AddRow("tenant-other", string(hash)))
	// The job belongs to tenant-1, not the key's tenant
	now := time.Now()
	mock.ExpectQuery("SELECT id, tenant_id, service_type").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "service_type", "status", "service_date", "start_time",
			"customer_name", "customer_phone", "address", "latitude", "longitude",
			"price_cents", "cleaner_id", "team_id", "customer_notified",
			"created_at", "updated_at", "retired_at",
		}).AddRow("job-1", "tenant-1", "deep", "unassigned", now, "09:00",
			"Dana", "+15550001111", "12 Elm St, Maplewood", 40.7, -74.2,
			18000, nil, nil, false, now, now, nil))

	w := postJSON(r, "/webhooks/payment", map[string]string{
		"job_id":       "job-1",
		"phone_number": "+15550001111",
		"event_kind":   "deposit_paid",
	}, map[string]string{"X-API-Key": "valid-key"})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceivePayment_DuplicateRecordsPhoneTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)

	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	handler := newTestWebhookHandler(pg)
	r := gin.New()
	r.POST("/webhooks/payment", handler.ReceivePayment)

	hash, err := bcrypt.GenerateFromPassword([]byte("valid-key"), bcrypt.DefaultCost)
	assert.NoError(t, err)

	jobColumns := []string{
		"id", "tenant_id", "service_type", "status", "service_date", "start_time",
		"customer_name", "customer_phone", "address", "latitude", "longitude",
		"price_cents", "cleaner_id", "team_id", "customer_notified",
		"created_at", "updated_at", "retired_at",
	}
	now := time.Now()
	jobRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(jobColumns).AddRow("job-1", "tenant-1", "deep", "unassigned",
			now, "09:00", "Dana", "+15550001111", "12 Elm St, Maplewood", 40.7, -74.2,
			18000, nil, nil, false, now, now, nil)
	}

	mock.ExpectQuery("SELECT tenant_id, key_hash FROM tenant_api_keys").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "key_hash"}).
			AddRow("tenant-1", string(hash)))
	mock.ExpectQuery("SELECT id, tenant_id, service_type").
		WithArgs("job-1").
		WillReturnRows(jobRow())

	// The event lands under the job key and again under the phone key
	mock.ExpectExec("INSERT INTO event_ledger").
		WithArgs("payment_received", "job:job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO event_ledger").
		WithArgs("payment_received", "phone:+15550001111", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	// An earlier dispatch inside the guard window short-circuits the replay
	mock.ExpectQuery("SELECT id, tenant_id, service_type").
		WithArgs("job-1").
		WillReturnRows(jobRow())
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job:job-1", "dispatch_requested", "120 seconds").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO event_ledger").
		WithArgs("idempotency_hit", "job:job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := postJSON(r, "/webhooks/payment", map[string]string{
		"job_id":       "job-1",
		"phone_number": "+15550001111",
		"event_kind":   "deposit_paid",
	}, map[string]string{"X-API-Key": "valid-key"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate", resp["status"])
	assert.Equal(t, "already_dispatched", resp["outcome"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiveCleanerResponse_InvalidAction(t *testing.T) {
	gin.SetMode(gin.TestMode)

	pg, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	handler := newTestWebhookHandler(pg)
	r := gin.New()
	r.POST("/webhooks/cleaner-response", handler.ReceiveCleanerResponse)

	w := postJSON(r, "/webhooks/cleaner-response", map[string]string{
		"token":  "whatever",
		"action": "maybe",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReceiveCleanerResponse_BadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	pg, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	handler := newTestWebhookHandler(pg)
	r := gin.New()
	r.POST("/webhooks/cleaner-response", handler.ReceiveCleanerResponse)

	w := postJSON(r, "/webhooks/cleaner-response", map[string]string{
		"token":  "not-a-real-token",
		"action": "accept",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReceiveCleanerResponse_AcceptConfirms(t *testing.T) {
	gin.SetMode(gin.TestMode)

	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	handler := newTestWebhookHandler(pg)
	r := gin.New()
	r.POST("/webhooks/cleaner-response", handler.ReceiveCleanerResponse)

	tokens := services.NewActionTokenService("test-secret", 15*time.Minute)
	token, err := tokens.Mint("assign-1", "job-1", "accept")
	assert.NoError(t, err)

	mock.ExpectQuery("UPDATE assignments").
		WithArgs("confirmed", "assign-1", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "cleaner_id"}).AddRow("job-1", "cleaner-1"))
	mock.ExpectExec("UPDATE jobs SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE jobs SET customer_notified").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO event_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := postJSON(r, "/webhooks/cleaner-response", map[string]string{
		"token":  token,
		"action": "accept",
	}, nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp["status"])
	assert.Equal(t, "job-1", resp["job_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
