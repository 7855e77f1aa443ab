package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/freshnest/fieldops/services"
)

func TestGetJob_IncludesAssignedCleaner(t *testing.T) {
	gin.SetMode(gin.TestMode)

	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	jobs := services.NewJobService(pg)
	ledger := services.NewLedgerService(pg, nil)
	handler := NewDispatchHandler(pg, jobs, ledger, nil, nil)
	r := gin.New()
	r.GET("/jobs/:id", handler.GetJob)

	now := time.Now()
	mock.ExpectQuery("SELECT id, tenant_id, service_type").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "service_type", "status", "service_date", "start_time",
			"customer_name", "customer_phone", "address", "latitude", "longitude",
			"price_cents", "cleaner_id", "team_id", "customer_notified",
			"created_at", "updated_at", "retired_at",
		}).AddRow("job-1", "tenant-1", "deep", "confirmed", now, "09:00",
			"Dana", "+15550001111", "12 Elm St, Maplewood", 40.7, -74.2,
			18000, "cleaner-1", nil, true, now, now, nil))
	mock.ExpectQuery("SELECT a.id, a.job_id").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_id", "cleaner_id", "status", "offered_at", "responded_at", "name",
		}).AddRow("assign-1", "job-1", "cleaner-1", "confirmed", now, now, "Avery"))
	mock.ExpectQuery("SELECT id, tenant_id, name").
		WithArgs("cleaner-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "name", "phone", "role", "is_active",
			"home_latitude", "home_longitude", "push_token",
		}).AddRow("cleaner-1", "tenant-1", "Avery", "+15550002222", "member", true, 40.8, -74.1, ""))

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	cleaner, ok := resp["cleaner"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "cleaner-1", cleaner["id"])
	assert.Equal(t, "Avery", cleaner["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob_UnassignedOmitsCleaner(t *testing.T) {
	gin.SetMode(gin.TestMode)

	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	jobs := services.NewJobService(pg)
	ledger := services.NewLedgerService(pg, nil)
	handler := NewDispatchHandler(pg, jobs, ledger, nil, nil)
	r := gin.New()
	r.GET("/jobs/:id", handler.GetJob)

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
	mock.ExpectQuery("SELECT a.id, a.job_id").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_id", "cleaner_id", "status", "offered_at", "responded_at", "name",
		}))

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	_, hasCleaner := resp["cleaner"]
	assert.False(t, hasCleaner)
	assert.NoError(t, mock.ExpectationsWereMet())
}
