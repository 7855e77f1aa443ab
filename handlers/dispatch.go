package handlers

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/freshnest/fieldops/db"
	"github.com/freshnest/fieldops/services"
	"github.com/gin-gonic/gin"
)

// DispatchHandler exposes the operator-facing surface: manual dispatch
// triggers, route recomputes, and job/ledger reads.
type DispatchHandler struct {
	pg              *sql.DB
	jobService      *services.JobService
	ledgerService   *services.LedgerService
	dispatchService *services.DispatchService
	routeService    *services.RoutePlanService
}

func NewDispatchHandler(pg *sql.DB, jobService *services.JobService,
	ledgerService *services.LedgerService, dispatchService *services.DispatchService,
	routeService *services.RoutePlanService) *DispatchHandler {
	return &DispatchHandler{
		pg:              pg,
		jobService:      jobService,
		ledgerService:   ledgerService,
		dispatchService: dispatchService,
		routeService:    routeService,
	}
}

// POST /dispatch/:job_id
//
// Manual trigger for operators re-driving a stuck job. Goes through the
// same guarded path as the payment webhook, so double-clicks are safe.
func (h *DispatchHandler) TriggerDispatch(c *gin.Context) {
	jobID := c.Param("job_id")

	outcome, err := h.dispatchService.Dispatch(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		log.Printf("Dispatch trigger for job %s failed: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Dispatch failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":  jobID,
		"outcome": string(outcome),
	})
}

// POST /routes/reoptimize
func (h *DispatchHandler) Reoptimize(c *gin.Context) {
	var req db.ReoptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
		return
	}

	serviceDate, err := time.Parse("2006-01-02", req.ServiceDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service_date must be YYYY-MM-DD"})
		return
	}

	plan, err := h.routeService.Reoptimize(c.Request.Context(), req.JobID, serviceDate, req.TenantID)
	if err != nil {
		log.Printf("Reoptimize for tenant %s on %s failed: %v", req.TenantID, req.ServiceDate, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Reoptimize failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id":    req.TenantID,
		"service_date": req.ServiceDate,
		"stops":        plan.Stops,
		"unassignable": plan.Unassignable,
	})
}

// GET /jobs/:id
func (h *DispatchHandler) GetJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.jobService.GetJob(jobID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job"})
		return
	}

	assignments, err := h.jobService.ListAssignments(jobID)
	if err != nil {
		log.Printf("Failed to list assignments for job %s: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load assignments"})
		return
	}

	resp := gin.H{
		"job":         job,
		"assignments": assignments,
	}

	// Cleaner details ride along once the job is staffed; a lookup failure
	// here must not break the job read.
	if job.CleanerID != "" {
		cleaner, err := h.jobService.GetCleaner(job.CleanerID)
		if err != nil {
			log.Printf("Failed to load cleaner %s for job %s: %v", job.CleanerID, jobID, err)
		} else {
			resp["cleaner"] = cleaner
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GET /jobs/:id/ledger?limit=50
func (h *DispatchHandler) GetJobLedger(c *gin.Context) {
	jobID := c.Param("id")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	entries, err := h.ledgerService.RecentEntries(services.JobKey(jobID), limit)
	if err != nil {
		log.Printf("Failed to load ledger for job %s: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load ledger"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":  jobID,
		"entries": entries,
	})
}

// GET /health
func (h *DispatchHandler) Health(c *gin.Context) {
	if err := h.pg.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
