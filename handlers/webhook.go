package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/freshnest/fieldops/db"
	"github.com/freshnest/fieldops/services"
	"github.com/gin-gonic/gin"
)

// WebhookHandler receives the two external triggers that drive dispatch:
// payment events from the booking platform and accept/decline taps from
// cleaner devices.
type WebhookHandler struct {
	apiKeys         *services.APIKeyService
	jobService      *services.JobService
	ledgerService   *services.LedgerService
	dispatchService *services.DispatchService
	cascadeService  *services.CascadeService
	tokenService    *services.ActionTokenService
}

func NewWebhookHandler(apiKeys *services.APIKeyService, jobService *services.JobService,
	ledgerService *services.LedgerService, dispatchService *services.DispatchService,
	cascadeService *services.CascadeService, tokenService *services.ActionTokenService) *WebhookHandler {
	return &WebhookHandler{
		apiKeys:         apiKeys,
		jobService:      jobService,
		ledgerService:   ledgerService,
		dispatchService: dispatchService,
		cascadeService:  cascadeService,
		tokenService:    tokenService,
	}
}

// POST /webhooks/payment
//
// Payment platforms retry aggressively, so replays are expected traffic.
// A replay gets the same 200 as the original with status "duplicate";
// non-2xx would only make the platform retry harder.
func (h *WebhookHandler) ReceivePayment(c *gin.Context) {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
		return
	}

	tenantID, err := h.apiKeys.VerifyKey(apiKey)
	if err != nil {
		log.Printf("Payment webhook: API key rejected: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		return
	}

	var req db.PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
		return
	}

	log.Printf("Payment webhook: event=%s job=%s tenant=%s", req.EventKind, req.JobID, tenantID)

	job, err := h.jobService.GetJob(req.JobID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job"})
		return
	}

	// A tenant's key only reaches that tenant's jobs. Report not-found
	// rather than forbidden so keys cannot probe other tenants' job ids.
	if job.TenantID != tenantID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	_ = h.ledgerService.Append(db.EventPaymentReceived, services.JobKey(job.ID), map[string]interface{}{
		"event_kind": req.EventKind,
		"phone":      req.PhoneNumber,
		"tenant_id":  tenantID,
	})

	// The same event also lands under the customer's phone, so support can
	// trace every booking a number touched without knowing job ids.
	if req.PhoneNumber != "" {
		_ = h.ledgerService.Append(db.EventPaymentReceived, services.PhoneKey(req.PhoneNumber), map[string]interface{}{
			"event_kind": req.EventKind,
			"job_id":     job.ID,
			"tenant_id":  tenantID,
		})
	}

	outcome, err := h.dispatchService.Dispatch(c.Request.Context(), job.ID)
	if err != nil {
		log.Printf("Payment webhook: dispatch for job %s failed: %v", job.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Dispatch failed"})
		return
	}

	status := "dispatched"
	if outcome == services.DispatchAlreadyDispatched {
		status = "duplicate"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"job_id":  job.ID,
		"outcome": string(outcome),
	})
}

// POST /webhooks/cleaner-response
//
// The token carries the assignment, job, and permitted action, so this
// endpoint needs no session: a tap on a stale notification simply fails
// verification or lands on an assignment that already left pending.
func (h *WebhookHandler) ReceiveCleanerResponse(c *gin.Context) {
	var req db.CleanerResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
		return
	}

	if req.Action != "accept" && req.Action != "decline" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Action must be accept or decline"})
		return
	}

	claims, err := h.tokenService.Verify(req.Token, req.Action)
	if err != nil {
		log.Printf("Cleaner response: token rejected: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	var outcome services.ResponseOutcome
	if req.Action == "accept" {
		outcome, err = h.cascadeService.OnAccept(c.Request.Context(), claims.AssignmentID)
	} else {
		outcome, err = h.cascadeService.OnDecline(c.Request.Context(), claims.AssignmentID)
	}
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Assignment not found"})
			return
		}
		log.Printf("Cleaner response: %s on assignment %s failed: %v", req.Action, claims.AssignmentID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process response"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        string(outcome),
		"assignment_id": claims.AssignmentID,
		"job_id":        claims.JobID,
	})
}
