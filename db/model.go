package db

import "time"

// ===========================
// JOB MODELS
// ===========================

// Job status constants
const (
	JobStatusUnassigned  = "unassigned"
	JobStatusOffered     = "offered"
	JobStatusConfirmed   = "confirmed"
	JobStatusNeedsManual = "needs_manual_assignment"
)

// Job represents one unit of fieldwork booked by a customer.
// Jobs are never deleted, only soft-retired via RetiredAt.
type Job struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	ServiceType string `json:"service_type"` // standard, deep, move_out
	Status      string `json:"status"`

	// Scheduling
	ServiceDate time.Time `json:"service_date"`
	StartTime   string    `json:"start_time"` // "09:00", tenant-local

	// Customer
	CustomerName  string  `json:"customer_name"`
	CustomerPhone string  `json:"customer_phone"`
	Address       string  `json:"address"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`

	PriceCents int `json:"price_cents"`

	// Assignment outcome
	CleanerID        string `json:"cleaner_id,omitempty"`
	TeamID           string `json:"team_id,omitempty"`
	CustomerNotified bool   `json:"customer_notified"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
}

// ===========================
// ASSIGNMENT MODELS
// ===========================

// Assignment status constants
const (
	AssignmentStatusPending   = "pending"
	AssignmentStatusConfirmed = "confirmed"
	AssignmentStatusDeclined  = "declined"
	AssignmentStatusExpired   = "expired"
)

// Assignment represents one offer of a job to one cleaner. At most one
// pending or confirmed assignment may exist per job at any time; declined
// and expired rows accumulate as the offer history and are never mutated
// after reaching a terminal state.
type Assignment struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	CleanerID string `json:"cleaner_id"`
	Status    string `json:"status"`

	OfferedAt   time.Time  `json:"offered_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`

	// For API responses (populated via JOINs)
	CleanerName string `json:"cleaner_name,omitempty"`
}

// ===========================
// CLEANER MODELS
// ===========================

// Cleaner role constants
const (
	CleanerRoleMember = "member"
	CleanerRoleLead   = "lead"
)

// Cleaner is a field operator. Read-only from the dispatch core's
// perspective; rows are owned by workforce management.
type Cleaner struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`

	// Home base, used by the nearest-cleaner heuristic
	HomeLatitude  float64 `json:"home_latitude"`
	HomeLongitude float64 `json:"home_longitude"`

	// Push channel for offers; cleaners without one are skipped by the
	// cascade rather than blocking it.
	PushToken string `json:"push_token,omitempty"`
}

// ===========================
// TENANT MODELS
// ===========================

// Dispatch mode constants
const (
	DispatchModeCascade = "cascade"
	DispatchModeRoutes  = "routes"
)

// Tenant holds the per-business dispatch configuration. The façade reads
// the mode from this row rather than from ambient process state.
type Tenant struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DispatchMode string `json:"dispatch_mode"`

	// Operator escalation channels
	OperatorSlackChannel string `json:"operator_slack_channel,omitempty"`
	OperatorPhone        string `json:"operator_phone,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ===========================
// EVENT LEDGER MODELS
// ===========================

// Ledger event kind constants
const (
	EventDispatchRequested = "dispatch_requested"
	EventDispatchCompleted = "dispatch_completed"
	EventOfferSent         = "offer_sent"
	EventOfferAccepted     = "offer_accepted"
	EventOfferDeclined     = "offer_declined"
	EventOfferExpired      = "offer_expired"
	EventCascadeExhausted  = "cascade_exhausted"
	EventOptimizerFailed   = "optimizer_failed"
	EventRoutePlanApplied  = "route_plan_applied"
	EventIdempotencyHit    = "idempotency_hit"
	EventPaymentReceived   = "payment_received"
)

// LedgerEntry is one immutable audit record of an orchestration action.
// The ledger doubles as the idempotency-guard substrate: a guard query is
// a time-windowed lookup for a matching kind and correlation key.
type LedgerEntry struct {
	ID             int64                  `json:"id"`
	EventKind      string                 `json:"event_kind"`
	CorrelationKey string                 `json:"correlation_key"` // "job:<id>" or "phone:<e164>"
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// ===========================
// ROUTE PLAN MODELS
// ===========================

// Unassignable reason constants
const (
	UnassignableNoTeams     = "no_teams"
	UnassignableNoCapacity  = "no_capacity"
	UnassignableOutsideArea = "outside_area"
)

// RouteStop is one job placed on one cleaner's route for a service date.
type RouteStop struct {
	JobID      string `json:"job_id"`
	CleanerID  string `json:"cleaner_id"`
	RouteOrder int    `json:"route_order"`
}

// UnassignableJob records a job the optimizer could not place, with reason.
type UnassignableJob struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// RoutePlan is the full assignment set for one tenant and one service date.
// It is recomputed in full on every trigger, never patched incrementally.
type RoutePlan struct {
	TenantID     string            `json:"tenant_id"`
	ServiceDate  time.Time         `json:"service_date"`
	Stops        []RouteStop       `json:"stops"`
	Unassignable []UnassignableJob `json:"unassignable,omitempty"`
}

// ===========================
// TRIGGER PAYLOADS
// ===========================

// PaymentWebhookRequest is the payment-confirmation trigger. The same
// logical event may be delivered twice through independent upstream
// channels, so handlers must consult the idempotency guard first.
type PaymentWebhookRequest struct {
	JobID       string `json:"job_id" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	EventKind   string `json:"event_kind" binding:"required"` // deposit_paid, card_saved
}

// CleanerResponseRequest is the worker-response trigger fired when a
// cleaner taps an inline accept/decline action.
type CleanerResponseRequest struct {
	Token  string `json:"token" binding:"required"`
	Action string `json:"action" binding:"required"` // accept, decline
}

// ReoptimizeRequest is the manual/batch trigger for route-planned tenants.
type ReoptimizeRequest struct {
	JobID       string `json:"job_id" binding:"required"`
	ServiceDate string `json:"service_date" binding:"required"` // YYYY-MM-DD
	TenantID    string `json:"tenant_id" binding:"required"`
}
