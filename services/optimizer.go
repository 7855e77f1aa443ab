package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/freshnest/fieldops/db"
)

// HTTPRouteOptimizer calls the external route-optimization service. The
// cost model and geometry live entirely on the other side of this call.
type HTTPRouteOptimizer struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

type optimizeRequest struct {
	TenantID    string       `json:"tenant_id"`
	ServiceDate string       `json:"service_date"`
	Jobs        []db.Job     `json:"jobs"`
	Cleaners    []db.Cleaner `json:"cleaners"`
}

type optimizeResponse struct {
	Stops        []db.RouteStop       `json:"stops"`
	Unassignable []db.UnassignableJob `json:"unassignable,omitempty"`
	Error        string               `json:"error,omitempty"`
}

func NewHTTPRouteOptimizer(baseURL, apiToken string) *HTTPRouteOptimizer {
	return &HTTPRouteOptimizer{
		baseURL:  baseURL,
		apiToken: apiToken,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// PlanDay requests a full-day plan from the optimizer service.
func (o *HTTPRouteOptimizer) PlanDay(ctx context.Context, tenantID string, serviceDate time.Time,
	jobs []db.Job, cleaners []db.Cleaner) (*db.RoutePlan, error) {
	if o.baseURL == "" {
		return nil, fmt.Errorf("route optimizer not configured")
	}

	payload := optimizeRequest{
		TenantID:    tenantID,
		ServiceDate: serviceDate.Format("2006-01-02"),
		Jobs:        jobs,
		Cleaners:    cleaners,
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal optimize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/v1/optimize", bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to create optimize request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+o.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call route optimizer: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("route optimizer error (status %d): %s", resp.StatusCode, string(body))
	}

	var optResp optimizeResponse
	if err := json.Unmarshal(body, &optResp); err != nil {
		return nil, fmt.Errorf("failed to parse optimizer response: %w", err)
	}
	if optResp.Error != "" {
		return nil, fmt.Errorf("route optimizer rejected request: %s", optResp.Error)
	}

	return &db.RoutePlan{
		TenantID:     tenantID,
		ServiceDate:  serviceDate,
		Stops:        optResp.Stops,
		Unassignable: optResp.Unassignable,
	}, nil
}
