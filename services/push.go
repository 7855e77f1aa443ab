package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// PushService delivers job offers and route notifications to cleaner
// devices. Direct Firebase messaging is preferred when credentials are
// available; otherwise messages go through the cloud push gateway.
type PushService struct {
	client *messaging.Client

	// Cloud gateway configuration
	gatewayURL string
	apiToken   string
	instanceID string

	httpClient *http.Client
}

// OfferPush is the data payload attached to a job-offer notification. The
// accept/decline tokens let the cleaner's tap come back as a verifiable
// webhook call with no server-side continuation state.
type OfferPush struct {
	AssignmentID string `json:"assignment_id"`
	JobID        string `json:"job_id"`
	ServiceDate  string `json:"service_date"`
	StartTime    string `json:"start_time"`
	ServiceType  string `json:"service_type"`
	Area         string `json:"area"` // redacted address, e.g. neighborhood only
	AcceptToken  string `json:"accept_token"`
	DeclineToken string `json:"decline_token"`
}

type gatewayPush struct {
	InstanceID string            `json:"instance_id"`
	PushToken  string            `json:"push_token"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Priority   string            `json:"priority"`
	Data       map[string]string `json:"data,omitempty"`
}

type gatewayResponse struct {
	NotificationID string `json:"notification_id"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

func NewPushService(credentialsFile, gatewayURL, apiToken, instanceID string) *PushService {
	service := &PushService{
		gatewayURL: gatewayURL,
		apiToken:   apiToken,
		instanceID: instanceID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}

	if gatewayURL != "" && apiToken != "" {
		log.Printf("Push: cloud gateway configured (URL: %s, Instance: %s)", gatewayURL, instanceID)
	} else {
		log.Println("Push: cloud gateway not configured, will use direct FCM if available")
	}

	if credentialsFile == "" {
		return service
	}

	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		log.Printf("Push: firebase app not initialized: %v (will use cloud gateway if configured)", err)
		return service
	}

	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Printf("Push: firebase messaging client not initialized: %v (will use cloud gateway if configured)", err)
		return service
	}

	service.client = client
	log.Println("Push: direct Firebase messaging initialized")

	return service
}

// SendOffer pushes a job offer with accept/decline actions to one cleaner.
func (s *PushService) SendOffer(ctx context.Context, pushToken string, offer OfferPush) error {
	title := "New job offer"
	body := fmt.Sprintf("%s clean on %s at %s (%s)", offer.ServiceType, offer.ServiceDate, offer.StartTime, offer.Area)

	data := map[string]string{
		"type":          "job_offer",
		"assignment_id": offer.AssignmentID,
		"job_id":        offer.JobID,
		"accept_token":  offer.AcceptToken,
		"decline_token": offer.DeclineToken,
	}

	return s.send(ctx, pushToken, title, body, data)
}

// SendRouteUpdate tells a cleaner a job was added to their route. The
// address is redacted to the area; the full manifest arrives through the
// scheduled distribution the evening before.
func (s *PushService) SendRouteUpdate(ctx context.Context, pushToken, serviceDate, area string) error {
	title := "Route updated"
	body := fmt.Sprintf("A job in %s was added to your %s route. Full details arrive with your manifest.", area, serviceDate)

	return s.send(ctx, pushToken, title, body, map[string]string{
		"type":         "route_update",
		"service_date": serviceDate,
	})
}

// SendManifest delivers the full-day manifest text to one cleaner.
func (s *PushService) SendManifest(ctx context.Context, pushToken, serviceDate, manifest string) error {
	title := fmt.Sprintf("Your route for %s", serviceDate)

	return s.send(ctx, pushToken, title, manifest, map[string]string{
		"type":         "route_manifest",
		"service_date": serviceDate,
	})
}

func (s *PushService) send(ctx context.Context, pushToken, title, body string, data map[string]string) error {
	if pushToken == "" {
		return fmt.Errorf("cleaner has no push token")
	}

	// Prefer the cloud gateway when configured
	if s.gatewayURL != "" && s.apiToken != "" {
		return s.sendViaGateway(pushToken, title, body, data)
	}

	if s.client == nil {
		return fmt.Errorf("no push channel available: firebase not initialized and gateway not configured")
	}

	message := &messaging.Message{
		Token: pushToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        "default",
				ChannelID:    "job_offers",
				Priority:     messaging.PriorityHigh,
				DefaultSound: true,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	response, err := s.client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send FCM message: %w", err)
	}

	log.Printf("Push: FCM message sent: %s", response)
	return nil
}

func (s *PushService) sendViaGateway(pushToken, title, body string, data map[string]string) error {
	payload := gatewayPush{
		InstanceID: s.instanceID,
		PushToken:  pushToken,
		Title:      title,
		Body:       body,
		Priority:   "high",
		Data:       data,
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	url := s.gatewayURL + "/api/gateway/notifications/send"
	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create push gateway request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send to push gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push gateway error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var gwResp gatewayResponse
	if err := json.Unmarshal(respBody, &gwResp); err == nil && gwResp.NotificationID != "" {
		log.Printf("Push: gateway notification sent: id=%s status=%s", gwResp.NotificationID, gwResp.Status)
	}

	return nil
}
