package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// SMSService sends text messages to customers, cleaners and operators
// through the configured SMS gateway.
type SMSService struct {
	gatewayURL string
	apiToken   string
	fromNumber string
	client     *http.Client
}

type smsPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type smsResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func NewSMSService(gatewayURL, apiToken, fromNumber string) *SMSService {
	if gatewayURL == "" {
		log.Println("Warning: SMS gateway not configured, text messages will be disabled")
	}

	return &SMSService{
		gatewayURL: gatewayURL,
		apiToken:   apiToken,
		fromNumber: fromNumber,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// IsConfigured returns true when the gateway can be used.
func (s *SMSService) IsConfigured() bool {
	return s.gatewayURL != ""
}

// Send posts one message to the gateway.
func (s *SMSService) Send(to, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("sms gateway not configured")
	}

	payload := smsPayload{
		From: s.fromNumber,
		To:   to,
		Body: body,
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	req, err := http.NewRequest("POST", s.gatewayURL+"/v1/messages", bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("sms gateway error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var gwResp smsResponse
	if err := json.Unmarshal(respBody, &gwResp); err == nil && gwResp.MessageID != "" {
		log.Printf("SMS sent to %s: id=%s status=%s", to, gwResp.MessageID, gwResp.Status)
	}

	return nil
}
