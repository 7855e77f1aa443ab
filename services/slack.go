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

// SlackService posts structured operator alerts to the tenant's configured
// Slack channel.
type SlackService struct {
	botToken string
	client   *http.Client
}

// SlackMessage represents the structure for sending Slack messages
type SlackMessage struct {
	Channel     string            `json:"channel"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
	Username    string            `json:"username,omitempty"`
}

// SlackAttachment represents Slack message attachments
type SlackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackResponse represents the response from Slack API
type SlackResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
}

func NewSlackService(botToken string) *SlackService {
	if botToken == "" {
		log.Println("Warning: SLACK_BOT_TOKEN not set, Slack alerts will be disabled")
	}

	return &SlackService{
		botToken: botToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IsConfigured returns true when a bot token is present.
func (s *SlackService) IsConfigured() bool {
	return s.botToken != ""
}

// PostAlert sends a structured alert to the given channel.
func (s *SlackService) PostAlert(channel, title, text string, fields []SlackField) error {
	if !s.IsConfigured() {
		return fmt.Errorf("slack bot token not configured")
	}
	if channel == "" {
		return fmt.Errorf("no slack channel configured")
	}

	message := SlackMessage{
		Channel:  channel,
		Text:     title,
		Username: "fieldops",
		Attachments: []SlackAttachment{
			{
				Color:     "#FF8C00",
				Title:     title,
				Text:      text,
				Fields:    fields,
				Footer:    "fieldops dispatch",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	jsonPayload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequest("POST", "https://slack.com/api/chat.postMessage", bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var slackResp SlackResponse
	if err := json.Unmarshal(body, &slackResp); err != nil {
		return fmt.Errorf("failed to parse slack response: %w", err)
	}

	if !slackResp.OK {
		return fmt.Errorf("slack API error: %s", slackResp.Error)
	}

	log.Printf("Slack: alert posted to %s (ts=%s)", slackResp.Channel, slackResp.TS)
	return nil
}
