package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookConfig holds webhook delivery configuration.
type WebhookConfig struct {
	// URL is a webhook endpoint (Slack, Discord, or custom)
	URL string
	// Type determines the payload format: "slack", "discord", or "generic"
	Type string
	// Timeout for HTTP requests
	Timeout time.Duration
}

// Webhook posts meter alerts to a configured endpoint.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhook creates a webhook sender, or nil when no URL is configured.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.URL == "" {
		return nil
	}
	if cfg.Type == "" {
		// Auto-detect from URL
		if strings.Contains(cfg.URL, "slack.com") {
			cfg.Type = "slack"
		} else if strings.Contains(cfg.URL, "discord.com") {
			cfg.Type = "discord"
		} else {
			cfg.Type = "generic"
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Webhook{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Send posts one intent to the endpoint.
func (w *Webhook) Send(ctx context.Context, intent Intent) error {
	var payload []byte
	var err error

	switch w.cfg.Type {
	case "slack":
		payload, err = w.buildSlackPayload(intent)
	case "discord":
		payload, err = w.buildDiscordPayload(intent)
	default:
		payload, err = w.buildGenericPayload(intent)
	}

	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func (w *Webhook) buildSlackPayload(intent Intent) ([]byte, error) {
	emoji := ":warning:"
	if intent.Severity == "critical" {
		emoji = ":x:"
	}

	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf("%s %s", emoji, intent.Title),
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Meter:*\n%s (%s)", intent.MeterName, intent.MeterCode)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:*\n%s", intent.Reason)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Value:*\n%s", intent.Value)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Date:*\n%s", intent.Day.Format("2006-01-02"))},
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": intent.Description,
				},
			},
		},
	}

	return json.Marshal(payload)
}

func (w *Webhook) buildDiscordPayload(intent Intent) ([]byte, error) {
	color := 16776960 // Yellow
	if intent.Severity == "critical" {
		color = 16711680 // Red
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       intent.Title,
				"description": intent.Description,
				"color":       color,
				"fields": []map[string]interface{}{
					{"name": "Meter", "value": fmt.Sprintf("%s (%s)", intent.MeterName, intent.MeterCode), "inline": true},
					{"name": "Reason", "value": intent.Reason, "inline": true},
					{"name": "Value", "value": intent.Value.String(), "inline": true},
				},
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		},
	}

	return json.Marshal(payload)
}

func (w *Webhook) buildGenericPayload(intent Intent) ([]byte, error) {
	payload := map[string]interface{}{
		"alert_type":  "meter_alert",
		"reason":      intent.Reason,
		"severity":    intent.Severity,
		"meter_id":    intent.MeterID,
		"meter_code":  intent.MeterCode,
		"meter_name":  intent.MeterName,
		"title":       intent.Title,
		"description": intent.Description,
		"value":       intent.Value.String(),
		"date":        intent.Day.Format("2006-01-02"),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	return json.Marshal(payload)
}
