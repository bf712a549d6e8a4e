package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/SentientDialogue/internal/events"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

const (
	AlertConversationError = "conversation_error"
	AlertSystemError       = "system_error"
	AlertMQTTDisconnected  = "mqtt_disconnected"
)

const (
	EnvAlertWebhook   = "DIALOGUE_ALERT_WEBHOOK_URL"
	EnvMQTTAlertDelay = "DIALOGUE_MQTT_ALERT_DELAY"
)

// AlertPayload is the JSON structure sent to the webhook.
type AlertPayload struct {
	Instance     string                 `json:"instance"`
	Event        string                 `json:"event"`
	Timestamp    string                 `json:"timestamp"`
	Severity     string                 `json:"severity"`
	Conversation string                 `json:"conversation_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

type AlertConfig struct {
	WebhookURL          string
	Instance            string
	MQTTDisconnectDelay time.Duration
}

// AlertConfigFromEnv reads the webhook URL and the optional MQTT delay.
func AlertConfigFromEnv(instance string) AlertConfig {
	cfg := AlertConfig{
		WebhookURL:          os.Getenv(EnvAlertWebhook),
		Instance:            instance,
		MQTTDisconnectDelay: 30 * time.Second,
	}
	if v := os.Getenv(EnvMQTTAlertDelay); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MQTTDisconnectDelay = d
		}
	}
	return cfg
}

// Alerter turns failing conversations, system errors and a lost broker into
// webhook posts. Without a webhook URL alerts are only logged.
type Alerter struct {
	cfg    AlertConfig
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu                    sync.Mutex
	wg                    sync.WaitGroup
	mqttDisconnectedSince time.Time
	mqttAlertSent         bool
	lastMQTTState         bool
}

func NewAlerter(cfg AlertConfig, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		cfg:           cfg,
		client:        &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
		now:           time.Now,
		lastMQTTState: true,
	}
}

// HandleEvent implements events.Subscriber. Posting happens off the caller's goroutine.
func (a *Alerter) HandleEvent(e events.Event) {
	switch {
	case e.Name == events.ConversationEnded && e.Level == "error":
		a.Send(AlertConversationError, SeverityWarning, e.Conversation, e.Message, e.Fields)
	case e.Name == events.SystemError:
		a.Send(AlertSystemError, SeverityCritical, "", e.Message, e.Fields)
	}
}

// Send posts an alert, or logs it when no webhook is configured.
func (a *Alerter) Send(event, severity, conversation, message string, details map[string]interface{}) {
	if a.cfg.WebhookURL == "" {
		a.logger.Warn("alert", "event", event, "severity", severity,
			"conversation_id", conversation, "msg", message, "details", details)
		return
	}
	payload := AlertPayload{
		Instance:     a.cfg.Instance,
		Event:        event,
		Timestamp:    a.now().UTC().Format(time.RFC3339),
		Severity:     severity,
		Conversation: conversation,
		Message:      message,
		Details:      details,
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.post(payload); err != nil {
			a.logger.Warn("alert webhook failed", "event", event, "err", err)
		}
	}()
}

func (a *Alerter) post(payload AlertPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := a.client.Post(a.cfg.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// CheckMQTT alerts once the broker has been down for the configured delay,
// and again when it recovers.
func (a *Alerter) CheckMQTT(connected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if connected {
		if !a.lastMQTTState && a.mqttAlertSent {
			a.Send(AlertMQTTDisconnected, SeverityInfo, "", "MQTT connection restored", map[string]interface{}{
				"recovered_at": now.UTC().Format(time.RFC3339),
			})
		}
		a.mqttDisconnectedSince = time.Time{}
		a.mqttAlertSent = false
		a.lastMQTTState = true
		return
	}

	if a.lastMQTTState {
		a.mqttDisconnectedSince = now
	}
	a.lastMQTTState = false

	if !a.mqttAlertSent {
		down := now.Sub(a.mqttDisconnectedSince)
		if down >= a.cfg.MQTTDisconnectDelay {
			a.mqttAlertSent = true
			a.Send(AlertMQTTDisconnected, SeverityWarning, "", "MQTT broker disconnected", map[string]interface{}{
				"disconnected_since":   a.mqttDisconnectedSince.UTC().Format(time.RFC3339),
				"disconnected_seconds": int(down.Seconds()),
			})
		}
	}
}

// WatchMQTT polls connected every interval until ctx is done.
func (a *Alerter) WatchMQTT(ctx context.Context, connected func() bool, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.CheckMQTT(connected())
		}
	}
}

// Wait blocks until in-flight webhook posts finish.
func (a *Alerter) Wait() {
	a.wg.Wait()
}
