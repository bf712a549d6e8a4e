package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SentientDialogue/internal/events"
)

type webhookSink struct {
	mu       sync.Mutex
	payloads []AlertPayload
}

func (s *webhookSink) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p AlertPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode alert: %v", err)
		}
		s.mu.Lock()
		s.payloads = append(s.payloads, p)
		s.mu.Unlock()
	}
}

func (s *webhookSink) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.payloads))
	for i, p := range s.payloads {
		out[i] = p.Event + ":" + p.Severity
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAlerterForwardsErrorEvents(t *testing.T) {
	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler(t))
	defer srv.Close()

	a := NewAlerter(AlertConfig{WebhookURL: srv.URL, Instance: "lab"}, quietLogger())
	bus := events.NewBus(10)
	bus.Subscribe(a)

	_, err := bus.Publish("info", events.ConversationEnded, "c1", "", map[string]interface{}{"reason": "completed"})
	require.NoError(t, err)
	_, err = bus.Publish("error", events.ConversationEnded, "c2", "node missing", map[string]interface{}{"reason": "error"})
	require.NoError(t, err)
	_, err = bus.Publish("error", events.SystemError, "", "reload failed", nil)
	require.NoError(t, err)
	a.Wait()

	got := sink.events()
	assert.ElementsMatch(t, []string{
		AlertConversationError + ":" + SeverityWarning,
		AlertSystemError + ":" + SeverityCritical,
	}, got)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, p := range sink.payloads {
		assert.Equal(t, "lab", p.Instance)
		if p.Event == AlertConversationError {
			assert.Equal(t, "c2", p.Conversation)
			assert.Equal(t, "node missing", p.Message)
		}
	}
}

func TestAlerterMQTTDelay(t *testing.T) {
	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler(t))
	defer srv.Close()

	a := NewAlerter(AlertConfig{WebhookURL: srv.URL, MQTTDisconnectDelay: 30 * time.Second}, quietLogger())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	a.CheckMQTT(false)
	now = now.Add(10 * time.Second)
	a.CheckMQTT(false)
	a.Wait()
	assert.Empty(t, sink.events())

	now = now.Add(25 * time.Second)
	a.CheckMQTT(false)
	a.CheckMQTT(false)
	a.Wait()
	assert.Equal(t, []string{AlertMQTTDisconnected + ":" + SeverityWarning}, sink.events())

	a.CheckMQTT(true)
	a.Wait()
	assert.Equal(t, []string{
		AlertMQTTDisconnected + ":" + SeverityWarning,
		AlertMQTTDisconnected + ":" + SeverityInfo,
	}, sink.events())
}

func TestAlerterShortOutageIsQuiet(t *testing.T) {
	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler(t))
	defer srv.Close()

	a := NewAlerter(AlertConfig{WebhookURL: srv.URL, MQTTDisconnectDelay: time.Minute}, quietLogger())
	a.CheckMQTT(false)
	a.CheckMQTT(true)
	a.Wait()
	assert.Empty(t, sink.events())
}

func TestAlertConfigFromEnv(t *testing.T) {
	t.Setenv(EnvAlertWebhook, "http://hooks.local/x")
	t.Setenv(EnvMQTTAlertDelay, "5s")

	cfg := AlertConfigFromEnv("lab")
	assert.Equal(t, "http://hooks.local/x", cfg.WebhookURL)
	assert.Equal(t, "lab", cfg.Instance)
	assert.Equal(t, 5*time.Second, cfg.MQTTDisconnectDelay)

	t.Setenv(EnvMQTTAlertDelay, "bogus")
	assert.Equal(t, 30*time.Second, AlertConfigFromEnv("lab").MQTTDisconnectDelay)
}

func TestAlerterWithoutWebhookOnlyLogs(t *testing.T) {
	a := NewAlerter(AlertConfig{}, quietLogger())
	a.HandleEvent(events.Event{Name: events.SystemError, Level: "error", Message: "boom"})
	a.Wait()
}
