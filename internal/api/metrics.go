package api

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/AaronLay10/SentientDialogue/internal/version"
)

// metricsHandler returns Prometheus-compatible metrics in text format.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	convs := s.engine.Conversations()
	byState := make(map[string]int)
	for _, c := range convs {
		byState[string(c.State)]++
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
	}

	labels := fmt.Sprintf(`instance="%s",version="%s"`, s.opts.InstanceID, version.Version)

	writeMetric("dialogue_uptime_seconds", "gauge",
		"Number of seconds since the engine started", time.Since(s.started).Seconds(), labels)
	writeMetric("dialogue_events_total", "counter",
		"Total number of events published since startup", s.bus.TotalCount(), labels)
	writeMetric("dialogue_ticks_total", "counter",
		"Total number of scheduler ticks", s.engine.Ticks(), labels)
	writeMetric("dialogue_conversations_active", "gauge",
		"Number of live conversations", len(convs), labels)

	states := make([]string, 0, len(byState))
	for st := range byState {
		states = append(states, st)
	}
	sort.Strings(states)
	fmt.Fprintf(w, "# HELP dialogue_conversations Live conversations by state\n")
	fmt.Fprintf(w, "# TYPE dialogue_conversations gauge\n")
	for _, st := range states {
		fmt.Fprintf(w, "dialogue_conversations{%s,state=\"%s\"} %d\n", labels, st, byState[st])
	}

	writeMetric("dialogue_graphs_loaded", "gauge",
		"Number of loaded dialogue graphs", len(s.engine.Graphs()), labels)
	writeMetric("dialogue_ws_clients", "gauge",
		"Number of active WebSocket client connections", s.wsClients.Load(), labels)

	if s.opts.MQTTConnected != nil {
		v := 0
		if s.opts.MQTTConnected() {
			v = 1
		}
		writeMetric("dialogue_mqtt_connected", "gauge",
			"Whether MQTT broker is connected (1) or not (0)", v, labels)
	}
	if s.opts.JournalDropped != nil {
		writeMetric("dialogue_journal_dropped_total", "counter",
			"Events dropped by the Postgres journal", s.opts.JournalDropped(), labels)
	}
}
