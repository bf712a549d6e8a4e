// Package api is the HTTP and websocket surface of the dialogue engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/SentientDialogue/internal/config"
	"github.com/AaronLay10/SentientDialogue/internal/dialogue"
	"github.com/AaronLay10/SentientDialogue/internal/events"
	"github.com/AaronLay10/SentientDialogue/internal/storage/postgres"
)

// Engine is what the API drives. Implemented by host.Host.
type Engine interface {
	Start(graphID string, start dialogue.NodeID, opts dialogue.StartOptions) (dialogue.ConversationID, error)
	Advance(id dialogue.ConversationID) bool
	Interrupt(id dialogue.ConversationID) bool
	Skip(id dialogue.ConversationID) bool
	Cancel(id dialogue.ConversationID) bool
	Choose(id dialogue.ConversationID, index int) bool
	Signal(id dialogue.ConversationID, name string) bool
	SignalAll(name string) int
	SetFact(name string, v bool)
	SetValue(name string, v float64)
	AddTag(raw string) error
	RemoveTag(raw string) error
	ResolveTag(raw string) error
	Conversations() []dialogue.ConversationInfo
	Conversation(id dialogue.ConversationID) (dialogue.ConversationInfo, bool)
	Graphs() []string
	ReloadGraphs() ([]string, error)
	Ticks() uint64
	Running() bool
}

// History is the durable event journal. Implemented by postgres.Client.
type History interface {
	Query(ctx context.Context, conversation string, limit int) ([]postgres.EventRow, error)
}

type Options struct {
	Port        int
	InstanceID  string
	Credentials config.Credentials
	TLS         *TLSConfig
	History     History
	Logger      *slog.Logger

	// Optional readiness probes for /health and /metrics.
	MQTTConnected  func() bool
	JournalDropped func() uint64
}

type Server struct {
	engine  Engine
	bus     *events.Bus
	auth    authConfig
	opts    Options
	logger  *slog.Logger
	started time.Time
	mux     *http.ServeMux

	wsClients atomic.Int64
}

func NewServer(engine Engine, bus *events.Bus, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Port == 0 {
		opts.Port = 8080
	}
	s := &Server{
		engine:  engine,
		bus:     bus,
		auth:    newAuthConfig(opts.Credentials),
		opts:    opts,
		logger:  opts.Logger,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.HandleFunc("GET /metrics", s.metricsHandler)
	s.mux.HandleFunc("GET /events", s.eventsHandler)
	s.mux.HandleFunc("GET /ws/events", s.wsEventsHandler)
	s.mux.HandleFunc("GET /history", s.historyHandler)
	s.mux.HandleFunc("GET /graphs", s.graphsHandler)
	s.mux.HandleFunc("GET /conversations", s.listConversationsHandler)
	s.mux.HandleFunc("GET /conversations/{id}", s.getConversationHandler)

	s.mux.HandleFunc("POST /conversations", s.RequireAnyRole(s.startConversationHandler))
	s.mux.HandleFunc("POST /conversations/{id}/{action}", s.RequireAnyRole(s.conversationActionHandler))
	s.mux.HandleFunc("POST /signals", s.RequireAnyRole(s.signalAllHandler))
	s.mux.HandleFunc("POST /facts", s.RequireAnyRole(s.factsHandler))
	s.mux.HandleFunc("POST /tags", s.RequireAnyRole(s.tagsHandler))
	s.mux.HandleFunc("POST /graphs/reload", s.RequireAdmin(s.reloadGraphsHandler))
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tlsCfg, err := s.opts.TLS.Load()
	if err != nil {
		return err
	}
	srv.TLSConfig = tlsCfg

	errCh := make(chan error, 1)
	go func() {
		if tlsCfg != nil {
			s.logger.Info("api listening", "addr", srv.Addr, "tls", true)
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		s.logger.Info("api listening", "addr", srv.Addr, "tls", false)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// Response is the envelope for control endpoints.
type Response struct {
	OK       bool   `json:"ok"`
	Accepted *bool  `json:"accepted,omitempty"`
	Error    string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{OK: false, Error: msg})
}

type HealthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Hostname      string `json:"hostname"`
	Instance      string `json:"instance"`
	Running       bool   `json:"running"`
	Conversations int    `json:"conversations"`
	Graphs        int    `json:"graphs"`
	MQTTConnected *bool  `json:"mqtt_connected,omitempty"`
	Timestamp     string `json:"ts"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:        "ok",
		Service:       "dialogue",
		Hostname:      host,
		Instance:      s.opts.InstanceID,
		Running:       s.engine.Running(),
		Conversations: len(s.engine.Conversations()),
		Graphs:        len(s.engine.Graphs()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if s.opts.MQTTConnected != nil {
		connected := s.opts.MQTTConnected()
		resp.MQTTConnected = &connected
	}
	writeJSON(w, http.StatusOK, resp)
}

type ReadinessResponse struct {
	Ready         bool  `json:"ready"`
	Running       bool  `json:"running"`
	MQTTConnected *bool `json:"mqtt_connected,omitempty"`
}

// readyHandler reports 503 until the tick loop runs and, when configured, MQTT is connected.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	resp := ReadinessResponse{Running: s.engine.Running()}
	resp.Ready = resp.Running
	if s.opts.MQTTConnected != nil {
		connected := s.opts.MQTTConnected()
		resp.MQTTConnected = &connected
		resp.Ready = resp.Ready && connected
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return n, nil
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.bus.Recent(limit))
}

// historyHandler reads the journal, optionally filtered by ?conversation=.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusNotFound, "event journal disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 {
		limit = 100
	}
	rows, err := s.opts.History.Query(r.Context(), r.URL.Query().Get("conversation"), limit)
	if err != nil {
		s.logger.Error("history query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) graphsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"graphs": s.engine.Graphs()})
}

func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Conversations())
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	info, ok := s.engine.Conversation(dialogue.ConversationID(r.PathValue("id")))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type StartRequest struct {
	Graph    string  `json:"graph"`
	Start    string  `json:"start,omitempty"`
	Priority int     `json:"priority,omitempty"`
	Slot     string  `json:"slot,omitempty"`
	Seed     *uint32 `json:"seed,omitempty"`
}

type StartResponse struct {
	OK bool                    `json:"ok"`
	ID dialogue.ConversationID `json:"id"`
}

func (s *Server) startConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Graph == "" {
		writeError(w, http.StatusBadRequest, "graph required")
		return
	}

	id, err := s.engine.Start(req.Graph, dialogue.NodeID(req.Start), dialogue.StartOptions{
		Priority: req.Priority,
		Slot:     req.Slot,
		Seed:     req.Seed,
	})
	switch {
	case errors.Is(err, dialogue.ErrUnknownGraph):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, dialogue.ErrGraphIntegrity):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, StartResponse{OK: true, ID: id})
}

type ActionRequest struct {
	Index *int   `json:"index,omitempty"`
	Name  string `json:"name,omitempty"`
}

func (s *Server) conversationActionHandler(w http.ResponseWriter, r *http.Request) {
	id := dialogue.ConversationID(r.PathValue("id"))
	action := r.PathValue("action")

	var req ActionRequest
	if action == "choose" || action == "signal" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	if _, ok := s.engine.Conversation(id); !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var accepted bool
	switch action {
	case "advance":
		accepted = s.engine.Advance(id)
	case "interrupt":
		accepted = s.engine.Interrupt(id)
	case "skip":
		accepted = s.engine.Skip(id)
	case "cancel":
		accepted = s.engine.Cancel(id)
	case "choose":
		if req.Index == nil {
			writeError(w, http.StatusBadRequest, "index required")
			return
		}
		accepted = s.engine.Choose(id, *req.Index)
	case "signal":
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name required")
			return
		}
		accepted = s.engine.Signal(id, req.Name)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	writeJSON(w, http.StatusOK, Response{OK: true, Accepted: &accepted})
}

func (s *Server) signalAllHandler(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	n := s.engine.SignalAll(req.Name)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "resumed": n})
}

// factsHandler accepts an object of fact names to booleans or numbers.
func (s *Server) factsHandler(w http.ResponseWriter, r *http.Request) {
	var req map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for name, v := range req {
		switch v.(type) {
		case bool, float64:
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("fact %s must be a boolean or number", name))
			return
		}
	}
	for name, v := range req {
		switch val := v.(type) {
		case bool:
			s.engine.SetFact(name, val)
		case float64:
			s.engine.SetValue(name, val)
		}
	}
	writeJSON(w, http.StatusOK, Response{OK: true})
}

type tagsRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// tagsHandler adds and removes context tags. Every tag is resolved before
// any change is applied; removals run after additions.
func (s *Server) tagsHandler(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for _, raw := range append(append([]string(nil), req.Add...), req.Remove...) {
		if err := s.engine.ResolveTag(raw); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	for _, raw := range req.Add {
		if err := s.engine.AddTag(raw); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	for _, raw := range req.Remove {
		if err := s.engine.RemoveTag(raw); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, Response{OK: true})
}

func (s *Server) reloadGraphsHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.ReloadGraphs()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "graphs": ids})
}
