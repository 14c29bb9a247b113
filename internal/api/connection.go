package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-lightlink/internal/audit"
	"github.com/nerrad567/gray-logic-lightlink/internal/connection"
	"github.com/nerrad567/gray-logic-lightlink/internal/laststate"
)

// defaultEventLimit is how many connection events /status includes.
const defaultEventLimit = 10

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State          string                `json:"state"`
	Status         string                `json:"status"`
	Broker         BrokerInfo            `json:"broker"`
	Generation     uint64                `json:"generation"`
	Attempts       int                   `json:"attempts"`
	LastAttempt    string                `json:"last_attempt,omitempty"`
	ConnectedSince string                `json:"connected_since,omitempty"`
	RetryPending   bool                  `json:"retry_pending"`
	Subscriptions  int                   `json:"subscriptions"`
	Listeners      int                   `json:"listeners"`
	Monitor        *MonitorInfo          `json:"monitor,omitempty"`
	RecentEvents   []connectionEventView `json:"recent_events,omitempty"`
}

// BrokerInfo describes the configured broker. Credentials never appear here.
type BrokerInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	TLS      bool   `json:"tls"`
	ClientID string `json:"client_id"`
	Username string `json:"username,omitempty"`
}

// MonitorInfo mirrors connection.MonitorStats.
type MonitorInfo struct {
	Checks     int `json:"checks"`
	Reconnects int `json:"reconnects"`
	Coalesced  int `json:"coalesced"`
	ProbesSent int `json:"probes_sent"`
	ProbeFails int `json:"probe_fails"`
}

type connectionEventView struct {
	Kind       string `json:"kind"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// brokerRequest is the body of PUT /connection/broker.
// Omitted optional fields keep their current value.
type brokerRequest struct {
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	TLS      *bool   `json:"tls,omitempty"`
	ClientID string  `json:"client_id,omitempty"`
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func brokerInfo(cfg connection.Config) BrokerInfo {
	return BrokerInfo{
		Host:     cfg.Host,
		Port:     cfg.Port,
		TLS:      cfg.UseTLS,
		ClientID: cfg.ClientID,
		Username: cfg.Username,
	}
}

func (s *Server) monitorInfo() *MonitorInfo {
	if s.monitor == nil {
		return nil
	}
	ms := s.monitor.Stats()
	return &MonitorInfo{
		Checks:     ms.Checks,
		Reconnects: ms.Reconnects,
		Coalesced:  ms.Coalesced,
		ProbesSent: ms.ProbesSent,
		ProbeFails: ms.ProbeFails,
	}
}

// statusSnapshot builds the status body without history.
func (s *Server) statusSnapshot() StatusResponse {
	st := s.conn.Stats()
	return StatusResponse{
		State:          st.State.String(),
		Status:         st.State.StatusText(),
		Broker:         brokerInfo(s.conn.Config()),
		Generation:     st.Generation,
		Attempts:       st.Attempts,
		LastAttempt:    formatTime(st.LastAttempt),
		ConnectedSince: formatTime(st.ConnectedSince),
		RetryPending:   st.RetryPending,
		Subscriptions:  st.Subscriptions,
		Listeners:      st.Listeners,
		Monitor:        s.monitorInfo(),
	}
}

// handleStatus returns the connection state, counters and recent history.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := s.statusSnapshot()

	if s.values != nil {
		events, err := s.values.RecentEvents(r.Context(), defaultEventLimit)
		if err != nil {
			s.logger.Warn("loading connection history for status", "error", err)
		} else {
			resp.RecentEvents = eventViews(events)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleConnect starts a connection attempt. A no-op while connecting or connected.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.conn.Connect(); err != nil {
		writeConnectionError(w, err)
		return
	}
	s.recordAudit(r, audit.ActionConnect, s.conn.Config().Address(), nil)
	writeJSON(w, http.StatusAccepted, s.statusSnapshot())
}

// handleDisconnect stops the session and automatic retries.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.conn.Disconnect()
	s.recordAudit(r, audit.ActionDisconnect, s.conn.Config().Address(), nil)
	writeJSON(w, http.StatusOK, s.statusSnapshot())
}

// handleReconnect tears down any session and dials immediately.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.conn.ForceReconnect(); err != nil {
		writeConnectionError(w, err)
		return
	}
	s.recordAudit(r, audit.ActionReconnect, s.conn.Config().Address(), nil)
	writeJSON(w, http.StatusAccepted, s.statusSnapshot())
}

// handleCheck asks the health monitor for an immediate check.
func (s *Server) handleCheck(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		writeUnavailable(w, "health monitor is not running")
		return
	}
	s.monitor.Notify(connection.Event{Kind: connection.EventTick, Detail: "api"})
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

// handleReconfigure switches broker settings. An active session is torn down
// and re-established against the new broker.
func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	var req brokerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Host == "" {
		writeValidation(w, "host is required")
		return
	}
	if req.Port < 1 || req.Port > 65535 {
		writeValidation(w, "port must be between 1 and 65535")
		return
	}

	cfg := s.conn.Config()
	cfg.Host = req.Host
	cfg.Port = req.Port
	if req.TLS != nil {
		cfg.UseTLS = *req.TLS
	}
	if req.ClientID != "" {
		cfg.ClientID = req.ClientID
	}
	if req.Username != nil {
		cfg.Username = *req.Username
	}
	if req.Password != nil {
		cfg.Password = *req.Password
	}

	if err := s.conn.Reconfigure(cfg); err != nil {
		writeConnectionError(w, err)
		return
	}

	s.recordAudit(r, audit.ActionReconfigure, cfg.Address(), map[string]any{
		"tls":       cfg.UseTLS,
		"client_id": cfg.ClientID,
	})
	s.logger.Info("broker reconfigured via API",
		"broker", cfg.Address(),
		"tls", cfg.UseTLS,
		"subject", subjectOf(r),
	)
	writeJSON(w, http.StatusAccepted, s.statusSnapshot())
}

// handleConnectionEvents lists recorded connection transitions, newest first.
func (s *Server) handleConnectionEvents(w http.ResponseWriter, r *http.Request) {
	if s.values == nil {
		writeUnavailable(w, "connection history is disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeValidation(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.values.RecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing connection events", "error", err)
		writeInternalError(w, "failed to load connection events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": eventViews(events),
		"count":  len(events),
	})
}

func eventViews(events []laststate.ConnectionEvent) []connectionEventView {
	views := make([]connectionEventView, 0, len(events))
	for _, ev := range events {
		views = append(views, connectionEventView{
			Kind:       ev.Kind,
			Reason:     ev.Reason,
			OccurredAt: formatTime(ev.OccurredAt),
		})
	}
	return views
}

func subjectOf(r *http.Request) string {
	if claims := claimsFromContext(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}
