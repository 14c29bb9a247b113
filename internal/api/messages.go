package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-lightlink/internal/audit"
	"github.com/nerrad567/gray-logic-lightlink/internal/connection"
	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lightlink/internal/laststate"
)

// subscribeRequest is the body of POST /subscriptions.
type subscribeRequest struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// publishRequest is the body of POST /publish.
type publishRequest struct {
	Topic    string `json:"topic"`
	Payload  string `json:"payload"`
	QoS      byte   `json:"qos"`
	Retained bool   `json:"retained"`
}

type subscriptionView struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// handleListSubscriptions returns the recorded subscriptions.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	subs := s.conn.Subscriptions()
	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subscriptionView{Topic: sub.Topic, QoS: sub.QoS})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": views,
		"count":         len(views),
	})
}

// handleSubscribe records a subscription and asserts it when connected.
//
// A failed wire request still leaves the subscription recorded for the next
// reconnect, so it answers 202 with pending=true rather than an error.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := mqtt.ValidateFilter(req.Topic); err != nil {
		writeValidation(w, err.Error())
		return
	}

	err := s.conn.Subscribe(req.Topic, req.QoS)
	switch {
	case err == nil:
		s.recordAudit(r, audit.ActionSubscribe, req.Topic, map[string]any{"qos": req.QoS})
	case errors.Is(err, connection.ErrSubscribeFailed):
		s.recordAudit(r, audit.ActionSubscribe, req.Topic, map[string]any{"qos": req.QoS, "pending": true})
		s.logger.Warn("subscription recorded but not asserted", "topic", req.Topic, "error", err)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"topic":   req.Topic,
			"qos":     req.QoS,
			"pending": true,
		})
		return
	default:
		writeConnectionError(w, err)
		return
	}

	status := http.StatusCreated
	pending := s.conn.Stats().State != connection.StateConnected
	if pending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"topic":   req.Topic,
		"qos":     req.QoS,
		"pending": pending,
	})
}

// handleUnsubscribe forgets the subscription named by ?topic=.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeValidation(w, "topic query parameter is required")
		return
	}

	known := false
	for _, sub := range s.conn.Subscriptions() {
		if sub.Topic == topic {
			known = true
			break
		}
	}
	if !known {
		writeNotFound(w, "no subscription for topic")
		return
	}

	if err := s.conn.Unsubscribe(topic); err != nil {
		writeConnectionError(w, err)
		return
	}
	s.recordAudit(r, audit.ActionUnsubscribe, topic, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handlePublish passes a message straight to the broker. Nothing is queued:
// while disconnected it answers 503 and the caller decides whether to retry.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := mqtt.ValidateTopic(req.Topic); err != nil {
		writeValidation(w, err.Error())
		return
	}

	if err := s.conn.Publish(req.Topic, req.Payload, req.QoS, req.Retained); err != nil {
		writeConnectionError(w, err)
		return
	}

	s.recordAudit(r, audit.ActionPublish, req.Topic, map[string]any{
		"qos":      req.QoS,
		"retained": req.Retained,
		"bytes":    len(req.Payload),
	})
	s.logger.Debug("published via API", "topic", req.Topic, "qos", req.QoS, "subject", subjectOf(r))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"topic":     req.Topic,
		"qos":       req.QoS,
		"retained":  req.Retained,
		"published": true,
	})
}

// handleValues returns every stored last value, or one with ?topic=.
func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	if s.values == nil {
		writeUnavailable(w, "last-value store is disabled")
		return
	}

	if topic := r.URL.Query().Get("topic"); topic != "" {
		v, err := s.values.Get(r.Context(), topic)
		if errors.Is(err, laststate.ErrNotFound) {
			writeNotFound(w, "no value recorded for topic")
			return
		}
		if err != nil {
			s.logger.Error("loading last value", "topic", topic, "error", err)
			writeInternalError(w, "failed to load value")
			return
		}
		writeJSON(w, http.StatusOK, v)
		return
	}

	values, err := s.values.All(r.Context())
	if err != nil {
		s.logger.Error("listing last values", "error", err)
		writeInternalError(w, "failed to load values")
		return
	}
	if values == nil {
		values = []laststate.Value{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"values": values,
		"count":  len(values),
	})
}
