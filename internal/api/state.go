package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/mqtt"
	"github.com/eglab8306/aquanext-dashboard/internal/telemetry"
)

// StatusResponse reports the synchronizer as the dashboard header shows it.
type StatusResponse struct {
	Connection  ConnectionStatus     `json:"connection"`
	Connected   bool                 `json:"connected"`
	Stale       bool                 `json:"stale"`
	LastMessage *telemetry.Message   `json:"last_message,omitempty"`
	Store       telemetry.StoreStats `json:"store"`
	Mode        telemetry.Mode       `json:"mode"`
	PendingMode telemetry.Mode       `json:"pending_mode,omitempty"`
}

// ModeRequest is the body of PUT /api/v1/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// ModeResponse reports the displayed mode after a read or a command.
type ModeResponse struct {
	Mode    telemetry.Mode `json:"mode"`
	Pending bool           `json:"pending"`
}

// handleStatus returns connection state, store counters and the last message.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.broker.Status()
	resp := StatusResponse{
		Connection: s.connectionPayload(status),
		Connected:  s.broker.IsConnected(),
		Store:      s.state.Stats(),
		Mode:       s.state.Snapshot().Mode,
	}
	// The snapshot keeps its last values while no session is live.
	resp.Stale = !resp.Connected

	if msg, ok := s.state.LastMessage(); ok {
		resp.LastMessage = &msg
	}
	if pending, ok := s.state.PendingMode(); ok {
		resp.PendingMode = pending
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSnapshot returns the full current snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// handleEnvironment returns the line-wide environment readings.
func (s *Server) handleEnvironment(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot().Environment)
}

// handleListTanks returns every tank in snapshot order.
func (s *Server) handleListTanks(w http.ResponseWriter, _ *http.Request) {
	tanks := s.state.Snapshot().Tanks
	writeJSON(w, http.StatusOK, map[string]any{
		"tanks": tanks,
		"count": len(tanks),
	})
}

// handleGetTank returns one tank by id.
func (s *Server) handleGetTank(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tank, ok := s.state.Snapshot().Tank(id)
	if !ok {
		writeTankNotFound(w, id)
		return
	}
	writeJSON(w, http.StatusOK, tank)
}

// handleGetMode returns the displayed mode.
func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.modeResponse())
}

// handleSetMode requests a mode change. The response carries the optimistic
// mode; the broker echo arrives on the snapshot.changed channel.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: %w", errMalformedBody, err)
		}
		writeFailure(w, err)
		return
	}

	if err := s.mode.RequestMode(req.Mode); err != nil {
		if !errors.Is(err, telemetry.ErrInvalidMode) {
			s.logger.Error("mode request failed", "mode", req.Mode, "error", err)
			err = fmt.Errorf("%w: %w", errCommandFailed, err)
		}
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, s.modeResponse())
}

// handleToggleMode flips between flow and ras.
func (s *Server) handleToggleMode(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.mode.Toggle(); err != nil {
		s.logger.Error("mode toggle failed", "error", err)
		writeFailure(w, fmt.Errorf("%w: %w", errCommandFailed, err))
		return
	}
	writeJSON(w, http.StatusAccepted, s.modeResponse())
}

func (s *Server) modeResponse() ModeResponse {
	_, pending := s.state.PendingMode()
	return ModeResponse{
		Mode:    s.mode.Current(),
		Pending: pending,
	}
}

// brokerSummary is the broker section of the runtime report.
func (s *Server) brokerSummary() BrokerMetrics {
	bm := BrokerMetrics{
		Connected: s.broker.IsConnected(),
		Status:    s.broker.Status(),
		Endpoint:  s.broker.Endpoint(),
	}
	if bm.Status == mqtt.StatusConnected && !bm.Connected {
		// Socket dropped before the loss callback ran.
		bm.Status = mqtt.StatusDisconnected
	}
	if msg, ok := s.state.LastMessage(); ok {
		bm.LastMessageAgeSeconds = time.Since(msg.ReceivedAt).Seconds()
	}
	return bm
}
