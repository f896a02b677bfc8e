package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veridexlabs/veridex/internal/model"
	"github.com/veridexlabs/veridex/internal/store"
)

// submitRequest is the POST /api/v1/checks payload.
type submitRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	InputKind string `json:"input_kind" validate:"required,oneof=url text image"`
	Input     string `json:"input" validate:"required"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed json"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	// Text length bounds are enforced at submission: a payload that cannot
	// pass ingestion is rejected before a credit is spent or a row created.
	if model.InputKind(req.InputKind) == model.InputText {
		if err := s.ingestor.ValidateLength(req.Input); err != nil {
			var ierr *model.IngestionError
			if errors.As(err, &ierr) {
				writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
					Error:  ierr.Detail,
					Reason: string(ierr.Reason),
				})
				return
			}
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
	}

	decision, err := s.gate.Admit(r.Context(), req.UserID, model.CreditCost)
	if err != nil {
		s.logger.Error("admission gate unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "admission unavailable"})
		return
	}
	if !decision.Granted {
		writeJSON(w, http.StatusPaymentRequired, errorResponse{
			Error:  "admission denied",
			Reason: decision.Reason,
		})
		return
	}

	check := &model.Check{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		InputKind:  model.InputKind(req.InputKind),
		Input:      req.Input,
		Status:     model.StatusPending,
		CreditCost: model.CreditCost,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateCheck(r.Context(), check); err != nil {
		s.logger.Error("create check", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if err := s.queue.Publish(r.Context(), check.ID); err != nil {
		s.logger.Error("publish dispatch", zap.String("check_id", check.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	s.logger.Info("check accepted",
		zap.String("check_id", check.ID),
		zap.String("input_kind", req.InputKind))
	writeJSON(w, http.StatusAccepted, check)
}

// handleGet returns the check with whatever claims and evidence exist so
// far; in-progress checks expose partial results.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	check, err := s.store.GetCheck(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "check not found"})
		return
	}
	if err != nil {
		s.logger.Error("get check", zap.String("check_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, check)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is consumed cross-origin by the web client.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleProgress streams progress events over a websocket until the
// check's terminal event or client disconnect. A subscriber to a finished
// check receives the terminal event replay and the stream closes.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetCheckStatus(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "check not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := s.broadcaster.Subscribe(id)
	defer cancel()

	// Reader goroutine: surfaces client disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "check finished"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
