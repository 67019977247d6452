package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"syncqueue/internal/service"
	"syncqueue/internal/worker"
)

const maxBodyBytes = 1 << 20

type enqueueRequest struct {
	Data       json.RawMessage `json:"data"`
	Request    json.RawMessage `json:"request"`
	ShouldSync bool            `json:"should_sync"`
}

type credentialsRequest struct {
	BearerToken string `json:"bearer_token"`
	UserToken   string `json:"user_token"`
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, "sync service unavailable")
		return
	}

	if err := s.bridge.Sync(); err != nil {
		s.writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, "sync service unavailable")
		return
	}

	var body enqueueRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body.Request) == 0 {
		writeError(w, http.StatusBadRequest, "request is required")
		return
	}

	msgID, err := s.bridge.Enqueue(r.Context(), body.Data, body.Request, body.ShouldSync)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"msg_id": msgID})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, "sync service unavailable")
		return
	}

	st, err := s.bridge.Status(r.Context())
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleEvents streams published events as newline-delimited JSON until the client goes away.
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, "sync service unavailable")
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	ch, cancel := subscribeBuffered(s.bridge, defaultSubscriberBuffer, s.log)
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.log.Warn().Err(err).Msg("event stream not flushable")
		return
	}

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			if err := enc.Encode(ev); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.creds == nil {
		writeError(w, http.StatusServiceUnavailable, "credential store unavailable")
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.creds.ClearTokens(r.Context()); err != nil {
			s.log.Error().Err(err).Msg("failed to clear credentials")
			writeError(w, http.StatusInternalServerError, "failed to clear credentials")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var body credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.BearerToken == "" && body.UserToken == "" {
		writeError(w, http.StatusBadRequest, "bearer_token or user_token is required")
		return
	}

	if err := s.creds.SetTokens(r.Context(), body.BearerToken, body.UserToken); err != nil {
		s.log.Error().Err(err).Msg("failed to store credentials")
		writeError(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDescriptor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, worker.ErrPoolFull), errors.Is(err, worker.ErrPoolClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Msg("bridge call failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
