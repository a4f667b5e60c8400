package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"voice-agent-server/pkg/errors"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  errors.GetErrorCode(err),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"active_calls":   s.manager.Count(),
	})
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	calls := s.manager.List()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"calls": calls,
		"count": len(calls),
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]
	sess, err := s.manager.Get(callID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	s.logger.WithField("call_id", callID).Info("Hangup requested from dashboard")
	sess.End("dashboard_hangup")
	s.manager.Remove(callID)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ended"})
}

func (s *Server) handleLocationSend(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	if err := sess.SendLocationNow(); err != nil {
		if errors.GetErrorCode(err) == "INVALID_INPUT" {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "sent"})
}

func (s *Server) handleLocationCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	if !sess.CancelLocationSend() {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "nothing_pending"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "cancelled"})
}
