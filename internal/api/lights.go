package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/openrgb-bridge/internal/audit"
	"github.com/nerrad567/openrgb-bridge/internal/bridges/openrgb"
)

// LightList is the body of GET /lights.
type LightList struct {
	Lights []openrgb.LightState `json:"lights"`
	Count  int                  `json:"count"`
}

func (s *Server) handleListLights(w http.ResponseWriter, _ *http.Request) {
	lights := s.bridge.Lights()
	if lights == nil {
		lights = []openrgb.LightState{}
	}
	writeJSON(w, http.StatusOK, LightList{Lights: lights, Count: len(lights)})
}

func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	state, err := s.bridge.Light(chi.URLParam(r, "key"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleTurnOn accepts the same JSON body as the MQTT command topic minus
// "state"; an empty body restores the previous brightness and color.
func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	cmd, err := openrgb.ParseCommand(body)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	key := chi.URLParam(r, "key")
	params := cmd.TurnOnParams()
	state, err := s.bridge.TurnOn(r.Context(), key, params)
	s.auditCommand(r, audit.ActionTurnOn, key, params.Details(), err)
	if err != nil {
		s.logger.Warn("turn on failed", "key", key, "error", err, "request_id", requestID(r.Context()))
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	state, err := s.bridge.TurnOff(r.Context(), key)
	s.auditCommand(r, audit.ActionTurnOff, key, nil, err)
	if err != nil {
		s.logger.Warn("turn off failed", "key", key, "error", err, "request_id", requestID(r.Context()))
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": openrgb.Services()})
}

func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.bridge.CallService(r.Context(), name)
	s.auditCommand(r, audit.ActionService, "", map[string]any{"service": name}, err)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": name, "status": "ok"})
}
