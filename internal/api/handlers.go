package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/san-kum/aiwater/internal/dynamo"
	"github.com/san-kum/aiwater/internal/storage"
)

const maxBodyBytes = 1 << 16

type costRequest struct {
	Cost float64 `json:"cost"`
}

type acceptedResponse struct {
	Accepted bool `json:"accepted"`
}

// EstimateResponse predicts the outcome of a cost under the current
// parameters without touching the engine.
type EstimateResponse struct {
	Cost     float64 `json:"cost"`
	Duration float64 `json:"duration"`
	Rate     float64 `json:"rate"`
	Mass     float64 `json:"mass"`
	Admitted bool    `json:"admitted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCostEvent(w http.ResponseWriter, r *http.Request) {
	var req costRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SubmitCost(req.Cost); err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.engine.Reset()
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Params())
}

// handleUpdateSettings decodes over the current parameters, so fields absent
// from the body keep their values. The decode runs inside the engine's
// update, so concurrent partial updates do not lose each other's fields.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", dynamo.ErrInvalidInput, err))
		return
	}
	p, err := s.engine.UpdateParams(func(p *dynamo.Params) error {
		return decodeStrict(bytes.NewReader(body), p)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	if s.onSettingsSaved != nil {
		if err := s.onSettingsSaved(p); err != nil {
			s.logger.Error("persist settings", "err", err)
		}
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	cost, err := strconv.ParseFloat(r.URL.Query().Get("cost"), 64)
	if err != nil || cost <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: cost query parameter must be a positive number", dynamo.ErrInvalidInput))
		return
	}
	p := s.engine.Params()
	duration, mass := dynamo.Estimate(cost, p)
	s.writeJSON(w, http.StatusOK, EstimateResponse{
		Cost:     cost,
		Duration: duration,
		Rate:     dynamo.Rate(p),
		Mass:     mass,
		Admitted: duration > dynamo.MinEventDuration,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, errors.New("session history is disabled"))
		return
	}
	sessions, err := s.history.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, errors.New("session history is disabled"))
		return
	}
	events, err := s.history.LoadEvents(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dynamo.ErrInvalidInput), errors.Is(err, dynamo.ErrInvalidConfiguration):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	default:
		s.logger.Error("request failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return decodeStrict(http.MaxBytesReader(w, r.Body, maxBodyBytes), v)
}

func decodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", dynamo.ErrInvalidInput, err)
	}
	return nil
}

// writeJSON encodes before writing the header, so an unencodable value
// becomes a 500 instead of a 200 with an empty body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", "err", err, "status", status)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
