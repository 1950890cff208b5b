package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/stableyield-index/internal/index"
	"github.com/yourorg/stableyield-index/internal/model"
	"github.com/yourorg/stableyield-index/internal/storage"
)

// handleCalculate computes an index value from a caller-supplied payload.
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload model.SYIPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.calculator.Calculate(payload)
	if err != nil {
		var vErr *index.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// currentResponse distinguishes "no result yet" from stale and fresh results.
type currentResponse struct {
	Status string           `json:"status"`
	Result *model.SYIResult `json:"result,omitempty"`
	AgeSec float64          `json:"age_seconds,omitempty"`
}

// handleCurrent serves the latest index value with its freshness state.
// The Redis cache is consulted first; the durable store is the fallback.
func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	record, err := s.latestRecord(r)
	if err != nil {
		if errors.Is(err, storage.ErrNoResult) {
			writeJSON(w, http.StatusOK, currentResponse{Status: "none"})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	age := time.Since(record.Result.CalculatedAt)
	status := "fresh"
	staleAfter := time.Duration(s.cfg.StaleAfterIntervals) * s.sched.Interval()
	if age > staleAfter {
		status = "stale"
	}

	writeJSON(w, http.StatusOK, currentResponse{
		Status: status,
		Result: &record.Result,
		AgeSec: age.Seconds(),
	})
}

func (s *Server) latestRecord(r *http.Request) (storage.Record, error) {
	if s.cache != nil {
		record, err := s.cache.GetLatest(r.Context())
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, storage.ErrNoResult) {
			logrus.WithError(err).Warn("Latest-result cache unavailable, falling back to store")
		}
	}
	return s.store.Latest(r.Context())
}

// sanitizeRequest is the ad-hoc single-value sanitization input.
type sanitizeRequest struct {
	APY     float64   `json:"apy"`
	Source  string    `json:"source"`
	Context []float64 `json:"context,omitempty"`
}

// handleSanitize sanitizes one yield value against an optional market context.
func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sanitizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	writeJSON(w, http.StatusOK, s.sanitizer.Sanitize(req.APY, req.Source, req.Context))
}

// handleSanitizeSummary returns the active sanitization policy snapshot.
func (s *Server) handleSanitizeSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sanitizer.Policy())
}

// handleSchedulerStatus reports the scheduler state.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status())
}

// handleForce triggers an on-demand calculation through the scheduler's
// normal retry path. The call serializes behind any in-flight cycle.
func (s *Server) handleForce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.sched.ForceCalculation(r.Context())
	if err != nil {
		var vErr *index.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleHealth is a simple health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   index.MethodologyVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "operational",
		"uptime":    time.Since(startTime).String(),
		"version":   index.MethodologyVersion,
		"symbols":   s.cfg.Symbols,
		"scheduler": s.sched.Status(),
		"configuration": map[string]interface{}{
			"outlier_method": s.sanitizer.Policy().Method,
			"interval":       s.cfg.CalcInterval.String(),
			"max_retries":    s.cfg.MaxRetries,
			"signing":        s.cfg.SigningEnabled,
		},
	}
	if last, ok := s.sched.LastResult(); ok {
		status["last_result"] = last
	}
	writeJSON(w, http.StatusOK, status)
}
