package main

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// writeJSON serializes a response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

// writeError returns a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	if status >= http.StatusInternalServerError {
		logrus.Warn(msg)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusRecorder captures the response status for metrics labels.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// statusClass buckets status codes for low-cardinality metric labels.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
