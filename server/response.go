package server

import (
	"encoding/json"
	"net/http"

	"github.com/teranos/nexus/api"
	"github.com/teranos/nexus/logger"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Logger.Debugw("Failed to encode JSON response", logger.FieldError, err)
	}
}

// writeResponse writes an API envelope with its own status
func writeResponse(w http.ResponseWriter, resp api.Response) {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// errorResponse builds the envelope for an error raised before dispatch
func errorResponse(requestID string, err error) api.Response {
	c := api.Classify(err)
	return api.Response{
		Success:   false,
		Error:     c.Message,
		Code:      c.Code,
		RequestID: requestID,
		Status:    c.Status,
	}
}
