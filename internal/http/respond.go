package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/splax/teamforge/internal/apperr"
)

type envelope struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message,omitempty"`
	Data     any      `json:"data,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeData sends a successful envelope.
func writeData(w http.ResponseWriter, status int, message string, data any, warnings []string) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data, Warnings: warnings})
}

// writeError sends a failed envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

// writeServiceError maps a service error to its status code. Internal causes
// are never shown to the caller. Kinds that map to a 2xx status are idempotent
// no-ops and are reported as successful.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusForKind(apperr.KindOf(err))
	if status < http.StatusBadRequest {
		writeData(w, status, apperr.MessageOf(err), nil, nil)
		return
	}
	writeError(w, status, apperr.MessageOf(err))
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindDuplicate, apperr.KindCapacity, apperr.KindProjectAlreadyAssigned, apperr.KindNoCapacity:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAlreadyResponded:
		return http.StatusOK
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, req *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(dst)
}
