// Package httpx carries the JSON envelope every endpoint answers with.
package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/example/fitlife/internal/logging"
)

const maxBodyBytes = 1 << 20

// Envelope is the response shape of every endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Details any    `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("writing response body")
	}
}

// Success writes {success:true, data}.
func Success(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Envelope{Success: true, Data: data})
}

// SuccessMessage writes {success:true, message, data}.
func SuccessMessage(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Error writes {success:false, message}.
func Error(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Envelope{Success: false, Message: message})
}

// ErrorDetails writes {success:false, message, details}. Only rate-limit and store
// failures carry machine-readable details.
func ErrorDetails(w http.ResponseWriter, status int, message string, details any) {
	WriteJSON(w, status, Envelope{Success: false, Message: message, Details: details})
}

var ErrBadBody = errors.New("invalid request body")

// DecodeJSON reads a bounded JSON body into dst.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrBadBody
		}
		return errors.Join(ErrBadBody, err)
	}
	return nil
}
