package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorDetails(rec, http.StatusTooManyRequests, "slow down", map[string]int{"retryAfter": 30})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":false,"message":"slow down","details":{"retryAfter":30}}`, rec.Body.String())
}

func TestSuccess_OmitsEmptyFields(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusOK, map[string]string{"csrfToken": "abc"})
	assert.JSONEq(t, `{"success":true,"data":{"csrfToken":"abc"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	SuccessMessage(rec, http.StatusOK, "Logged out successfully", nil)
	assert.JSONEq(t, `{"success":true,"message":"Logged out successfully"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &dst))
	assert.Equal(t, "a@b.co", dst.Email)

	for name, body := range map[string]string{
		"empty":     "",
		"malformed": `{"email":`,
		"too large": `{"email":"` + strings.Repeat("a", maxBodyBytes) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			assert.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), req, &dst), ErrBadBody)
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.9")

	assert.Equal(t, "203.0.113.7", ClientIP(ClientKey(false), req))
	assert.Equal(t, "198.51.100.9", ClientIP(ClientKey(true), req))
}

func TestEnvelope_Decodes(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusForbidden, "Invalid CSRF token")

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, "Invalid CSRF token", env.Message)
	assert.Nil(t, env.Data)
}
