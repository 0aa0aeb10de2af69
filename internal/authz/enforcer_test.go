package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fitlife/internal/auth"
	"github.com/example/fitlife/internal/seclog"
)

func TestEnforce(t *testing.T) {
	e, err := NewEnforcer()
	require.NoError(t, err)

	tests := []struct {
		role, path, method string
		want               bool
	}{
		{"user", "/api/auth/me", http.MethodGet, true},
		{"user", "/api/auth/password", http.MethodPut, true},
		{"user", "/api/auth/logout-all", http.MethodPost, true},
		{"user", "/api/auth/me", http.MethodDelete, false},
		{"user", "/api/admin/sweep", http.MethodPost, false},
		{"admin", "/api/admin/sweep", http.MethodPost, true},
		{"admin", "/api/auth/me", http.MethodGet, true},
		{"", "/api/auth/me", http.MethodGet, false},
		{"guest", "/api/auth/me", http.MethodGet, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+" "+tt.method+" "+tt.path, func(t *testing.T) {
			got, err := e.Enforce(tt.role, tt.path, tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadPolicy_Malformed(t *testing.T) {
	e, err := NewEnforcer()
	require.NoError(t, err)
	assert.Error(t, loadPolicy(e.enforcer, "p, only-two"))
}

type denials struct{ n int }

func (d *denials) Record(kind seclog.Kind, _ *http.Request, _ map[string]any) {
	if kind == seclog.AccessDenied {
		d.n++
	}
}

func TestAuthorize(t *testing.T) {
	e, err := NewEnforcer()
	require.NoError(t, err)
	events := &denials{}
	h := NewMiddleware(e, events).Authorize(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(id *auth.Identity) int {
		r := httptest.NewRequest(http.MethodPost, "/api/admin/sweep", nil)
		if id != nil {
			r = r.WithContext(auth.WithIdentity(r.Context(), id))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(nil))
	assert.Equal(t, http.StatusForbidden, serve(&auth.Identity{UserID: "u1", Role: "user"}))
	assert.Equal(t, 1, events.n)
	assert.Equal(t, http.StatusOK, serve(&auth.Identity{UserID: "u2", Role: "admin"}))
}
