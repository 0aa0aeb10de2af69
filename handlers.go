package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/example/fitlife/internal/auth"
	"github.com/example/fitlife/internal/httpx"
	"github.com/example/fitlife/internal/metrics"
	"github.com/example/fitlife/internal/seclog"
	"github.com/example/fitlife/internal/store"
	"github.com/example/fitlife/internal/validation"
)

const refreshTokenCookie = "refresh_token"

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
}

type userView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserView(u *store.User) userView {
	return userView{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, CreatedAt: u.CreatedAt}
}

type sessionResponse struct {
	User         *userView `json:"user,omitempty"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int       `json:"expiresIn"`
}

func (a *App) session(w http.ResponseWriter, u *store.User, pair *auth.TokenPair) sessionResponse {
	a.setSessionCookies(w, pair)
	resp := sessionResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int(a.auth.AccessTTL() / time.Second),
	}
	if u != nil {
		v := newUserView(u)
		resp.User = &v
	}
	return resp
}

func (a *App) cookieTransport() bool {
	return a.cfg.Auth.TokenTransport == "cookie" || a.cfg.Auth.TokenTransport == "both"
}

func (a *App) sessionCookie(name, value, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		HttpOnly: true,
		Secure:   a.cfg.CSRF.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
}

// setSessionCookies sets the access cookie for cookie transports and the refresh cookie
// when enabled. Bodies carry both tokens either way.
func (a *App) setSessionCookies(w http.ResponseWriter, pair *auth.TokenPair) {
	if a.cookieTransport() {
		c := a.sessionCookie(auth.AccessTokenCookie, pair.AccessToken, "/api")
		c.Expires = pair.AccessExpiresAt
		http.SetCookie(w, c)
	}
	if a.cfg.Auth.RefreshCookie {
		c := a.sessionCookie(refreshTokenCookie, pair.RefreshToken, "/api/auth")
		c.Expires = pair.RefreshExpiresAt
		http.SetCookie(w, c)
	}
}

func (a *App) clearSessionCookies(w http.ResponseWriter) {
	if a.cookieTransport() {
		c := a.sessionCookie(auth.AccessTokenCookie, "", "/api")
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
	if a.cfg.Auth.RefreshCookie {
		c := a.sessionCookie(refreshTokenCookie, "", "/api/auth")
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// decodeValid reads the body into dst and validates it.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		return err
	}
	return validation.Struct(dst)
}

// refreshTokenFrom takes the token from the body, then from the cookie. The body is
// optional for these endpoints.
func (a *App) refreshTokenFrom(w http.ResponseWriter, r *http.Request) (string, error) {
	var in refreshRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &in); err != nil {
			return "", err
		}
	}
	if in.RefreshToken != "" {
		return in.RefreshToken, nil
	}
	if c, err := r.Cookie(refreshTokenCookie); err == nil {
		return c.Value, nil
	}
	return "", nil
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeValid(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	u, pair, err := a.auth.Register(ctx, in.Name, in.Email, in.Password)
	if err != nil {
		metrics.AuthOutcomes.WithLabelValues("register", "failure").Inc()
		respondError(w, r, err)
		return
	}
	metrics.AuthOutcomes.WithLabelValues("register", "success").Inc()
	httpx.SuccessMessage(w, http.StatusCreated, "User registered successfully", a.session(w, u, pair))
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeValid(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	u, pair, err := a.auth.Login(ctx, in.Email, in.Password)
	if err != nil {
		metrics.AuthOutcomes.WithLabelValues("login", "failure").Inc()
		if errors.Is(err, auth.ErrInvalidCredentials) {
			a.events.Record(seclog.LoginFailure, r, map[string]any{"email": in.Email})
		}
		respondError(w, r, err)
		return
	}
	metrics.AuthOutcomes.WithLabelValues("login", "success").Inc()
	httpx.SuccessMessage(w, http.StatusOK, "Login successful", a.session(w, u, pair))
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, err := a.refreshTokenFrom(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	pair, err := a.auth.Refresh(ctx, raw)
	if err != nil {
		metrics.AuthOutcomes.WithLabelValues("refresh", "failure").Inc()
		if errors.Is(err, auth.ErrRefreshTokenNotFound) || errors.Is(err, auth.ErrRefreshTokenExpired) {
			reason := "not_found"
			if errors.Is(err, auth.ErrRefreshTokenExpired) {
				reason = "expired"
			}
			a.events.Record(seclog.RefreshRejected, r, map[string]any{"reason": reason})
			a.clearSessionCookies(w)
		}
		respondError(w, r, err)
		return
	}
	metrics.AuthOutcomes.WithLabelValues("refresh", "success").Inc()
	httpx.Success(w, http.StatusOK, a.session(w, nil, pair))
}

func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	raw, err := a.refreshTokenFrom(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := a.auth.Logout(context.WithoutCancel(r.Context()), raw); err != nil {
		respondError(w, r, err)
		return
	}
	a.clearSessionCookies(w)
	httpx.SuccessMessage(w, http.StatusOK, "Logged out successfully", nil)
}

func (a *App) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	n, err := a.auth.LogoutAll(context.WithoutCancel(r.Context()), id.UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.clearSessionCookies(w)
	httpx.SuccessMessage(w, http.StatusOK, "Logged out from all sessions", map[string]int64{"revoked": n})
}

func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	u, err := a.auth.User(r.Context(), id.UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, map[string]userView{"user": newUserView(u)})
}

func (a *App) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in changePasswordRequest
	if err := decodeValid(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}

	id, _ := auth.IdentityFromContext(r.Context())
	err := a.auth.ChangePassword(context.WithoutCancel(r.Context()), id.UserID, in.CurrentPassword, in.NewPassword)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		a.events.Record(seclog.AuthFailure, r, map[string]any{"reason": "wrong_current_password", "userId": id.UserID})
		httpx.Error(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.clearSessionCookies(w)
	httpx.SuccessMessage(w, http.StatusOK, "Password updated; all sessions were signed out", nil)
}

func (a *App) HandleCSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := a.csrf.IssueToken(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func (a *App) HandleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := a.sweeper.Sweep(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, map[string]int64{"deleted": n})
}

type serverInfo struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type testResponse struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	Timestamp  string     `json:"timestamp"`
	ServerInfo serverInfo `json:"serverInfo"`
}

// HandleTest answers the frontend's connectivity probe.
func (a *App) HandleTest(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, testResponse{
		Success:   true,
		Message:   "Backend is reachable",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		ServerInfo: serverInfo{
			Port:        a.cfg.Server.Port,
			Environment: a.cfg.Server.Environment,
		},
	})
}

func (a *App) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"ready": true})
}
