package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fitlife/internal/auth"
	"github.com/example/fitlife/internal/authz"
	"github.com/example/fitlife/internal/config"
	"github.com/example/fitlife/internal/csrf"
	"github.com/example/fitlife/internal/httpx"
	"github.com/example/fitlife/internal/logging"
	"github.com/example/fitlife/internal/ratelimit"
	"github.com/example/fitlife/internal/seclog"
	"github.com/example/fitlife/internal/store"
	"github.com/example/fitlife/internal/supervisor"
	"github.com/example/fitlife/internal/sweeper"
)

// App holds the explicitly constructed services the HTTP layer depends on.
type App struct {
	cfg     *config.Config
	store   store.Store
	auth    *auth.Service
	authn   *auth.Middleware
	authz   *authz.Middleware
	csrf    *csrf.Guard
	limiter *ratelimit.Limiter
	rate    *ratelimit.Middleware
	sweeper *sweeper.Sweeper
	events  seclog.Recorder
}

// rateClasses lists, per route name, the budgets a request is counted against.
var rateClasses = ratelimit.Routes{
	"register":   {ratelimit.General, ratelimit.Register},
	"login":      {ratelimit.General, ratelimit.Login},
	"refresh":    {ratelimit.General},
	"logout":     {ratelimit.General},
	"logout-all": {ratelimit.General},
	"me":         {ratelimit.General},
	"password":   {ratelimit.General, ratelimit.PasswordReset},
	"csrf-token": {ratelimit.General},
}

func NewApp(cfg *config.Config, st store.Store, events seclog.Recorder) (*App, error) {
	tokens, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, nil)
	if err != nil {
		return nil, err
	}
	svc, err := auth.NewService(st, tokens, auth.ServiceConfig{
		RefreshTTL:  cfg.Auth.RefreshTTL,
		BcryptCost:  cfg.Auth.BcryptCost,
		AdminEmails: cfg.Auth.AdminEmails,
	})
	if err != nil {
		return nil, err
	}
	guard, err := csrf.New(csrf.Config{
		Secret:       cfg.CSRF.Secret,
		CookieName:   cfg.CSRF.CookieName,
		CookieSecure: cfg.CSRF.CookieSecure,
		TTL:          cfg.CSRF.TTL,
	}, events)
	if err != nil {
		return nil, err
	}
	enforcer, err := authz.NewEnforcer()
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.RulesFromConfig(cfg.RateLimit), nil)
	return &App{
		cfg:     cfg,
		store:   st,
		auth:    svc,
		authn:   auth.NewMiddleware(svc, cfg.Auth.TokenTransport, events),
		authz:   authz.NewMiddleware(enforcer, events),
		csrf:    guard,
		limiter: limiter,
		rate:    ratelimit.NewMiddleware(limiter, rateClasses, httpx.ClientKey(cfg.Server.TrustProxy), events, cfg.RateLimit.Disabled),
		sweeper: sweeper.New(st, cfg.Sweeper, nil),
		events:  events,
	}, nil
}

// Router builds the full handler: CORS and security headers outside, then routing, then
// per-route rate limiting, CSRF, authentication and authorization in that order.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(Logging)
	r.Use(a.rate.Handler)

	csrfOnly := func(h http.HandlerFunc) http.Handler { return a.csrf.Protect(h) }
	authed := func(h http.HandlerFunc) http.Handler {
		return a.authn.RequireAuth(a.authz.Authorize(h))
	}
	csrfAuthed := func(h http.HandlerFunc) http.Handler { return a.csrf.Protect(authed(h)) }

	r.HandleFunc("/health", a.HandleHealth).Methods(http.MethodGet).Name("health")
	r.HandleFunc("/ready", a.HandleReady).Methods(http.MethodGet).Name("ready")
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet).Name("metrics")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/test", a.HandleTest).Methods(http.MethodGet).Name("test")
	api.HandleFunc("/csrf-token", a.HandleCSRFToken).Methods(http.MethodGet).Name("csrf-token")

	authAPI := api.PathPrefix("/auth").Subrouter()
	authAPI.Handle("/register", csrfOnly(a.HandleRegister)).Methods(http.MethodPost).Name("register")
	authAPI.Handle("/login", csrfOnly(a.HandleLogin)).Methods(http.MethodPost).Name("login")
	authAPI.Handle("/refresh-token", csrfOnly(a.HandleRefresh)).Methods(http.MethodPost).Name("refresh")
	authAPI.Handle("/logout", csrfOnly(a.HandleLogout)).Methods(http.MethodPost).Name("logout")
	authAPI.Handle("/logout-all", csrfAuthed(a.HandleLogoutAll)).Methods(http.MethodPost).Name("logout-all")
	authAPI.Handle("/me", authed(a.HandleMe)).Methods(http.MethodGet).Name("me")
	authAPI.Handle("/password", csrfAuthed(a.HandleChangePassword)).Methods(http.MethodPut).Name("password")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Handle("/sweep", csrfAuthed(a.HandleSweep)).Methods(http.MethodPost).Name("admin-sweep")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Error(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Error(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	var h http.Handler = r
	h = SecurityHeaders(h)
	h = middleware.RequestID(h)
	h = corsHandler(a.cfg.Server.CORSOrigins)(h)
	return h
}

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("fitlife stopped")
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
		Output: os.Stdout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("closing store")
		}
	}()

	events, err := seclog.New(seclog.Config{
		Path:      cfg.Log.SecurityFile,
		ClientKey: httpx.ClientKey(cfg.Server.TrustProxy),
	})
	if err != nil {
		return err
	}
	defer events.Close()

	app, err := NewApp(cfg, st, events)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMaintenance(app.sweeper)
	tree.AddMaintenance(app.limiter)
	tree.AddAPI(supervisor.NewHTTPService(srv, srv.Addr, cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("port", cfg.Server.Port).
		Str("environment", cfg.Server.Environment).
		Str("adapter", cfg.Database.Adapter).
		Msg("starting fitlife auth server")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logging.Info().Msg("server exited properly")
	return nil
}
