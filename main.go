package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/franklink/linkd/internal/auth"
	"github.com/franklink/linkd/internal/config"
	"github.com/franklink/linkd/internal/flow"
	"github.com/franklink/linkd/internal/oauth"
	"github.com/franklink/linkd/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (ps, rdb) always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (ps.Close, rdb.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()
	rl := store.NewRedisRateLimiter(rdb)

	h := &auth.AuthHandler{
		PS:          ps,
		RL:          rl,
		Version:     version,
		Environment: cfg.Environment,
		StartLimit: store.RateLimit{
			MaxAttempts: cfg.RateStartMax,
			Window:      cfg.RateStartWindow,
			LockoutTTL:  cfg.RateStartLockout,
		},
		ProvisionLimit: store.RateLimit{
			MaxAttempts: cfg.RateProvisionMax,
			Window:      cfg.RateProvisionWindow,
			LockoutTTL:  cfg.RateProvisionLockout,
		},
		ProvisionIPLimit: store.RateLimit{
			MaxAttempts: cfg.RateProvisionIPMax,
			Window:      cfg.RateProvisionWindow,
			LockoutTTL:  cfg.RateProvisionLockout,
		},
		ProvisionSecret:  cfg.ProvisionSharedSecret,
		PhoneEmailDomain: cfg.PhoneEmailDomain,
	}

	// Without a client the service still starts; OAuth routes answer 503.
	if cfg.OAuthConfigured() {
		ctrl, err := newController(ctx, cfg, ps)
		if err != nil {
			return err
		}
		h.Flow = ctrl
	} else {
		slog.Warn("google oauth not configured, oauth routes disabled")
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(h, cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Flow state sweeper; abandoned flows never reach a callback to clear them.
	// Cancelled via cleanupCtx when run() returns.
	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	go sweepFlowStates(cleanupCtx, ps, cfg.FlowStateTTL)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("linkd listening", "addr", ln.Addr().String(), "version", version, "environment", cfg.Environment)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting, then waits for in-flight callbacks to finish their writes.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// newController builds the provider client and flow controller from config.
// With VERIFY_ID_TOKEN set, endpoints come from OIDC discovery unless overridden.
func newController(ctx context.Context, cfg *config.Config, ps flow.Store) (*flow.Controller, error) {
	gcfg := oauth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		AuthURL:      cfg.GoogleAuthURL,
		TokenURL:     cfg.GoogleTokenURL,
		Timeout:      cfg.ProviderTimeout,
	}

	ctrl := &flow.Controller{
		Store: ps,
		Policy: flow.Policy{
			StrictStateValidation: cfg.StrictStateValidation,
			AllowedDomains:        cfg.AllowedEmailDomains,
			FlowStateTTL:          cfg.FlowStateTTL,
			ClientSecretRef:       config.ClientSecretRef,
		},
	}

	if cfg.VerifyIDToken {
		v, err := oauth.NewIDTokenVerifier(ctx, cfg.OIDCIssuer, cfg.GoogleClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to set up id token verifier: %w", err)
		}
		authURL, tokenURL := v.Endpoints()
		if gcfg.AuthURL == "" {
			gcfg.AuthURL = authURL
		}
		if gcfg.TokenURL == "" {
			gcfg.TokenURL = tokenURL
		}
		ctrl.Verifier = v
	}

	ctrl.Provider = oauth.NewGoogleProvider(gcfg)
	slog.Info("google oauth configured",
		"redirect_uri", cfg.RedirectURI, "scopes", cfg.Scopes,
		"verify_id_token", cfg.VerifyIDToken, "strict_state", cfg.StrictStateValidation,
		"allowed_domains", cfg.AllowedEmailDomains)
	return ctrl, nil
}

// flowStateSweeper is the store surface the sweeper needs.
type flowStateSweeper interface {
	CleanupExpiredFlowStates(ctx context.Context, ttl time.Duration) (int64, error)
}

// sweepFlowStates clears expired flow states every ttl until ctx is done.
func sweepFlowStates(ctx context.Context, s flowStateSweeper, ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := s.CleanupExpiredFlowStates(ctx, ttl)
			if err != nil {
				slog.Warn("flow state cleanup failed", "error", err)
			} else if n > 0 {
				slog.Info("flow state cleanup complete", "cleared", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.Index)
	r.Get("/health", h.CheckHealth)

	r.Route("/oauth/google", func(r chi.Router) {
		r.Get("/start", h.OAuthStart)
		r.Get("/callback", h.OAuthCallback)
		r.Post("/callback", h.OAuthCallbackPost)
	})

	r.Post("/account/provision", h.Provision)

	return r
}
