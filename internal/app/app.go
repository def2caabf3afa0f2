// Package app はアプリケーションの初期化と各起動モードの実行を提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/echolearn/internal/auth"
	"github.com/hitoshi/echolearn/internal/config"
	"github.com/hitoshi/echolearn/internal/conversation"
	"github.com/hitoshi/echolearn/internal/database"
	"github.com/hitoshi/echolearn/internal/handler"
	"github.com/hitoshi/echolearn/internal/logger"
	"github.com/hitoshi/echolearn/internal/metrics"
	"github.com/hitoshi/echolearn/internal/middleware"
	"github.com/hitoshi/echolearn/internal/ownership"
	"github.com/hitoshi/echolearn/internal/repository"
	"github.com/hitoshi/echolearn/internal/session"
	"github.com/hitoshi/echolearn/internal/upstream"
	"github.com/hitoshi/echolearn/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefaultWithLevel(w, cfg.LogLevel)
	return cfg, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	oauthProvider, err := newOAuthProvider(ctx, cfg)
	if err != nil {
		return err
	}

	sessions := session.NewManager(b.sessions, session.Config{
		Secret:  cfg.SessionSecret,
		MaxAge:  time.Duration(cfg.SessionMaxAge) * time.Second,
		Sliding: cfg.SessionSliding,
	})
	authService := auth.NewService(oauthProvider, b.users, b.identities, sessions, collector)

	upstreamClient := upstream.NewClient(upstream.Config{
		BaseURL: cfg.UpstreamBaseURL,
		APIKey:  cfg.UpstreamAPIKey,
		Timeout: cfg.UpstreamTimeout,
	}, nil, slog.Default(), collector)
	registrar := ownership.NewRegistrar(b.ownership, collector)
	gateway := conversation.NewGateway(upstreamClient, registrar, collector)

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitClaim))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionResolver:   sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFEnabled:       cfg.CSRFEnabled,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure:   cfg.CookieSecure,
			CookieDomain:   cfg.CookieDomain,
			CookieSameSite: cfg.CookieSameSite,
		},
		Logger:         slog.Default(),
		HTTPObserver:   collector,
		HealthChecks:   b.healthChecks,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:     cfg.FrontendURL,
			LoginFailureURL: cfg.LoginFailureURL,
			CookieDomain:    cfg.CookieDomain,
			CookieSecure:    cfg.CookieSecure,
			CookieSameSite:  cfg.CookieSameSite,
			SessionMaxAge:   sessions.MaxAge(),
		},

		ConversationService: gateway,
		ClaimService:        registrar,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newOAuthProvider はOIDC_ISSUER_URLが設定されていれば汎用OIDCプロバイダーを、
// それ以外はGoogleプロバイダーを返す。
func newOAuthProvider(ctx context.Context, cfg *config.Config) (auth.OAuthProvider, error) {
	if cfg.OIDCIssuerURL == "" {
		slog.Info("identity provider selected", slog.String("provider", auth.ProviderGoogle))
		return auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}), nil
	}

	// 鍵の再取得にも使われるため、シャットダウンでキャンセルされるctxは渡さない
	provider, err := auth.NewOIDCProvider(context.WithoutCancel(ctx), auth.OIDCConfig{
		IssuerURL:    cfg.OIDCIssuerURL,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
	}
	slog.Info("identity provider selected",
		slog.String("provider", auth.ProviderOIDC),
		slog.String("issuer", cfg.OIDCIssuerURL),
	)
	return provider, nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブを日次で実行し、ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config, interval time.Duration) error {
	if cfg.SessionBackend != config.BackendPostgres {
		slog.Info("session store expires keys itself; worker has nothing to do",
			slog.String("session_backend", string(cfg.SessionBackend)),
		)
		return nil
	}

	db, err := openPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default())
	job.Start(ctx, interval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.ApplyMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(status.Before)),
		slog.Uint64("to_version", uint64(status.After)),
		slog.Bool("changed", status.Changed),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用。healthURLが200を返さなければエラー。
func runHealthcheck(ctx context.Context, healthURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
