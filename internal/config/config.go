package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend はユーザーディレクトリ・セッションストアの永続化先を表す。
type Backend string

const (
	// BackendPostgres はPostgreSQLを使用する。
	BackendPostgres Backend = "postgres"
	// BackendMongo はMongoDBを使用する（ユーザーディレクトリのみ）。
	BackendMongo Backend = "mongo"
	// BackendRedis はRedisを使用する（セッションストアのみ）。
	BackendRedis Backend = "redis"
)

const defaultUpstreamBaseURL = "https://api.elevenlabs.io/v1/convai"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Directory
	DirectoryBackend Backend
	MongoURI         string
	MongoDatabase    string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	OIDCIssuerURL      string // 設定時はGoogle専用実装の代わりに汎用OIDCプロバイダーを使う

	// Session
	SessionSecret  string
	SessionMaxAge  int
	SessionSliding bool
	SessionBackend Backend
	RedisURL       string

	// Upstream (ElevenLabs Conversational AI)
	UpstreamAPIKey  string
	UpstreamBaseURL string
	UpstreamTimeout time.Duration

	// Rate Limit (req/min/user)
	RateLimitGeneral int
	RateLimitClaim   int

	// Server
	ServerPort string
	BaseURL    string
	LogLevel   string

	// Redirects
	FrontendURL     string
	LoginFailureURL string

	// Cookie
	CookieSecure   bool
	CookieDomain   string
	CookieSameSite http.SameSite

	// CORS / CSRF
	CORSAllowedOrigin string
	CSRFEnabled       bool
}

// LoadDotEnv はカレントディレクトリの.envファイルがあれば環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	var existing []string
	for _, f := range filenames {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Backends（必須項目の判定に使うため先に読む）
	cfg.DirectoryBackend = Backend(strings.ToLower(getEnvString("DIRECTORY_BACKEND", string(BackendPostgres))))
	cfg.SessionBackend = Backend(strings.ToLower(getEnvString("SESSION_BACKEND", string(BackendPostgres))))

	if cfg.DirectoryBackend != BackendPostgres && cfg.DirectoryBackend != BackendMongo {
		return nil, fmt.Errorf("unsupported DIRECTORY_BACKEND: %q", cfg.DirectoryBackend)
	}
	if cfg.SessionBackend != BackendPostgres && cfg.SessionBackend != BackendRedis {
		return nil, fmt.Errorf("unsupported SESSION_BACKEND: %q", cfg.SessionBackend)
	}
	if cfg.DirectoryBackend == BackendMongo && cfg.SessionBackend == BackendPostgres {
		// sessions.user_id はPostgresのusersを参照するため
		return nil, fmt.Errorf("DIRECTORY_BACKEND=mongo requires SESSION_BACKEND=redis")
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && (cfg.DirectoryBackend == BackendPostgres || cfg.SessionBackend == BackendPostgres) {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.MongoURI = os.Getenv("MONGO_URI")
	if cfg.MongoURI == "" && cfg.DirectoryBackend == BackendMongo {
		missing = append(missing, "MONGO_URI")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" && cfg.SessionBackend == BackendRedis {
		missing = append(missing, "REDIS_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.UpstreamAPIKey = os.Getenv("ELEVENLABS_API_KEY")
	if cfg.UpstreamAPIKey == "" {
		missing = append(missing, "ELEVENLABS_API_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MongoDatabase = getEnvString("MONGO_DATABASE", "echolearn")
	cfg.OIDCIssuerURL = getEnvString("OIDC_ISSUER_URL", "")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionSliding = getEnvBool("SESSION_SLIDING", false)
	cfg.UpstreamBaseURL = strings.TrimRight(getEnvString("UPSTREAM_BASE_URL", defaultUpstreamBaseURL), "/")
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitClaim = getEnvInt("RATE_LIMIT_CLAIM", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.FrontendURL = getEnvString("FRONTEND_URL", cfg.BaseURL)
	cfg.LoginFailureURL = getEnvString("LOGIN_FAILURE_URL", strings.TrimRight(cfg.FrontendURL, "/")+"/?login=failed")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CookieSameSite = parseSameSite(getEnvString("COOKIE_SAMESITE", "lax"))
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		// SameSite=None のCookieはSecure属性がないとブラウザに拒否される
		cfg.CookieSecure = true
	}
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.CSRFEnabled = getEnvBool("CSRF_ENABLED", true)

	return cfg, nil
}

// parseSameSite はCOOKIE_SAMESITEの値をhttp.SameSiteに変換する。
// 不明な値はLaxとして扱う。
func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "none":
		return http.SameSiteNoneMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteLaxMode
	}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
