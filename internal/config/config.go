package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DataSource はスプレッドシートデータの取得方式。
type DataSource string

const (
	// DataSourceJSON はApps Scriptが返すJSONエンベロープを1回のGETで取得する。
	DataSourceJSON DataSource = "json"
	// DataSourceCSV はGoogleスプレッドシートの各シートをCSVエクスポートで取得する。
	DataSourceCSV DataSource = "csv"
)

// defaultAllowedDomains はALLOWED_DOMAINS未設定時の許可ドメイン。
const defaultAllowedDomains = "bold.co,boldcf.co"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（設定時はセッションをRedisに保存する）
	RedisURL string

	// Identity provider
	GoogleClientID           string
	GoogleCertsURL           string
	VerifyAssertionSignature bool
	ProviderPollInterval     time.Duration
	ProviderPollTimeout      time.Duration

	// Access
	AllowedDomains []string
	AuthDisabled   bool

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Data
	DataSource           DataSource
	DataEndpointURL      string
	SheetID              string
	SheetNameAutomations string
	SheetNameProcesses   string
	SheetNameImageLinks  string
	SheetsTimeZone       string

	// Fetch
	FetchTimeout   time.Duration
	FetchMaxSize   int64
	FetchSSRFGuard bool

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitSignIn  int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.DataSource = DataSource(strings.ToLower(getEnvString("DATA_SOURCE", string(DataSourceJSON))))
	switch cfg.DataSource {
	case DataSourceJSON:
		cfg.DataEndpointURL = os.Getenv("DATA_ENDPOINT_URL")
		if cfg.DataEndpointURL == "" {
			missing = append(missing, "DATA_ENDPOINT_URL")
		}
	case DataSourceCSV:
		cfg.SheetID = os.Getenv("SHEET_ID")
		if cfg.SheetID == "" {
			missing = append(missing, "SHEET_ID")
		}
	default:
		return nil, fmt.Errorf("unsupported DATA_SOURCE: %q (allowed: json, csv)", cfg.DataSource)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.GoogleCertsURL = getEnvString("GOOGLE_CERTS_URL", "https://www.googleapis.com/oauth2/v3/certs")
	cfg.VerifyAssertionSignature = getEnvBool("VERIFY_ASSERTION_SIGNATURE", true)
	cfg.ProviderPollInterval = getEnvDuration("PROVIDER_POLL_INTERVAL", 100*time.Millisecond)
	cfg.ProviderPollTimeout = getEnvDuration("PROVIDER_POLL_TIMEOUT", 2*time.Second)
	cfg.AllowedDomains = getEnvList("ALLOWED_DOMAINS", defaultAllowedDomains)
	cfg.AuthDisabled = getEnvBool("AUTH_DISABLED", false)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.SheetNameAutomations = getEnvString("SHEET_NAME_AUTOMATIONS", "Automatizaciones")
	cfg.SheetNameProcesses = getEnvString("SHEET_NAME_PROCESSES", "Procesos")
	cfg.SheetNameImageLinks = getEnvString("SHEET_NAME_IMAGE_LINKS", "ValorAgregado")
	cfg.SheetsTimeZone = getEnvString("SHEETS_TIME_ZONE", "UTC")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchSSRFGuard = getEnvBool("FETCH_SSRF_GUARD", true)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSignIn = getEnvInt("RATE_LIMIT_SIGN_IN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if len(cfg.AllowedDomains) == 0 {
		return nil, fmt.Errorf("ALLOWED_DOMAINS must contain at least one domain")
	}
	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be a positive number of seconds, got %d", cfg.SessionMaxAge)
	}
	if _, err := time.LoadLocation(cfg.SheetsTimeZone); err != nil {
		return nil, fmt.Errorf("invalid SHEETS_TIME_ZONE %q: %w", cfg.SheetsTimeZone, err)
	}

	return cfg, nil
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
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

// getEnvList はカンマ区切りの環境変数を小文字化・空要素除去したスライスで返す。
func getEnvList(key, defaultVal string) []string {
	raw := getEnvString(key, defaultVal)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
