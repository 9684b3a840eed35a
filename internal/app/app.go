package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/boletin/internal/auth"
	"github.com/hitoshi/boletin/internal/config"
	"github.com/hitoshi/boletin/internal/database"
	"github.com/hitoshi/boletin/internal/handler"
	"github.com/hitoshi/boletin/internal/logger"
	"github.com/hitoshi/boletin/internal/metrics"
	"github.com/hitoshi/boletin/internal/middleware"
	"github.com/hitoshi/boletin/internal/repository"
	"github.com/hitoshi/boletin/internal/security"
	"github.com/hitoshi/boletin/internal/sheets"
	"github.com/hitoshi/boletin/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定値のログレベルで再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("data_source", string(cfg.DataSource)),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// newSessionRepository はREDIS_URLが設定されていればRedis、なければPostgresのセッションストアを返す。
// 返すクローズ関数は呼び出し側でdeferする。
func newSessionRepository(cfg *config.Config, db *sql.DB) (repository.SessionRepository, func(), error) {
	if cfg.RedisURL == "" {
		return repository.NewPostgresSessionRepo(db), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("session store: redis", slog.String("addr", opts.Addr))
	return repository.NewRedisSessionRepo(client), func() { client.Close() }, nil
}

// newAssertionDecoder は署名検証の設定に応じたデコーダーとプロバイダーの疎通確認関数を返す。
func newAssertionDecoder(cfg *config.Config) (auth.AssertionDecoder, auth.ProviderProbe) {
	if !cfg.VerifyAssertionSignature {
		slog.Warn("identity assertion signatures are NOT verified (VERIFY_ASSERTION_SIGNATURE=false)")
		return auth.NewUnverifiedDecoder(), nil
	}

	verifier := auth.NewGoogleIDTokenVerifier(auth.GoogleIDTokenConfig{
		ClientID: cfg.GoogleClientID,
		CertsURL: cfg.GoogleCertsURL,
	}, slog.Default())
	return verifier, verifier.Ready
}

// newDataSource はDATA_SOURCEに応じたデータ取得元を返す。
func newDataSource(cfg *config.Config, collector metrics.MetricsCollector) sheets.Source {
	client := security.NewFetchClient(cfg.FetchSSRFGuard, cfg.FetchTimeout)

	if cfg.DataSource == config.DataSourceCSV {
		return sheets.NewCSVSource(sheets.CSVConfig{
			SheetID:              cfg.SheetID,
			SheetNameAutomations: cfg.SheetNameAutomations,
			SheetNameProcesses:   cfg.SheetNameProcesses,
			SheetNameImageLinks:  cfg.SheetNameImageLinks,
			MaxSize:              cfg.FetchMaxSize,
		}, client, collector, slog.Default())
	}

	return sheets.NewJSONSource(cfg.DataEndpointURL, client, cfg.FetchMaxSize, collector, slog.Default())
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo, closeSessions, err := newSessionRepository(cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. 認証サービスの初期化
	allowlist, err := auth.NewAllowlist(cfg.AllowedDomains)
	if err != nil {
		return fmt.Errorf("invalid ALLOWED_DOMAINS: %w", err)
	}
	decoder, probe := newAssertionDecoder(cfg)
	if v, ok := decoder.(*auth.GoogleIDTokenVerifier); ok {
		defer v.Close()
	}
	bootstrap := auth.NewProviderBootstrap(probe, cfg.ProviderPollInterval, cfg.ProviderPollTimeout, slog.Default())

	authService := auth.NewService(
		decoder, allowlist, userRepo, sessionRepo, bootstrap, collector,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge, AuthDisabled: cfg.AuthDisabled},
		slog.Default(),
	)
	if authService.AuthDisabled() {
		slog.Warn("authentication is DISABLED (AUTH_DISABLED=true): every request is granted as anonymous")
	} else {
		slog.Info("sign-in allowlist", slog.Any("domains", allowlist.Domains()))
	}

	// 5. データ取得サービスの初期化
	loc, err := time.LoadLocation(cfg.SheetsTimeZone)
	if err != nil {
		return fmt.Errorf("invalid SHEETS_TIME_ZONE: %w", err)
	}
	normalizer := sheets.NewNormalizer(loc, security.NewContentSanitizer(), security.NewURLGuard())
	dataService := sheets.NewService(newDataSource(cfg, collector), normalizer, collector, slog.Default())
	dataService.FetchTimeout = cfg.FetchTimeout

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSignIn),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,
		MetricsGatherer:   registry,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			ClientID:      cfg.GoogleClientID,
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		DataService: dataService,
	})

	// 7. HTTPサーバーの起動
	// WriteTimeoutはデータ取得のタイムアウトより長くする
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.FetchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 失効済みセッションの定期削除ジョブを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. セッションストア
	sessionRepo, closeSessions, err := newSessionRepository(cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	// 3. メトリクス（ワーカーは/metricsを公開しないため記録のみ）
	collector := metrics.NewCollector(prometheus.NewRegistry())

	cleanupJob := cleanup.NewCleanupJob(sessionRepo, collector, slog.Default())
	cleanupJob.Interval = cfg.SessionCleanupInterval

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
		slog.Bool("redis_sessions", cfg.RedisURL != ""),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
