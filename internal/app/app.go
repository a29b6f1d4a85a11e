// Package app はアプリケーションの初期化と起動モードごとのワイヤリングを行う。
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/powderwatch/internal/config"
	"github.com/hitoshi/powderwatch/internal/database"
	"github.com/hitoshi/powderwatch/internal/handler"
	"github.com/hitoshi/powderwatch/internal/logger"
	"github.com/hitoshi/powderwatch/internal/metrics"
	"github.com/hitoshi/powderwatch/internal/middleware"
	"github.com/hitoshi/powderwatch/internal/model"
	"github.com/hitoshi/powderwatch/internal/projection"
	"github.com/hitoshi/powderwatch/internal/repository"
	"github.com/hitoshi/powderwatch/internal/security"
	"github.com/hitoshi/powderwatch/internal/subscription"
	"github.com/hitoshi/powderwatch/internal/worker/cleanup"
	"github.com/hitoshi/powderwatch/internal/worker/fetch"
)

// cleanupAt は状態クリーンアップジョブの日次実行時刻。
const cleanupAt = "03:30"

// stdout はdiscoverサブコマンドの出力先。
var stdout io.Writer = os.Stdout

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	return cfg, logger.SetupDefault(w, cfg.LogLevel), nil
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
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("feed_url", cfg.FeedURL),
		slog.String("timezone", cfg.Location.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, log, MigrateDirection(args))
	case CommandDiscover:
		return runDiscover(ctx, cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// runServe はAPIサーバーとポーリングスケジューラを起動する。
// DB接続を開き、全依存関係をワイヤリングし、永続化済みの購読を復元する。
// ctxが終了するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	// 2. リポジトリとメトリクスの初期化
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	stateRepo := repository.NewPostgresEntityStateRepo(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 3. セキュリティと値導出の初期化
	guard := security.NewSSRFGuard(security.AllowPrivateNetworks(cfg.FeedAllowPrivate))
	sanitizer := security.NewContentSanitizer()
	projector := projection.New(projection.WithTextFilter(security.ExtractText))

	// 4. スケジューラと購読サービスの初期化
	scheduler := fetch.NewScheduler(log, cfg.PollInterval, cfg.Location)
	subService := subscription.NewService(
		subscription.Config{
			FeedURL:      cfg.FeedURL,
			FetchTimeout: cfg.FetchTimeout,
			FetchMaxSize: cfg.FetchMaxSize,
			Location:     cfg.Location,
		},
		subRepo, stateRepo, guard, scheduler, log,
		subscription.WithProjector(projector),
		subscription.WithSanitizer(sanitizer),
		subscription.WithMetrics(collector),
	)
	if err := subService.ValidateFeedURL(); err != nil {
		return fmt.Errorf("FEED_URL is not allowed: %w", err)
	}

	scheduler.Start()
	defer scheduler.Stop()
	defer subService.Shutdown()

	if _, err := subService.Restore(ctx); err != nil {
		return err
	}

	// 5. クリーンアップジョブの起動
	cleanupJob := cleanup.NewCleanupJob(stateRepo, log, cfg.StateRetentionDays)
	stopCleanup, err := cleanupJob.Schedule(cfg.Location, cleanupAt)
	if err != nil {
		return err
	}
	defer stopCleanup()

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitSetup),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:              log,
		CORSAllowedOrigin:   cfg.CORSAllowedOrigin,
		RateLimiter:         rateLimiter,
		SubscriptionService: subService,
		DB:                  db,
		Gatherer:            reg,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 購読作成は初回取得を同期で行うため、フェッチタイムアウト分の余裕を持たせる
		WriteTimeout: 15*time.Second + 2*cfg.FetchTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// upはすべての未適用マイグレーションを適用し、downは最後の1つを戻す。
func runMigrate(cfg *config.Config, log *slog.Logger, direction string) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", direction),
	)

	if direction == "down" {
		if err := database.RollbackLast(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		log.Info("database migration rolled back")
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runDiscover はフィードを1回取得し、選択可能なリゾート名をJSONで出力する。
// 取得に失敗した場合は ["All"] を出力する。
func runDiscover(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	guard := security.NewSSRFGuard(security.AllowPrivateNetworks(cfg.FeedAllowPrivate))
	if err := guard.ValidateURL(cfg.FeedURL); err != nil {
		return model.NewSSRFBlockedError()
	}

	client := guard.NewSafeClient(cfg.FetchTimeout, cfg.FetchMaxSize)
	defer client.CloseIdleConnections()

	names, err := fetch.Discover(ctx, client, cfg.FeedURL, cfg.FetchTimeout, cfg.FetchMaxSize)
	if err != nil || len(names) == 0 {
		if err != nil {
			log.Warn("リゾート一覧の取得に失敗しました", slog.String("error", err.Error()))
		}
		names = []string{model.AllResorts}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string][]string{"resorts": names})
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.Redacted()
}
