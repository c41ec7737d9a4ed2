// cmd/chat-core — 事件分发与对话状态调和核心的主入口。
//
// 进程内显式构造各单例一次 (transport / router / registry / tracker),
// 依赖注入到消费者, 不靠隐式模块状态。
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mindgrid/go-chat-v2/internal/api"
	"github.com/mindgrid/go-chat-v2/internal/apiserver"
	"github.com/mindgrid/go-chat-v2/internal/archive"
	"github.com/mindgrid/go-chat-v2/internal/config"
	"github.com/mindgrid/go-chat-v2/internal/database"
	"github.com/mindgrid/go-chat-v2/internal/router"
	"github.com/mindgrid/go-chat-v2/internal/scan"
	"github.com/mindgrid/go-chat-v2/internal/session"
	"github.com/mindgrid/go-chat-v2/internal/store"
	"github.com/mindgrid/go-chat-v2/internal/thread"
	"github.com/mindgrid/go-chat-v2/internal/transport"
	"github.com/mindgrid/go-chat-v2/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// .env 可选, 不存在时静默跳过
	_ = godotenv.Load()
	cfg := config.Load()

	if err := logger.InitWithFile(cfg.LogDir); err != nil {
		logger.Warn("file logging unavailable, stdout only", logger.FieldError, err)
	}
	defer logger.ShutdownFileHandler()

	dir := buildDirectory(ctx, cfg)

	client := api.NewClient(cfg.BackendBaseURL, time.Duration(cfg.RequestTimeout)*time.Second)
	bus := router.New()

	tr := transport.New(transport.Options{
		URL:         cfg.BackendEventURL,
		BaseDelay:   time.Duration(cfg.ReconnectBaseMS) * time.Millisecond,
		MaxAttempts: cfg.ReconnectMaxAttempts,
	}, bus)

	sessions := session.New(cfg.BackendStateful, client, session.NewDirectoryHistory(dir))

	registry := thread.NewRegistry(bus, client, thread.Options{
		SyncSendCeiling: time.Duration(cfg.SyncSendCeilingSec) * time.Second,
		Sessions:        sessions,
	})
	registry.Start()
	defer registry.Stop()

	tracker := scan.New(bus, client)

	recorder := archive.NewRecorder(bus, dir)
	recorder.Start()
	defer recorder.Stop()

	feeds := apiserver.NewFeeds(bus, cfg.DebugFeedLimit)
	feeds.Start()
	defer feeds.Stop()

	if err := tr.Initialize(); err != nil {
		// 后端未起也先启动, 之后经 /api/connection/initialize 重试
		logger.Warn("event connection not established at startup", logger.FieldError, err)
	}
	defer tr.Disconnect()

	srv := apiserver.NewServer(apiserver.Deps{
		Registry:  registry,
		Scan:      tracker,
		Transport: tr,
		Directory: dir,
		Sessions:  sessions,
		Feeds:     feeds,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api server starting", logger.FieldPort, cfg.APIServerPort)
		return srv.Run(cfg.APIServerPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("fatal", logger.FieldError, err)
	}
}

// buildDirectory 线程目录: 配置了 PostgreSQL 用 pgx, 否则内存目录。
func buildDirectory(ctx context.Context, cfg *config.Config) store.Directory {
	if cfg.PostgresConnStr == "" {
		logger.Info("thread directory: in-memory (POSTGRES_CONNECTION_STRING not set)")
		return store.NewMemoryDirectory()
	}
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Warn("postgres unavailable, falling back to in-memory directory", logger.FieldError, err)
		return store.NewMemoryDirectory()
	}
	pg := store.NewPostgresDirectory(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Warn("schema init failed, falling back to in-memory directory", logger.FieldError, err)
		pool.Close()
		return store.NewMemoryDirectory()
	}
	return pg
}
