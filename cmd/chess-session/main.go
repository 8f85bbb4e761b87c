package main

import (
    "context"
    "errors"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "go.uber.org/zap"

    appcfg "github.com/park285/cheese-chess-session/internal/config"
    "github.com/park285/cheese-chess-session/internal/archive"
    "github.com/park285/cheese-chess-session/internal/httpapi"
    "github.com/park285/cheese-chess-session/internal/mirror"
    "github.com/park285/cheese-chess-session/internal/msgcat"
    "github.com/park285/cheese-chess-session/internal/notify"
    "github.com/park285/cheese-chess-session/internal/obslog"
    "github.com/park285/cheese-chess-session/internal/queue"
    "github.com/park285/cheese-chess-session/internal/rules"
    "github.com/park285/cheese-chess-session/internal/session"
    "github.com/park285/cheese-chess-session/internal/sink"
    "github.com/park285/cheese-chess-session/internal/transport"
)

func main() {
    cfg, err := appcfg.Load()
    if err != nil {
        log.Fatalf("config error: %v", err)
    }
    if err := obslog.InitFromEnv(); err != nil {
        log.Fatalf("logger init error: %v", err)
    }
    logger := obslog.L()
    defer func() { _ = logger.Sync() }()

    catalog, err := msgcat.New(cfg.MessagesDir)
    if err != nil {
        logger.Fatal("msgcat_init_failed", zap.Error(err))
    }

    fan := sink.New(cfg.EventBuffer, 5*time.Second)

    // Optional integrations; each is enabled by its URL.
    var results httpapi.ResultLister
    var mir *mirror.Mirror
    if cfg.RedisURL != "" {
        mir, err = mirror.New(cfg.RedisURL)
        if err != nil {
            logger.Fatal("mirror_init_failed", zap.Error(err))
        }
        fan.AddState("redis", mir)
        fan.AddResult("redis", mir)
        results = mir
    }
    var repo *archive.Repository
    if cfg.DatabaseURL != "" {
        repo, err = archive.NewRepository(cfg.DatabaseURL)
        if err != nil {
            logger.Fatal("archive_init_failed", zap.Error(err))
        }
        sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        err = repo.EnsureSchema(sctx)
        cancel()
        if err != nil {
            logger.Fatal("archive_schema_failed", zap.Error(err))
        }
        fan.AddResult("postgres", repo)
    }
    if cfg.NotifyBaseURL != "" {
        nc := notify.NewClient(cfg.NotifyBaseURL, cfg.NotifyRoom, notify.WithUserID(cfg.NotifyUserID), notify.WithCatalog(catalog))
        fan.AddResult("notify", sink.ResultFunc(nc.NotifyGameFinished))
    }
    if cfg.AMQPURL != "" {
        pub := queue.NewPublisher(cfg.AMQPURL)
        fan.AddResult("amqp", sink.ResultFunc(pub.PublishGameFinished))
    }

    hub := transport.NewHub(
        transport.WithAllowedOrigins(cfg.AllowedOrigins),
        transport.WithSendBuffer(cfg.ClientSendBuffer),
    )
    coord := session.New(rules.New(), hub,
        session.WithResetDelay(cfg.ResetDelay),
        session.WithEventBuffer(cfg.EventBuffer),
        session.WithCatalog(catalog),
        session.WithObserver(fan),
    )
    hub.Attach(coord)

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    loopDone := make(chan struct{})
    go func() {
        defer close(loopDone)
        _ = coord.Run(ctx)
    }()

    e := httpapi.New(http.HandlerFunc(hub.ServeWS), coord, results)
    srv := &http.Server{Addr: cfg.ListenAddr, Handler: e, ReadHeaderTimeout: 10 * time.Second}
    go func() {
        logger.Info("http_listening", zap.String("addr", cfg.ListenAddr))
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.Error("http_serve_failed", zap.Error(err))
            stop()
        }
    }()

    <-ctx.Done()
    logger.Info("shutdown_started")

    sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := srv.Shutdown(sctx); err != nil {
        logger.Warn("http_shutdown_failed", zap.Error(err))
    }
    if err := hub.Close(sctx); err != nil {
        logger.Warn("ws_close_failed", zap.Error(err))
    }
    <-loopDone
    if err := fan.Close(sctx); err != nil {
        logger.Warn("sink_drain_failed", zap.Error(err))
    }
    if mir != nil {
        _ = mir.Close()
    }
    if repo != nil {
        _ = repo.Close()
    }
    logger.Info("shutdown_complete")
}
