package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parrot/internal/afk"
	"parrot/internal/bot"
	"parrot/internal/config"
	"parrot/internal/globalchat"
	"parrot/internal/guildcfg"
	"parrot/internal/leveling"
	"parrot/internal/msglog"
	"parrot/internal/scam"
	"parrot/internal/storage"
	"parrot/internal/timers"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := storage.New(rootCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}

	queue := timers.New(store, time.Duration(cfg.Timers.PollSeconds)*time.Second, logger)
	afkReg := afk.New(store, bot.NewAFKScheduler(queue),
		time.Duration(cfg.AFK.MinScheduleSeconds)*time.Second, logger)
	levels := leveling.New(store,
		time.Duration(cfg.Leveling.CooldownSeconds)*time.Second,
		cfg.Leveling.MinXP, cfg.Leveling.MaxXP, logger)
	detector := scam.New(cfg.Scam.Endpoint, cfg.Scam.UserAgent,
		time.Duration(cfg.Scam.TimeoutSeconds)*time.Second, logger)
	recorder := msglog.New(store,
		time.Duration(cfg.MessageLog.FlushSeconds)*time.Second,
		time.Duration(cfg.MessageLog.RetentionHours)*time.Hour, logger)
	relay := globalchat.New(store, nil,
		cfg.GlobalChat.BurstMessages,
		time.Duration(cfg.GlobalChat.BurstWindowSeconds)*time.Second,
		cfg.GlobalChat.MaxLines, cfg.GlobalChat.MaxEmoji, logger)
	guilds := guildcfg.New(store)

	if err := afkReg.Warm(rootCtx); err != nil {
		logger.Fatal("afk warm failed", zap.Error(err))
	}
	if err := relay.Refresh(rootCtx); err != nil {
		logger.Fatal("global chat load failed", zap.Error(err))
	}

	botSvc, err := bot.New(cfg, logger, store, afkReg, queue, levels, detector, recorder, relay, guilds)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	go queue.Run(rootCtx)
	go recorder.Run(rootCtx)

	var server *http.Server
	if cfg.Health.Enabled {
		server = &http.Server{Addr: cfg.Health.Addr}
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
	if err := store.Close(ctx); err != nil {
		logger.Error("storage close failed", zap.Error(err))
	}
}
