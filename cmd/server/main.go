package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/craftbot/gocraft/internal/config"
	"github.com/craftbot/gocraft/internal/controlplane/server"
	"github.com/craftbot/gocraft/internal/manager"
	"github.com/craftbot/gocraft/internal/metrics"
	"github.com/craftbot/gocraft/internal/relay"
	"github.com/craftbot/gocraft/internal/store"
	"github.com/craftbot/gocraft/internal/telegram"
	"github.com/craftbot/gocraft/pkg/logger"
	"github.com/craftbot/gocraft/pkg/secretstore"
	"github.com/craftbot/gocraft/pkg/shutdown"
)

func main() {
	// Secrets open before config: the Telegram token may live only there.
	secrets := openSecrets()
	if secrets != nil {
		defer secrets.Close()
	}

	var secretSource config.SecretSource
	if secrets != nil {
		secretSource = secrets
	}
	cfg, err := config.Load(secretSource)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}); err != nil {
		log.Fatalf("init logger: %v", err)
	}

	db, err := store.Open(store.Options{Path: cfg.DatabasePath, MaxEventsPerBot: 200})
	if err != nil {
		logger.Errorf("open store: %v", err)
		os.Exit(1)
	}

	mgr := manager.New(manager.Config{
		MaxBotsPerOwner: cfg.MaxBotsPerUser,
		MaxTotalBots:    cfg.MaxTotalBots,
		ConnectTimeout:  cfg.ConnectTimeout,
		JavaPolicy: manager.BackoffPolicy{
			BaseDelay:   cfg.ReconnectBaseDelay,
			Growth:      cfg.ReconnectGrowth,
			MaxDelay:    cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.MaxReconnectJava,
		},
		BedrockPolicy: manager.BackoffPolicy{
			BaseDelay:   cfg.ReconnectBaseDelay,
			Growth:      cfg.ReconnectGrowth,
			MaxDelay:    cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.MaxReconnectBedrock,
		},
		Presence: cfg.Presence,
	}, db, nil)

	tg, err := telegram.New(telegram.Config{
		Token:    cfg.TelegramBotToken,
		AdminIDs: cfg.TelegramAdminIDs,
	}, mgr, db)
	if err != nil {
		logger.Errorf("init telegram bot: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// debug server (expvar + pprof), localhost only, opt-in
	if addr := strings.TrimSpace(os.Getenv("METRICS_ADDR")); addr != "" {
		if _, err := metrics.StartAsync(ctx, addr); err != nil {
			logger.Warnf("metrics server on %s: %v", addr, err)
		} else {
			logger.Infof("metrics server listening on %s", addr)
		}
	}

	go tg.Run(ctx)

	notifyCh, notifyUnsub := mgr.Subscribe()
	go tg.NotifyLoop(ctx, notifyCh)

	var hook *relay.Webhook
	if cfg.EventWebhookURL != "" {
		hook = relay.NewWebhook(cfg.EventWebhookURL)
		hookCh, hookUnsub := mgr.Subscribe()
		go hook.Forward(hookCh)
		defer hookUnsub()
	}
	defer notifyUnsub()

	cp := server.New(server.Config{Addr: cfg.HTTPAddr}, mgr, db)
	httpSrv := cp.HTTPServer()
	go func() {
		logger.Infof("control plane listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server: %v", err)
		}
	}()

	sd := shutdown.NewManager()
	sd.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = httpSrv.Shutdown(ctx)
		}()
	})
	sd.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Shutdown(ctx)
		}()
	})
	sd.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if hook != nil {
				hook.Stop()
			}
		}()
	})

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	logger.Info("shutting down")
	cancel()

	sdCtx, sdCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer sdCancel()
	sd.Shutdown(sdCtx)

	if err := db.Close(); err != nil {
		logger.Warnf("close store: %v", err)
	}
	fmt.Println("server stopped")
}

// openSecrets is best-effort: no key configured means the secret store is
// simply not used.
func openSecrets() *secretstore.Store {
	raw := strings.TrimSpace(os.Getenv("SECRETS_ENCRYPTION_KEY"))
	if raw == "" {
		return nil
	}
	key, err := secretstore.ParseKey(raw)
	if err != nil || key == nil {
		log.Printf("secrets: bad SECRETS_ENCRYPTION_KEY, skipping secret store: %v", err)
		return nil
	}
	dir := strings.TrimSpace(os.Getenv("SECRETS_DIR"))
	if dir == "" {
		dir = "data/secrets"
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: dir, EncryptionKey: key})
	if err != nil {
		log.Printf("secrets: open %s: %v", dir, err)
		return nil
	}
	return ss
}
