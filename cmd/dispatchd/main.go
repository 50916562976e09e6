// Command dispatchd runs the print dispatch service: the durable print queue,
// its processor on the primary instance and the HTTP API used by the POS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/orrn/printdispatch/internal/api"
	"github.com/orrn/printdispatch/internal/api/handlers"
	"github.com/orrn/printdispatch/internal/api/middleware"
	"github.com/orrn/printdispatch/internal/archive"
	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/core"
	"github.com/orrn/printdispatch/internal/db"
	"github.com/orrn/printdispatch/internal/logging"
	"github.com/orrn/printdispatch/internal/notify"
	"github.com/orrn/printdispatch/internal/order"
	"github.com/orrn/printdispatch/internal/printer"
	"github.com/orrn/printdispatch/internal/webhook"
)

func main() {
	configPath := flag.String("config", "dispatch.yaml", "path to the config file")
	flag.Parse()

	if _, err := config.LoadDotEnv(); err != nil {
		log.Printf("[dispatch] failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[dispatch] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[dispatch] invalid config: %v", err)
	}
	if cfg.Processor.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.Processor.InstanceID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	if err := logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
	}); err != nil {
		log.Printf("[dispatch] %v", err)
	}
	defer logging.Close()

	if err := db.Init(db.Config{Driver: cfg.Database.Driver, Path: cfg.Database.Path}); err != nil {
		log.Fatalf("[dispatch] %v", err)
	}
	defer db.Close()
	store := db.GetDB()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub(cfg.Processor.InstanceID)
	go hub.Run(ctx)

	queue := core.NewQueue(store, cfg.Queue, hub)

	printerConfig, err := printer.NewConfigStore(cfg.Printer.ConfigPath)
	if err != nil {
		log.Fatalf("[dispatch] %v", err)
	}

	var handshake printer.Handshake
	if cfg.Agent.CertificatePath != "" {
		handshake, err = printer.LoadHandshake(cfg.Agent.CertificatePath, cfg.Agent.PrivateKeyPath)
		if err != nil {
			log.Fatalf("[dispatch] %v", err)
		}
	} else {
		logging.Warnf("[dispatch] no agent certificate configured, direct printing is unavailable")
	}

	rasterizer := printer.NewChromeRasterizer(os.Getenv("CHROME_PATH"))
	defer rasterizer.Close()
	adapter := printer.NewAdapter(cfg.Agent, printerConfig, handshake, rasterizer)
	defer adapter.Close()

	auth, err := middleware.NewAuthMiddleware(db.NewSettingsOperations(store))
	if err != nil {
		log.Fatalf("[dispatch] failed to initialize auth: %v", err)
	}

	webhooks := db.NewWebhookOperations(store)
	sender := webhook.NewWebhookSender(webhooks, auth.DecryptSecret, webhook.WebhookConfig{
		RetryCount:  cfg.Webhooks.RetryCount,
		RetryDelay:  cfg.Webhooks.RetryDelay,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.WorkerCount,
		QueueSize:   cfg.Webhooks.QueueSize,
	})
	sender.Start()
	defer sender.Stop()

	notifications := []core.Subscriber{hub}
	for _, peer := range cfg.Processor.NotifyPeers {
		notifications = append(notifications, notify.NewListener(peer, auth.PeerToken))
	}

	processor := core.NewProcessor(queue, adapter, adapter, core.Role(cfg.Processor.Role), core.ProcessorConfig{
		InstanceID:    cfg.Processor.InstanceID,
		BatchSize:     cfg.Queue.BatchSize,
		PollInterval:  cfg.Processor.PollInterval,
		NotifyDelay:   cfg.Processor.NotifyDelay,
		StuckAfter:    cfg.Processor.StuckAfter,
		Notifications: notifications,
		Outcomes:      sender,
	})
	var runner handlers.QueueRunner
	if cfg.IsPrimary() {
		runner = processor
		go func() {
			if err := processor.Run(ctx); err != nil {
				log.Printf("[processor] %v", err)
			}
		}()
	} else {
		log.Printf("[dispatch] running as %s, queue processing is left to the primary", cfg.Processor.Role)
	}

	var archiveHandler *handlers.ArchiveHandler
	archiver, err := archive.NewArchiver(store, archive.ArchiveConfig{
		ArchivePath: cfg.Database.ArchivePath,
		ArchiveDays: cfg.Database.ArchiveDays,
		Passphrase:  cfg.Database.ArchivePassphrase,
	})
	if err != nil {
		logging.Warnf("[archive] disabled: %v", err)
	} else {
		archiveHandler = handlers.NewArchiveHandler(archiver)
		// a shared store is archived by the primary alone
		if store.Driver == db.DriverSQLite || cfg.IsPrimary() {
			archiver.Start()
			defer archiver.Stop()
		}
	}

	var orders order.Producer
	if cfg.Orders.BaseURL != "" {
		orders = order.NewHTTPProducer(cfg.Orders.BaseURL, cfg.Orders.Timeout)
	} else {
		logging.Warnf("[dispatch] orders.base_url is not set, order printing endpoints will fail")
	}
	service := core.NewService(queue, adapter, orders, printerConfig)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Handlers{
		Auth:          auth,
		Jobs:          handlers.NewJobHandler(service, runner),
		Printers:      handlers.NewPrinterHandler(adapter, printerConfig),
		Webhooks:      handlers.NewWebhookHandler(webhooks, auth),
		Archive:       archiveHandler,
		Settings:      handlers.NewSettingsHandler(cfg),
		Notifications: hub,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("[dispatch] %s listening on %s (role %s)", cfg.Processor.InstanceID, srv.Addr, cfg.Processor.Role)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[dispatch] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[dispatch] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[dispatch] shutdown error: %v", err)
	}
}
