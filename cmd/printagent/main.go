// Command printagent runs the local print agent: it accepts authenticated
// websocket connections from dispatch services and drives ESC/POS printers
// on the local network.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdispatch/internal/agent"
	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/logging"
)

func main() {
	configPath := flag.String("config", "printagent.yaml", "path to the agent config file")
	flag.Parse()

	if _, err := config.LoadDotEnv(); err != nil {
		log.Printf("[agent] failed to load .env: %v", err)
	}

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		log.Fatalf("[agent] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[agent] invalid config: %v", err)
	}

	if err := logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
		Name:   "printagent",
	}); err != nil {
		log.Printf("[agent] %v", err)
	}
	defer logging.Close()

	verifier, err := agent.NewVerifier(cfg.TrustedCertificates)
	if err != nil {
		log.Fatalf("[agent] %v", err)
	}
	if len(cfg.TrustedCertificates) == 0 {
		logging.Warnf("[agent] no trusted certificates configured, any valid client certificate is accepted")
	}

	printers := agent.NewPrinterManager(cfg, func(name, _, newStatus string) {
		if newStatus == agent.StatusPaperOut {
			logging.Warnf("[agent] printer %s is out of paper", name)
		}
	})
	printers.Start()
	defer printers.Stop()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: agent.NewServer(printers, verifier).Router(),
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatalf("[agent] failed to listen on %s: %v", cfg.Listen, err)
	}

	if cfg.MDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		shutdown, err := agent.Announce(port)
		if err != nil {
			logging.Warnf("[agent] %v", err)
		} else {
			defer shutdown()
		}
	}

	go func() {
		log.Printf("[agent] listening on %s with %d printer(s)", ln.Addr(), len(cfg.Printers))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[agent] server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[agent] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[agent] shutdown error: %v", err)
	}
}
