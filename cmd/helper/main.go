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

	"ride-tracker/internal/config"
	"ride-tracker/internal/mylogger"
	"ride-tracker/internal/sandbox"
)

// helper runs a local booking backend: the REST endpoints the identity
// manager calls and the ride/notification sockets, with a simulated driver.
func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	port := flag.Int("port", cfg.Sandbox.Port, "port to listen on")
	issueFor := flag.String("issue-token", "", "print a token for this user id and exit")
	flag.Parse()

	appLogger, err := mylogger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	srv := sandbox.New(sandbox.Config{
		JWTSecret:   cfg.Sandbox.JWTSecret,
		AuthTimeout: AuthTimeout,
		Sim:         simConfig(),
	}, appLogger)

	if *issueFor != "" {
		token, err := srv.Authenticator().Issue(*issueFor, DemoTokenTTL)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	demoToken, err := srv.Authenticator().Issue("passenger-demo", DemoTokenTTL)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		appLogger.Action("sandbox_started").Info("sandbox backend listening",
			"port", *port, "demo_token", demoToken)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Action("sandbox_listen").Error("server stopped", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Action("sandbox_shutdown").Info("shutting down")

	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Action("sandbox_shutdown").Error("graceful shutdown failed", err)
	}
}
