package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-bookstore-orders/internal/app"
	"github.com/ariefcatur/go-bookstore-orders/internal/checkout"
	"github.com/ariefcatur/go-bookstore-orders/internal/config"
	"github.com/ariefcatur/go-bookstore-orders/internal/httpx"
	"github.com/ariefcatur/go-bookstore-orders/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.Setup(cfg.ServiceName)
	if cfg.JWTSecret == "" {
		log.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	svc := &checkout.Service{
		Store:    deps.Store,
		Ledger:   deps.Ledger,
		Payments: deps.Payments,
		Invoices: deps.Invoices,
		Events:   deps.Events,
		Cache:    deps.Cache,
		Log:      log,
		Producer: cfg.ServiceName,
	}
	validate := validator.New()

	// Routes
	router := httpx.NewRouter(deps.Store)
	(&httpx.CallbackHandler{Service: svc, Secret: cfg.CallbackSecret, Validate: validate}).Register(router)
	router.Group(func(r chi.Router) {
		r.Use(httpx.Authenticate(cfg.JWTSecret))
		(&httpx.OrdersHandler{Service: svc, Validate: validate}).Register(r)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
}
