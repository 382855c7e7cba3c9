package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventmarket/internal/auth"
	"eventmarket/internal/config"
	"eventmarket/internal/controller"
	"eventmarket/internal/payments"
	"eventmarket/internal/repository"
	"eventmarket/internal/router"
	"eventmarket/internal/service"
)

type App struct {
	repo       *repository.Repository
	service    *service.Service
	controller *controller.Controller
	payments   service.PaymentProvider
	log        *slog.Logger
	stopSig    chan os.Signal
	cfg        *config.Config

	Done chan struct{}
}

type option func(*App)

func WithConfig(cfg *config.Config) option {
	return func(app *App) {
		app.cfg = cfg
	}
}

// WithPaymentProvider overrides the Stripe-backed provider, tests use it to
// avoid calling out to the processor.
func WithPaymentProvider(provider service.PaymentProvider) option {
	return func(app *App) {
		app.payments = provider
	}
}

func NewApp(opts ...option) (*App, error) {
	var err error

	app := &App{
		stopSig: make(chan os.Signal, 2),
		Done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.cfg == nil {
		cfg, err := config.NewConfig()
		if err != nil {
			return nil, err
		}
		app.cfg = cfg
	}

	app.log = newLogger(app.cfg.LogLevel)
	slog.SetDefault(app.log)

	app.repo, err = repository.NewRepository(nil, &app.cfg.PostgresConfig)
	if err != nil {
		return nil, err
	}

	if app.payments == nil {
		app.payments = payments.NewStripeProvider(&app.cfg.PaymentsConfig)
	}

	app.service = service.NewService(app.repo, app.payments, app.log)
	app.controller = controller.NewController(app.service, auth.NewAdmin(app.cfg.JWTSecret, app.cfg.AdminAPIKey))

	return app, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(level))
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func (app *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		signal.Notify(app.stopSig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		sig := <-app.stopSig
		app.log.Info("Received signal", "signal", sig.String())
		cancel()
	}()

	server := http.Server{
		Addr:         app.cfg.ServerAddress,
		Handler:      router.NewRouter(app.controller),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			app.log.Error("Http server error", "error", err)
		}
	}()

	app.log.Info("Server started, listening for connections...", "address", app.cfg.ServerAddress)
	<-ctx.Done()

	timeout, tcancel := context.WithTimeout(context.Background(), time.Second*10)
	defer tcancel()
	app.log.Info("Shutting down http server...")
	server.Shutdown(timeout)

	app.log.Info("Closing repository...")
	err := app.repo.Close()
	if err != nil {
		app.log.Error("Repository closing error", "error", err)
	}

	close(app.Done)
	app.log.Info("Exiting app.")
}
