package app

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightshowd/internal/config"
)

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc

	reboot atomic.Bool
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	services, err := NewServices(cfg, a.requestReboot)
	if err != nil {
		return nil, err
	}
	a.services = services

	return a, nil
}

// Start initializes and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		a.cancel()
		return err
	}

	log.Info().
		Str("serial", a.cfg.Serial.Port).
		Str("broker", a.cfg.MQTT.Broker).
		Str("topic", a.cfg.MQTT.Topic).
		Msg("lightshowd started")
	return nil
}

// requestReboot stops the app and marks it for re-exec.
func (a *App) requestReboot() {
	a.reboot.Store(true)
	if a.cancel != nil {
		a.cancel()
	}
}

// RebootRequested reports whether shutdown was caused by a reboot command.
func (a *App) RebootRequested() bool {
	return a.reboot.Load()
}

// Stop gracefully shuts down all services.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services == nil {
		return nil
	}

	timeout := a.cfg.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.services.Stop(ctx)
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
