package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightshowd/internal/config"
	"github.com/dokzlo13/lightshowd/internal/db"
	"github.com/dokzlo13/lightshowd/internal/ingress"
	"github.com/dokzlo13/lightshowd/internal/ledger"
	"github.com/dokzlo13/lightshowd/internal/metrics"
	"github.com/dokzlo13/lightshowd/internal/mqttc"
	"github.com/dokzlo13/lightshowd/internal/reconcile"
	"github.com/dokzlo13/lightshowd/internal/serialport"
	"github.com/dokzlo13/lightshowd/internal/state"
	"github.com/dokzlo13/lightshowd/internal/telemetry"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure (nil when the database is disabled)
	DB           *db.DB
	Ledger       *ledger.Ledger
	LedgerWriter *ledger.Writer

	Metrics    *metrics.Metrics
	Telemetry  *telemetry.Sink
	Translator *ingress.LuaTranslator
	Parser     *ingress.Parser

	// Transports
	MQTT   *mqttc.Client
	Serial *serialport.Link

	// Control loop
	Controller *reconcile.Controller
	Bridge     *BridgeService
	Health     *HealthService

	// ctx is the running context, set by Start before any callback can fire.
	ctx context.Context
	wg  sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
// onReboot is invoked from the control loop when a reboot command arrives.
func NewServices(cfg *config.Config, onReboot func()) (*Services, error) {
	s := &Services{cfg: cfg, ctx: context.Background()}

	s.Metrics = metrics.New()

	var recorder *ledger.Recorder
	if cfg.Database.Enabled {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB)
		s.LedgerWriter = ledger.NewWriter(s.Ledger, cfg.Ledger.QueueSize)
		recorder = ledger.NewRecorder(s.LedgerWriter)
		s.Metrics.WatchLedger(s.LedgerWriter.Dropped, s.LedgerWriter.Failed)
	}

	// Optional payload translator
	var translator ingress.Translator
	if cfg.Ingress.Script != "" {
		t, err := ingress.NewLuaTranslator(cfg.Ingress.Script)
		if err != nil {
			if s.LedgerWriter != nil {
				s.LedgerWriter.Close(context.Background())
			}
			s.Close()
			return nil, err
		}
		s.Translator = t
		translator = t
	}
	s.Parser = ingress.NewParser(cfg.Device.MaxBrightness, translator)

	s.Serial = serialport.New(serialport.Config{
		Port:        cfg.Serial.Port,
		BaudRate:    cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout.Duration(),
		BufferSize:  cfg.Link.BufferSize,
		Inactivity:  cfg.Link.InactivityTimeout.Duration(),
		SettleDelay: cfg.Serial.SettleDelay.Duration(),
		MinBackoff:  cfg.Serial.MinRetryBackoff.Duration(),
		MaxBackoff:  cfg.Serial.MaxRetryBackoff.Duration(),
		Multiplier:  cfg.Serial.RetryMultiplier,
	})

	mqttCfg := mqttc.Config{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		Topic:          cfg.MQTT.Topic,
		QoS:            cfg.MQTT.QoS,
		ConnectTimeout: cfg.MQTT.ConnectTimeout.Duration(),
		PublishTimeout: cfg.MQTT.PublishTimeout.Duration(),
	}
	// Callbacks only fire after Start has connected, by which time Bridge exists.
	onMessage := s.Parser.MessageHandler(
		func(change state.Change) { s.Bridge.SubmitChange(s.ctx, change) },
		func(payload string, err error) { s.Bridge.Reject(payload, err) },
	)
	s.MQTT = mqttc.New(mqttCfg, onMessage, func(up bool) { s.Bridge.SetBrokerConnected(s.ctx, up) })

	s.Telemetry = telemetry.NewSink(cfg.Telemetry.MinInterval.Duration(), s.MQTT, mqttCfg.StatusTopic())
	s.Telemetry.OnDrop(s.Metrics.TelemetryDropped)

	observers := reconcile.Observers{s.Metrics, telemetry.NewObserver(s.Telemetry)}
	if recorder != nil {
		observers = append(observers, recorder)
	}

	s.Controller = reconcile.NewController(s.Serial, reconcile.Config{
		HandshakeInterval: cfg.Link.HandshakeInterval.Duration(),
		AckTimeout:        cfg.Link.AckTimeout.Duration(),
		DefaultBrightness: cfg.Device.DefaultBrightness,
	}, observers)

	s.Bridge = NewBridgeService(
		s.Controller,
		cfg.Link.TickInterval.Duration(),
		cfg.Link.BufferSize,
		&notifier{metrics: s.Metrics, telemetry: s.Telemetry, recorder: recorder},
		onReboot,
	)

	s.Health = NewHealthService(cfg, s.Bridge, s.Metrics, s.Ledger)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	s.ctx = ctx

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.Bridge.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		_ = s.Serial.Run(ctx, s.Bridge.LinkEvents())
	}()

	if s.Ledger != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runLedgerCleanup(ctx)
		}()
	}

	s.Health.Start(ctx)
	s.MQTT.Connect()

	return nil
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// Stop waits for background loops to exit, then releases resources.
// The context passed to Start must already be cancelled.
func (s *Services) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Timed out waiting for background loops")
	}

	s.MQTT.Close()
	if s.LedgerWriter != nil {
		s.LedgerWriter.Close(ctx)
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Translator != nil {
		s.Translator.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
