package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/octera-energy/surplus-manager/internal/api"
	"github.com/octera-energy/surplus-manager/internal/config"
	"github.com/octera-energy/surplus-manager/internal/core"
	"github.com/octera-energy/surplus-manager/internal/integrations"
	"github.com/octera-energy/surplus-manager/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := envOr("CONFIG_FILE", "config.yaml")
	logDir := envOr("LOG_DIR", "./logs")
	logLevel := envOr("LOG_LEVEL", "info")

	logger := logging.New(logLevel, logDir)
	log := logger.WithField("component", "bootstrap")

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return 1
	}
	log.Infof("starting surplus manager with %d configured devices", len(cfg.Devices))

	store := config.NewStore(logger.WithField("component", "config"), configFile, cfg)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := core.NewRegistry(logger.WithField("component", "registry"), store)
	cooldown := core.NewCooldownTimer(logger.WithField("component", "cooldown"))
	scheduler := core.NewScheduler(logger.WithField("component", "scheduler"), registry, cooldown, core.Tunables{
		SurplusMargin: cfg.SurplusMargin,
		GridMargin:    cfg.GridMargin,
		IdlePower:     cfg.IdlePower,
	})

	if err := registerDevices(registry, cfg); err != nil {
		log.Errorf("failed to register devices: %v", err)
		return 1
	}

	actuator := integrations.NewActuator(cfg, logger.WithField("component", "http_post"))
	for _, d := range cfg.Devices {
		if d.ControlIntegration == "http_post" {
			registry.BindActuator(d.Name, actuator)
		}
	}

	consumptionRunners, err := integrations.NewDeviceConsumptionIngestion(cfg, logger.WithField("component", "ingestion"), scheduler)
	if err != nil {
		log.Errorf("failed to initialize device consumption integrations: %v", err)
		return 1
	}

	surplusRunner, err := integrations.NewSurplusIngestion(cfg, logger.WithField("component", "ingestion"), scheduler)
	if err != nil {
		log.Errorf("failed to initialize surplus integration: %v", err)
		return 1
	}

	apiServer := api.NewServer(logger.WithField("component", "api"), cfg.Server.Host, cfg.Server.Port, registry, scheduler, store)

	runners := append([]integrations.Runner{surplusRunner}, consumptionRunners...)

	// Init runs synchronously, before any runner starts, so an MQTT broker
	// that is unreachable at startup is a fatal exit rather than a
	// goroutine failure discovered later. http_get runners do no startup
	// check; their failed polls are logged while running.
	for _, r := range runners {
		if err := r.Init(); err != nil {
			log.Errorf("failed to initialize ingestion integration: %v", err)
			return 1
		}
	}

	var wg sync.WaitGroup
	for _, r := range runners {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Start(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(ctx); err != nil {
			log.Errorf("management API error: %v", err)
			cancel()
		}
	}()

	log.Info("all services started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("received shutdown signal")
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	log.Info("shutting down...")
	cancel()
	scheduler.Shutdown()

	wg.Wait()
	log.Info("shutdown complete")
	return 0
}

func registerDevices(registry *core.Registry, cfg *config.Config) error {
	for _, dc := range cfg.Devices {
		var deviceType core.DeviceType
		switch dc.Type {
		case "switch":
			deviceType = core.DeviceTypeSwitch
		case "regulated":
			deviceType = core.DeviceTypeRegulated
		default:
			return &core.InvalidDeviceTypeError{Device: dc.Name}
		}

		d := core.NewDevice(dc.Name, deviceType, dc.ExpectedConsumption)
		if dc.MaxConsumption != nil {
			d.SetMaxConsumption(*dc.MaxConsumption)
		}
		if dc.Cooldown != nil {
			d.SetCooldown(*dc.Cooldown)
		}
		d.SetConsumptionIntegration(dc.ConsumptionIntegration)

		registry.Register(d)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
