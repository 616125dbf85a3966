// Package integrations is the static registry of integration
// constructors keyed by kind: a switch over a small set of named
// constructors, selected by configuration rather than discovered by
// folder scan or plugin loading.
package integrations

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/octera-energy/surplus-manager/internal/config"
	"github.com/octera-energy/surplus-manager/internal/core"
	"github.com/octera-energy/surplus-manager/internal/integrations/httpget"
	"github.com/octera-energy/surplus-manager/internal/integrations/httppost"
	"github.com/octera-energy/surplus-manager/internal/integrations/mqttsub"
)

const defaultPollInterval = 5 * time.Second

// Runner is the lifecycle contract every ingestion integration
// implements once wired. Init runs synchronously during bootstrap,
// before any service goroutine starts: an MQTT broker that is
// unreachable at startup fails here so the process exits non-zero
// instead of failing later inside a goroutine that can only cancel the
// run context. The http_get runner's Init does no network check. Start
// blocks, driving readings into the core, until ctx is cancelled; it
// assumes Init already succeeded.
type Runner interface {
	Init() error
	Start(ctx context.Context)
}

type httpGetRunner struct {
	poller *httpget.Poller
}

func (r *httpGetRunner) Init() error { return nil }

func (r *httpGetRunner) Start(ctx context.Context) {
	r.poller.Run(ctx)
}

type mqttSubRunner struct {
	sub    *mqttsub.Subscriber
	topic  string
	report func(float64)
}

func (r *mqttSubRunner) Init() error {
	if err := r.sub.Connect(); err != nil {
		return &core.IntegrationInitError{Integration: "mqtt_sub", Err: err}
	}
	if err := r.sub.SubscribeNumeric(r.topic, r.report); err != nil {
		r.sub.Disconnect()
		return &core.IntegrationInitError{Integration: "mqtt_sub", Err: err}
	}
	return nil
}

func (r *mqttSubRunner) Start(ctx context.Context) {
	<-ctx.Done()
	r.sub.Disconnect()
}

// NewSurplusIngestion builds the Runner that feeds the scheduler's
// surplus signal, selecting http_get or mqtt_sub per config.Surplus.
func NewSurplusIngestion(cfg *config.Config, log *logrus.Entry, sink core.IngestionPort) (Runner, error) {
	switch {
	case cfg.Surplus.HTTPGet != nil:
		timeout := time.Duration(cfg.Integrations.HTTPGet.Timeout) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		poller := httpget.NewPoller(log, cfg.Surplus.HTTPGet.Path, timeout, defaultPollInterval, sink.SetSurplus)
		return &httpGetRunner{poller: poller}, nil

	case cfg.Surplus.MQTTSub != nil:
		sub := mqttsub.NewSubscriber(mqttsub.Config{
			Hostname: cfg.Integrations.MQTTSub.Hostname,
			Port:     cfg.Integrations.MQTTSub.Port,
			Username: cfg.Integrations.MQTTSub.Username,
			Password: cfg.Integrations.MQTTSub.Password,
		}, "surplus-manager-surplus", log)
		return &mqttSubRunner{sub: sub, topic: cfg.Surplus.MQTTSub.Topic, report: sink.SetSurplus}, nil

	default:
		return nil, fmt.Errorf("no surplus ingestion integration configured")
	}
}

// NewDeviceConsumptionIngestion builds one Runner per device that names
// a consumption_integration, reporting readings back through
// sink.SetDeviceConsumption. http_get devices are polled against
// integrations.http_get's base timeout at a path of
// "/device/<name>/consumption"; mqtt_sub devices subscribe to
// "<device name>/consumption" on the shared broker.
func NewDeviceConsumptionIngestion(cfg *config.Config, log *logrus.Entry, sink core.IngestionPort) ([]Runner, error) {
	var runners []Runner

	for _, d := range cfg.Devices {
		name := d.Name
		report := func(watts float64) { sink.SetDeviceConsumption(name, watts) }

		switch d.ConsumptionIntegration {
		case "":
			continue
		case "http_get":
			timeout := time.Duration(cfg.Integrations.HTTPGet.Timeout) * time.Second
			if timeout <= 0 {
				timeout = 5 * time.Second
			}
			url := fmt.Sprintf("http://%s:%d/device/%s/consumption", cfg.Server.Host, cfg.Server.Port, name)
			if cfg.Surplus.HTTPGet != nil {
				url = fmt.Sprintf("%s/device/%s/consumption", basePath(cfg.Surplus.HTTPGet.Path), name)
			}
			poller := httpget.NewPoller(log, url, timeout, defaultPollInterval, report)
			runners = append(runners, &httpGetRunner{poller: poller})

		case "mqtt_sub":
			sub := mqttsub.NewSubscriber(mqttsub.Config{
				Hostname: cfg.Integrations.MQTTSub.Hostname,
				Port:     cfg.Integrations.MQTTSub.Port,
				Username: cfg.Integrations.MQTTSub.Username,
				Password: cfg.Integrations.MQTTSub.Password,
			}, "surplus-manager-"+name, log)
			runners = append(runners, &mqttSubRunner{sub: sub, topic: name + "/consumption", report: report})

		default:
			return nil, fmt.Errorf("device %s: unknown consumption_integration %q", name, d.ConsumptionIntegration)
		}
	}

	return runners, nil
}

// NewActuator builds the single HTTP-POST actuator shared by every
// device that names control_integration: http_post, keyed by each
// device's own base URL (integrations.http_post has no base host of its
// own in the spec's config surface, so per-device base URLs are derived
// from server.host:server.port, the same fallback consumption polling
// uses when the surplus feed is not http_get).
func NewActuator(cfg *config.Config, log *logrus.Entry) core.ActuatorPort {
	timeout := time.Duration(cfg.Integrations.HTTPPost.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	baseURLs := make(map[string]string, len(cfg.Devices))
	for _, d := range cfg.Devices {
		if d.ControlIntegration != "http_post" {
			continue
		}
		baseURLs[d.Name] = fmt.Sprintf("http://%s:%d/actuator/%s", cfg.Server.Host, cfg.Server.Port, d.Name)
	}

	return httppost.NewActuator("http_post", baseURLs, timeout, log)
}

func basePath(path string) string {
	// Strip a trailing path component so per-device URLs sit alongside
	// the surplus feed, e.g. ".../meter/surplus" -> ".../meter".
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return path
}
