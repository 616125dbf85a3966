// Package httppost implements the HTTP-POST actuator integration: the
// scheduler's commands (turn_on, turn_off, regulate) are delivered as
// JSON POST requests against a per-device base URL. Grounded on the
// callback wiring between charging.Manager and ocpp.Server in the
// teacher's cmd/main.go, collapsed into a single HTTP client since the
// actuator here is a plain REST endpoint rather than an OCPP station.
package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/octera-energy/surplus-manager/internal/core"
)

// Actuator implements core.ActuatorPort over HTTP POST. baseURLs maps a
// device name to the URL prefix commands for that device are sent to.
type Actuator struct {
	name    string
	log     *logrus.Entry
	client  *http.Client
	baseURL map[string]string
}

func NewActuator(name string, baseURL map[string]string, timeout time.Duration, log *logrus.Entry) *Actuator {
	return &Actuator{
		name:    name,
		log:     log,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (a *Actuator) Name() string { return a.name }

func (a *Actuator) TurnOn(ctx context.Context, device string) error {
	return a.post(ctx, device, "/state", map[string]string{"state": "on"})
}

func (a *Actuator) TurnOff(ctx context.Context, device string) error {
	return a.post(ctx, device, "/state", map[string]string{"state": "off"})
}

func (a *Actuator) Regulate(ctx context.Context, device string, watts float64) error {
	return a.post(ctx, device, "/power", map[string]float64{"power": watts})
}

func (a *Actuator) post(ctx context.Context, device, suffix string, payload interface{}) error {
	base, ok := a.baseURL[device]
	if !ok {
		return &core.IntegrationConnectionError{Device: device, Err: fmt.Errorf("no endpoint configured for device %s", device)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &core.IntegrationConnectionError{Device: device, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+suffix, bytes.NewReader(body))
	if err != nil {
		return &core.IntegrationConnectionError{Device: device, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Errorf("http_post to %s failed: %v", base+suffix, err)
		return &core.IntegrationConnectionError{Device: device, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %d from %s", resp.StatusCode, base+suffix)
		a.log.Errorf("http_post to device %s: %v", device, err)
		return &core.IntegrationConnectionError{Device: device, Err: err}
	}

	return nil
}
