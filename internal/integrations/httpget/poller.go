// Package httpget implements the HTTP-GET ingestion integration: it
// polls a URL on an interval and reports the parsed numeric reading to
// whichever core sink it was wired to (surplus or a device's
// consumption).
package httpget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Poller periodically GETs a URL and reports the parsed value.
type Poller struct {
	log      *logrus.Entry
	client   *http.Client
	url      string
	interval time.Duration
	report   func(float64)
}

type valueEnvelope struct {
	Value float64 `json:"value"`
}

// NewPoller builds a poller against url, polling every interval and
// handing each successfully parsed reading to report.
func NewPoller(log *logrus.Entry, url string, timeout, interval time.Duration, report func(float64)) *Poller {
	return &Poller{
		log:      log,
		client:   &http.Client{Timeout: timeout},
		url:      url,
		interval: interval,
		report:   report,
	}
}

// Run blocks, polling until ctx is cancelled. A single failed poll is
// logged and does not stop the loop: the next tick retries.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	value, err := p.fetch(ctx)
	if err != nil {
		p.log.Errorf("http_get poll of %s failed: %v", p.url, err)
		return
	}
	p.report(value)
}

func (p *Poller) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	return parseValue(body)
}

// parseValue accepts either a bare number or a {"value": ...} JSON
// object, tolerating both plain text and JSON payloads from upstream
// meters.
func parseValue(body []byte) (float64, error) {
	if json.Valid(body) {
		var env valueEnvelope
		if err := json.Unmarshal(body, &env); err == nil {
			return env.Value, nil
		}
	}
	return strconv.ParseFloat(string(bytes.TrimSpace(body)), 64)
}
