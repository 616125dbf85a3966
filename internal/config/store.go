package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Store wraps a loaded Config with the file path it came from and
// applies mutations from the management API in memory immediately,
// persisting them through a single-slot, coalescing write-back so
// concurrent setters never pile up pending writes: persistence is
// serialized, and concurrent requests coalesce to the latest value.
type Store struct {
	log  *logrus.Entry
	path string

	mu  sync.Mutex
	cfg *Config

	flushRequested chan struct{}
	done           chan struct{}
}

func NewStore(log *logrus.Entry, path string, cfg *Config) *Store {
	s := &Store{
		log:            log,
		path:           path,
		cfg:            cfg,
		flushRequested: make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	go s.writer()
	return s
}

func (s *Store) Snapshot() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cfg
}

// SetTunable updates an in-memory scheduler tunable and schedules a
// fire-and-forget persistence flush.
func (s *Store) SetTunable(name string, value float64) error {
	s.mu.Lock()
	switch name {
	case "surplus_margin":
		s.cfg.SurplusMargin = value
	case "grid_margin":
		s.cfg.GridMargin = value
	case "idle_power":
		s.cfg.IdlePower = value
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown tunable %q", name)
	}
	s.mu.Unlock()

	s.requestFlush()
	return nil
}

// SetDeviceField implements core.ConfigMutator: it updates the named
// device's field in the persisted document and schedules a flush.
func (s *Store) SetDeviceField(name, field string, value float64) error {
	s.mu.Lock()
	found := false
	for i := range s.cfg.Devices {
		if s.cfg.Devices[i].Name != name {
			continue
		}
		found = true
		switch field {
		case "max_consumption":
			s.cfg.Devices[i].MaxConsumption = &value
		case "expected_consumption":
			s.cfg.Devices[i].ExpectedConsumption = value
		case "cooldown":
			seconds := int(value)
			s.cfg.Devices[i].Cooldown = &seconds
		default:
			s.mu.Unlock()
			return fmt.Errorf("unknown device field %q", field)
		}
		break
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("unknown device %q", name)
	}

	s.requestFlush()
	return nil
}

func (s *Store) requestFlush() {
	select {
	case s.flushRequested <- struct{}{}:
	default:
		// a flush is already pending; it will pick up this change too
	}
}

func (s *Store) writer() {
	for {
		select {
		case <-s.flushRequested:
			if err := s.flush(); err != nil {
				s.log.Errorf("persisting config failed: %v", err)
			}
		case <-s.done:
			return
		}
	}
}

func (s *Store) flush() error {
	s.mu.Lock()
	cfg := *s.cfg
	s.mu.Unlock()

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	s.log.Debugf("persisted config to %s", filepath.Clean(s.path))
	return nil
}

// Close stops the background writer goroutine and returns without
// waiting for it. A flush already in flight is not interrupted; a
// pending flush that has not started may run or may be dropped, matching
// the fire-and-forget contract (persistence is best-effort, never
// blocking the caller or shutdown).
func (s *Store) Close() {
	close(s.done)
}
