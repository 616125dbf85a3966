package core

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry holds declared devices in a stable, insertion-ordered list.
// Order is the single most important contract with the operator: earlier
// devices win turn-on priority, later devices are shed first.
type Registry struct {
	log *logrus.Entry

	mu      sync.RWMutex
	devices map[string]*Device
	order   []string

	mutator ConfigMutator
}

func NewRegistry(log *logrus.Entry, mutator ConfigMutator) *Registry {
	return &Registry{
		log:     log,
		devices: make(map[string]*Device),
		mutator: mutator,
	}
}

// Register adds a device at the end of the priority order. Registering a
// name twice replaces the earlier entry in place, preserving its position.
func (r *Registry) Register(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[d.name]; !exists {
		r.order = append(r.order, d.name)
	}
	r.devices[d.name] = d
	r.log.Infof("registered device %s (%s)", d.name, d.deviceType)
}

func (r *Registry) Get(name string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[name]
	return d, ok
}

// Snapshot returns a point-in-time, priority-ordered copy of the
// registered devices. Devices added mid-iteration by a caller are never
// observed by a consumer already holding a snapshot.
func (r *Registry) Snapshot() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.devices[name])
	}
	return out
}

func (r *Registry) Snapshots() []Snapshot {
	devices := r.Snapshot()
	out := make([]Snapshot, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	return out
}

// BindActuator attaches an actuator to a previously registered device.
// Unknown device names are logged and ignored: the integration registry
// is late-bound relative to device creation from config.
func (r *Registry) BindActuator(name string, actuator ActuatorPort) {
	d, ok := r.Get(name)
	if !ok {
		r.log.Warnf("cannot bind actuator %s: unknown device %s", actuator.Name(), name)
		return
	}
	d.BindActuator(actuator)
	r.log.Infof("bound actuator %s to device %s", actuator.Name(), name)
}

// SetAttribute updates one of the mutable numeric device fields and
// enqueues a fire-and-forget persistence flush through the ConfigMutator.
// Persistence errors are logged and never surfaced to the caller.
func (r *Registry) SetAttribute(name, field string, value float64) error {
	d, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown device %q", name)
	}

	switch field {
	case "max_consumption":
		d.SetMaxConsumption(value)
	case "expected_consumption":
		d.mu.Lock()
		d.expectedConsumption = value
		d.mu.Unlock()
	case "cooldown":
		d.SetCooldown(int(value))
	default:
		return fmt.Errorf("unknown attribute %q for device %q", field, name)
	}

	if r.mutator != nil {
		if err := r.mutator.SetDeviceField(name, field, value); err != nil {
			r.log.Errorf("persisting %s.%s failed: %v", name, field, err)
		}
	}
	return nil
}

// SetConsumption is how the ingestion port feeds a per-device
// consumption reading into the registry.
func (r *Registry) SetConsumption(name string, watts float64) {
	d, ok := r.Get(name)
	if !ok {
		r.log.Warnf("consumption reading for unknown device %s", name)
		return
	}
	d.SetConsumption(watts)
}
