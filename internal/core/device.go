package core

import "sync"

// DeviceType distinguishes binary loads from variable-power loads.
type DeviceType string

const (
	DeviceTypeSwitch    DeviceType = "switch"
	DeviceTypeRegulated DeviceType = "regulated"
)

// ConfigMutator lets a device write attribute changes back through to the
// owning configuration document without holding a reference to the whole
// core. It is handed to devices at registration time instead of a
// back-reference to the registry, avoiding a device<->core ownership cycle.
type ConfigMutator interface {
	SetDeviceField(name, field string, value float64) error
}

// Device is the unit of scheduling. Field mutations that affect
// persisted config (MaxConsumption, ExpectedConsumption, Cooldown) must
// go through the registry's SetAttribute, not direct assignment, so the
// write-back fires.
type Device struct {
	mu sync.RWMutex

	name                   string
	deviceType             DeviceType
	expectedConsumption    float64
	maxConsumption         float64
	hasMaxConsumption      bool
	cooldownSeconds        int
	hasCooldown            bool
	consumptionIntegration string

	consumption float64
	powered     bool
	enabled     bool

	controlIntegration ActuatorPort
}

// NewDevice constructs a device in its initial OFF_ENABLED state.
func NewDevice(name string, deviceType DeviceType, expectedConsumption float64) *Device {
	return &Device{
		name:                name,
		deviceType:          deviceType,
		expectedConsumption: expectedConsumption,
		enabled:             true,
	}
}

func (d *Device) Name() string { return d.name }

func (d *Device) Type() DeviceType { return d.deviceType }

func (d *Device) SetMaxConsumption(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxConsumption = v
	d.hasMaxConsumption = true
}

func (d *Device) SetConsumptionIntegration(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumptionIntegration = name
}

func (d *Device) SetCooldown(seconds int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldownSeconds = seconds
	d.hasCooldown = true
}

// BindActuator attaches the control integration for this device. It is
// idempotent: the last call wins. Set at most once in normal operation,
// at integration init time.
func (d *Device) BindActuator(actuator ActuatorPort) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.controlIntegration = actuator
}

func (d *Device) Actuator() ActuatorPort {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.controlIntegration
}

// SetConsumption records a fresh measured-draw reading from ingestion.
func (d *Device) SetConsumption(watts float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumption = watts
}

func (d *Device) setPowered(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powered = v
}

func (d *Device) setEnabled(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = v
}

// Snapshot is an immutable, race-free read of a device's state, the shape
// the scheduler and the management API both consume.
type Snapshot struct {
	Name                   string
	DeviceType             DeviceType
	ControlIntegration     string
	ExpectedConsumption    float64
	MaxConsumption         float64
	HasMaxConsumption      bool
	Consumption            float64
	Powered                bool
	Cooldown               int
	HasCooldown            bool
	Enabled                bool
	HasActuator            bool
	ConsumptionIntegration string
}

func (d *Device) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Snapshot{
		Name:                   d.name,
		DeviceType:             d.deviceType,
		ExpectedConsumption:    d.expectedConsumption,
		MaxConsumption:         d.maxConsumption,
		HasMaxConsumption:      d.hasMaxConsumption,
		Consumption:            d.consumption,
		Powered:                d.powered,
		Cooldown:               d.cooldownSeconds,
		HasCooldown:            d.hasCooldown,
		Enabled:                d.enabled,
		HasActuator:            d.controlIntegration != nil,
		ConsumptionIntegration: d.consumptionIntegration,
	}
	if d.controlIntegration != nil {
		s.ControlIntegration = d.controlIntegration.Name()
	}
	return s
}

// regulatedCeiling returns max_consumption, falling back to
// expected_consumption when no ceiling was configured (REGULATED devices
// always declare one per the data model, but this keeps the zero value safe).
func (d *Device) regulatedCeiling() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.hasMaxConsumption {
		return d.maxConsumption
	}
	return d.expectedConsumption
}

// ensureRegulated reports whether this device can legally receive a
// regulate command. The scheduler only dispatches regulate to REGULATED
// devices by construction, so this guards against that invariant ever
// being violated rather than something normal operation triggers.
func (d *Device) ensureRegulated() error {
	if d.Type() != DeviceTypeRegulated {
		return &InvalidDeviceTypeError{Device: d.Name()}
	}
	return nil
}
