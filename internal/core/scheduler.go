package core

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Tunables are the process-wide knobs that shape every pass. They are
// mutated from the management API and persisted back to config.
type Tunables struct {
	SurplusMargin float64
	GridMargin    float64
	IdlePower     float64
}

// Scheduler is the surplus-driven load scheduler: the event-reactive
// control loop that, on every new surplus reading, decides which devices
// to turn on, off, or regulate, and in what order.
//
// A new surplus update cancels any in-flight pass rather than racing it,
// so a pass blocked on a slow actuator call never holds back a fresher
// reading.
type Scheduler struct {
	log      *logrus.Entry
	registry *Registry
	cooldown *CooldownTimer

	mu       sync.Mutex
	tunables Tunables
	surplus  float64

	cancelInFlight context.CancelFunc
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	wg             sync.WaitGroup
}

func NewScheduler(log *logrus.Entry, registry *Registry, cooldown *CooldownTimer, tunables Tunables) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:            log,
		registry:       registry,
		cooldown:       cooldown,
		tunables:       tunables,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

func (s *Scheduler) Tunables() Tunables {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tunables
}

func (s *Scheduler) Surplus() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surplus
}

func (s *Scheduler) SetSurplusMargin(v float64)  { s.mu.Lock(); s.tunables.SurplusMargin = v; s.mu.Unlock() }
func (s *Scheduler) SetGridMargin(v float64)     { s.mu.Lock(); s.tunables.GridMargin = v; s.mu.Unlock() }
func (s *Scheduler) SetIdlePower(v float64)      { s.mu.Lock(); s.tunables.IdlePower = v; s.mu.Unlock() }

// SetSurplus implements IngestionPort: it records the new reading and
// triggers exactly one scheduler pass, cancelling whichever pass is
// currently in flight.
func (s *Scheduler) SetSurplus(value float64) {
	s.mu.Lock()
	s.surplus = value
	tunables := s.tunables
	if s.cancelInFlight != nil {
		s.cancelInFlight()
	}
	passCtx, cancel := context.WithCancel(s.shutdownCtx)
	s.cancelInFlight = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runPass(passCtx, value, tunables)
	}()
}

// SetDeviceConsumption implements IngestionPort for per-device readings.
func (s *Scheduler) SetDeviceConsumption(device string, watts float64) {
	s.registry.SetConsumption(device, watts)
}

// Shutdown cancels every in-flight pass, releases pending cooldowns
// without firing their restore, and waits for passes to unwind.
func (s *Scheduler) Shutdown() {
	s.shutdownCancel()
	s.cooldown.Cancel()
	s.wg.Wait()
}

// runPass is one invocation of the scheduler, triggered by a surplus
// update: it decides whether to allocate headroom to new loads, shed
// load against a grid draw, or do nothing.
func (s *Scheduler) runPass(ctx context.Context, surplus float64, t Tunables) {
	headroom := surplus - t.SurplusMargin

	switch {
	case headroom > 0:
		s.turnOnPriority(ctx, headroom, t.IdlePower)
	case surplus < -t.GridMargin:
		s.turnOffPriority(ctx, t.SurplusMargin-surplus, t.IdlePower)
	default:
		s.log.Debugf("pass: no action (surplus=%.1f headroom=%.1f)", surplus, headroom)
	}
}

// turnOnPriority walks the registry in forward (highest priority first)
// order, allocating the available budget greedily.
func (s *Scheduler) turnOnPriority(ctx context.Context, headroom, idlePower float64) {
	available := headroom
	s.log.Debugf("turn-on pass: headroom=%.1f", headroom)

	for _, d := range s.registry.Snapshot() {
		if ctx.Err() != nil {
			s.log.Debug("turn-on pass cancelled")
			return
		}

		snap := d.Snapshot()
		if !snap.Enabled {
			continue
		}

		switch snap.DeviceType {
		case DeviceTypeSwitch:
			available = s.tryTurnOnSwitch(ctx, d, snap, available)
		case DeviceTypeRegulated:
			available = s.tryTurnOnOrTopUpRegulated(ctx, d, snap, available, idlePower)
		}
	}
}

func (s *Scheduler) tryTurnOnSwitch(ctx context.Context, d *Device, snap Snapshot, available float64) float64 {
	if snap.Powered || snap.ExpectedConsumption >= available {
		return available
	}
	if !s.commandTurnOn(ctx, d) {
		return available
	}
	return available - snap.ExpectedConsumption
}

func (s *Scheduler) tryTurnOnOrTopUpRegulated(ctx context.Context, d *Device, snap Snapshot, available, idlePower float64) float64 {
	if !snap.Powered {
		if snap.ExpectedConsumption >= available {
			return available
		}
		if !s.commandTurnOn(ctx, d) {
			return available
		}
		devicePower := min(d.regulatedCeiling(), available)
		if !s.commandRegulate(ctx, d, devicePower) {
			return available
		}
		return available - devicePower
	}

	if snap.Consumption > idlePower {
		total := snap.Consumption + available
		devicePower := min(d.regulatedCeiling(), total)
		if !s.commandRegulate(ctx, d, devicePower) {
			return available
		}
		return available - (devicePower - snap.Consumption)
	}

	return available
}

// turnOffPriority walks the registry in reverse (lowest priority first)
// order, shedding load until the exceeded power is absorbed.
func (s *Scheduler) turnOffPriority(ctx context.Context, exceeded, idlePower float64) {
	s.log.Debugf("turn-off pass: exceeded=%.1f", exceeded)

	devices := s.registry.Snapshot()
	for i := len(devices) - 1; i >= 0; i-- {
		if exceeded <= 0 {
			return
		}
		if ctx.Err() != nil {
			s.log.Debug("turn-off pass cancelled")
			return
		}

		d := devices[i]
		snap := d.Snapshot()
		if !snap.Enabled || !snap.Powered || snap.Consumption <= idlePower {
			continue
		}

		switch snap.DeviceType {
		case DeviceTypeSwitch:
			if s.commandTurnOff(ctx, d) {
				exceeded -= snap.ExpectedConsumption
			}
		case DeviceTypeRegulated:
			headroomToFloor := snap.Consumption - snap.ExpectedConsumption
			if exceeded > headroomToFloor {
				if s.commandTurnOff(ctx, d) {
					exceeded -= snap.ExpectedConsumption
				}
				continue
			}
			if s.commandRegulate(ctx, d, snap.Consumption-exceeded) {
				return
			}
		}
	}
}

func (s *Scheduler) commandTurnOn(ctx context.Context, d *Device) bool {
	actuator := d.Actuator()
	if actuator == nil {
		s.log.Warnf("device %s has no bound actuator, skipping turn_on", d.Name())
		return false
	}
	if err := actuator.TurnOn(ctx, d.Name()); err != nil {
		s.log.Errorf("turn_on failed for %s: %v", d.Name(), err)
		return false
	}
	d.setPowered(true)
	s.cooldown.Start(d)
	return true
}

func (s *Scheduler) commandTurnOff(ctx context.Context, d *Device) bool {
	actuator := d.Actuator()
	if actuator == nil {
		s.log.Warnf("device %s has no bound actuator, skipping turn_off", d.Name())
		return false
	}
	if err := actuator.TurnOff(ctx, d.Name()); err != nil {
		s.log.Errorf("turn_off failed for %s: %v", d.Name(), err)
		return false
	}
	d.setPowered(false)
	s.cooldown.Start(d)
	return true
}

func (s *Scheduler) commandRegulate(ctx context.Context, d *Device, watts float64) bool {
	if err := d.ensureRegulated(); err != nil {
		s.log.Errorf("regulate rejected for %s: %v", d.Name(), err)
		return false
	}

	actuator := d.Actuator()
	if actuator == nil {
		s.log.Warnf("device %s has no bound actuator, skipping regulate", d.Name())
		return false
	}
	if err := actuator.Regulate(ctx, d.Name(), watts); err != nil {
		s.log.Errorf("regulate failed for %s: %v", d.Name(), err)
		return false
	}
	return true
}
