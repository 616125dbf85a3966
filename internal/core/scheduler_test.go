package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeActuator records every command that succeeds and can be configured
// to fail for named devices, to verify a failed command on one device
// never affects another.
type fakeActuator struct {
	mu sync.Mutex

	fail map[string]bool

	turnedOn    []string
	turnedOff   []string
	regulations map[string]float64
}

func newFakeActuator(fail ...string) *fakeActuator {
	f := map[string]bool{}
	for _, name := range fail {
		f[name] = true
	}
	return &fakeActuator{fail: f, regulations: make(map[string]float64)}
}

func (f *fakeActuator) Name() string { return "fake" }

func (f *fakeActuator) TurnOn(_ context.Context, device string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[device] {
		return fmt.Errorf("simulated failure")
	}
	f.turnedOn = append(f.turnedOn, device)
	return nil
}

func (f *fakeActuator) TurnOff(_ context.Context, device string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[device] {
		return fmt.Errorf("simulated failure")
	}
	f.turnedOff = append(f.turnedOff, device)
	return nil
}

func (f *fakeActuator) Regulate(_ context.Context, device string, watts float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[device] {
		return fmt.Errorf("simulated failure")
	}
	f.regulations[device] = watts
	return nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l.WithField("test", true)
}

// newTestScheduler wires a registry + cooldown timer + scheduler with the
// given tunables, and returns a fresh fake actuator that the caller binds
// to devices itself.
func newTestScheduler(t Tunables) (*Scheduler, *Registry, *fakeActuator) {
	log := testLogger()
	registry := NewRegistry(log, nil)
	cooldown := NewCooldownTimer(log)
	scheduler := NewScheduler(log, registry, cooldown, t)
	actuator := newFakeActuator()
	return scheduler, registry, actuator
}

// runPassSync triggers a surplus update and blocks until the pass it
// spawns has completed, avoiding a race between the test's assertions
// and the scheduler's async pass goroutine.
func runPassSync(s *Scheduler, surplus float64) {
	s.SetSurplus(surplus)
	s.wg.Wait()
}

func switchDevice(registry *Registry, actuator ActuatorPort, name string, expected float64) *Device {
	d := NewDevice(name, DeviceTypeSwitch, expected)
	if actuator != nil {
		d.BindActuator(actuator)
	}
	registry.Register(d)
	return d
}

func regulatedDevice(registry *Registry, actuator ActuatorPort, name string, expected, max float64) *Device {
	d := NewDevice(name, DeviceTypeRegulated, expected)
	d.SetMaxConsumption(max)
	if actuator != nil {
		d.BindActuator(actuator)
	}
	registry.Register(d)
	return d
}

// --- Concrete scenarios (spec §8) ---

func TestScenario1_SimpleAllocation(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{SurplusMargin: 100})
	a := switchDevice(registry, act, "A", 500)
	b := switchDevice(registry, act, "B", 1000)
	c := switchDevice(registry, act, "C", 300)

	runPassSync(sched, 1700)

	assert.True(t, a.Snapshot().Powered)
	assert.True(t, b.Snapshot().Powered)
	assert.False(t, c.Snapshot().Powered)
}

func TestScenario2_ShedOnGridDraw(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{SurplusMargin: 100, GridMargin: 100, IdlePower: 50})
	a := switchDevice(registry, act, "A", 500)
	b := switchDevice(registry, act, "B", 1000)
	c := switchDevice(registry, act, "C", 300)

	for _, pair := range []struct {
		d *Device
		w float64
	}{{a, 500}, {b, 1000}, {c, 300}} {
		pair.d.setPowered(true)
		pair.d.SetConsumption(pair.w)
	}

	runPassSync(sched, -600)

	assert.True(t, a.Snapshot().Powered, "A should remain powered")
	assert.False(t, b.Snapshot().Powered, "B should be shed")
	assert.False(t, c.Snapshot().Powered, "C should be shed first")
	assert.Equal(t, []string{"C", "B"}, act.turnedOff, "C is shed before B (reverse priority order)")
}

func TestScenario3_RegulatedFill(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{SurplusMargin: 100})
	a := regulatedDevice(registry, act, "A", 500, 3000)

	runPassSync(sched, 2100)

	snap := a.Snapshot()
	assert.True(t, snap.Powered)
	assert.Equal(t, 2000.0, act.regulations["A"])
}

func TestScenario4_RegulatedTopUp(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{SurplusMargin: 100, IdlePower: 100})
	a := regulatedDevice(registry, act, "A", 500, 3000)
	a.setPowered(true)
	a.SetConsumption(1500)

	runPassSync(sched, 800)

	assert.Equal(t, 2200.0, act.regulations["A"])
	assert.Empty(t, act.turnedOn, "an already-powered device never re-fires turn_on, so no cooldown starts")
}

func TestScenario5_ActuatorFailureIsolated(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{SurplusMargin: 100})
	act.fail["A"] = true
	a := switchDevice(registry, act, "A", 500)
	b := switchDevice(registry, act, "B", 300)

	runPassSync(sched, 1000)

	assert.False(t, a.Snapshot().Powered, "A's actuator failed, state must not change")
	assert.True(t, b.Snapshot().Powered, "B is unaffected by A's failure")
}

func TestScenario6_CooldownIneligibility(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{SurplusMargin: 100})
	a := switchDevice(registry, act, "A", 500)
	a.SetCooldown(60)
	a.setEnabled(false)

	runPassSync(sched, 2000)

	assert.False(t, a.Snapshot().Powered, "disabled device must never be commanded")
	assert.Empty(t, act.turnedOn)
}

// --- Invariants ---

func TestInvariant_DisabledDeviceNeverCommanded(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{SurplusMargin: 100})
	a := switchDevice(registry, act, "A", 500)
	a.setEnabled(false)

	runPassSync(sched, 5000)

	assert.Empty(t, act.turnedOn)
	assert.False(t, a.Snapshot().Powered)
}

func TestInvariant_CooldownStartsOnTransition(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{SurplusMargin: 100})
	a := switchDevice(registry, act, "A", 500)
	a.SetCooldown(60)

	runPassSync(sched, 1000)

	require.True(t, a.Snapshot().Powered)
	assert.False(t, a.Snapshot().Enabled, "device enters cooldown immediately after a commanded transition")
}

func TestInvariant_HeadroomBudgetRespected(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{SurplusMargin: 100})
	a := switchDevice(registry, act, "A", 500)
	b := switchDevice(registry, act, "B", 1000)
	c := switchDevice(registry, act, "C", 300)

	runPassSync(sched, 1700) // headroom = 1600

	var poweredTotal float64
	for _, snap := range registry.Snapshots() {
		if snap.Powered {
			poweredTotal += snap.ExpectedConsumption
		}
	}
	assert.LessOrEqual(t, poweredTotal, 1600.0)
	_ = c
}

func TestInvariant_TurnOffStopsAsSoonAsAbsorbed(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{GridMargin: 100, IdlePower: 50})
	a := switchDevice(registry, act, "A", 2000)
	b := switchDevice(registry, act, "B", 200)

	for _, pair := range []struct {
		d *Device
		w float64
	}{{a, 2000}, {b, 200}} {
		pair.d.setPowered(true)
		pair.d.SetConsumption(pair.w)
	}

	// exceeded_power = surplus_margin - surplus = 0 - (-150) = 150, fully
	// absorbed by shedding B (lowest priority, 200W >= 150 exceeded); A
	// must never be touched.
	runPassSync(sched, -150)

	assert.True(t, a.Snapshot().Powered, "turn-off must stop once exceeded power is absorbed")
	assert.False(t, b.Snapshot().Powered)
}

func TestInvariant_ActuatorFailureDoesNotAffectOtherDevices(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{SurplusMargin: 100})
	act.fail["A"] = true
	a := switchDevice(registry, act, "A", 500)
	b := switchDevice(registry, act, "B", 300)

	before := a.Snapshot()
	runPassSync(sched, 1000)
	after := a.Snapshot()

	assert.Equal(t, before.Powered, after.Powered)
	assert.True(t, b.Snapshot().Powered)
}

// --- Boundary cases ---

func TestBoundary_ZeroHeadroomTakesNoAction(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{SurplusMargin: 100})
	a := switchDevice(registry, act, "A", 500)

	runPassSync(sched, 100) // headroom == 0

	assert.False(t, a.Snapshot().Powered)
	assert.Empty(t, act.turnedOn)
}

func TestBoundary_SurplusExactlyNegativeGridMarginTakesNoAction(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{GridMargin: 100, IdlePower: 50})
	a := switchDevice(registry, act, "A", 500)
	a.setPowered(true)
	a.SetConsumption(500)

	runPassSync(sched, -100) // surplus == -grid_margin exactly

	assert.True(t, a.Snapshot().Powered, "boundary case must not trigger shedding")
	assert.Empty(t, act.turnedOff)
}

func TestBoundary_SurplusJustBelowNegativeGridMarginBeginsTurnOff(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{GridMargin: 100, IdlePower: 50})
	a := switchDevice(registry, act, "A", 500)
	a.setPowered(true)
	a.SetConsumption(500)

	runPassSync(sched, -101)

	assert.False(t, a.Snapshot().Powered, "one watt past the grid margin must begin shedding")
	assert.Equal(t, []string{"A"}, act.turnedOff)
}

// --- Idempotence ---

func TestIdempotence_RepeatedIdenticalSurplusMatchesSingleUpdate(t *testing.T) {
	tunables := Tunables{SurplusMargin: 100}

	schedA, registryA, actA := newTestScheduler(tunables)
	a1 := switchDevice(registryA, actA, "A", 500)
	b1 := switchDevice(registryA, actA, "B", 1000)
	runPassSync(schedA, 1700)

	schedB, registryB, actB := newTestScheduler(tunables)
	a2 := switchDevice(registryB, actB, "A", 500)
	b2 := switchDevice(registryB, actB, "B", 1000)
	runPassSync(schedB, 1700)
	runPassSync(schedB, 1700)

	assert.Equal(t, a1.Snapshot().Powered, a2.Snapshot().Powered)
	assert.Equal(t, b1.Snapshot().Powered, b2.Snapshot().Powered)
	assert.Len(t, actB.turnedOn, len(actA.turnedOn), "the second identical update commands nothing new")
}

// --- Regulate device-type guard ---

func TestDevice_EnsureRegulatedRejectsSwitch(t *testing.T) {
	d := NewDevice("A", DeviceTypeSwitch, 500)

	err := d.ensureRegulated()

	require.Error(t, err)
	var typeErr *InvalidDeviceTypeError
	assert.ErrorAs(t, err, &typeErr)
}

func TestDevice_EnsureRegulatedAcceptsRegulated(t *testing.T) {
	d := NewDevice("A", DeviceTypeRegulated, 500)

	assert.NoError(t, d.ensureRegulated())
}

func TestScheduler_CommandRegulateRejectsNonRegulatedDevice(t *testing.T) {
	sched, registry, act := newTestScheduler(Tunables{})
	a := switchDevice(registry, act, "A", 500)

	ok := sched.commandRegulate(t.Context(), a, 100)

	assert.False(t, ok)
	assert.Empty(t, act.regulations)
}
