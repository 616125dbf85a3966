package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CooldownTimer enforces that a device stays outside scheduling for its
// configured cooldown window after any on/off transition. At most one
// cooldown may be pending per device; additional transitions cannot occur
// while it is pending because the device is disabled for the duration.
type CooldownTimer struct {
	log *logrus.Entry

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewCooldownTimer(log *logrus.Entry) *CooldownTimer {
	return &CooldownTimer{
		log:     log,
		pending: make(map[string]*time.Timer),
	}
}

// Start disables the device and schedules it to become eligible again
// after its configured cooldown. A device with no cooldown configured (or
// a zero cooldown) is re-enabled immediately, before Start returns.
func (c *CooldownTimer) Start(d *Device) {
	d.mu.RLock()
	hasCooldown := d.hasCooldown
	seconds := d.cooldownSeconds
	name := d.name
	d.mu.RUnlock()

	d.setEnabled(false)

	if !hasCooldown || seconds <= 0 {
		d.setEnabled(true)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[name]; exists {
		// A cooldown is already pending for this device; the spec chooses
		// the simple semantics where this cannot happen in practice since
		// the device is disabled, but guard against races defensively.
		return
	}

	c.log.Infof("starting cooldown for device %s (%ds)", name, seconds)
	c.pending[name] = time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		c.mu.Lock()
		delete(c.pending, name)
		c.mu.Unlock()
		d.setEnabled(true)
		c.log.Infof("cooldown elapsed for device %s", name)
	})
}

// Cancel stops every pending cooldown without firing the restore,
// for use during shutdown.
func (c *CooldownTimer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, t := range c.pending {
		t.Stop()
		delete(c.pending, name)
	}
}
