// Package privtimer models the Cortex-A9 private timer: a down-counter
// with auto-reload whose event flag drives interrupt source 29. The counter
// advances on Tick, so tests and the demo loop control simulated time.
package privtimer

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinysoc/hps/internal/bus"
)

// Register offsets.
const (
	RegLoad    = 0x0
	RegCounter = 0x4
	RegControl = 0x8
	RegStatus  = 0xC
)

// Control register bits.
const (
	CtrlEnable     = 1 << 0
	CtrlAutoReload = 1 << 1
	CtrlIRQEnable  = 1 << 2
)

// StatusEvent is the event flag; write one to clear.
const StatusEvent = 1 << 0

// RegionSize covers the private timer register block.
const RegionSize = 0x10

// IRQ is the interrupt source id the private timer is wired to.
const IRQ = 29

// Timer models the private timer block.
type Timer struct {
	mu sync.Mutex

	base uint64
	irq  bus.LineInterrupt

	load    uint32
	counter uint32
	control uint32
	status  uint32
}

// New creates a timer at the given base address asserting irq while the
// event flag is set and interrupts are enabled.
func New(base uint64, irq bus.LineInterrupt) *Timer {
	if irq == nil {
		irq = bus.LineInterruptDetached()
	}
	return &Timer{base: base, irq: irq}
}

// DeviceID implements bus.Device.
func (t *Timer) DeviceID() string { return "priv-timer" }

// Start implements bus.ChangeDeviceState.
func (t *Timer) Start() error { return nil }

// Stop implements bus.ChangeDeviceState.
func (t *Timer) Stop() error { return nil }

// Reset implements bus.ChangeDeviceState.
func (t *Timer) Reset() error {
	t.mu.Lock()
	t.load = 0
	t.counter = 0
	t.control = 0
	t.status = 0
	t.mu.Unlock()
	t.syncIRQ()
	return nil
}

// SupportsMmio implements bus.Device.
func (t *Timer) SupportsMmio() *bus.MmioIntercept {
	return &bus.MmioIntercept{
		Regions: []bus.Region{{Address: t.base, Size: RegionSize}},
		Handler: t,
	}
}

// SupportsPoll implements bus.Device.
func (t *Timer) SupportsPoll() *bus.PollIntercept {
	return &bus.PollIntercept{Handler: t}
}

// Poll implements bus.PollHandler, advancing the counter by one tick.
func (t *Timer) Poll(ctx context.Context) error {
	t.Tick(1)
	return nil
}

// Tick advances simulated time by n counter decrements.
func (t *Timer) Tick(n uint32) {
	t.mu.Lock()
	for i := uint32(0); i < n; i++ {
		if t.control&CtrlEnable == 0 {
			break
		}
		if t.counter == 0 {
			break
		}
		t.counter--
		if t.counter == 0 {
			t.status |= StatusEvent
			if t.control&CtrlAutoReload != 0 {
				t.counter = t.load
			}
		}
	}
	t.mu.Unlock()
	t.syncIRQ()
}

func (t *Timer) syncIRQ() {
	t.mu.Lock()
	level := t.status&StatusEvent != 0 && t.control&CtrlIRQEnable != 0
	out := t.irq
	t.mu.Unlock()
	out.SetLevel(level)
}

// ReadMMIO implements bus.MmioHandler.
func (t *Timer) ReadMMIO(addr uint64) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch addr - t.base {
	case RegLoad:
		return t.load, nil
	case RegCounter:
		return t.counter, nil
	case RegControl:
		return t.control, nil
	case RegStatus:
		return t.status, nil
	}
	return 0, fmt.Errorf("priv-timer: read at unknown offset 0x%x", addr-t.base)
}

// WriteMMIO implements bus.MmioHandler.
func (t *Timer) WriteMMIO(addr uint64, value uint32) error {
	t.mu.Lock()
	switch addr - t.base {
	case RegLoad:
		t.load = value
		t.counter = value
	case RegCounter:
		t.counter = value
	case RegControl:
		t.control = value
	case RegStatus:
		// Write one to clear the event flag.
		if value&StatusEvent != 0 {
			t.status &^= StatusEvent
		}
	default:
		t.mu.Unlock()
		return fmt.Errorf("priv-timer: write at unknown offset 0x%x", addr-t.base)
	}
	t.mu.Unlock()
	t.syncIRQ()
	return nil
}

var _ bus.Device = (*Timer)(nil)
var _ bus.MmioHandler = (*Timer)(nil)
