// Package wdt models the CPU watchdog timer and its driver. The counter
// runs down on every poll; a restart write with the magic value reloads it.
// Expiry invokes the reset callback, the board's "hardware reset". This is
// the backstop behind the default unhandled-interrupt policy, which parks
// the core and deliberately lets the counter run out.
package wdt

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinysoc/hps/internal/bus"
	"github.com/tinysoc/hps/internal/mmio"
)

// Register offsets.
const (
	RegControl = 0x0
	RegTimeout = 0x4
	RegCount   = 0x8
	RegRestart = 0xC
)

// RestartKey is the magic value a restart write must carry to count.
const RestartKey = 0x76

// CtrlEnable starts the counter.
const CtrlEnable = 1 << 0

// RegionSize covers the watchdog register block.
const RegionSize = 0x10

// Watchdog models the timer block.
type Watchdog struct {
	mu sync.Mutex

	base    uint64
	onReset func()

	control uint32
	timeout uint32
	count   uint32
	starved bool
	expired bool
}

// New creates a watchdog at base with the given timeout in poll ticks.
// onReset fires once when the counter runs out.
func New(base uint64, timeout uint32, onReset func()) *Watchdog {
	return &Watchdog{
		base:    base,
		onReset: onReset,
		timeout: timeout,
		count:   timeout,
	}
}

// DeviceID implements bus.Device.
func (w *Watchdog) DeviceID() string { return "watchdog" }

// Start implements bus.ChangeDeviceState.
func (w *Watchdog) Start() error { return nil }

// Stop implements bus.ChangeDeviceState.
func (w *Watchdog) Stop() error { return nil }

// Reset implements bus.ChangeDeviceState.
func (w *Watchdog) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.control = 0
	w.count = w.timeout
	w.starved = false
	w.expired = false
	return nil
}

// SupportsMmio implements bus.Device.
func (w *Watchdog) SupportsMmio() *bus.MmioIntercept {
	return &bus.MmioIntercept{
		Regions: []bus.Region{{Address: w.base, Size: RegionSize}},
		Handler: w,
	}
}

// SupportsPoll implements bus.Device.
func (w *Watchdog) SupportsPoll() *bus.PollIntercept {
	return &bus.PollIntercept{Handler: w}
}

// Poll implements bus.PollHandler, advancing the countdown one tick.
func (w *Watchdog) Poll(ctx context.Context) error {
	w.Tick(1)
	return nil
}

// Tick advances the countdown by n ticks.
func (w *Watchdog) Tick(n uint32) {
	w.mu.Lock()
	var fire bool
	for i := uint32(0); i < n; i++ {
		if w.control&CtrlEnable == 0 || w.expired {
			break
		}
		if w.count > 0 {
			w.count--
		}
		if w.count == 0 {
			w.expired = true
			fire = true
		}
	}
	cb := w.onReset
	w.mu.Unlock()
	if fire && cb != nil {
		cb()
	}
}

// Starve blocks further restarts, guaranteeing expiry. The fatal path uses
// this to model a parked core that no longer services the watchdog.
func (w *Watchdog) Starve() {
	w.mu.Lock()
	w.starved = true
	w.mu.Unlock()
}

// Expired reports whether the countdown has run out.
func (w *Watchdog) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired
}

// ReadMMIO implements bus.MmioHandler.
func (w *Watchdog) ReadMMIO(addr uint64) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch addr - w.base {
	case RegControl:
		return w.control, nil
	case RegTimeout:
		return w.timeout, nil
	case RegCount:
		return w.count, nil
	}
	return 0, fmt.Errorf("watchdog: read at unknown offset 0x%x", addr-w.base)
}

// WriteMMIO implements bus.MmioHandler.
func (w *Watchdog) WriteMMIO(addr uint64, value uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch addr - w.base {
	case RegControl:
		w.control = value
	case RegTimeout:
		w.timeout = value
	case RegRestart:
		if value == RestartKey && !w.starved && !w.expired {
			w.count = w.timeout
		}
	default:
		return fmt.Errorf("watchdog: write at unknown offset 0x%x", addr-w.base)
	}
	return nil
}

// Driver kicks the watchdog over the bus.
type Driver struct {
	control mmio.Reg32
	restart mmio.Reg32
}

// NewDriver binds a driver to the watchdog block at base.
func NewDriver(b mmio.Accessor, base uint64) *Driver {
	bank := mmio.NewBank(b, base)
	return &Driver{
		control: bank.Reg(RegControl),
		restart: bank.Reg(RegRestart),
	}
}

// Enable starts the countdown.
func (d *Driver) Enable() {
	d.control.SetBits(CtrlEnable)
}

// ResetWatchdog restarts the countdown. Call it from the main loop more
// often than the timeout.
func (d *Driver) ResetWatchdog() {
	d.restart.Write(RestartKey)
}

var _ bus.Device = (*Watchdog)(nil)
var _ bus.MmioHandler = (*Watchdog)(nil)
