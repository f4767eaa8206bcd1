// Package board assembles the simulated machine: core, interrupt
// controller, peripherals, the register fabric connecting them, and the
// interrupt routing subsystem bound on top. It is the bring-up layer a real
// port would replace with startup code.
package board

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinysoc/hps/internal/bus"
	"github.com/tinysoc/hps/internal/cpu"
	"github.com/tinysoc/hps/internal/devices/fpgapio"
	"github.com/tinysoc/hps/internal/devices/gicsim"
	"github.com/tinysoc/hps/internal/devices/privtimer"
	"github.com/tinysoc/hps/internal/devices/wdt"
	"github.com/tinysoc/hps/internal/gic"
	"github.com/tinysoc/hps/internal/irq"
	"github.com/tinysoc/hps/internal/mmio"
	"github.com/tinysoc/hps/internal/pio"
	"github.com/tinysoc/hps/internal/svc"
)

// Board is one assembled machine instance.
type Board struct {
	Config Config

	Bus  *bus.Bus
	Core *cpu.Core

	GIC      *gicsim.GIC
	Timer    *privtimer.Timer
	Watchdog *wdt.Watchdog
	LEDs     *fpgapio.Block
	Switches *fpgapio.Block
	Keys     *fpgapio.Block

	Ctl *irq.Controller
	SVC *svc.Dispatcher

	LEDDrv      *pio.Driver
	SwitchDrv   *pio.Driver
	KeyDrv      *pio.Driver
	WatchdogDrv *wdt.Driver

	onReset func()
}

// Option configures board assembly.
type Option func(*Board)

// WithResetHook installs the action taken when the watchdog expires. The
// demo binary uses it to stop the run loop; tests use it to observe the
// reset.
func WithResetHook(fn func()) Option {
	return func(b *Board) {
		b.onReset = fn
	}
}

// New builds a board from the config. The interrupt subsystem is
// constructed but not initialised; call Bringup, or drive irq directly in
// tests.
func New(cfg Config, log *slog.Logger, opts ...Option) (*Board, error) {
	if log == nil {
		log = slog.Default()
	}

	b := &Board{Config: cfg}
	for _, opt := range opts {
		opt(b)
	}

	b.Core = cpu.NewCore()
	b.GIC = gicsim.New(GICDistBase, GICCPUBase, bus.LineInterruptFromFunc(b.Core.SetIRQLine))

	b.Timer = privtimer.New(PrivTimerBase, bus.Line(b.GIC, IRQPrivTimer))
	b.Keys = fpgapio.New("keys", KeyBase, cfg.Keys.Width, bus.Line(b.GIC, IRQKeys))
	b.LEDs = fpgapio.New("leds", LEDBase, cfg.LEDs.Width, nil)
	b.Switches = fpgapio.New("switches", SwitchBase, cfg.Switches.Width, nil)
	b.Watchdog = wdt.New(WatchdogBase, cfg.Watchdog.Timeout, func() {
		log.Error("watchdog expired, system reset")
		if b.onReset != nil {
			b.onReset()
		}
	})

	builder := bus.NewBuilder()
	for _, dev := range []bus.Device{
		b.GIC, b.Timer, b.Watchdog, b.LEDs, b.Switches, b.Keys,
	} {
		if err := builder.RegisterDevice(dev); err != nil {
			return nil, fmt.Errorf("board: %w", err)
		}
	}
	fabric, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	b.Bus = fabric

	gicIf := gic.New(
		mmio.NewBank(fabric, GICDistBase),
		mmio.NewBank(fabric, GICCPUBase),
	)
	b.SVC = svc.NewDispatcher()
	b.Ctl = irq.New(b.Core, gicIf,
		irq.WithSVCDispatcher(b.SVC),
		irq.WithLogger(log),
		irq.WithFatalHook(func(cpu.Exception) {
			// A fatal exception parks the core; the watchdog stops
			// being serviced and resets the system.
			b.Watchdog.Starve()
		}),
	)

	b.LEDDrv = pio.New(fabric, LEDBase)
	b.SwitchDrv = pio.New(fabric, SwitchBase)
	b.KeyDrv = pio.New(fabric, KeyBase)
	b.WatchdogDrv = wdt.NewDriver(fabric, WatchdogBase)

	return b, nil
}

// Bringup starts the fabric, initialises the interrupt subsystem, and binds
// it as the process-wide controller, leaving interrupt delivery in the
// state requested by enableOnReturn.
func (b *Board) Bringup(enableOnReturn bool, unhandled irq.Handler) error {
	if err := b.Bus.Start(); err != nil {
		return err
	}
	irq.Bind(b.Ctl)
	if err := b.Ctl.Initialise(enableOnReturn, unhandled); err != nil {
		return fmt.Errorf("board: %w", err)
	}
	return nil
}

// StartTimer programs and enables the private timer from the config.
func (b *Board) StartTimer() {
	bank := mmio.NewBank(b.Bus, PrivTimerBase)
	bank.Reg(privtimer.RegLoad).Write(b.Config.Timer.Load)
	ctrl := uint32(privtimer.CtrlEnable | privtimer.CtrlIRQEnable)
	if b.Config.Timer.AutoReload {
		ctrl |= privtimer.CtrlAutoReload
	}
	bank.Reg(privtimer.RegControl).Write(ctrl)
}

// Poll advances every poll-capable device by one tick.
func (b *Board) Poll(ctx context.Context) error {
	return b.Bus.Poll(ctx)
}
