// Command hpsim runs the simulated board: the private timer walks a light
// pattern across the LEDs, and key presses (terminal keys 1-4) arrive as
// push button edge interrupts. It is the demo program for the interrupt
// routing subsystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/tinysoc/hps/internal/board"
	"github.com/tinysoc/hps/internal/devices/privtimer"
	"github.com/tinysoc/hps/internal/irq"
	"github.com/tinysoc/hps/internal/mmio"
	"github.com/tinysoc/hps/internal/pio"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hpsim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Board definition YAML (default: built-in de1soc)")
	interval := flag.Duration("interval", 10*time.Millisecond, "Simulated tick interval")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Run the simulated DE1-SoC board. Keys 1-4 press the push buttons,\n")
		fmt.Fprintf(os.Stderr, "q quits.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg := board.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = board.LoadConfig(*configPath)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := board.New(cfg, log, board.WithResetHook(cancel))
	if err != nil {
		return err
	}

	// Bring up the interrupt subsystem with delivery still masked, wire
	// the peripheral handlers, then enable.
	if err := b.Bringup(false, nil); err != nil {
		return err
	}

	leds := &ledChaser{drv: b.LEDDrv, width: cfg.LEDs.Width}
	regs := []irq.Registration{
		{ID: board.IRQPrivTimer, Handler: timerHandler(b), Param: leds},
		{ID: board.IRQKeys, Handler: keyHandler(b), Param: leds},
	}
	if err := irq.RegisterHandlers(regs); err != nil {
		return err
	}
	if _, err := irq.GlobalEnable(true); err != nil {
		return err
	}

	b.LEDDrv.SetDirection(^uint32(0), ^uint32(0))
	b.KeyDrv.EnableInterrupts(^uint32(0))
	b.WatchdogDrv.Enable()
	b.StartTimer()

	slog.Info("board running", "name", cfg.Name, "tick", interval.String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pollLoop(ctx, b, *interval) })
	g.Go(func() error { return inputLoop(ctx, cancel, b) })

	err = g.Wait()
	fmt.Fprintln(os.Stdout)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// pollLoop advances simulated time, services the watchdog and renders the
// LED bank once per tick.
func pollLoop(ctx context.Context, b *board.Board, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.Poll(ctx); err != nil {
				return err
			}
			b.WatchdogDrv.ResetWatchdog()
			renderLEDs(b)
		}
	}
}

// inputLoop maps terminal keys onto the simulated push buttons.
func inputLoop(ctx context.Context, cancel context.CancelFunc, b *board.Board) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		<-ctx.Done()
		return ctx.Err()
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("raw terminal: %w", err)
	}
	defer term.Restore(fd, oldState)

	buf := make([]byte, 1)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := os.Stdin.Read(buf); err != nil {
			return err
		}
		switch {
		case buf[0] == 'q' || buf[0] == 3: // q or ctrl-c
			cancel()
			return nil
		case buf[0] >= '1' && buf[0] <= '4':
			b.Keys.PulseInput(uint32(buf[0] - '1'))
		}
	}
}

// ledChaser is the state shared with the timer handler.
type ledChaser struct {
	drv     *pio.Driver
	width   uint32
	pattern uint32
}

// timerHandler walks the chaser pattern one step per timer event.
func timerHandler(b *board.Board) irq.Handler {
	status := mmio.NewBank(b.Bus, board.PrivTimerBase).Reg(privtimer.RegStatus)
	return func(id irq.Source, param any, handled *bool) {
		chaser := param.(*ledChaser)
		if chaser.pattern == 0 {
			chaser.pattern = 1
		} else {
			chaser.pattern <<= 1
			if chaser.pattern >= 1<<chaser.width {
				chaser.pattern = 1
			}
		}
		chaser.drv.SetOutput(chaser.pattern, ^uint32(0))

		// Acknowledge at the peripheral or the level interrupt
		// re-fires immediately.
		status.Write(privtimer.StatusEvent)
		*handled = true
	}
}

// keyHandler toggles the LED matching each captured key edge.
func keyHandler(b *board.Board) irq.Handler {
	return func(id irq.Source, param any, handled *bool) {
		chaser := param.(*ledChaser)
		if edges := b.KeyDrv.EdgeCapture(); edges != 0 {
			chaser.pattern ^= edges
			chaser.drv.SetOutput(chaser.pattern, ^uint32(0))
			b.KeyDrv.ClearEdgeCapture(edges)
		}
		*handled = true
	}
}

var (
	ledOn  = ansi.Style{}.ForegroundColor(ansi.Red).Styled("●")
	ledOff = ansi.Style{}.Faint().Styled("○")
)

// renderLEDs draws the LED bank in place on one terminal line.
func renderLEDs(b *board.Board) {
	state := b.LEDs.OutputState()
	line := "\r" + ansi.EraseLineRight + "LEDR "
	for pin := int(b.Config.LEDs.Width) - 1; pin >= 0; pin-- {
		if state&(1<<pin) != 0 {
			line += ledOn
		} else {
			line += ledOff
		}
	}
	fmt.Fprint(os.Stdout, line)
}
