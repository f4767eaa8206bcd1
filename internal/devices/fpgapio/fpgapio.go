// Package fpgapio models an Avalon parallel I/O block, the register
// interface behind the board's LEDs, switches and push buttons. Input edges
// latch into the edge capture register; while any captured edge is admitted
// by the interrupt mask the block asserts its interrupt line.
package fpgapio

import (
	"fmt"
	"sync"

	"github.com/tinysoc/hps/internal/bus"
)

// Register offsets.
const (
	RegData          = 0x0
	RegDirection     = 0x4
	RegInterruptMask = 0x8
	RegEdgeCapture   = 0xC
)

// RegionSize covers one PIO register block.
const RegionSize = 0x10

// Block models one parallel I/O block.
type Block struct {
	mu sync.Mutex

	name  string
	base  uint64
	width uint32
	irq   bus.LineInterrupt

	data      uint32 // output latch
	direction uint32 // 1 = output
	irqMask   uint32
	edges     uint32 // captured input edges, write one to clear
	inputs    uint32 // current input pin levels
}

// New creates a PIO block with the given pin width. Blocks without an
// interrupt wire pass a nil line.
func New(name string, base uint64, width uint32, irq bus.LineInterrupt) *Block {
	if irq == nil {
		irq = bus.LineInterruptDetached()
	}
	return &Block{name: name, base: base, width: width, irq: irq}
}

func (b *Block) widthMask() uint32 {
	if b.width >= 32 {
		return ^uint32(0)
	}
	return 1<<b.width - 1
}

// DeviceID implements bus.Device.
func (b *Block) DeviceID() string { return b.name }

// Start implements bus.ChangeDeviceState.
func (b *Block) Start() error { return nil }

// Stop implements bus.ChangeDeviceState.
func (b *Block) Stop() error { return nil }

// Reset implements bus.ChangeDeviceState.
func (b *Block) Reset() error {
	b.mu.Lock()
	b.data = 0
	b.direction = 0
	b.irqMask = 0
	b.edges = 0
	b.mu.Unlock()
	b.syncIRQ()
	return nil
}

// SupportsMmio implements bus.Device.
func (b *Block) SupportsMmio() *bus.MmioIntercept {
	return &bus.MmioIntercept{
		Regions: []bus.Region{{Address: b.base, Size: RegionSize}},
		Handler: b,
	}
}

// SupportsPoll implements bus.Device.
func (b *Block) SupportsPoll() *bus.PollIntercept { return nil }

// SetInput drives one input pin from the outside world (a key press, a
// switch flip). A rising edge latches into the edge capture register.
func (b *Block) SetInput(pin uint32, level bool) {
	if pin >= b.width {
		return
	}
	b.mu.Lock()
	bit := uint32(1) << pin
	was := b.inputs&bit != 0
	if level {
		b.inputs |= bit
		if !was {
			b.edges |= bit
		}
	} else {
		b.inputs &^= bit
	}
	b.mu.Unlock()
	b.syncIRQ()
}

// PulseInput drives a momentary press on one input pin.
func (b *Block) PulseInput(pin uint32) {
	b.SetInput(pin, true)
	b.SetInput(pin, false)
}

// OutputState returns the output latch, for observing LED state.
func (b *Block) OutputState() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data & b.widthMask()
}

func (b *Block) syncIRQ() {
	b.mu.Lock()
	level := b.edges&b.irqMask != 0
	out := b.irq
	b.mu.Unlock()
	out.SetLevel(level)
}

// ReadMMIO implements bus.MmioHandler.
func (b *Block) ReadMMIO(addr uint64) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch addr - b.base {
	case RegData:
		// Output pins read back the latch, input pins the live level.
		return (b.data & b.direction) | (b.inputs &^ b.direction), nil
	case RegDirection:
		return b.direction, nil
	case RegInterruptMask:
		return b.irqMask, nil
	case RegEdgeCapture:
		return b.edges, nil
	}
	return 0, fmt.Errorf("%s: read at unknown offset 0x%x", b.name, addr-b.base)
}

// WriteMMIO implements bus.MmioHandler.
func (b *Block) WriteMMIO(addr uint64, value uint32) error {
	b.mu.Lock()
	switch addr - b.base {
	case RegData:
		b.data = value & b.widthMask()
	case RegDirection:
		b.direction = value & b.widthMask()
	case RegInterruptMask:
		b.irqMask = value & b.widthMask()
	case RegEdgeCapture:
		// Write one to clear captured edges.
		b.edges &^= value
	default:
		b.mu.Unlock()
		return fmt.Errorf("%s: write at unknown offset 0x%x", b.name, addr-b.base)
	}
	b.mu.Unlock()
	b.syncIRQ()
	return nil
}

var _ bus.Device = (*Block)(nil)
var _ bus.MmioHandler = (*Block)(nil)
