// Package gicsim is a register-accurate model of a GIC-400 serving a single
// CPU interface: distributor enables, pending/active bookkeeping, priority
// selection, and the acknowledge/end-of-interrupt handshake. Peripheral
// models assert source lines with SetIRQ; the model drives the core's
// interrupt request input through the wired line.
package gicsim

import (
	"fmt"
	"sync"

	"github.com/tinysoc/hps/internal/bus"
	"github.com/tinysoc/hps/internal/gic"
)

// NumSources is the number of interrupt sources the model implements.
const NumSources = 256

const numWords = NumSources / 32

// Dist and CPU interface region sizes.
const (
	DistSize = 0x1000
	CPUSize  = 0x100
)

// GIC models the interrupt controller.
type GIC struct {
	mu sync.Mutex

	distBase uint64
	cpuBase  uint64

	irqOut bus.LineInterrupt

	distEnabled bool
	cpuEnabled  bool
	pmr         uint32
	bpr         uint32

	lines    [numWords]uint32 // current level per source
	latched  [numWords]uint32 // edge captures, cleared on acknowledge
	enabled  [numWords]uint32
	active   [numWords]uint32
	priority [NumSources]uint8
	targets  [NumSources]uint8
}

// New creates a GIC with its distributor and CPU interface banks at the
// given base addresses, driving irqOut as the core's interrupt request pin.
func New(distBase, cpuBase uint64, irqOut bus.LineInterrupt) *GIC {
	if irqOut == nil {
		irqOut = bus.LineInterruptDetached()
	}
	g := &GIC{
		distBase: distBase,
		cpuBase:  cpuBase,
		irqOut:   irqOut,
	}
	g.resetLocked()
	return g
}

// SetIRQOut rewires the interrupt request output line.
func (g *GIC) SetIRQOut(line bus.LineInterrupt) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if line == nil {
		line = bus.LineInterruptDetached()
	}
	g.irqOut = line
}

func (g *GIC) resetLocked() {
	g.distEnabled = false
	g.cpuEnabled = false
	g.pmr = 0
	g.bpr = 0
	g.lines = [numWords]uint32{}
	g.latched = [numWords]uint32{}
	g.enabled = [numWords]uint32{}
	g.active = [numWords]uint32{}
	for i := range g.priority {
		g.priority[i] = 0
	}
	for i := range g.targets {
		g.targets[i] = 0x01
	}
}

// DeviceID implements bus.Device.
func (g *GIC) DeviceID() string { return "gic" }

// Start implements bus.ChangeDeviceState.
func (g *GIC) Start() error { return nil }

// Stop implements bus.ChangeDeviceState.
func (g *GIC) Stop() error { return nil }

// Reset implements bus.ChangeDeviceState.
func (g *GIC) Reset() error {
	g.mu.Lock()
	g.resetLocked()
	g.mu.Unlock()
	g.syncOutput()
	return nil
}

// SupportsMmio implements bus.Device.
func (g *GIC) SupportsMmio() *bus.MmioIntercept {
	return &bus.MmioIntercept{
		Regions: []bus.Region{
			{Address: g.distBase, Size: DistSize},
			{Address: g.cpuBase, Size: CPUSize},
		},
		Handler: g,
	}
}

// SupportsPoll implements bus.Device.
func (g *GIC) SupportsPoll() *bus.PollIntercept { return nil }

// SetIRQ implements bus.InterruptSink. A rising edge latches the source
// pending; the level is tracked for level-triggered re-fire after EOI.
func (g *GIC) SetIRQ(line uint32, level bool) {
	if line >= NumSources {
		return
	}
	g.mu.Lock()
	word, bit := line/32, line%32
	was := g.lines[word]&(1<<bit) != 0
	if level {
		g.lines[word] |= 1 << bit
		if !was {
			g.latched[word] |= 1 << bit
		}
	} else {
		g.lines[word] &^= 1 << bit
	}
	g.mu.Unlock()
	g.syncOutput()
}

// SourceEnabled reports the distributor enable bit for the source.
func (g *GIC) SourceEnabled(id uint32) bool {
	if id >= NumSources {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled[id/32]&(1<<(id%32)) != 0
}

// SourceActive reports whether the source is acknowledged but not yet
// completed.
func (g *GIC) SourceActive(id uint32) bool {
	if id >= NumSources {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[id/32]&(1<<(id%32)) != 0
}

// pendingLocked returns the highest priority pending, enabled, not yet
// active source, or gic.SpuriousID when there is none. Lower priority
// values win; ties go to the lower id.
func (g *GIC) pendingLocked() uint32 {
	if !g.distEnabled || !g.cpuEnabled {
		return gic.SpuriousID
	}
	best := uint32(gic.SpuriousID)
	var bestPrio uint32
	for word := 0; word < numWords; word++ {
		ready := (g.lines[word] | g.latched[word]) & g.enabled[word] &^ g.active[word]
		for ready != 0 {
			bit := uint32(0)
			for ; ready&(1<<bit) == 0; bit++ {
			}
			ready &^= 1 << bit
			id := uint32(word*32) + bit
			prio := uint32(g.priority[id])
			if prio >= g.pmr {
				continue
			}
			if best == gic.SpuriousID || prio < bestPrio {
				best, bestPrio = id, prio
			}
		}
	}
	return best
}

// syncOutput drives the core's interrupt request pin from the pending
// state. Called outside the lock so delivery can re-enter the model.
func (g *GIC) syncOutput() {
	g.mu.Lock()
	pending := g.pendingLocked() != gic.SpuriousID
	out := g.irqOut
	g.mu.Unlock()
	out.SetLevel(pending)
}

// ReadMMIO implements bus.MmioHandler.
func (g *GIC) ReadMMIO(addr uint64) (uint32, error) {
	if addr >= g.cpuBase && addr < g.cpuBase+CPUSize {
		v, err := g.readCPU(addr - g.cpuBase)
		if addr-g.cpuBase == gic.GICC_IAR {
			// Acknowledging removes the source from the pending set.
			g.syncOutput()
		}
		return v, err
	}
	if addr >= g.distBase && addr < g.distBase+DistSize {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.readDistLocked(addr - g.distBase)
	}
	return 0, fmt.Errorf("gicsim: read outside claimed regions at 0x%08x", addr)
}

// WriteMMIO implements bus.MmioHandler.
func (g *GIC) WriteMMIO(addr uint64, value uint32) error {
	switch {
	case addr >= g.cpuBase && addr < g.cpuBase+CPUSize:
		if err := g.writeCPU(addr-g.cpuBase, value); err != nil {
			return err
		}
	case addr >= g.distBase && addr < g.distBase+DistSize:
		g.mu.Lock()
		err := g.writeDistLocked(addr-g.distBase, value)
		g.mu.Unlock()
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("gicsim: write outside claimed regions at 0x%08x", addr)
	}
	g.syncOutput()
	return nil
}

func (g *GIC) readDistLocked(offset uint64) (uint32, error) {
	switch {
	case offset == gic.GICD_CTLR:
		if g.distEnabled {
			return 1, nil
		}
		return 0, nil
	case offset == gic.GICD_TYPER:
		// ITLinesNumber encodes 32*(n+1) supported lines.
		return numWords - 1, nil
	case offset >= gic.GICD_ISENABLER && offset < gic.GICD_ISENABLER+numWords*4:
		return g.enabled[(offset-gic.GICD_ISENABLER)/4], nil
	case offset >= gic.GICD_ICENABLER && offset < gic.GICD_ICENABLER+numWords*4:
		return g.enabled[(offset-gic.GICD_ICENABLER)/4], nil
	case offset >= gic.GICD_ISPENDR && offset < gic.GICD_ISPENDR+numWords*4:
		word := (offset - gic.GICD_ISPENDR) / 4
		return g.lines[word] | g.latched[word], nil
	case offset >= gic.GICD_ICPENDR && offset < gic.GICD_ICPENDR+numWords*4:
		word := (offset - gic.GICD_ICPENDR) / 4
		return g.lines[word] | g.latched[word], nil
	case offset >= gic.GICD_IPRIORITY && offset < gic.GICD_IPRIORITY+NumSources:
		return g.packBytes(g.priority[:], offset-gic.GICD_IPRIORITY), nil
	case offset >= gic.GICD_ITARGETSR && offset < gic.GICD_ITARGETSR+NumSources:
		return g.packBytes(g.targets[:], offset-gic.GICD_ITARGETSR), nil
	}
	return 0, nil
}

func (g *GIC) writeDistLocked(offset uint64, value uint32) error {
	switch {
	case offset == gic.GICD_CTLR:
		g.distEnabled = value&1 != 0
	case offset >= gic.GICD_ISENABLER && offset < gic.GICD_ISENABLER+numWords*4:
		g.enabled[(offset-gic.GICD_ISENABLER)/4] |= value
	case offset >= gic.GICD_ICENABLER && offset < gic.GICD_ICENABLER+numWords*4:
		g.enabled[(offset-gic.GICD_ICENABLER)/4] &^= value
	case offset >= gic.GICD_ISPENDR && offset < gic.GICD_ISPENDR+numWords*4:
		g.latched[(offset-gic.GICD_ISPENDR)/4] |= value
	case offset >= gic.GICD_ICPENDR && offset < gic.GICD_ICPENDR+numWords*4:
		g.latched[(offset-gic.GICD_ICPENDR)/4] &^= value
	case offset >= gic.GICD_IPRIORITY && offset < gic.GICD_IPRIORITY+NumSources:
		g.unpackBytes(g.priority[:], offset-gic.GICD_IPRIORITY, value)
	case offset >= gic.GICD_ITARGETSR && offset < gic.GICD_ITARGETSR+NumSources:
		g.unpackBytes(g.targets[:], offset-gic.GICD_ITARGETSR, value)
	}
	return nil
}

func (g *GIC) readCPU(offset uint64) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch offset {
	case gic.GICC_CTLR:
		if g.cpuEnabled {
			return 1, nil
		}
		return 0, nil
	case gic.GICC_PMR:
		return g.pmr, nil
	case gic.GICC_BPR:
		return g.bpr, nil
	case gic.GICC_IAR:
		// The read side effect: the selected source moves from pending
		// to active and its edge latch clears.
		id := g.pendingLocked()
		if id != gic.SpuriousID {
			word, bit := id/32, id%32
			g.latched[word] &^= 1 << bit
			g.active[word] |= 1 << bit
		}
		return id, nil
	}
	return 0, nil
}

func (g *GIC) writeCPU(offset uint64, value uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch offset {
	case gic.GICC_CTLR:
		g.cpuEnabled = value&1 != 0
	case gic.GICC_PMR:
		g.pmr = value & 0xFF
	case gic.GICC_BPR:
		g.bpr = value & 0x7
	case gic.GICC_EOIR:
		id := value & 0x3FF
		if id < NumSources {
			g.active[id/32] &^= 1 << (id % 32)
		}
	}
	return nil
}

// packBytes assembles the word at a byte-array register offset.
func (g *GIC) packBytes(arr []uint8, offset uint64) uint32 {
	base := offset &^ 3
	var v uint32
	for i := uint64(0); i < 4; i++ {
		if base+i < uint64(len(arr)) {
			v |= uint32(arr[base+i]) << (8 * i)
		}
	}
	return v
}

func (g *GIC) unpackBytes(arr []uint8, offset uint64, value uint32) {
	base := offset &^ 3
	for i := uint64(0); i < 4; i++ {
		if base+i < uint64(len(arr)) {
			arr[base+i] = uint8(value >> (8 * i))
		}
	}
}

var _ bus.Device = (*GIC)(nil)
var _ bus.MmioHandler = (*GIC)(nil)
var _ bus.InterruptSink = (*GIC)(nil)
