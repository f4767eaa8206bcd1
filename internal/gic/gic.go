// Package gic drives the GIC-400 interrupt controller: per-source enables at
// the distributor and the acknowledge/completion handshake at the CPU
// interface. Operations here are single register accesses with no retries
// and no error returns; callers guarantee ids are in range.
package gic

import "github.com/tinysoc/hps/internal/mmio"

// Distributor register offsets (GICD).
const (
	GICD_CTLR      = 0x000 // Distributor Control Register
	GICD_TYPER     = 0x004 // Interrupt Controller Type Register
	GICD_ISENABLER = 0x100 // Interrupt Set-Enable Registers (n = 0..31)
	GICD_ICENABLER = 0x180 // Interrupt Clear-Enable Registers (n = 0..31)
	GICD_ISPENDR   = 0x200 // Interrupt Set-Pending Registers (n = 0..31)
	GICD_ICPENDR   = 0x280 // Interrupt Clear-Pending Registers (n = 0..31)
	GICD_IPRIORITY = 0x400 // Interrupt Priority Registers (byte per source)
	GICD_ITARGETSR = 0x800 // Interrupt Processor Target Registers
)

// CPU interface register offsets (GICC).
const (
	GICC_CTLR = 0x000 // CPU Interface Control Register
	GICC_PMR  = 0x004 // Interrupt Priority Mask Register
	GICC_BPR  = 0x008 // Binary Point Register
	GICC_IAR  = 0x00C // Interrupt Acknowledge Register
	GICC_EOIR = 0x010 // End of Interrupt Register
)

const (
	// SpuriousID is returned by an IAR read when no interrupt is pending.
	SpuriousID = 1023

	// sourceIDMask extracts the source id from an IAR read (bits 9:0; the
	// upper bits carry the requesting CPU for SGIs).
	sourceIDMask = 0x3FF

	// ctlrEnable enables group 0 forwarding at either the distributor or
	// the CPU interface.
	ctlrEnable = 1 << 0

	// pmrAllowAll admits every priority level (larger value = lower
	// priority; 0xFF masks nothing).
	pmrAllowAll = 0xFF
)

// Interface mediates access to one GIC via its two register banks.
type Interface struct {
	dist mmio.Bank
	cpu  mmio.Bank
}

// New binds a GIC interface to the distributor and CPU interface banks.
func New(dist, cpu mmio.Bank) *Interface {
	return &Interface{dist: dist, cpu: cpu}
}

// InitController brings the controller up: admit all priorities at the CPU
// interface, then enable forwarding at both the distributor and the CPU
// interface. Per-source enables stay clear until drivers register.
func (g *Interface) InitController() {
	g.cpu.Reg(GICC_PMR).Write(pmrAllowAll)
	g.cpu.Reg(GICC_BPR).Write(0)
	g.dist.Reg(GICD_CTLR).Write(ctlrEnable)
	g.cpu.Reg(GICC_CTLR).Write(ctlrEnable)
}

// EnableSource sets the distributor enable bit for the source.
func (g *Interface) EnableSource(id uint32) {
	reg, bit := enableRegFor(id)
	g.dist.Reg(GICD_ISENABLER + reg).Write(1 << bit)
}

// DisableSource clears the distributor enable bit for the source.
func (g *Interface) DisableSource(id uint32) {
	reg, bit := enableRegFor(id)
	g.dist.Reg(GICD_ICENABLER + reg).Write(1 << bit)
}

// ReadActive reads the interrupt acknowledge register. The read has a
// hardware side effect: the returned source moves from pending to active.
// Returns SpuriousID if nothing is pending.
func (g *Interface) ReadActive() uint32 {
	return g.cpu.Reg(GICC_IAR).Read() & sourceIDMask
}

// Complete writes the end-of-interrupt register, releasing the source so it
// can fire again. Must be passed the id returned by the matching ReadActive.
func (g *Interface) Complete(id uint32) {
	g.cpu.Reg(GICC_EOIR).Write(id)
}

// SetPriority programs the priority byte for the source. Smaller values win.
func (g *Interface) SetPriority(id uint32, priority uint8) {
	reg := g.dist.Reg(GICD_IPRIORITY + uint64(id&^3))
	shift := (id & 3) * 8
	v := reg.Read()
	v &^= 0xFF << shift
	v |= uint32(priority) << shift
	reg.Write(v)
}

// The set-enable and clear-enable banks pack 32 sources per register.
func enableRegFor(id uint32) (offset uint64, bit uint32) {
	return uint64(id/32) * 4, id % 32
}
