// Package mmio provides typed access to individual 32-bit registers on the
// fabric. A Reg32 is a thin handle; every Read and Write goes out on the bus
// so accesses keep volatile semantics and are never cached or reordered by
// this layer.
package mmio

import "github.com/tinysoc/hps/internal/bus"

// Accessor is the subset of the bus a register handle needs.
type Accessor interface {
	Read32(addr uint64) (uint32, error)
	Write32(addr uint64, value uint32) error
}

var _ Accessor = (*bus.Bus)(nil)

// Reg32 is one 32-bit memory-mapped register.
type Reg32 struct {
	bus  Accessor
	addr uint64
}

// NewReg32 binds a register handle to an address on the given bus.
func NewReg32(b Accessor, addr uint64) Reg32 {
	return Reg32{bus: b, addr: addr}
}

// Addr returns the physical address the handle is bound to.
func (r Reg32) Addr() uint64 { return r.addr }

// Read performs the bus access and returns the register value. A read of an
// unmapped address returns zero; the fabric has no bus-fault path to report
// into interrupt context.
func (r Reg32) Read() uint32 {
	v, err := r.bus.Read32(r.addr)
	if err != nil {
		return 0
	}
	return v
}

// Write performs the bus access. Writes to unmapped addresses are dropped.
func (r Reg32) Write(value uint32) {
	_ = r.bus.Write32(r.addr, value)
}

// SetBits ORs mask into the register with a read-modify-write.
func (r Reg32) SetBits(mask uint32) {
	r.Write(r.Read() | mask)
}

// ClearBits clears mask from the register with a read-modify-write.
func (r Reg32) ClearBits(mask uint32) {
	r.Write(r.Read() &^ mask)
}

// Bank is a base address from which register handles are derived.
type Bank struct {
	bus  Accessor
	base uint64
}

// NewBank binds a register bank at base on the given bus.
func NewBank(b Accessor, base uint64) Bank {
	return Bank{bus: b, base: base}
}

// Reg returns a handle on the register at the given byte offset.
func (b Bank) Reg(offset uint64) Reg32 {
	return Reg32{bus: b.bus, addr: b.base + offset}
}
