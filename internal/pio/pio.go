// Package pio is the driver for Avalon parallel I/O register blocks: masked
// read-modify-write access to the data and direction registers, interrupt
// mask and edge capture control, and per-pin GPIO wrappers. It is a
// consumer of the interrupt registration API, not part of it: a block's
// edge interrupt is serviced by whatever handler its owner registers.
package pio

import (
	"github.com/tinysoc/hps/internal/devices/fpgapio"
	"github.com/tinysoc/hps/internal/mmio"
)

// Driver drives one PIO block through its four registers.
type Driver struct {
	data      mmio.Reg32
	direction mmio.Reg32
	irqMask   mmio.Reg32
	edges     mmio.Reg32
}

// New binds a driver to the PIO block at base.
func New(b mmio.Accessor, base uint64) *Driver {
	bank := mmio.NewBank(b, base)
	return &Driver{
		data:      bank.Reg(fpgapio.RegData),
		direction: bank.Reg(fpgapio.RegDirection),
		irqMask:   bank.Reg(fpgapio.RegInterruptMask),
		edges:     bank.Reg(fpgapio.RegEdgeCapture),
	}
}

// SetDirection configures masked pins: set bits become outputs, clear bits
// inputs. Pins outside mask keep their configuration.
func (d *Driver) SetDirection(dir, mask uint32) {
	v := d.direction.Read()
	v = (v &^ mask) | (dir & mask)
	d.direction.Write(v)
}

// SetOutput sets or clears the output value of masked pins.
func (d *Driver) SetOutput(value, mask uint32) {
	v := d.data.Read()
	v = (v &^ mask) | (value & mask)
	d.data.Write(v)
}

// ToggleOutput toggles the output value of masked pins.
func (d *Driver) ToggleOutput(mask uint32) {
	d.data.Write(d.data.Read() ^ mask)
}

// GetOutput returns the current value of the masked output pins.
func (d *Driver) GetOutput(mask uint32) uint32 {
	return d.data.Read() & mask
}

// GetInput returns the current value of the masked input pins.
func (d *Driver) GetInput(mask uint32) uint32 {
	return d.data.Read() & mask
}

// EnableInterrupts admits edge captures on masked pins to the block's
// interrupt line.
func (d *Driver) EnableInterrupts(mask uint32) {
	d.irqMask.SetBits(mask)
}

// DisableInterrupts blocks masked pins from the interrupt line.
func (d *Driver) DisableInterrupts(mask uint32) {
	d.irqMask.ClearBits(mask)
}

// EdgeCapture returns the latched input edges.
func (d *Driver) EdgeCapture() uint32 {
	return d.edges.Read()
}

// ClearEdgeCapture clears the latched edges for masked pins. Handlers must
// clear the capture they serviced or the block keeps requesting.
func (d *Driver) ClearEdgeCapture(mask uint32) {
	d.edges.Write(mask)
}

// Pin wraps one bit of a PIO block as a GPIO pin.
type Pin struct {
	drv *Driver
	bit uint32
}

// Pin returns the GPIO wrapper for the given bit.
func (d *Driver) Pin(bit uint32) Pin {
	return Pin{drv: d, bit: bit}
}

// Output configures the pin as an output.
func (p Pin) Output() { p.drv.SetDirection(1<<p.bit, 1<<p.bit) }

// Input configures the pin as an input.
func (p Pin) Input() { p.drv.SetDirection(0, 1<<p.bit) }

// Set drives the pin high or low.
func (p Pin) Set(high bool) {
	if high {
		p.drv.SetOutput(1<<p.bit, 1<<p.bit)
	} else {
		p.drv.SetOutput(0, 1<<p.bit)
	}
}

// Get reads the pin level.
func (p Pin) Get() bool {
	return p.drv.GetInput(1<<p.bit) != 0
}

// Toggle inverts the pin output.
func (p Pin) Toggle() { p.drv.ToggleOutput(1 << p.bit) }
