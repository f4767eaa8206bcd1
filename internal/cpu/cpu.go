// Package cpu models the exception plumbing of the processor core: the
// vector base register, the CPSR interrupt mask bit, and exception entry.
// Delivery follows the hardware contract: taking an exception masks further
// interrupt requests for the duration of the handler, and a level-triggered
// request that is still asserted when the mask clears is taken immediately.
package cpu

import "sync"

// Exception identifies one of the eight processor exception classes, in
// vector table order.
type Exception int

const (
	ExcReset Exception = iota
	ExcUndefinedInstruction
	ExcSoftwareInterrupt
	ExcPrefetchAbort
	ExcDataAbort
	ExcReserved
	ExcIRQ
	ExcFIQ

	// NumExceptions is the vector table length.
	NumExceptions = 8
)

var exceptionNames = [NumExceptions]string{
	"reset", "undefined-instruction", "software-interrupt", "prefetch-abort",
	"data-abort", "reserved", "irq", "fiq",
}

func (e Exception) String() string {
	if e < 0 || e >= NumExceptions {
		return "unknown"
	}
	return exceptionNames[e]
}

// Frame carries the register state visible to a trap handler. For software
// interrupts R0 holds the argument count on entry and the returned status on
// exit; R1 points at the argument array, modelled here as a slice.
type Frame struct {
	R0   uint32
	R1   uint32
	R2   uint32
	R3   uint32
	Args []uint32
}

// TrapContext is what a vector table entry receives on exception entry.
type TrapContext struct {
	Class Exception

	// SVCImmediate is the call id embedded in the trapping instruction.
	// Valid only for ExcSoftwareInterrupt.
	SVCImmediate uint32

	// Frame is the trapped register state. Nil for asynchronous classes.
	Frame *Frame
}

// TrapHandler is one vector table entry.
type TrapHandler func(*TrapContext)

// VectorTable is the fixed table of entry points, one per exception class.
// Built once and installed via SetVBAR; never mutated afterwards.
type VectorTable struct {
	entries [NumExceptions]TrapHandler
}

// NewVectorTable builds a table from the given entries. Nil entries trap to
// nothing; callers are expected to populate all eight.
func NewVectorTable(entries [NumExceptions]TrapHandler) *VectorTable {
	return &VectorTable{entries: entries}
}

// Entry returns the handler installed for the class.
func (v *VectorTable) Entry(class Exception) TrapHandler {
	if v == nil || class < 0 || class >= NumExceptions {
		return nil
	}
	return v.entries[class]
}

// Core is the simulated processor core.
type Core struct {
	mu sync.Mutex

	// entry is held for the duration of each exception entry. Setting
	// the mask acquires it too, so a critical section opened while a
	// dispatch is in flight waits the dispatch out instead of racing
	// it: the foreground is suspended while an interrupt is serviced,
	// never concurrent with it.
	entry sync.Mutex

	vbar      *VectorTable
	irqMasked bool
	irqLine   bool
}

// NewCore returns a core with interrupts masked and no vector table, the
// state the processor resets into.
func NewCore() *Core {
	return &Core{irqMasked: true}
}

// SetVBAR installs the vector table. A single write at initialisation time.
func (c *Core) SetVBAR(vt *VectorTable) {
	c.mu.Lock()
	c.vbar = vt
	c.mu.Unlock()
}

// VBAR returns the installed vector table.
func (c *Core) VBAR() *VectorTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vbar
}

// IRQMasked reports whether interrupt requests are masked (the CPSR I bit).
func (c *Core) IRQMasked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.irqMasked
}

// SetIRQMasked sets the interrupt mask bit and returns its previous state.
// Setting the mask waits out any exception entry already in flight, so on
// return no handler is running and none can start until the mask is cleared
// again. Because of that wait, setting the mask from interrupt context
// deadlocks; on hardware it would be a no-op there. Clearing the mask while
// the interrupt request line is asserted takes the pending exception before
// returning.
func (c *Core) SetIRQMasked(masked bool) (wasMasked bool) {
	if masked {
		c.entry.Lock()
		c.mu.Lock()
		wasMasked = c.irqMasked
		c.irqMasked = true
		c.mu.Unlock()
		c.entry.Unlock()
		return wasMasked
	}
	c.mu.Lock()
	wasMasked = c.irqMasked
	c.irqMasked = false
	c.mu.Unlock()
	c.deliverIRQ()
	return wasMasked
}

// SetIRQLine drives the interrupt request input, normally from the GIC CPU
// interface. Level semantics: the request stays pending until the controller
// drops the line.
func (c *Core) SetIRQLine(level bool) {
	c.mu.Lock()
	c.irqLine = level
	c.mu.Unlock()
	if level {
		c.deliverIRQ()
	}
}

// deliverIRQ takes IRQ exceptions while the line is asserted and the mask is
// clear. Exception entry sets the mask, handlers drop the line by completing
// the source at the controller, and exception return restores the interrupted
// context's clear mask, so the loop terminates once the controller has
// nothing pending. Each entry runs under the entry lock; if another entry is
// already in flight, its own loop re-checks the line on exception return, so
// giving up loses nothing.
func (c *Core) deliverIRQ() {
	for {
		c.mu.Lock()
		ready := !c.irqMasked && c.irqLine && c.vbar != nil
		c.mu.Unlock()
		if !ready {
			return
		}

		if !c.entry.TryLock() {
			return
		}
		c.mu.Lock()
		if c.irqMasked || !c.irqLine || c.vbar == nil {
			c.mu.Unlock()
			c.entry.Unlock()
			return
		}
		entry := c.vbar.Entry(ExcIRQ)
		if entry == nil {
			c.mu.Unlock()
			c.entry.Unlock()
			return
		}
		saved := c.irqMasked
		c.irqMasked = true
		c.mu.Unlock()

		entry(&TrapContext{Class: ExcIRQ})

		c.mu.Lock()
		c.irqMasked = saved
		c.mu.Unlock()
		c.entry.Unlock()
	}
}

// SVC traps synchronously into the software interrupt vector. imm is the
// call id embedded in the trigger instruction. The handler's status comes
// back through frame.R0. Software interrupts trap regardless of the IRQ
// mask; interrupt requests stay masked while the handler runs. SVC is a
// foreground operation: calling it from inside an exception entry
// deadlocks.
func (c *Core) SVC(imm uint32, frame *Frame) {
	c.entry.Lock()
	c.mu.Lock()
	vbar := c.vbar
	prevMask := c.irqMasked
	c.irqMasked = true
	c.mu.Unlock()

	if entry := vbar.Entry(ExcSoftwareInterrupt); entry != nil {
		entry(&TrapContext{Class: ExcSoftwareInterrupt, SVCImmediate: imm, Frame: frame})
	}

	c.mu.Lock()
	c.irqMasked = prevMask
	c.mu.Unlock()
	c.entry.Unlock()

	if !prevMask {
		c.deliverIRQ()
	}
}

// Raise traps synchronously into the vector for the given class. Used for
// the abort, undefined instruction and FIQ classes, which the simulation has
// no asynchronous producer for.
func (c *Core) Raise(class Exception) {
	c.mu.Lock()
	vbar := c.vbar
	c.mu.Unlock()

	if entry := vbar.Entry(class); entry != nil {
		entry(&TrapContext{Class: class})
	}
}
