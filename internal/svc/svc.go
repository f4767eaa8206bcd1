// Package svc decodes software interrupt (supervisor call) exceptions. The
// calling convention is fixed: the call id is embedded in the immediate
// field of the trigger instruction, R0 carries the argument count (0-3), R1
// points at the argument array, and the handler's status is returned in R0,
// overwriting the argument count slot.
//
// Unlike peripheral interrupts there is no per-call-id registry: every
// software interrupt funnels through one handler which dispatches on the
// call id itself.
package svc

import "github.com/tinysoc/hps/internal/cpu"

// MaxArgs is the largest argument count the convention carries in the
// register file.
const MaxArgs = 3

// StatusSuccess is the conventional all-fine return status.
const StatusSuccess int32 = 0

// Handler services every software interrupt. callID is the immediate from
// the trigger instruction, argc the argument count from R0, argv the
// decoded argument array. The returned status is propagated back to the
// calling context through R0.
type Handler func(callID, argc uint32, argv []uint32) int32

// Dispatcher owns the single global software interrupt handler.
type Dispatcher struct {
	handler Handler
}

// NewDispatcher returns a dispatcher with the default no-op handler, which
// returns success. The software interrupt vector must always be serviced,
// even with no application handler installed, or the trap would wedge the
// core.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handler: defaultHandler}
}

// SetHandler replaces the global software interrupt handler. A nil handler
// restores the default.
func (d *Dispatcher) SetHandler(h Handler) {
	if h == nil {
		h = defaultHandler
	}
	d.handler = h
}

// Dispatch is the software interrupt vector entry. It decodes the call id,
// argument count and argument array from the trapped frame, invokes the
// handler, and writes the status back through the argument count register.
func (d *Dispatcher) Dispatch(tc *cpu.TrapContext) {
	frame := tc.Frame
	if frame == nil {
		return
	}

	argc := frame.R0
	if argc > MaxArgs {
		argc = MaxArgs
	}
	argv := frame.Args
	if uint32(len(argv)) > argc {
		argv = argv[:argc]
	}

	status := d.handler(tc.SVCImmediate, argc, argv)
	frame.R0 = uint32(status)
}

func defaultHandler(callID, argc uint32, argv []uint32) int32 {
	return StatusSuccess
}
