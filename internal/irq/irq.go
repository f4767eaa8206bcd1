// Package irq routes hardware interrupt sources to registered handlers. It
// builds the processor vector table, owns the source-to-handler registry,
// and runs the dispatch cycle taken on each interrupt request exception:
// acknowledge at the controller, invoke the handler for the active source
// (or the unhandled fallback), and complete the source so it can fire again.
//
// Registry mutation is atomic with respect to dispatch because every
// mutation runs with interrupt requests globally masked for the duration of
// the table update. Dispatch itself never allocates and never blocks.
package irq

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinysoc/hps/internal/cpu"
	"github.com/tinysoc/hps/internal/gic"
	"github.com/tinysoc/hps/internal/svc"
)

// MaxSources is the number of interrupt source ids the controller supports.
// Valid ids are [0, MaxSources).
const MaxSources = 256

// Source identifies one hardware interrupt line at the controller.
type Source uint32

// Handler services one interrupt source. id is the source that fired, param
// is the pointer supplied at registration (borrowed; the registrant keeps it
// alive until unregistration), and *handled must be set to true if the
// interrupt was serviced. Leaving it false hands the interrupt to the
// unhandled fallback. Handlers run with interrupt requests masked; a
// latency-sensitive handler may clear the mask through GlobalEnable at its
// own risk, relying on exception return to restore the interrupted
// context's mask state. Handlers must not mask delivery themselves:
// CriticalSection and the registration calls wait out in-flight dispatch
// and deadlock from interrupt context. Handlers must not panic; there is
// no recovery context inside exception entry.
type Handler func(id Source, param any, handled *bool)

type entry struct {
	fn         Handler
	param      any
	registered bool
}

// Registration is one (source, handler, param) triple for the batch forms.
type Registration struct {
	ID      Source
	Handler Handler
	Param   any
}

// Controller is the interrupt routing subsystem for one core. The zero
// value is unusable; construct with New. A process normally has exactly one
// (see the package-level API), but tests build isolated instances.
type Controller struct {
	core *cpu.Core
	gic  *gic.Interface
	svc  *svc.Dispatcher

	overrides map[cpu.Exception]cpu.TrapHandler
	onFatal   func(cpu.Exception)
	log       *slog.Logger

	initialised bool
	unhandled   Handler

	// Handler arena indexed directly by source id. Fixed capacity so that
	// registration never allocates and dispatch is a single index.
	registry [MaxSources]entry
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithVectorOverride supplies an alternate entry for one exception class.
// Only the undefined instruction, abort and FIQ classes are overridable;
// the IRQ and software interrupt entries belong to the subsystem. Applies
// at vector table build time only; the table is immutable afterwards.
func WithVectorOverride(class cpu.Exception, handler cpu.TrapHandler) Option {
	return func(c *Controller) {
		c.overrides[class] = handler
	}
}

// WithFatalHook installs the action taken when a fatal exception class is
// entered or an unhandled interrupt reaches the default fallback. The
// intended policy is to stop servicing the watchdog so the system resets.
func WithFatalHook(fn func(cpu.Exception)) Option {
	return func(c *Controller) {
		c.onFatal = fn
	}
}

// WithSVCDispatcher supplies the software interrupt dispatcher wired into
// the vector table. A default dispatcher is created when absent.
func WithSVCDispatcher(d *svc.Dispatcher) Option {
	return func(c *Controller) {
		c.svc = d
	}
}

// WithLogger sets the logger used on the fatal and unhandled paths. The
// dispatch hot path never logs.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// New binds a Controller to a core and an interrupt controller interface.
// The subsystem is inert until Initialise.
func New(core *cpu.Core, gicIf *gic.Interface, opts ...Option) *Controller {
	c := &Controller{
		core:      core,
		gic:       gicIf,
		overrides: make(map[cpu.Exception]cpu.TrapHandler),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.svc == nil {
		c.svc = svc.NewDispatcher()
	}
	return c
}

// Initialise builds the eight-entry vector table, installs it via the
// vector base register, brings up the interrupt controller, and leaves
// interrupt requests masked. If enableOnReturn is set, requests are
// unmasked as the very last step, so no interrupt can dispatch before the
// registry exists.
//
// unhandled is invoked for any interrupt with no registered handler, or
// whose handler did not report the interrupt serviced. Passing nil installs
// the default fallback, which trips the fatal path: an unserviced source
// left pending would otherwise wedge the controller, so the policy is to
// let the watchdog reset the system.
//
// A second call fails with ErrAlreadyInitialised.
func (c *Controller) Initialise(enableOnReturn bool, unhandled Handler) error {
	if c.initialised {
		return ErrAlreadyInitialised
	}

	if unhandled == nil {
		unhandled = c.defaultUnhandled
	}
	c.unhandled = unhandled

	c.core.SetIRQMasked(true)
	c.core.SetVBAR(c.buildVectorTable())
	c.gic.InitController()
	c.initialised = true

	if enableOnReturn {
		c.core.SetIRQMasked(false)
	}
	return nil
}

// IsInitialised reports whether Initialise has completed.
func (c *Controller) IsInitialised() bool {
	return c.initialised
}

// buildVectorTable assembles the entries for all eight exception classes.
// Interrupt request and software interrupt entries are the subsystem's
// dispatchers; the remaining classes default to the fatal trap unless an
// override was supplied at construction.
func (c *Controller) buildVectorTable() *cpu.VectorTable {
	var entries [cpu.NumExceptions]cpu.TrapHandler

	entries[cpu.ExcIRQ] = c.dispatch
	entries[cpu.ExcSoftwareInterrupt] = c.svc.Dispatch
	entries[cpu.ExcReset] = func(tc *cpu.TrapContext) {}

	for _, class := range []cpu.Exception{
		cpu.ExcUndefinedInstruction,
		cpu.ExcPrefetchAbort,
		cpu.ExcDataAbort,
		cpu.ExcReserved,
		cpu.ExcFIQ,
	} {
		if override := c.overrides[class]; override != nil {
			entries[class] = override
		} else {
			entries[class] = c.fatalTrap
		}
	}
	return cpu.NewVectorTable(entries)
}

// GlobalEnable masks or unmasks interrupt request delivery at the core,
// returning whether delivery was previously enabled. Enabling requires the
// subsystem to be initialised and fails with ErrNotInitialised otherwise.
// Disabling always takes effect; ErrSkipped reports that requests were
// already masked, a status rather than a failure.
//
// The previous state supports the save/restore idiom:
//
//	prev, _ := ctl.GlobalEnable(false)
//	// ... short critical window ...
//	ctl.GlobalEnable(prev)
//
// The mask is a single flat bit, not a nesting count; callers sequence
// nested save/restore pairs themselves, or use CriticalSection.
func (c *Controller) GlobalEnable(enable bool) (previouslyEnabled bool, err error) {
	if enable {
		if !c.initialised {
			return false, ErrNotInitialised
		}
		wasMasked := c.core.SetIRQMasked(false)
		return !wasMasked, nil
	}

	wasMasked := c.core.SetIRQMasked(true)
	if wasMasked {
		return false, ErrSkipped
	}
	return true, nil
}

// CriticalSection masks interrupt requests and returns a restore function
// that reinstates the prior mask state. A dispatch already in flight is
// waited out first, so once CriticalSection returns no handler is running
// and none starts until restore. Restore on every exit path:
//
//	restore := ctl.CriticalSection()
//	defer restore()
func (c *Controller) CriticalSection() (restore func()) {
	wasMasked := c.core.SetIRQMasked(true)
	return func() {
		c.core.SetIRQMasked(wasMasked)
	}
}

// RegisterHandler routes the source to handler and makes the source live at
// the controller. Any existing entry for the source is replaced wholly,
// handler and param together. param is borrowed, not owned: it must stay
// valid until unregistration.
func (c *Controller) RegisterHandler(id Source, handler Handler, param any) error {
	if !c.initialised {
		return ErrNotInitialised
	}
	if id >= MaxSources {
		return fmt.Errorf("%w: %d", ErrBadID, id)
	}
	if handler == nil {
		return fmt.Errorf("irq: nil handler for source %d", id)
	}

	restore := c.CriticalSection()
	c.registry[id] = entry{fn: handler, param: param, registered: true}
	restore()

	c.gic.EnableSource(uint32(id))
	return nil
}

// RegisterHandlers applies RegisterHandler to each registration in order.
// Outcomes are independent per id: a failure neither stops later entries
// nor rolls back earlier ones. All failures are joined into the returned
// error.
func (c *Controller) RegisterHandlers(regs []Registration) error {
	var errs []error
	for _, reg := range regs {
		if err := c.RegisterHandler(reg.ID, reg.Handler, reg.Param); err != nil {
			errs = append(errs, fmt.Errorf("source %d: %w", reg.ID, err))
		}
	}
	return errors.Join(errs...)
}

// UnregisterHandler removes the routing for the source and disables it at
// the controller, the inverse of RegisterHandler's enable side effect.
// Fails with ErrNotFound, mutating nothing, if no entry exists.
func (c *Controller) UnregisterHandler(id Source) error {
	if id >= MaxSources {
		return fmt.Errorf("%w: %d", ErrBadID, id)
	}
	if !c.registry[id].registered {
		return ErrNotFound
	}

	c.gic.DisableSource(uint32(id))

	restore := c.CriticalSection()
	c.registry[id] = entry{}
	restore()
	return nil
}

// UnregisterHandlers applies UnregisterHandler to each source in order,
// with the same independent per-id outcomes as RegisterHandlers.
func (c *Controller) UnregisterHandlers(ids []Source) error {
	var errs []error
	for _, id := range ids {
		if err := c.UnregisterHandler(id); err != nil {
			errs = append(errs, fmt.Errorf("source %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// dispatch is the interrupt request vector entry. One cycle per exception:
// acknowledge, look up, invoke, complete.
func (c *Controller) dispatch(*cpu.TrapContext) {
	// Reading the acknowledge register marks the source active at the
	// controller as a side effect of the read.
	id := c.gic.ReadActive()

	if id >= MaxSources {
		// Spurious acknowledge (1022/1023): nothing became active, so
		// there is nothing to complete.
		return
	}

	handled := false
	if e := &c.registry[id]; e.registered {
		e.fn(Source(id), e.param, &handled)
	}
	if !handled {
		c.unhandled(Source(id), nil, &handled)
	}

	// Completion is decoupled from the handling outcome: the controller
	// must see end-of-interrupt for every genuine acknowledge or the
	// source stays active and can never fire again.
	c.gic.Complete(id)
}

// defaultUnhandled is installed when Initialise is given no fallback. An
// unserviced interrupt left pending can hang the controller, so the policy
// is deliberate: report, then trip the fatal path and let the watchdog
// reset the system.
func (c *Controller) defaultUnhandled(id Source, _ any, _ *bool) {
	c.log.Error("unhandled interrupt", "source", uint32(id))
	c.fatal(cpu.ExcIRQ)
}

// fatalTrap is the default vector entry for the abort, undefined
// instruction and FIQ classes.
func (c *Controller) fatalTrap(tc *cpu.TrapContext) {
	c.log.Error("fatal exception", "class", tc.Class.String())
	c.fatal(tc.Class)
}

func (c *Controller) fatal(class cpu.Exception) {
	if c.onFatal != nil {
		c.onFatal(class)
	}
}
