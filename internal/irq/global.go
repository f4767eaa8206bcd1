package irq

import "sync/atomic"

// The process-wide controller instance backing the package-level API.
// Peripheral drivers call the functions below; board bring-up decides which
// Controller they reach. Tests construct their own Controllers instead.
var defaultController atomic.Pointer[Controller]

// Bind installs the controller served by the package-level API. Call once
// during board bring-up, before Initialise.
func Bind(c *Controller) {
	defaultController.Store(c)
}

// Default returns the bound process-wide controller, or nil.
func Default() *Controller {
	return defaultController.Load()
}

// Initialise initialises the process-wide controller. See
// Controller.Initialise.
func Initialise(enableOnReturn bool, unhandled Handler) error {
	c := defaultController.Load()
	if c == nil {
		return ErrNotInitialised
	}
	return c.Initialise(enableOnReturn, unhandled)
}

// IsInitialised reports whether the process-wide controller is initialised.
func IsInitialised() bool {
	c := defaultController.Load()
	return c != nil && c.IsInitialised()
}

// GlobalEnable masks or unmasks interrupt delivery on the process-wide
// controller. See Controller.GlobalEnable.
func GlobalEnable(enable bool) (previouslyEnabled bool, err error) {
	c := defaultController.Load()
	if c == nil {
		return false, ErrNotInitialised
	}
	return c.GlobalEnable(enable)
}

// RegisterHandler registers a handler on the process-wide controller.
func RegisterHandler(id Source, handler Handler, param any) error {
	c := defaultController.Load()
	if c == nil {
		return ErrNotInitialised
	}
	return c.RegisterHandler(id, handler, param)
}

// RegisterHandlers registers a batch of handlers on the process-wide
// controller.
func RegisterHandlers(regs []Registration) error {
	c := defaultController.Load()
	if c == nil {
		return ErrNotInitialised
	}
	return c.RegisterHandlers(regs)
}

// UnregisterHandler removes a handler from the process-wide controller.
func UnregisterHandler(id Source) error {
	c := defaultController.Load()
	if c == nil {
		return ErrNotInitialised
	}
	return c.UnregisterHandler(id)
}

// UnregisterHandlers removes a batch of handlers from the process-wide
// controller.
func UnregisterHandlers(ids []Source) error {
	c := defaultController.Load()
	if c == nil {
		return ErrNotInitialised
	}
	return c.UnregisterHandlers(ids)
}
