package irq

import "errors"

// Sentinel errors returned by the registration API. Callers test them with
// errors.Is.
var (
	// ErrNotInitialised is returned when an operation requires Initialise
	// to have completed first.
	ErrNotInitialised = errors.New("irq: not initialised")

	// ErrAlreadyInitialised is returned by a second Initialise call.
	ErrAlreadyInitialised = errors.New("irq: already initialised")

	// ErrNotFound is returned when unregistering a source with no entry.
	ErrNotFound = errors.New("irq: no handler registered")

	// ErrBadID is returned for a source id outside the supported range.
	ErrBadID = errors.New("irq: source id out of range")

	// ErrSkipped reports that a disable request was already satisfied. It
	// is a status, not a failure; GlobalEnable(false) returns it when
	// interrupts were already disabled.
	ErrSkipped = errors.New("irq: already disabled")
)
