package bus

import "context"

// Region describes a claim on a span of physical addresses.
type Region struct {
	Address uint64
	Size    uint64
}

// Contains reports whether addr falls inside the region.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Address && addr < r.Address+r.Size
}

// MmioHandler handles word accesses to memory-mapped registers. The fabric
// is 32-bit; addr is the full physical address, always word aligned.
type MmioHandler interface {
	ReadMMIO(addr uint64) (uint32, error)
	WriteMMIO(addr uint64, value uint32) error
}

// MmioIntercept describes the regions a device wants to serve and the
// handler for them.
type MmioIntercept struct {
	Regions []Region
	Handler MmioHandler
}

// PollHandler performs periodic maintenance for a device that advances with
// simulated time.
type PollHandler interface {
	Poll(ctx context.Context) error
}

// PollIntercept registers a poll-capable device with the bus.
type PollIntercept struct {
	Handler PollHandler
}

// ChangeDeviceState exposes lifecycle hooks for fabric devices.
type ChangeDeviceState interface {
	Start() error
	Stop() error
	Reset() error
}

// Device is the unified interface all fabric devices must implement.
type Device interface {
	ChangeDeviceState

	DeviceID() string
	SupportsMmio() *MmioIntercept
	SupportsPoll() *PollIntercept
}

// InterruptSink receives interrupt assertions for a given source line.
type InterruptSink interface {
	SetIRQ(line uint32, level bool)
}

// LineInterrupt models a single interrupt line with level and edge semantics.
type LineInterrupt interface {
	SetLevel(high bool)
	PulseInterrupt()
}

type noopLineInterrupt struct{}

func (noopLineInterrupt) SetLevel(bool)   {}
func (noopLineInterrupt) PulseInterrupt() {}

// LineInterruptDetached returns a LineInterrupt that drops all signals.
func LineInterruptDetached() LineInterrupt {
	return noopLineInterrupt{}
}

// LineInterruptFromFunc adapts a level function to LineInterrupt.
func LineInterruptFromFunc(fn func(bool)) LineInterrupt {
	return lineInterruptFunc(fn)
}

type lineInterruptFunc func(bool)

func (f lineInterruptFunc) SetLevel(level bool) {
	if f != nil {
		f(level)
	}
}

func (f lineInterruptFunc) PulseInterrupt() {
	if f != nil {
		f(true)
		f(false)
	}
}

// Line binds one source id on a sink to a LineInterrupt handle.
func Line(sink InterruptSink, source uint32) LineInterrupt {
	if sink == nil {
		return LineInterruptDetached()
	}
	return LineInterruptFromFunc(func(level bool) {
		sink.SetIRQ(source, level)
	})
}
