package cpu

import (
	"testing"
	"time"
)

// installIRQCounter installs a vector table whose IRQ entry counts entries
// and drops the request line, modelling a handler that completes the source.
func installIRQCounter(c *Core) *int {
	count := new(int)
	var entries [NumExceptions]TrapHandler
	entries[ExcIRQ] = func(tc *TrapContext) {
		*count++
		c.SetIRQLine(false)
	}
	c.SetVBAR(NewVectorTable(entries))
	return count
}

func TestCoreResetsMasked(t *testing.T) {
	c := NewCore()
	if !c.IRQMasked() {
		t.Fatalf("new core must start with interrupts masked")
	}
}

func TestMaskedRequestStaysPending(t *testing.T) {
	c := NewCore()
	count := installIRQCounter(c)

	c.SetIRQLine(true)
	if *count != 0 {
		t.Fatalf("masked core took %d exceptions", *count)
	}

	// Clearing the mask takes the pending exception immediately.
	c.SetIRQMasked(false)
	if *count != 1 {
		t.Fatalf("entries after unmask = %d, want 1", *count)
	}
}

func TestUnmaskedRequestDeliversImmediately(t *testing.T) {
	c := NewCore()
	count := installIRQCounter(c)
	c.SetIRQMasked(false)

	c.SetIRQLine(true)
	if *count != 1 {
		t.Fatalf("entries = %d, want 1", *count)
	}
}

func TestEntryMasksNestedDelivery(t *testing.T) {
	c := NewCore()
	depth, maxDepth := 0, 0
	entries := [NumExceptions]TrapHandler{}
	entries[ExcIRQ] = func(tc *TrapContext) {
		depth++
		if depth > maxDepth {
			maxDepth = depth
		}
		if !c.IRQMasked() {
			t.Errorf("mask clear inside exception entry")
		}
		// Re-asserting the line inside the handler must not nest.
		c.SetIRQLine(false)
		depth--
	}
	c.SetVBAR(NewVectorTable(entries))
	c.SetIRQMasked(false)

	c.SetIRQLine(true)
	if maxDepth != 1 {
		t.Fatalf("max entry depth = %d, want 1", maxDepth)
	}
}

func TestLevelTriggeredRedelivery(t *testing.T) {
	c := NewCore()
	fires := 0
	entries := [NumExceptions]TrapHandler{}
	entries[ExcIRQ] = func(tc *TrapContext) {
		fires++
		// Leave the line asserted for the first two entries, modelling
		// a second source still pending at the controller.
		if fires >= 3 {
			c.SetIRQLine(false)
		}
	}
	c.SetVBAR(NewVectorTable(entries))
	c.SetIRQMasked(false)

	c.SetIRQLine(true)
	if fires != 3 {
		t.Fatalf("fires = %d, want 3", fires)
	}
}

func TestSetIRQMaskedReturnsPreviousState(t *testing.T) {
	c := NewCore()

	if was := c.SetIRQMasked(true); !was {
		t.Fatalf("first SetIRQMasked(true) reported unmasked")
	}
	if was := c.SetIRQMasked(false); !was {
		t.Fatalf("SetIRQMasked(false) reported unmasked")
	}
	if was := c.SetIRQMasked(false); was {
		t.Fatalf("second SetIRQMasked(false) reported masked")
	}
}

func TestMaskWaitsOutInFlightEntry(t *testing.T) {
	c := NewCore()
	entered := make(chan struct{})
	release := make(chan struct{})
	var entries [NumExceptions]TrapHandler
	entries[ExcIRQ] = func(tc *TrapContext) {
		close(entered)
		<-release
		c.SetIRQLine(false)
	}
	c.SetVBAR(NewVectorTable(entries))
	c.SetIRQMasked(false)

	go c.SetIRQLine(true)
	<-entered

	// Request the mask from the foreground while the handler is parked.
	// It must not take effect until the exception entry returns.
	masked := make(chan struct{})
	go func() {
		c.SetIRQMasked(true)
		close(masked)
	}()

	select {
	case <-masked:
		t.Fatalf("mask request completed during an in-flight exception entry")
	case <-time.After(10 * time.Millisecond):
	}

	close(release)
	<-masked
	if !c.IRQMasked() {
		t.Fatalf("exception return cleared a mask requested during the entry")
	}
}

func TestSVCTrapsRegardlessOfMask(t *testing.T) {
	c := NewCore()
	var gotImm uint32
	entries := [NumExceptions]TrapHandler{}
	entries[ExcSoftwareInterrupt] = func(tc *TrapContext) {
		gotImm = tc.SVCImmediate
		if !c.IRQMasked() {
			t.Errorf("interrupt requests unmasked during software interrupt")
		}
		tc.Frame.R0 = 99
	}
	c.SetVBAR(NewVectorTable(entries))

	// Core still masked from reset.
	frame := &Frame{R0: 2}
	c.SVC(17, frame)
	if gotImm != 17 {
		t.Fatalf("immediate = %d, want 17", gotImm)
	}
	if frame.R0 != 99 {
		t.Fatalf("status = %d, want 99", frame.R0)
	}
	if !c.IRQMasked() {
		t.Fatalf("mask not restored after software interrupt")
	}
}

func TestSVCRestoresUnmaskedState(t *testing.T) {
	c := NewCore()
	entries := [NumExceptions]TrapHandler{}
	entries[ExcSoftwareInterrupt] = func(tc *TrapContext) {}
	c.SetVBAR(NewVectorTable(entries))
	c.SetIRQMasked(false)

	c.SVC(1, &Frame{})
	if c.IRQMasked() {
		t.Fatalf("mask not restored to clear after software interrupt")
	}
}

func TestRaiseEntersVector(t *testing.T) {
	c := NewCore()
	var got Exception = -1
	entries := [NumExceptions]TrapHandler{}
	entries[ExcDataAbort] = func(tc *TrapContext) { got = tc.Class }
	c.SetVBAR(NewVectorTable(entries))

	c.Raise(ExcDataAbort)
	if got != ExcDataAbort {
		t.Fatalf("raised class = %v, want data abort", got)
	}
}

func TestExceptionString(t *testing.T) {
	if got := ExcIRQ.String(); got != "irq" {
		t.Fatalf("ExcIRQ.String() = %q", got)
	}
	if got := Exception(99).String(); got != "unknown" {
		t.Fatalf("out of range String() = %q", got)
	}
}

func TestVectorTableEntryBounds(t *testing.T) {
	var entries [NumExceptions]TrapHandler
	entries[ExcReset] = func(tc *TrapContext) {}
	vt := NewVectorTable(entries)

	if vt.Entry(ExcReset) == nil {
		t.Fatalf("reset entry missing")
	}
	if vt.Entry(Exception(-1)) != nil || vt.Entry(Exception(NumExceptions)) != nil {
		t.Fatalf("out of range Entry must be nil")
	}
	var nilVT *VectorTable
	if nilVT.Entry(ExcReset) != nil {
		t.Fatalf("nil table Entry must be nil")
	}
}
