package gicsim

import (
	"sync"
	"testing"

	"github.com/tinysoc/hps/internal/gic"
)

const (
	testDistBase = 0x1000
	testCPUBase  = 0x2000
)

// testIRQLine records interrupt output transitions.
type testIRQLine struct {
	mu     sync.Mutex
	level  bool
	events []bool
}

func (l *testIRQLine) SetLevel(level bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.events = append(l.events, level)
}

func (l *testIRQLine) PulseInterrupt() {
	l.SetLevel(true)
	l.SetLevel(false)
}

func (l *testIRQLine) current() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func newEnabledGIC(t *testing.T) (*GIC, *testIRQLine) {
	t.Helper()
	line := &testIRQLine{}
	g := New(testDistBase, testCPUBase, line)

	// The bring-up sequence drivers use: admit all priorities, enable
	// forwarding at both halves.
	writeReg(t, g, testCPUBase+gic.GICC_PMR, 0xFF)
	writeReg(t, g, testCPUBase+gic.GICC_BPR, 0)
	writeReg(t, g, testDistBase+gic.GICD_CTLR, 1)
	writeReg(t, g, testCPUBase+gic.GICC_CTLR, 1)
	return g, line
}

func writeReg(t *testing.T, g *GIC, addr uint64, value uint32) {
	t.Helper()
	if err := g.WriteMMIO(addr, value); err != nil {
		t.Fatalf("write 0x%x: %v", addr, err)
	}
}

func readReg(t *testing.T, g *GIC, addr uint64) uint32 {
	t.Helper()
	v, err := g.ReadMMIO(addr)
	if err != nil {
		t.Fatalf("read 0x%x: %v", addr, err)
	}
	return v
}

func enableSource(t *testing.T, g *GIC, id uint32) {
	t.Helper()
	writeReg(t, g, testDistBase+gic.GICD_ISENABLER+uint64(id/32)*4, 1<<(id%32))
}

func acknowledge(t *testing.T, g *GIC) uint32 {
	t.Helper()
	return readReg(t, g, testCPUBase+gic.GICC_IAR) & 0x3FF
}

func complete(t *testing.T, g *GIC, id uint32) {
	t.Helper()
	writeReg(t, g, testCPUBase+gic.GICC_EOIR, id)
}

func TestDisabledControllerSignalsNothing(t *testing.T) {
	line := &testIRQLine{}
	g := New(testDistBase, testCPUBase, line)

	g.SetIRQ(29, true)
	if line.current() {
		t.Fatalf("line asserted with controller disabled")
	}
	if got := acknowledge(t, g); got != gic.SpuriousID {
		t.Fatalf("acknowledge = %d, want spurious", got)
	}
}

func TestAcknowledgeCompleteCycle(t *testing.T) {
	g, line := newEnabledGIC(t)
	enableSource(t, g, 29)

	g.SetIRQ(29, true)
	if !line.current() {
		t.Fatalf("line not asserted for enabled pending source")
	}

	id := acknowledge(t, g)
	if id != 29 {
		t.Fatalf("acknowledge = %d, want 29", id)
	}
	if !g.SourceActive(29) {
		t.Fatalf("source not active after acknowledge")
	}
	// Acknowledge removed the source from the pending set but the level
	// is still asserted, so without EOI it would re-pend; active state
	// holds it off.
	if line.current() {
		t.Fatalf("line still asserted while source active")
	}

	// Peripheral drops its level before the handler completes.
	g.SetIRQ(29, false)
	complete(t, g, 29)
	if g.SourceActive(29) {
		t.Fatalf("source still active after EOI")
	}
	if line.current() {
		t.Fatalf("line asserted after EOI with level low")
	}
}

func TestLevelStillHighRefiresAfterEOI(t *testing.T) {
	g, line := newEnabledGIC(t)
	enableSource(t, g, 29)

	g.SetIRQ(29, true)
	id := acknowledge(t, g)
	complete(t, g, id)

	// Level never dropped: the source must request again.
	if !line.current() {
		t.Fatalf("line not re-asserted for still-high level after EOI")
	}
}

func TestEdgeLatchSurvivesLevelDrop(t *testing.T) {
	g, line := newEnabledGIC(t)
	enableSource(t, g, 73)

	// A short pulse: the edge latch keeps the request pending.
	g.SetIRQ(73, true)
	g.SetIRQ(73, false)
	if !line.current() {
		t.Fatalf("latched edge did not keep the line asserted")
	}

	if id := acknowledge(t, g); id != 73 {
		t.Fatalf("acknowledge = %d, want 73", id)
	}
	complete(t, g, 73)
	if line.current() {
		t.Fatalf("line asserted after latched edge was consumed")
	}
}

func TestDisabledSourceDoesNotRequest(t *testing.T) {
	g, line := newEnabledGIC(t)

	g.SetIRQ(29, true)
	if line.current() {
		t.Fatalf("disabled source asserted the line")
	}

	// Enabling afterwards exposes the still-latched request.
	enableSource(t, g, 29)
	if !line.current() {
		t.Fatalf("enabling a pending source did not assert the line")
	}
}

func TestClearEnableStopsRequests(t *testing.T) {
	g, line := newEnabledGIC(t)
	enableSource(t, g, 29)
	g.SetIRQ(29, true)

	writeReg(t, g, testDistBase+gic.GICD_ICENABLER, 1<<29)
	if g.SourceEnabled(29) {
		t.Fatalf("source still enabled after clear-enable write")
	}
	if line.current() {
		t.Fatalf("line asserted for disabled source")
	}
}

func TestPrioritySelection(t *testing.T) {
	g, line := newEnabledGIC(t)
	enableSource(t, g, 10)
	enableSource(t, g, 40)

	// Source 40 gets the more urgent (numerically lower) priority.
	writeReg(t, g, testDistBase+gic.GICD_IPRIORITY+40, 0x10)
	writeReg(t, g, testDistBase+gic.GICD_IPRIORITY+8, 0x20<<16) // byte for id 10

	g.SetIRQ(10, true)
	g.SetIRQ(40, true)

	if id := acknowledge(t, g); id != 40 {
		t.Fatalf("first acknowledge = %d, want 40", id)
	}
	if id := acknowledge(t, g); id != 10 {
		t.Fatalf("second acknowledge = %d, want 10", id)
	}
	g.SetIRQ(10, false)
	g.SetIRQ(40, false)
	complete(t, g, 40)
	complete(t, g, 10)
	if line.current() {
		t.Fatalf("line asserted after both sources completed")
	}
}

func TestEqualPriorityTieGoesToLowerID(t *testing.T) {
	g, _ := newEnabledGIC(t)
	enableSource(t, g, 5)
	enableSource(t, g, 60)
	g.SetIRQ(60, true)
	g.SetIRQ(5, true)

	if id := acknowledge(t, g); id != 5 {
		t.Fatalf("acknowledge = %d, want lower id 5", id)
	}
}

func TestPriorityMaskFiltersSources(t *testing.T) {
	g, line := newEnabledGIC(t)
	enableSource(t, g, 29)
	writeReg(t, g, testDistBase+gic.GICD_IPRIORITY+28, 0x80<<8) // byte for id 29

	// Mask admits only priorities below 0x80.
	writeReg(t, g, testCPUBase+gic.GICC_PMR, 0x80)
	g.SetIRQ(29, true)
	if line.current() {
		t.Fatalf("masked-out priority asserted the line")
	}

	// Raising the mask admits the source.
	writeReg(t, g, testCPUBase+gic.GICC_PMR, 0xFF)
	if !line.current() {
		t.Fatalf("source not admitted after mask raised")
	}
}

func TestSpuriousAcknowledgeWhenIdle(t *testing.T) {
	g, _ := newEnabledGIC(t)
	if id := acknowledge(t, g); id != gic.SpuriousID {
		t.Fatalf("idle acknowledge = %d, want spurious", id)
	}
}

func TestSoftwarePendingRegisters(t *testing.T) {
	g, line := newEnabledGIC(t)
	enableSource(t, g, 34)

	// Set-pending latches a request without any peripheral involvement.
	writeReg(t, g, testDistBase+gic.GICD_ISPENDR+4, 1<<2)
	if !line.current() {
		t.Fatalf("software-pended source did not request")
	}
	if got := readReg(t, g, testDistBase+gic.GICD_ISPENDR+4); got&(1<<2) == 0 {
		t.Fatalf("pending read = 0x%x, want bit 2", got)
	}

	// Clear-pending withdraws it.
	writeReg(t, g, testDistBase+gic.GICD_ICPENDR+4, 1<<2)
	if line.current() {
		t.Fatalf("line asserted after clear-pending")
	}
}

func TestResetClearsAllState(t *testing.T) {
	g, line := newEnabledGIC(t)
	enableSource(t, g, 29)
	g.SetIRQ(29, true)
	if _, err := g.ReadMMIO(testCPUBase + gic.GICC_IAR); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	if err := g.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if line.current() {
		t.Fatalf("line asserted after reset")
	}
	if g.SourceEnabled(29) || g.SourceActive(29) {
		t.Fatalf("per-source state survived reset")
	}
	if got := readReg(t, g, testDistBase+gic.GICD_CTLR); got != 0 {
		t.Fatalf("distributor still enabled after reset")
	}
}

func TestAccessOutsideRegionsFails(t *testing.T) {
	g, _ := newEnabledGIC(t)
	if _, err := g.ReadMMIO(0x9000); err == nil {
		t.Fatalf("expected error for stray read")
	}
	if err := g.WriteMMIO(0x9000, 1); err == nil {
		t.Fatalf("expected error for stray write")
	}
}
