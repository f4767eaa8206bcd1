package svc

import (
	"testing"

	"github.com/tinysoc/hps/internal/cpu"
)

func dispatchCall(d *Dispatcher, callID, argc uint32, args []uint32) *cpu.Frame {
	frame := &cpu.Frame{R0: argc, Args: args}
	d.Dispatch(&cpu.TrapContext{
		Class:        cpu.ExcSoftwareInterrupt,
		SVCImmediate: callID,
		Frame:        frame,
	})
	return frame
}

func TestDispatchDecodesCall(t *testing.T) {
	d := NewDispatcher()

	var gotID, gotArgc uint32
	var gotArgs []uint32
	d.SetHandler(func(callID, argc uint32, argv []uint32) int32 {
		gotID, gotArgc = callID, argc
		gotArgs = append([]uint32(nil), argv...)
		return 7
	})

	frame := dispatchCall(d, 5, 2, []uint32{10, 20})
	if gotID != 5 || gotArgc != 2 {
		t.Fatalf("handler saw id=%d argc=%d, want id=5 argc=2", gotID, gotArgc)
	}
	if len(gotArgs) != 2 || gotArgs[0] != 10 || gotArgs[1] != 20 {
		t.Fatalf("handler saw args %v, want [10 20]", gotArgs)
	}
	if frame.R0 != 7 {
		t.Fatalf("status in R0 = %d, want 7", frame.R0)
	}
}

func TestDispatchClampsArgumentCount(t *testing.T) {
	d := NewDispatcher()

	var gotArgc uint32
	var gotArgs []uint32
	d.SetHandler(func(callID, argc uint32, argv []uint32) int32 {
		gotArgc = argc
		gotArgs = argv
		return StatusSuccess
	})

	// Claimed count above the convention's limit.
	dispatchCall(d, 1, 9, []uint32{1, 2, 3, 4, 5})
	if gotArgc != MaxArgs {
		t.Fatalf("argc = %d, want %d", gotArgc, MaxArgs)
	}
	if len(gotArgs) != MaxArgs {
		t.Fatalf("args = %v, want 3 entries", gotArgs)
	}

	// Claimed count above what the array actually carries.
	dispatchCall(d, 1, 3, []uint32{42})
	if len(gotArgs) != 1 || gotArgs[0] != 42 {
		t.Fatalf("short array args = %v, want [42]", gotArgs)
	}
}

func TestDefaultHandlerReturnsSuccess(t *testing.T) {
	d := NewDispatcher()
	frame := dispatchCall(d, 3, 1, []uint32{11})
	if frame.R0 != uint32(StatusSuccess) {
		t.Fatalf("default status = %d, want %d", frame.R0, StatusSuccess)
	}
}

func TestSetHandlerNilRestoresDefault(t *testing.T) {
	d := NewDispatcher()
	d.SetHandler(func(callID, argc uint32, argv []uint32) int32 { return -1 })
	d.SetHandler(nil)

	frame := dispatchCall(d, 1, 0, nil)
	if frame.R0 != uint32(StatusSuccess) {
		t.Fatalf("status after reset = %d, want success", frame.R0)
	}
}

func TestDispatchIgnoresMissingFrame(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.SetHandler(func(callID, argc uint32, argv []uint32) int32 {
		called = true
		return StatusSuccess
	})

	d.Dispatch(&cpu.TrapContext{Class: cpu.ExcSoftwareInterrupt, SVCImmediate: 1})
	if called {
		t.Fatalf("handler ran without a trapped frame")
	}
}

func TestNegativeStatusRoundTrips(t *testing.T) {
	d := NewDispatcher()
	d.SetHandler(func(callID, argc uint32, argv []uint32) int32 { return -5 })

	frame := dispatchCall(d, 1, 0, nil)
	if int32(frame.R0) != -5 {
		t.Fatalf("status = %d, want -5", int32(frame.R0))
	}
}
