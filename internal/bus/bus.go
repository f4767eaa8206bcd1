// Package bus models the register fabric of the SoC: every memory-mapped
// device claims a region of physical addresses and serves 32-bit accesses
// against it. The HAL layers above reach hardware only through a Bus.
package bus

import (
	"context"
	"fmt"
	"sort"
)

// Bus holds the built dispatch tables for fabric devices.
type Bus struct {
	devices map[string]Device
	mmio    []mmioBinding
	polls   []PollHandler
}

// Read32 dispatches a register read to the owning device.
func (b *Bus) Read32(addr uint64) (uint32, error) {
	for _, binding := range b.mmio {
		if binding.region.Contains(addr) {
			return binding.handler.ReadMMIO(addr)
		}
	}
	return 0, fmt.Errorf("bus: no device for read at 0x%08x", addr)
}

// Write32 dispatches a register write to the owning device.
func (b *Bus) Write32(addr uint64, value uint32) error {
	for _, binding := range b.mmio {
		if binding.region.Contains(addr) {
			return binding.handler.WriteMMIO(addr, value)
		}
	}
	return fmt.Errorf("bus: no device for write at 0x%08x", addr)
}

// Start activates all registered devices.
func (b *Bus) Start() error {
	for _, name := range b.deviceNames() {
		if err := b.devices[name].Start(); err != nil {
			return fmt.Errorf("bus: start device %q: %w", name, err)
		}
	}
	return nil
}

// Stop deactivates all registered devices.
func (b *Bus) Stop() error {
	for _, name := range b.deviceNames() {
		if err := b.devices[name].Stop(); err != nil {
			return fmt.Errorf("bus: stop device %q: %w", name, err)
		}
	}
	return nil
}

// Reset resets all registered devices.
func (b *Bus) Reset() error {
	for _, name := range b.deviceNames() {
		if err := b.devices[name].Reset(); err != nil {
			return fmt.Errorf("bus: reset device %q: %w", name, err)
		}
	}
	return nil
}

// Poll executes Poll on all poll-capable devices.
func (b *Bus) Poll(ctx context.Context) error {
	for _, handler := range b.polls {
		if err := handler.Poll(ctx); err != nil {
			return fmt.Errorf("bus: poll: %w", err)
		}
	}
	return nil
}

// Device returns the registered device with the given id, or nil.
func (b *Bus) Device(name string) Device {
	return b.devices[name]
}

func (b *Bus) deviceNames() []string {
	names := make([]string, 0, len(b.devices))
	for name := range b.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
