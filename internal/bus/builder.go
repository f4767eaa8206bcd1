package bus

import "fmt"

type mmioBinding struct {
	region  Region
	handler MmioHandler
}

// Builder registers devices and their register regions before creating a Bus.
type Builder struct {
	devices map[string]Device
	mmio    []mmioBinding
	polls   []PollHandler
}

// NewBuilder returns an empty Builder instance.
func NewBuilder() *Builder {
	return &Builder{
		devices: make(map[string]Device),
	}
}

// RegisterDevice adds a fabric device and wires up its intercepts.
func (b *Builder) RegisterDevice(dev Device) error {
	if b == nil {
		return fmt.Errorf("bus builder is nil")
	}
	if dev == nil {
		return fmt.Errorf("device is nil")
	}
	name := dev.DeviceID()
	if name == "" {
		return fmt.Errorf("device id is empty")
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("device %q already registered", name)
	}

	if intercept := dev.SupportsMmio(); intercept != nil {
		if intercept.Handler == nil {
			return fmt.Errorf("device %q provided regions with nil handler", name)
		}
		for _, region := range intercept.Regions {
			if err := b.WithRegion(region.Address, region.Size, intercept.Handler); err != nil {
				return fmt.Errorf("device %q: %w", name, err)
			}
		}
	}

	if poll := dev.SupportsPoll(); poll != nil {
		if poll.Handler == nil {
			return fmt.Errorf("device %q provided poll intercept with nil handler", name)
		}
		b.polls = append(b.polls, poll.Handler)
	}

	b.devices[name] = dev
	return nil
}

// WithRegion claims a register region for a handler.
func (b *Builder) WithRegion(base, size uint64, handler MmioHandler) error {
	if handler == nil {
		return fmt.Errorf("handler for region 0x%x size 0x%x is nil", base, size)
	}
	if size == 0 {
		return fmt.Errorf("region at 0x%x has zero size", base)
	}
	if base+size < base {
		return fmt.Errorf("region at 0x%x with size 0x%x overflows", base, size)
	}
	for _, existing := range b.mmio {
		if regionsOverlap(base, size, existing.region.Address, existing.region.Size) {
			return fmt.Errorf(
				"region 0x%x-0x%x overlaps existing region 0x%x-0x%x",
				base, base+size-1, existing.region.Address, existing.region.Address+existing.region.Size-1)
		}
	}

	b.mmio = append(b.mmio, mmioBinding{
		region:  Region{Address: base, Size: size},
		handler: handler,
	})
	return nil
}

// Build finalizes the fabric layout and returns the constructed Bus.
func (b *Builder) Build() (*Bus, error) {
	if b == nil {
		return nil, fmt.Errorf("bus builder is nil")
	}

	devices := make(map[string]Device, len(b.devices))
	for name, dev := range b.devices {
		devices[name] = dev
	}

	mmio := make([]mmioBinding, len(b.mmio))
	copy(mmio, b.mmio)

	polls := make([]PollHandler, len(b.polls))
	copy(polls, b.polls)

	return &Bus{
		devices: devices,
		mmio:    mmio,
		polls:   polls,
	}, nil
}

func regionsOverlap(baseA, sizeA, baseB, sizeB uint64) bool {
	endA := baseA + sizeA
	endB := baseB + sizeB
	return baseA < endB && baseB < endA
}
