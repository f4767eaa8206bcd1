package board

// Physical base addresses of the peripherals the HAL drives, per the
// board's lightweight bridge and MPU address map.
const (
	LEDBase    = 0xFF200000 // 10x red LEDs
	SwitchBase = 0xFF200040 // 10x slide switches
	KeyBase    = 0xFF200050 // 4x push buttons

	WatchdogBase  = 0xFFD02000 // CPU 0 watchdog timer
	GICCPUBase    = 0xFFFEC100 // GIC CPU interface
	PrivTimerBase = 0xFFFEC600 // A9 private timer
	GICDistBase   = 0xFFFED000 // GIC distributor
)

// Interrupt source ids.
const (
	IRQPrivTimer = 29 // A9 private timer
	IRQKeys      = 73 // push button PIO edge capture
)

// Default pin widths.
const (
	LEDWidth    = 10
	SwitchWidth = 10
	KeyWidth    = 4
)
