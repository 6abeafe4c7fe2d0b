// Package button handles the two GPIO pins of the physical reset
// circuit: an active-low input that requests a full credential clear,
// and an output held low as the reset-confirmation signal.
package button

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Input reports whether the physical reset condition is active.
type Input interface {
	ResetRequested() bool
}

// Pins wires the reset button to real GPIO hardware.
type Pins struct {
	reset   gpio.PinIO
	confirm gpio.PinIO
}

// Setup claims the two pins. The reset pin is configured with an
// internal pull-up so the button shorts it to ground when pressed.
func Setup(resetName, confirmName string) (*Pins, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host initialization failed: %w", err)
	}

	reset := gpioreg.ByName(resetName)
	if reset == nil {
		return nil, fmt.Errorf("reset pin %q not found", resetName)
	}
	if err := reset.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure reset pin %s: %w", resetName, err)
	}

	confirm := gpioreg.ByName(confirmName)
	if confirm == nil {
		return nil, fmt.Errorf("confirmation pin %q not found", confirmName)
	}
	if err := confirm.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure confirmation pin %s: %w", confirmName, err)
	}

	return &Pins{reset: reset, confirm: confirm}, nil
}

// ResetRequested reports whether the reset button is held down.
func (p *Pins) ResetRequested() bool {
	return p.reset.Read() == gpio.Low
}
