package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// Reader takes one raw analog sample from the probe.
type Reader interface {
	Read() (int, error)
}

// ADSReader reads the probe through an ADS1115 ADC on the I2C bus.
type ADSReader struct {
	bus i2c.BusCloser
	pin analog.PinADC
}

// adsChannels maps the configured channel number to the driver constant.
var adsChannels = [...]ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// NewADSReader opens the I2C bus ("" auto-detects) and prepares the
// given ADS1115 input channel for single-shot reads.
func NewADSReader(busName string, channel int) (*ADSReader, error) {
	if channel < 0 || channel >= len(adsChannels) {
		return nil, fmt.Errorf("ADC channel must be 0-3, got %d", channel)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host initialization failed: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}

	adc, err := ads1x15.NewADS1115(bus, &ads1x15.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize ADS1115: %w", err)
	}

	// The probe output swings between 0 and 3.3V. One reading every few
	// seconds, so trade speed for less noise.
	pin, err := adc.PinForChannel(adsChannels[channel], 3300*physic.MilliVolt,
		1*physic.Hertz, ads1x15.SaveEnergy)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to configure ADC channel %d: %w", channel, err)
	}

	return &ADSReader{bus: bus, pin: pin}, nil
}

// Read takes a single raw sample. No averaging or filtering.
func (r *ADSReader) Read() (int, error) {
	sample, err := r.pin.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read probe: %w", err)
	}
	return int(sample.Raw), nil
}

// Close halts the ADC pin and releases the bus.
func (r *ADSReader) Close() error {
	r.pin.Halt()
	return r.bus.Close()
}
