//go:build linux

package bus

import (
	"fmt"

	"gobot.io/x/gobot/v2/platforms/raspi"
)

// RealBus opens I2C connections through the Raspberry Pi adaptor.
type RealBus struct {
	adaptor *raspi.Adaptor
	busNr   int
}

// NewRealBus connects the adaptor and binds it to the given bus number.
func NewRealBus(busNr int) (*RealBus, error) {
	a := raspi.NewAdaptor()
	if err := a.Connect(); err != nil {
		return nil, fmt.Errorf("connect raspi adaptor: %w", err)
	}
	return &RealBus{adaptor: a, busNr: busNr}, nil
}

// Open returns a connection to the device at addr.
func (b *RealBus) Open(addr int) (Conn, error) {
	c, err := b.adaptor.GetI2cConnection(addr, b.busNr)
	if err != nil {
		return nil, fmt.Errorf("open i2c-%d addr 0x%02x: %w", b.busNr, addr, err)
	}
	return c, nil
}

// Close releases the adaptor and every connection opened through it.
func (b *RealBus) Close() error {
	return b.adaptor.Finalize()
}
