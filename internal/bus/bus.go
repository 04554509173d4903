// Package bus provides I2C device connections with hardware abstraction.
// The real implementation uses the gobot Raspberry Pi adaptor.
// The fake implementation allows testing without hardware.
package bus

// Conn is a connection to one device address on an I2C bus.
// Write and Read are plain I2C transactions with no register addressing.
type Conn interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// Bus opens device connections.
type Bus interface {
	Open(addr int) (Conn, error)
	Close() error
}

// Default wiring.
const (
	DefaultBus        = 1
	SensorAddress     = 0x44 // SHT4x
	PeripheralAddress = 0x12 // lighting controller
)
