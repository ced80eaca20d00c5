package vl53l1

import (
	"fmt"

	"github.com/swdee/go-i2c"
)

// I2CTransport carries register transfers over a Linux i2c-dev connection.
type I2CTransport struct {
	// bus is the I2C interface
	bus *i2c.Options
}

// NewI2CTransport wraps an opened go-i2c connection
func NewI2CTransport(bus *i2c.Options) (*I2CTransport, error) {

	if bus == nil || bus.GetAddr() == 0 {
		return nil, fmt.Errorf("I2C device is not initiated")
	}

	return &I2CTransport{bus: bus}, nil
}

// ReadRegisters writes the 16-bit register address then reads len(buf) bytes.
func (t *I2CTransport) ReadRegisters(index uint16, buf []byte) error {

	addr := []byte{byte(index >> 8), byte(index)}

	if _, err := t.bus.WriteBytes(addr); err != nil {
		return err
	}

	n, err := t.bus.ReadBytes(buf)

	if err != nil {
		return err
	}

	if n < len(buf) {
		return fmt.Errorf("insufficient data, read %d of %d bytes", n, len(buf))
	}

	return nil
}

// WriteRegisters writes the 16-bit register address followed by data in one
// transfer.
func (t *I2CTransport) WriteRegisters(index uint16, data []byte) error {

	buf := make([]byte, 0, len(data)+2)
	buf = append(buf, byte(index>>8), byte(index))
	buf = append(buf, data...)

	_, err := t.bus.WriteBytes(buf)
	return err
}

// Readdress reopens the I2C connection at a new device address.
func (t *I2CTransport) Readdress(newAddr uint8) error {

	// open new connection
	conn, err := i2c.New(newAddr, t.bus.GetDev())

	if err != nil {
		return err
	}

	// close existing connection
	t.bus.Close()

	// replace with new connection
	t.bus = conn
	return nil
}

// Close closes the I2C connection
func (t *I2CTransport) Close() {
	t.bus.Close()
}
