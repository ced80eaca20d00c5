package vl53l1

import (
	"periph.io/x/conn/v3/i2c"
)

// PeriphTransport carries register transfers over a periph.io I2C bus.
type PeriphTransport struct {
	dev *i2c.Dev
}

// NewPeriphTransport addresses the device at addr on bus.
func NewPeriphTransport(bus i2c.Bus, addr uint16) *PeriphTransport {
	return &PeriphTransport{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

// ReadRegisters sends the register address and reads back in one transaction
// with a repeated start.
func (t *PeriphTransport) ReadRegisters(index uint16, buf []byte) error {
	return t.dev.Tx([]byte{byte(index >> 8), byte(index)}, buf)
}

// WriteRegisters writes the register address followed by data.
func (t *PeriphTransport) WriteRegisters(index uint16, data []byte) error {

	buf := make([]byte, 0, len(data)+2)
	buf = append(buf, byte(index>>8), byte(index))
	buf = append(buf, data...)

	return t.dev.Tx(buf, nil)
}

// Readdress points the transport at a new device address on the same bus.
func (t *PeriphTransport) Readdress(newAddr uint8) error {
	t.dev.Addr = uint16(newAddr)
	return nil
}
