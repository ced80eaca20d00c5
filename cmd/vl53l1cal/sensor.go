package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/swdee/go-i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/swdee/go-vl53l1"
	"github.com/swdee/go-vl53l1/internal/config"
)

const (
	driverPeriph = "periph"
	driverGoI2C  = "go-i2c"
)

// openTransport opens the I2C bus with the selected driver. The returned
// function closes it.
func openTransport() (vl53l1.Transport, func(), error) {

	if address > 0x7F {
		return nil, nil, fmt.Errorf("invalid I2C address 0x%X", address)
	}

	switch driver {
	case driverPeriph:

		if _, err := host.Init(); err != nil {
			return nil, nil, fmt.Errorf("failed to initialise periph host: %w", err)
		}

		bus, err := i2creg.Open(busName)

		if err != nil {
			return nil, nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
		}

		return vl53l1.NewPeriphTransport(bus, uint16(address)), func() { bus.Close() }, nil

	case driverGoI2C:

		conn, err := i2c.New(uint8(address), busName)

		if err != nil {
			return nil, nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
		}

		t, err := vl53l1.NewI2CTransport(conn)

		if err != nil {
			conn.Close()
			return nil, nil, err
		}

		return t, t.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown driver %q", driver)
	}
}

// loadTuning returns the tuning file settings, or the defaults when no file
// is given
func loadTuning() (vl53l1.Tuning, error) {

	if tuningPath == "" {
		return vl53l1.DefaultTuning(), nil
	}

	cfg, err := config.LoadTuningConfig(tuningPath)

	if err != nil {
		return vl53l1.Tuning{}, err
	}

	return cfg.ToTuning(), nil
}

// openSensor opens and initialises the sensor. The returned function closes
// the bus.
func openSensor() (*vl53l1.VL53L1, func(), error) {

	tuning, err := loadTuning()

	if err != nil {
		return nil, nil, err
	}

	bus, closeBus, err := openTransport()

	if err != nil {
		return nil, nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"bus":     busName,
		"address": fmt.Sprintf("0x%02X", address),
		"device":  deviceLabel,
	})

	dev, err := vl53l1.NewWithLog(bus, log, vl53l1.WithTuning(tuning))

	if err != nil {
		closeBus()
		return nil, nil, err
	}

	return dev, closeBus, nil
}
