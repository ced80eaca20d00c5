package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/swdee/go-vl53l1"
	"github.com/swdee/go-vl53l1/internal/store"
)

var (
	logLevel    = "info"
	busName     = "/dev/i2c-1"
	address     = uint(vl53l1.Address)
	driver      = driverPeriph
	tuningPath  = ""
	dbPath      = "vl53l1cal.db"
	deviceLabel = "default"
	mqttBroker  = ""
	mqttPrefix  = ""
)

var (
	gCalibration = "Calibration:"
	gData        = "Calibration data:"
	gSensor      = "Sensor:"
)

func setupLogger() error {

	level, err := logrus.ParseLevel(logLevel)

	if err != nil {
		return errors.Wrap(err, "failed to parse log level")
	}

	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})

	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func main() {

	cmd := NewCommand()

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// NewCommand returns the root command.
func NewCommand() *cobra.Command {

	cmd := &cobra.Command{
		Use:   "vl53l1cal",
		Short: "vl53l1cal calibrates VL53L1 time of flight sensors",
		Long: `vl53l1cal runs the VL53L1 calibration procedures on a sensor, keeps a
history of every run and stores the resulting calibration data so it can be
re-applied after power up.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", logLevel, "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVarP(&busName, "bus", "b", busName, "I2C bus name or device path")
	globalFlags.UintVarP(&address, "address", "a", address, "I2C address of the sensor")
	globalFlags.StringVar(&driver, "driver", driver, "I2C driver (periph, go-i2c)")
	globalFlags.StringVar(&tuningPath, "tuning", tuningPath, "tuning config file (.json)")
	globalFlags.StringVar(&dbPath, "db", dbPath, "calibration history database path")
	globalFlags.StringVarP(&deviceLabel, "device", "d", deviceLabel, "label the calibration of this sensor is stored under")
	globalFlags.StringVar(&mqttBroker, "mqtt-broker", mqttBroker, "MQTT broker to publish results to, e.g. tcp://localhost:1883")
	globalFlags.StringVar(&mqttPrefix, "mqtt-prefix", mqttPrefix, "MQTT topic prefix")

	for _, g := range []string{gCalibration, gData, gSensor} {
		cmd.AddGroup(&cobra.Group{ID: g, Title: g})
	}

	cmd.AddCommand(
		NewRefSpadCommand(),
		NewXtalkCommand(),
		NewOffsetCommand(),
		NewZoneCommand(),
		NewShowCommand(),
		NewExportCommand(),
		NewImportCommand(),
		NewHistoryCommand(),
		NewChartCommand(),
		NewRangeCommand(),
	)

	return cmd
}

// openStore opens the history database
func openStore() (*store.Store, error) {

	st, err := store.Open(dbPath, logrus.StandardLogger())

	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	return st, nil
}
