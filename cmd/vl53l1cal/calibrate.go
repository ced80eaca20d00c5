package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/swdee/go-vl53l1"
	"github.com/swdee/go-vl53l1/internal/publish"
	"github.com/swdee/go-vl53l1/internal/store"
)

// procedureFunc runs one calibration procedure on an open sensor
type procedureFunc func(dev *vl53l1.VL53L1) (interface{}, vl53l1.CalibrationStatus, error)

// runProcedure opens the sensor, applies the stored calibration of the device,
// runs fn and records the run. Calibration data is stored again unless the
// procedure failed.
func runProcedure(cmd *cobra.Command, name string, fn procedureFunc) error {

	ctx := cmd.Context()

	st, err := openStore()

	if err != nil {
		return err
	}

	defer st.Close()

	dev, closeBus, err := openSensor()

	if err != nil {
		return err
	}

	defer closeBus()

	stored, _, err := st.LatestCalibration(ctx, deviceLabel)

	switch {
	case errors.Is(err, store.ErrNotFound):
		logrus.WithField("device", deviceLabel).Info("no stored calibration, starting from device defaults")
	case err != nil:
		return err
	default:
		if err := dev.SetCalibrationData(stored); err != nil {
			return fmt.Errorf("failed to apply stored calibration: %w", err)
		}
	}

	run := store.NewRun(deviceLabel, name, time.Now())

	result, status, runErr := fn(dev)

	if err := run.Finish(result, status, runErr, time.Now()); err != nil {
		return err
	}

	if err := st.RecordRun(ctx, run); err != nil {
		return err
	}

	var pub *publish.Publisher

	if mqttBroker != "" {

		pub, err = publish.Connect(mqttBroker, "vl53l1cal-"+deviceLabel, mqttPrefix,
			logrus.StandardLogger())

		if err != nil {
			logrus.WithError(err).Warn("results will not be published")
		} else {
			defer pub.Close()

			if err := pub.PublishRun(run); err != nil {
				logrus.WithError(err).Warn("failed to publish run")
			}
		}
	}

	fmt.Printf("%s %s\n", bold("%s:", name), formatStatus(status))

	if runErr != nil {
		return runErr
	}

	printJSON(result)

	if status.IsError() {
		return fmt.Errorf("%s calibration failed: %s", name, status)
	}

	data := dev.GetCalibrationData()

	if err := st.SaveCalibration(ctx, deviceLabel, run.ID, data); err != nil {
		return err
	}

	if pub != nil {
		if err := pub.PublishCalibration(deviceLabel, data); err != nil {
			logrus.WithError(err).Warn("failed to publish calibration")
		}
	}

	return nil
}

func NewRefSpadCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "refspad",
		Short:   "Run reference SPAD characterisation",
		Long:    "Select the reference SPADs for this sensor. Run with nothing in front of the sensor before any other calibration.",
		GroupID: gCalibration,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProcedure(cmd, "refspad", func(dev *vl53l1.VL53L1) (interface{}, vl53l1.CalibrationStatus, error) {

				r, status, err := dev.RunRefSpadCharacterisation()

				if err != nil {
					return nil, status, err
				}

				return r, status, nil
			})
		},
	}
}

func NewXtalkCommand() *cobra.Command {

	var (
		histogram  bool
		distanceMM uint16
	)

	cmd := &cobra.Command{
		Use:   "xtalk",
		Short: "Extract cover glass crosstalk",
		Long: `Measure the crosstalk of the cover glass. Rate based extraction needs a dark
field of view with no target. Histogram extraction ranges a target at --distance
and also captures the crosstalk histogram shape.`,
		GroupID: gCalibration,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {

			name := "xtalk"

			if histogram {
				name = "xtalk-histogram"
			}

			return runProcedure(cmd, name, func(dev *vl53l1.VL53L1) (interface{}, vl53l1.CalibrationStatus, error) {

				var (
					r      *vl53l1.XtalkCalibrationResult
					status vl53l1.CalibrationStatus
					err    error
				)

				if histogram {
					r, status, err = dev.RunHistogramXtalkExtraction(vl53l1.XtalkTarget{DistanceMM: distanceMM})
				} else {
					r, status, err = dev.RunXtalkExtraction()
				}

				if err != nil {
					return nil, status, err
				}

				return r, status, nil
			})
		},
	}

	cmd.Flags().BoolVar(&histogram, "histogram", false, "use histogram extraction with a target")
	cmd.Flags().Uint16Var(&distanceMM, "distance", 600, "target distance in mm for histogram extraction")

	return cmd
}

func NewOffsetCommand() *cobra.Command {

	var (
		distanceMM  uint16
		reflectance uint8
		mode        string
	)

	cmd := &cobra.Command{
		Use:     "offset",
		Short:   "Calibrate range offsets against a target at a known distance",
		GroupID: gCalibration,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {

			var m vl53l1.OffsetCalibrationMode

			switch strings.ToLower(mode) {
			case "standard":
				m = vl53l1.OffsetModeStandard
			case "pre-range":
				m = vl53l1.OffsetModePreRangeOnly
			default:
				return fmt.Errorf("unknown offset mode %q (standard, pre-range)", mode)
			}

			target := vl53l1.OffsetTarget{CalDistanceMM: distanceMM, ReflectancePct: reflectance}

			return runProcedure(cmd, "offset", func(dev *vl53l1.VL53L1) (interface{}, vl53l1.CalibrationStatus, error) {

				if err := dev.SetOffsetCalibrationMode(m); err != nil {
					return nil, vl53l1.StatusFromError(err), err
				}

				r, status, err := dev.RunOffsetCalibration(target)

				if err != nil {
					return nil, status, err
				}

				return r, status, nil
			})
		},
	}

	cmd.Flags().Uint16Var(&distanceMM, "distance", 140, "target distance in mm")
	cmd.Flags().Uint8Var(&reflectance, "reflectance", 17, "target reflectance in percent")
	cmd.Flags().StringVar(&mode, "mode", "standard", "offset mode (standard, pre-range)")

	return cmd
}

// zonePresets maps the --preset flag values
var zonePresets = map[string]vl53l1.ZonePreset{
	"1x1":    vl53l1.Zones1x1,
	"2x2":    vl53l1.Zones2x2,
	"3x3":    vl53l1.Zones3x3,
	"4x4":    vl53l1.Zones4x4,
	"planar": vl53l1.ZonesXtalkPlanar,
}

func NewZoneCommand() *cobra.Command {

	var (
		distanceMM uint16
		preset     string
	)

	cmd := &cobra.Command{
		Use:     "zone",
		Short:   "Calibrate per zone range offsets",
		GroupID: gCalibration,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {

			p, ok := zonePresets[preset]

			if !ok {
				return fmt.Errorf("unknown zone preset %q", preset)
			}

			target := vl53l1.ZoneTarget{CalDistanceMM: distanceMM, Preset: p}

			return runProcedure(cmd, "zone", func(dev *vl53l1.VL53L1) (interface{}, vl53l1.CalibrationStatus, error) {

				r, status, err := dev.RunZoneCalibration(target)

				if err != nil {
					return nil, status, err
				}

				return r, status, nil
			})
		},
	}

	cmd.Flags().Uint16Var(&distanceMM, "distance", 600, "target distance in mm")
	cmd.Flags().StringVar(&preset, "preset", "4x4", "zone layout (1x1, 2x2, 3x3, 4x4, planar)")

	return cmd
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func formatStatus(s vl53l1.CalibrationStatus) string {

	switch {
	case s.OK():
		return color.New(color.Bold, color.FgGreen).Sprint(s)
	case s.IsWarning():
		return color.New(color.Bold, color.FgYellow).Sprint(s)
	default:
		return color.New(color.Bold, color.FgRed).Sprint(s)
	}
}

func printJSON(v interface{}) {

	out, err := json.MarshalIndent(v, "", "  ")

	if err != nil {
		logrus.WithError(err).Error("failed to encode result")
		return
	}

	fmt.Println(string(out))
}
