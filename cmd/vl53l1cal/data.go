package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/swdee/go-vl53l1"
	"github.com/swdee/go-vl53l1/internal/chart"
	"github.com/swdee/go-vl53l1/internal/store"
)

func NewShowCommand() *cobra.Command {

	var fromDevice bool

	cmd := &cobra.Command{
		Use:     "show",
		Short:   "Show the calibration data of a device",
		GroupID: gData,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {

			if fromDevice {

				dev, closeBus, err := openSensor()

				if err != nil {
					return err
				}

				defer closeBus()

				printJSON(dev.GetCalibrationData())

				return nil
			}

			st, err := openStore()

			if err != nil {
				return err
			}

			defer st.Close()

			data, runID, err := st.LatestCalibration(cmd.Context(), deviceLabel)

			if err != nil {
				return err
			}

			fmt.Printf("%s %s\n", bold("run:"), runID)
			printJSON(data)

			return nil
		},
	}

	cmd.Flags().BoolVar(&fromDevice, "from-device", false, "read the data held by the sensor instead of the database")

	return cmd
}

func NewExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "export FILE",
		Short:   "Write the stored calibration data of a device to a JSON file",
		GroupID: gData,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {

			st, err := openStore()

			if err != nil {
				return err
			}

			defer st.Close()

			data, _, err := st.LatestCalibration(cmd.Context(), deviceLabel)

			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(data, "", "  ")

			if err != nil {
				return err
			}

			if err := os.WriteFile(args[0], append(out, '\n'), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", args[0], err)
			}

			fmt.Printf("Calibration of %s written to %s\n", deviceLabel, args[0])

			return nil
		},
	}
}

func NewImportCommand() *cobra.Command {

	var apply bool

	cmd := &cobra.Command{
		Use:     "import FILE",
		Short:   "Store calibration data from a JSON file",
		GroupID: gData,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {

			raw, err := os.ReadFile(args[0])

			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			var data vl53l1.CalibrationData

			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}

			if err := data.Validate(); err != nil {
				return err
			}

			if apply {

				dev, closeBus, err := openSensor()

				if err != nil {
					return err
				}

				defer closeBus()

				if err := dev.SetCalibrationData(data); err != nil {
					return err
				}
			}

			st, err := openStore()

			if err != nil {
				return err
			}

			defer st.Close()

			run := store.NewRun(deviceLabel, "import", time.Now())

			if err := run.Finish(nil, vl53l1.Success(), nil, time.Now()); err != nil {
				return err
			}

			if err := st.RecordRun(cmd.Context(), run); err != nil {
				return err
			}

			if err := st.SaveCalibration(cmd.Context(), deviceLabel, run.ID, data); err != nil {
				return err
			}

			fmt.Printf("Calibration of %s imported from %s\n", deviceLabel, args[0])

			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "also write the data to the sensor")

	return cmd
}

func NewHistoryCommand() *cobra.Command {

	var (
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "List recent calibration runs",
		GroupID: gData,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {

			st, err := openStore()

			if err != nil {
				return err
			}

			defer st.Close()

			device := deviceLabel

			if all {
				device = ""
			}

			runs, err := st.Runs(cmd.Context(), device, limit)

			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, bold("STARTED\tDEVICE\tPROCEDURE\tSTATUS\tRUN"))

			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.StartedAt.Local().Format(time.DateTime),
					r.Device, r.Procedure, formatStatus(r.Status), r.ID)
			}

			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().BoolVar(&all, "all", false, "list runs of all devices")

	return cmd
}

func NewChartCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "chart FILE",
		Short:   "Render the stored crosstalk shape and zone offsets to an HTML file",
		GroupID: gData,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {

			st, err := openStore()

			if err != nil {
				return err
			}

			defer st.Close()

			data, _, err := st.LatestCalibration(cmd.Context(), deviceLabel)

			if err != nil {
				return err
			}

			f, err := os.Create(args[0])

			if err != nil {
				return err
			}

			if err := chart.Render(f, data); err != nil {
				f.Close()
				return err
			}

			return f.Close()
		},
	}
}

func NewRangeCommand() *cobra.Command {

	var (
		count    int
		budget   uint32
		period   uint32
		noStored bool
	)

	cmd := &cobra.Command{
		Use:     "range",
		Short:   "Take range measurements with the stored calibration applied",
		GroupID: gSensor,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {

			dev, closeBus, err := openSensor()

			if err != nil {
				return err
			}

			defer closeBus()

			if !noStored {

				st, err := openStore()

				if err != nil {
					return err
				}

				data, _, err := st.LatestCalibration(cmd.Context(), deviceLabel)
				st.Close()

				if err != nil {
					return err
				}

				if err := dev.SetCalibrationData(data); err != nil {
					return err
				}
			}

			if err := dev.SetMeasurementTimingBudget(budget); err != nil {
				return err
			}

			if err := dev.StartContinuous(period); err != nil {
				return err
			}

			defer dev.StopContinuous()

			for i := 0; i < count; i++ {

				rData, err := dev.Read(true)

				if err != nil {
					return err
				}

				fmt.Printf("%4d mm  %-22s peak %.2f mcps  ambient %.2f mcps\n", rData.RangeMM,
					rData.RangeStatus, rData.PeakSignalCountRateMCPS, rData.AmbientCountRateMCPS)
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of measurements")
	cmd.Flags().Uint32Var(&budget, "budget", 50, "timing budget in ms")
	cmd.Flags().Uint32Var(&period, "period", 55, "inter measurement period in ms")
	cmd.Flags().BoolVar(&noStored, "no-stored", false, "range without applying the stored calibration")

	return cmd
}
