// Package chart renders calibration data as HTML charts.
package chart

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/errors"

	"github.com/swdee/go-vl53l1"
)

// XtalkShape returns a bar chart of the normalised crosstalk histogram.
func XtalkShape(shape vl53l1.XtalkHistogramShape) *charts.Bar {

	x := make([]string, 0, len(shape.Bins))
	y := make([]opts.BarData, 0, len(shape.Bins))

	for i, b := range shape.Bins {
		x = append(x, fmt.Sprintf("%d", i))
		y = append(y, opts.BarData{Value: b})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title: "Crosstalk histogram shape",
			Subtitle: fmt.Sprintf("vcsel=0x%02X zero distance phase=%d",
				shape.VcselPeriod, shape.ZeroDistancePhase),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "bin", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "weight (1/1000)", NameLocation: "middle", NameGap: 40}),
	)
	bar.SetXAxis(x).
		AddSeries("shape", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	return bar
}

// ZoneOffsets returns a bar chart of the per zone range offsets in mm.
func ZoneOffsets(zones vl53l1.ZoneCalibrationData) *charts.Bar {

	x := make([]string, 0, len(zones.Zones))
	y := make([]opts.BarData, 0, len(zones.Zones))

	for i, z := range zones.Zones {
		x = append(x, fmt.Sprintf("zone %d", i))
		// 14.2 mm
		y = append(y, opts.BarData{Value: float64(z.RangeOffsetMM) / 4})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Zone offsets",
			Subtitle: fmt.Sprintf("preset=%s zones=%d", zones.Preset, len(zones.Zones)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "offset (mm)", NameLocation: "middle", NameGap: 40}),
	)
	bar.SetXAxis(x).AddSeries("offset", y)

	return bar
}

// Render writes an HTML page with the crosstalk shape and, when zone
// calibration is present, the zone offsets.
func Render(w io.Writer, data vl53l1.CalibrationData) error {

	page := components.NewPage()
	page.PageTitle = "VL53L1 calibration"
	page.AddCharts(XtalkShape(data.XtalkShape))

	if len(data.Zones.Zones) > 0 {
		page.AddCharts(ZoneOffsets(data.Zones))
	}

	if err := page.Render(w); err != nil {
		return errors.Wrap(err, "render calibration charts")
	}

	return nil
}
