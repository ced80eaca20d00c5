// Package config loads calibration tuning from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/swdee/go-vl53l1"
)

// maxFileSize is the largest tuning file accepted
const maxFileSize = 1 * 1024 * 1024

// TuningConfig is the JSON form of vl53l1.Tuning. Fields left out of the file
// keep the library defaults. Rates are given in mcps, SPAD counts in SPADs
// and sigmas in mm.
type TuningConfig struct {
	MeasurementTimeout *string `json:"measurement_timeout,omitempty"` // duration string like "500ms"

	// Reference SPAD params
	RefSpadTargetRateMCPS *float64 `json:"ref_spad_target_rate_mcps,omitempty"`
	RefSpadTimeoutUs      *int     `json:"ref_spad_timeout_us,omitempty"`

	// Crosstalk params
	XtalkSamples           *int     `json:"xtalk_samples,omitempty"`
	XtalkMaxSigmaMM        *float64 `json:"xtalk_max_sigma_mm,omitempty"`
	XtalkFilterEnabled     *bool    `json:"xtalk_filter_enabled,omitempty"`
	XtalkFilterMinRangeMM  *int     `json:"xtalk_filter_min_range_mm,omitempty"`
	XtalkFilterMaxRangeMM  *int     `json:"xtalk_filter_max_range_mm,omitempty"`
	XtalkFilterMaxRateKcps *float64 `json:"xtalk_filter_max_rate_kcps,omitempty"`
	XtalkRangeIgnoreMult   *float64 `json:"xtalk_range_ignore_mult,omitempty"`

	XtalkHistogramSamples   *int `json:"xtalk_histogram_samples,omitempty"`
	XtalkHistogramHalfWidth *int `json:"xtalk_histogram_half_width,omitempty"`

	// Offset params
	OffsetPreRangeSamples *int     `json:"offset_pre_range_samples,omitempty"`
	OffsetMM1Samples      *int     `json:"offset_mm1_samples,omitempty"`
	OffsetMM2Samples      *int     `json:"offset_mm2_samples,omitempty"`
	OffsetMinSpads        *float64 `json:"offset_min_spads,omitempty"`
	OffsetMaxRateMCPS     *float64 `json:"offset_max_rate_mcps,omitempty"`
	OffsetMaxSigmaMM      *float64 `json:"offset_max_sigma_mm,omitempty"`

	// Zone params
	ZoneSamples      *int     `json:"zone_samples,omitempty"`
	ZonePhaseSamples *int     `json:"zone_phase_samples,omitempty"`
	ZoneMinSpads     *float64 `json:"zone_min_spads,omitempty"`
	ZoneMaxRateMCPS  *float64 `json:"zone_max_rate_mcps,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must have
// a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {

	cleanPath := filepath.Clean(path)

	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)

	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)

	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TuningConfig{}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the values that are set.
func (c *TuningConfig) Validate() error {

	if c.MeasurementTimeout != nil && *c.MeasurementTimeout != "" {

		d, err := time.ParseDuration(*c.MeasurementTimeout)

		if err != nil {
			return fmt.Errorf("invalid measurement_timeout '%s': %w", *c.MeasurementTimeout, err)
		}

		if d <= 0 {
			return fmt.Errorf("measurement_timeout must be positive, got %s", d)
		}
	}

	rates := []struct {
		name string
		v    *float64
		max  float64
	}{
		{"ref_spad_target_rate_mcps", c.RefSpadTargetRateMCPS, 511},
		{"xtalk_max_sigma_mm", c.XtalkMaxSigmaMM, 2047},
		{"xtalk_filter_max_rate_kcps", c.XtalkFilterMaxRateKcps, 8388607},
		{"xtalk_range_ignore_mult", c.XtalkRangeIgnoreMult, 7.96875},
		{"offset_min_spads", c.OffsetMinSpads, 255},
		{"offset_max_rate_mcps", c.OffsetMaxRateMCPS, 511},
		{"offset_max_sigma_mm", c.OffsetMaxSigmaMM, 2047},
		{"zone_min_spads", c.ZoneMinSpads, 255},
		{"zone_max_rate_mcps", c.ZoneMaxRateMCPS, 511},
	}

	for _, r := range rates {
		if r.v != nil && (*r.v < 0 || *r.v > r.max) {
			return fmt.Errorf("%s must be between 0 and %g, got %g", r.name, r.max, *r.v)
		}
	}

	if c.RefSpadTimeoutUs != nil && *c.RefSpadTimeoutUs < 0 {
		return fmt.Errorf("ref_spad_timeout_us must be non-negative, got %d", *c.RefSpadTimeoutUs)
	}

	// sample counts and windows are checked by vl53l1.Tuning.Validate
	return c.ToTuning().Validate()
}

// GetMeasurementTimeout parses and returns the MeasurementTimeout.
func (c *TuningConfig) GetMeasurementTimeout() time.Duration {

	def := vl53l1.DefaultTuning().MeasurementTimeout

	if c.MeasurementTimeout == nil || *c.MeasurementTimeout == "" {
		return def
	}

	d, err := time.ParseDuration(*c.MeasurementTimeout)

	if err != nil || d <= 0 {
		return def
	}

	return d
}

// GetXtalkSamples returns the xtalk_samples value or the default.
func (c *TuningConfig) GetXtalkSamples() int {
	return intOr(c.XtalkSamples, vl53l1.DefaultTuning().XtalkSamples)
}

// GetOffsetSamples returns the pre-range, mm1 and mm2 sample counts or their
// defaults.
func (c *TuningConfig) GetOffsetSamples() (preRange, mm1, mm2 int) {

	def := vl53l1.DefaultTuning()

	return intOr(c.OffsetPreRangeSamples, def.OffsetPreRangeSamples),
		intOr(c.OffsetMM1Samples, def.OffsetMM1Samples),
		intOr(c.OffsetMM2Samples, def.OffsetMM2Samples)
}

// GetZoneSamples returns the zone_samples value or the default.
func (c *TuningConfig) GetZoneSamples() int {
	return intOr(c.ZoneSamples, vl53l1.DefaultTuning().ZoneSamples)
}

// GetXtalkFilter returns the crosstalk sample filter with unset fields taken
// from the default filter.
func (c *TuningConfig) GetXtalkFilter() vl53l1.SampleFilter {

	f := vl53l1.DefaultTuning().XtalkFilter

	if c.XtalkFilterEnabled != nil {
		f.Enabled = *c.XtalkFilterEnabled
	}

	if c.XtalkFilterMinRangeMM != nil {
		f.MinRangeMM = int16(*c.XtalkFilterMinRangeMM)
	}

	if c.XtalkFilterMaxRangeMM != nil {
		f.MaxRangeMM = int16(*c.XtalkFilterMaxRangeMM)
	}

	if c.XtalkFilterMaxRateKcps != nil {
		f.MaxRateKcps = uint32(toFixed(*c.XtalkFilterMaxRateKcps, 9, 0xFFFFFFFF))
	}

	return f
}

// ToTuning converts the config into library tuning, starting from
// vl53l1.DefaultTuning.
func (c *TuningConfig) ToTuning() vl53l1.Tuning {

	t := vl53l1.DefaultTuning()

	t.MeasurementTimeout = c.GetMeasurementTimeout()

	if c.RefSpadTargetRateMCPS != nil {
		t.RefSpadTargetRateMCPS = uint16(toFixed(*c.RefSpadTargetRateMCPS, 7, 0xFFFF))
	}

	if c.RefSpadTimeoutUs != nil {
		t.RefSpadTimeoutUs = uint32(*c.RefSpadTimeoutUs)
	}

	t.XtalkSamples = c.GetXtalkSamples()
	t.XtalkFilter = c.GetXtalkFilter()

	if c.XtalkMaxSigmaMM != nil {
		t.XtalkMaxSigmaMM = uint16(toFixed(*c.XtalkMaxSigmaMM, 5, 0xFFFF))
	}

	if c.XtalkRangeIgnoreMult != nil {
		t.XtalkRangeIgnoreMult = uint8(toFixed(*c.XtalkRangeIgnoreMult, 5, 0xFF))
	}

	t.XtalkHistogramSamples = intOr(c.XtalkHistogramSamples, t.XtalkHistogramSamples)
	t.XtalkHistogramHalfWidth = intOr(c.XtalkHistogramHalfWidth, t.XtalkHistogramHalfWidth)

	t.OffsetPreRangeSamples, t.OffsetMM1Samples, t.OffsetMM2Samples = c.GetOffsetSamples()

	if c.OffsetMinSpads != nil {
		t.OffsetMinSpads = uint16(toFixed(*c.OffsetMinSpads, 8, 0xFFFF))
	}

	if c.OffsetMaxRateMCPS != nil {
		t.OffsetMaxRateMCPS = uint16(toFixed(*c.OffsetMaxRateMCPS, 7, 0xFFFF))
	}

	if c.OffsetMaxSigmaMM != nil {
		t.OffsetMaxSigmaMM = uint16(toFixed(*c.OffsetMaxSigmaMM, 5, 0xFFFF))
	}

	t.ZoneSamples = c.GetZoneSamples()
	t.ZonePhaseSamples = intOr(c.ZonePhaseSamples, t.ZonePhaseSamples)

	if c.ZoneMinSpads != nil {
		t.ZoneMinSpads = uint16(toFixed(*c.ZoneMinSpads, 8, 0xFFFF))
	}

	if c.ZoneMaxRateMCPS != nil {
		t.ZoneMaxRateMCPS = uint16(toFixed(*c.ZoneMaxRateMCPS, 7, 0xFFFF))
	}

	return t
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// toFixed converts v into a fixed point value with frac fractional bits,
// rounded to nearest and clamped to 0..max
func toFixed(v float64, frac uint, max uint64) uint64 {

	if v <= 0 {
		return 0
	}

	f := v*float64(uint64(1)<<frac) + 0.5

	if f >= float64(max) {
		return max
	}

	return uint64(f)
}
