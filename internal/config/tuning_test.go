package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-vl53l1"
)

func writeConfig(t *testing.T, name, body string) string {

	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestLoadTuningConfig(t *testing.T) {

	path := writeConfig(t, "tuning.json", `{
		"measurement_timeout": "250ms",
		"xtalk_samples": 3,
		"xtalk_filter_max_range_mm": 80,
		"offset_max_rate_mcps": 20.5,
		"zone_min_spads": 4
	}`)

	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)

	tu := cfg.ToTuning()

	want := vl53l1.DefaultTuning()
	want.MeasurementTimeout = 250 * time.Millisecond
	want.XtalkSamples = 3
	want.XtalkFilter.MaxRangeMM = 80
	want.OffsetMaxRateMCPS = 2624
	want.ZoneMinSpads = 4 << 8

	if diff := cmp.Diff(want, tu); diff != "" {
		t.Errorf("tuning mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTuningConfigErrors(t *testing.T) {

	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{
			name:    "wrong extension",
			file:    "tuning.yaml",
			body:    `{}`,
			wantErr: "must have .json extension",
		},
		{
			name:    "invalid json",
			file:    "tuning.json",
			body:    `{"xtalk_samples": }`,
			wantErr: "failed to parse config JSON",
		},
		{
			name:    "bad duration",
			file:    "tuning.json",
			body:    `{"measurement_timeout": "soon"}`,
			wantErr: "invalid measurement_timeout",
		},
		{
			name:    "zero duration",
			file:    "tuning.json",
			body:    `{"measurement_timeout": "0s"}`,
			wantErr: "measurement_timeout must be positive",
		},
		{
			name:    "negative duration",
			file:    "tuning.json",
			body:    `{"measurement_timeout": "-5ms"}`,
			wantErr: "measurement_timeout must be positive",
		},
		{
			name:    "negative rate",
			file:    "tuning.json",
			body:    `{"offset_max_rate_mcps": -1}`,
			wantErr: "offset_max_rate_mcps must be between",
		},
		{
			name:    "zero samples",
			file:    "tuning.json",
			body:    `{"zone_samples": 0}`,
			wantErr: "zone samples 0 outside",
		},
		{
			name:    "empty filter window",
			file:    "tuning.json",
			body:    `{"xtalk_filter_min_range_mm": 60, "xtalk_filter_max_range_mm": 60}`,
			wantErr: "xtalk filter window",
		},
		{
			name:    "too large",
			file:    "tuning.json",
			body:    `{"pad": "` + strings.Repeat("x", maxFileSize) + `"}`,
			wantErr: "config file too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			_, err := LoadTuningConfig(writeConfig(t, tt.file, tt.body))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := LoadTuningConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to stat config file")
}

func TestEmptyConfigIsDefault(t *testing.T) {

	cfg := &TuningConfig{}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, vl53l1.DefaultTuning(), cfg.ToTuning())

	pre, mm1, mm2 := cfg.GetOffsetSamples()
	assert.Equal(t, []int{8, 40, 9}, []int{pre, mm1, mm2})
	assert.Equal(t, 500*time.Millisecond, cfg.GetMeasurementTimeout())
}

func TestGetXtalkFilter(t *testing.T) {

	off := false
	rate := 100.0

	cfg := &TuningConfig{XtalkFilterEnabled: &off, XtalkFilterMaxRateKcps: &rate}

	f := cfg.GetXtalkFilter()
	assert.False(t, f.Enabled)
	assert.Equal(t, uint32(100<<9), f.MaxRateKcps)
	assert.Equal(t, int16(-50), f.MinRangeMM)
}

func TestToFixed(t *testing.T) {

	tests := []struct {
		v    float64
		frac uint
		max  uint64
		want uint64
	}{
		{10, 7, 0xFFFF, 1280},
		{0.5, 5, 0xFF, 16},
		{-3, 7, 0xFFFF, 0},
		{1000, 7, 0xFFFF, 0xFFFF},
		{2.0, 5, 0xFF, 64},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, toFixed(tt.v, tt.frac, tt.max), "toFixed(%v, %d)", tt.v, tt.frac)
	}
}
