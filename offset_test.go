package vl53l1_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-vl53l1"
	"github.com/swdee/go-vl53l1/vl53l1test"
)

var offsetTarget = vl53l1.OffsetTarget{CalDistanceMM: 500, ReflectancePct: 50}

// presetOffsets stores known offsets so tests can check they survive a failed
// calibration
func presetOffsets(t *testing.T, v *vl53l1.VL53L1) vl53l1.CustomerCalibration {

	t.Helper()

	cal := v.GetCalibrationData()
	cal.Customer.PartToPartRangeOffsetMM = 12
	cal.Customer.MMInnerOffsetMM = 7
	cal.Customer.MMOuterOffsetMM = 9

	require.NoError(t, v.SetCalibrationData(cal))

	return cal.Customer
}

func TestOffsetCalibration(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)
	presetOffsets(t, v)

	// two samples per sub-mode plus the settling and spare cycles
	dev.Repeat(vl53l1test.RangeFrame(target(480)), 12)

	res, status, err := v.RunOffsetCalibration(offsetTarget)
	require.NoError(t, err)
	assert.True(t, status.OK(), status.String())

	require.Len(t, res.SubModes, 3)

	for i, sub := range res.SubModes {
		assert.Equal(t, vl53l1.OffsetSubMode(i), sub.SubMode)
		assert.Equal(t, uint32(2), sub.Samples)
		assert.Equal(t, int32(480), sub.MedianRangeMM)
		assert.Equal(t, int32(20), sub.RangeOffsetMM)
		assert.Equal(t, uint16(20<<8), sub.EffectiveSpads)
	}

	assert.Equal(t, vl53l1.PresetStandardRanging, res.SubModes[0].Preset)
	assert.Equal(t, vl53l1.PresetMM1Calibration, res.SubModes[1].Preset)
	assert.Equal(t, vl53l1.PresetMM2Calibration, res.SubModes[2].Preset)

	assert.Equal(t, int16(0), res.PartToPartRangeOffsetMM)
	assert.Equal(t, int16(20), res.MMInnerOffsetMM)
	assert.Equal(t, int16(20), res.MMOuterOffsetMM)

	assert.Equal(t, vl53l1.DmaxCalibration{
		RefDistanceMM:         500,
		RefReflectancePct:     50,
		RefPeakSignalRateMCPS: 10 << 7,
		RefEffectiveSpads:     20 << 8,
	}, res.Dmax)

	cal := v.GetCalibrationData()
	assert.Equal(t, int16(0), cal.Customer.PartToPartRangeOffsetMM)
	assert.Equal(t, int16(20), cal.Customer.MMInnerOffsetMM)
	assert.Equal(t, int16(20), cal.Customer.MMOuterOffsetMM)
	assert.Equal(t, res.Dmax, cal.Dmax)

	assert.Equal(t, uint16(20), dev.Register16(vl53l1.MM_CONFIG_INNER_OFFSET_MM))
	assert.Equal(t, uint16(20), dev.Register16(vl53l1.MM_CONFIG_OUTER_OFFSET_MM))
	assert.Equal(t, uint16(0), dev.Register16(vl53l1.ALGO_PART_TO_PART_RANGE_OFFSET_MM))

	assert.Zero(t, dev.Pending())
	assert.False(t, dev.Running())
	assert.Equal(t, vl53l1.PresetStandardRanging, v.PresetMode())

	// the measured offsets feed Dmax estimates
	assert.NotZero(t, v.EstimateDmax(0, 50))
}

func TestOffsetCalibrationPreRangeOnly(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)
	presetOffsets(t, v)

	require.NoError(t, v.SetOffsetCalibrationMode(vl53l1.OffsetModePreRangeOnly))

	dev.Repeat(vl53l1test.RangeFrame(target(480)), 4)

	res, status, err := v.RunOffsetCalibration(offsetTarget)
	require.NoError(t, err)
	assert.True(t, status.OK(), status.String())

	require.Len(t, res.SubModes, 1)
	assert.Equal(t, vl53l1.OffsetModePreRangeOnly, res.Mode)
	assert.Equal(t, int16(80), res.PartToPartRangeOffsetMM)
	assert.Zero(t, res.MMInnerOffsetMM)
	assert.Zero(t, res.MMOuterOffsetMM)

	assert.Equal(t, uint16(80), dev.Register16(vl53l1.ALGO_PART_TO_PART_RANGE_OFFSET_MM))
	assert.Zero(t, dev.Pending())

	assert.ErrorIs(t, v.SetOffsetCalibrationMode(vl53l1.OffsetCalibrationMode(5)), vl53l1.ErrParam)
}

func TestOffsetCalibrationSampleChecks(t *testing.T) {

	tests := []struct {
		name   string
		frames func(d *vl53l1test.Device)
		want   vl53l1.StatusCode
	}{
		{
			name: "no valid samples",
			frames: func(d *vl53l1test.Device) {
				d.Repeat(failed(), 12)
			},
			want: vl53l1.NoSampleFail,
		},
		{
			name: "no spads",
			frames: func(d *vl53l1test.Device) {
				s := target(480)
				s.EffectiveSpads = 0
				d.Repeat(vl53l1test.RangeFrame(s), 12)
			},
			want: vl53l1.NoSpadsEnabledFail,
		},
		{
			name: "missing samples",
			frames: func(d *vl53l1test.Device) {
				d.Repeat(vl53l1test.RangeFrame(target(480)), 8)
				// only one usable cycle for mm2
				d.Queue(vl53l1test.RangeFrame(target(480)), vl53l1test.RangeFrame(target(480)),
					failed(), failed())
			},
			want: vl53l1.MissingSamples,
		},
		{
			name: "rate too high",
			frames: func(d *vl53l1test.Device) {
				s := target(480)
				s.PeakSignalRateMCPS = 60 << 7
				d.Repeat(vl53l1test.RangeFrame(s), 12)
			},
			want: vl53l1.RateTooHigh,
		},
		{
			name: "spad count too low",
			frames: func(d *vl53l1test.Device) {
				s := target(480)
				s.EffectiveSpads = 2 << 8
				d.Repeat(vl53l1test.RangeFrame(s), 12)
			},
			want: vl53l1.SpadCountTooLow,
		},
		{
			name: "sigma too high",
			frames: func(d *vl53l1test.Device) {
				s := target(480)
				s.SigmaMM = 20 << 5
				d.Repeat(vl53l1test.RangeFrame(s), 4)
				d.Repeat(vl53l1test.RangeFrame(target(480)), 8)
			},
			want: vl53l1.SigmaTooHigh,
		},
		{
			// only the pre-range sub-mode is held to the sigma limit
			name: "mm1 sigma ignored",
			frames: func(d *vl53l1test.Device) {
				s := target(480)
				s.SigmaMM = 20 << 5
				d.Repeat(vl53l1test.RangeFrame(target(480)), 4)
				d.Repeat(vl53l1test.RangeFrame(s), 4)
				d.Repeat(vl53l1test.RangeFrame(target(480)), 4)
			},
			want: vl53l1.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			dev := vl53l1test.NewDevice()
			v, _ := newSensor(t, dev)
			before := presetOffsets(t, v)

			tt.frames(dev)

			res, status, err := v.RunOffsetCalibration(offsetTarget)
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.Equal(t, vl53l1.NewStatus(tt.want), status)

			cust := v.GetCalibrationData().Customer

			if status.IsError() {
				assert.Equal(t, before, cust, "offsets must be restored")
				assert.Equal(t, uint16(7), dev.Register16(vl53l1.MM_CONFIG_INNER_OFFSET_MM))
				return
			}

			assert.Equal(t, int16(20), cust.MMInnerOffsetMM)
		})
	}
}

func TestOffsetCalibrationDeviceFault(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)
	before := presetOffsets(t, v)

	tu := v.Tuning()
	tu.OffsetPreRangeSamples = 8
	require.NoError(t, v.SetTuning(tu))

	fault := target(480)
	fault.DeviceStatus = vl53l1.DeviceVcselContinuityFail

	// fault on cycle 3 of 10
	dev.Repeat(vl53l1test.RangeFrame(target(480)), 3)
	dev.Queue(vl53l1test.RangeFrame(fault))
	dev.Repeat(vl53l1test.RangeFrame(target(480)), 6)

	res, status, err := v.RunOffsetCalibration(offsetTarget)

	var rangeErr *vl53l1.RangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, 3, rangeErr.Cycle)
	assert.Nil(t, res)
	assert.Equal(t, vl53l1.NewStatus(vl53l1.RangeFault), status)

	assert.Equal(t, 1, dev.Aborts())
	assert.False(t, dev.Running())
	assert.Equal(t, 6, dev.Pending())

	assert.Equal(t, before, v.GetCalibrationData().Customer)
	assert.Equal(t, uint16(7), dev.Register16(vl53l1.MM_CONFIG_INNER_OFFSET_MM))
	assert.Equal(t, uint16(9), dev.Register16(vl53l1.MM_CONFIG_OUTER_OFFSET_MM))
	assert.Equal(t, uint16(12), dev.Register16(vl53l1.ALGO_PART_TO_PART_RANGE_OFFSET_MM))
}

func TestOffsetCalibrationTimeout(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)
	before := presetOffsets(t, v)

	// the pre-range sub-mode runs out of frames
	dev.Repeat(vl53l1test.RangeFrame(target(480)), 2)

	res, status, err := v.RunOffsetCalibration(offsetTarget)
	assert.ErrorIs(t, err, vl53l1.ErrTimeout)
	assert.Nil(t, res)
	assert.Equal(t, vl53l1.NewStatus(vl53l1.TimeoutFail), status)
	assert.False(t, dev.Running())
	assert.Equal(t, before, v.GetCalibrationData().Customer)
}

func TestOffsetCalibrationInvalidTarget(t *testing.T) {

	tests := []struct {
		name   string
		target vl53l1.OffsetTarget
	}{
		{"zero distance", vl53l1.OffsetTarget{ReflectancePct: 50}},
		{"zero reflectance", vl53l1.OffsetTarget{CalDistanceMM: 500}},
		{"reflectance above 100", vl53l1.OffsetTarget{CalDistanceMM: 500, ReflectancePct: 101}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			dev := vl53l1test.NewDevice()
			v, _ := newSensor(t, dev)
			writes := len(dev.Writes())

			_, status, err := v.RunOffsetCalibration(tt.target)
			assert.ErrorIs(t, err, vl53l1.ErrParam)
			assert.Equal(t, vl53l1.NewStatus(vl53l1.InvalidParams), status)
			assert.Len(t, dev.Writes(), writes)
		})
	}
}

func TestOffsetCalibrationDeterministic(t *testing.T) {

	run := func() *vl53l1.OffsetCalibrationResult {

		dev := vl53l1test.NewDevice()
		v, _ := newSensor(t, dev)

		for i := 0; i < 12; i++ {
			dev.Queue(vl53l1test.RangeFrame(target(int16(470 + i%5))))
		}

		res, _, err := v.RunOffsetCalibration(offsetTarget)
		require.NoError(t, err)

		return res
	}

	first, second := run(), run()

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("offset calibration not deterministic (-first +second):\n%s", diff)
	}
}
