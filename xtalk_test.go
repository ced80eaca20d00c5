package vl53l1_test

import (
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-vl53l1"
	"github.com/swdee/go-vl53l1/vl53l1test"
)

// xtalkSample is a cover glass return of 31.25 kcps per SPAD
func xtalkSample(rangeMM int16) vl53l1.RangeSample {
	return vl53l1.RangeSample{
		DeviceStatus:       vl53l1.DeviceRangeComplete,
		MedianRangeMM:      rangeMM,
		EffectiveSpads:     1 << 8,
		PeakSignalRateMCPS: 4,
		SigmaMM:            8 << 5,
	}
}

// queueXtalk queues one settling pass and two sample passes over the five
// regions, with frames for the regions in skip out of the filter window
func queueXtalk(dev *vl53l1test.Device, skip ...int) {

	queueXtalkWith(dev, func(zone int, s *vl53l1.RangeSample) {
		for _, z := range skip {
			if zone == z {
				s.MedianRangeMM = 200
			}
		}
	})
}

// queueXtalkWith queues the frames of queueXtalk with edit applied to each
// sample of its region
func queueXtalkWith(dev *vl53l1test.Device, edit func(zone int, s *vl53l1.RangeSample)) {

	for i := 0; i < 15; i++ {

		s := xtalkSample(10)
		edit(i%5, &s)

		dev.Queue(vl53l1test.RangeFrame(s))
	}
}

// presetXtalk stores known crosstalk coefficients
func presetXtalk(t *testing.T, v *vl53l1.VL53L1) {

	t.Helper()

	cal := v.GetCalibrationData()
	cal.Customer.XtalkPlaneOffsetKcps = 777
	cal.Customer.XtalkXPlaneGradient = -3
	cal.XtalkRangeIgnoreThresholdMCPS = 1554

	require.NoError(t, v.SetCalibrationData(cal))
}

func TestXtalkExtraction(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)
	presetXtalk(t, v)

	queueXtalk(dev)

	res, status, err := v.RunXtalkExtraction()
	require.NoError(t, err)
	assert.True(t, status.OK(), status.String())

	assert.Equal(t, uint32(16000), res.PlaneOffsetKcps)
	assert.Zero(t, res.XPlaneGradient)
	assert.Zero(t, res.YPlaneGradient)
	assert.Equal(t, uint16(32000), res.RangeIgnoreThresholdMCPS)
	assert.Nil(t, res.Shape)

	require.Len(t, res.Regions, 5)

	for _, r := range res.Regions {
		assert.Equal(t, uint32(2), r.Samples)
		assert.Equal(t, uint32(16000), r.RatePerSpadKcps)
	}

	cal := v.GetCalibrationData()
	assert.Equal(t, uint32(16000), cal.Customer.XtalkPlaneOffsetKcps)
	assert.Zero(t, cal.Customer.XtalkXPlaneGradient)
	assert.Equal(t, uint16(32000), cal.XtalkRangeIgnoreThresholdMCPS)

	// compensation is off while sampling and applied again afterwards
	assert.Contains(t, dev.WritesTo(vl53l1.ALGO_CROSSTALK_COMPENSATION_PLANE_OFFSET_KCPS), []byte{0x00, 0x00})
	assert.True(t, v.XtalkCompensationEnabled())
	assert.Equal(t, uint16(16000), dev.Register16(vl53l1.ALGO_CROSSTALK_COMPENSATION_PLANE_OFFSET_KCPS))
	assert.Equal(t, uint16(32000), dev.Register16(vl53l1.ALGO_RANGE_IGNORE_THRESHOLD_MCPS))

	assert.Equal(t, vl53l1.PresetStandardRanging, v.PresetMode())
	assert.False(t, dev.Running())
	assert.Zero(t, dev.Pending())
}

func TestXtalkExtractionNoReference(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)
	presetXtalk(t, v)

	queueXtalk(dev, 4)

	res, status, err := v.RunXtalkExtraction()
	require.NoError(t, err)
	assert.Equal(t, vl53l1.NewStatus(vl53l1.NoSampleFail), status)
	require.Len(t, res.Regions, 5)
	assert.Zero(t, res.Regions[4].Samples)

	cal := v.GetCalibrationData()
	assert.Equal(t, uint32(777), cal.Customer.XtalkPlaneOffsetKcps)
	assert.Equal(t, int16(-3), cal.Customer.XtalkXPlaneGradient)

	assert.True(t, v.XtalkCompensationEnabled())
	assert.Equal(t, uint16(777), dev.Register16(vl53l1.ALGO_CROSSTALK_COMPENSATION_PLANE_OFFSET_KCPS))
	assert.Equal(t, uint16(1554), dev.Register16(vl53l1.ALGO_RANGE_IGNORE_THRESHOLD_MCPS))
}

func TestXtalkExtractionMissingQuadrant(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)

	queueXtalk(dev, 1)

	res, status, err := v.RunXtalkExtraction()
	require.NoError(t, err)
	assert.Equal(t, vl53l1.NewStatus(vl53l1.NoSamplesForGradient), status)
	assert.True(t, status.IsWarning())

	// the offset comes from the full field region alone
	assert.Equal(t, uint32(16000), res.PlaneOffsetKcps)
	assert.Equal(t, uint32(16000), v.GetCalibrationData().Customer.XtalkPlaneOffsetKcps)
}

func TestXtalkExtractionDiagonalQuadrants(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)
	presetXtalk(t, v)

	queueXtalk(dev, 1, 2)

	res, status, err := v.RunXtalkExtraction()
	require.NoError(t, err)
	assert.Equal(t, vl53l1.NewStatus(vl53l1.NoSamplesForGradient), status)

	// the remaining quadrants cannot separate the gradients
	assert.Equal(t, uint32(16000), res.PlaneOffsetKcps)
	assert.Zero(t, res.XPlaneGradient)
	assert.Zero(t, res.YPlaneGradient)

	cal := v.GetCalibrationData()
	assert.Equal(t, uint32(16000), cal.Customer.XtalkPlaneOffsetKcps)
	assert.Zero(t, cal.Customer.XtalkXPlaneGradient)
	assert.Equal(t, uint16(16000), dev.Register16(vl53l1.ALGO_CROSSTALK_COMPENSATION_PLANE_OFFSET_KCPS))
}

func TestXtalkExtractionSigmaLimits(t *testing.T) {

	tests := []struct {
		name       string
		zone       int
		want       vl53l1.CalibrationStatus
		wantOffset uint32
	}{
		{
			name:       "reference",
			zone:       4,
			want:       vl53l1.NewStatus(vl53l1.SigmaLimitFail),
			wantOffset: 777,
		},
		{
			name:       "quadrant",
			zone:       0,
			want:       vl53l1.NewStatus(vl53l1.SigmaLimitForGradient),
			wantOffset: 16000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			dev := vl53l1test.NewDevice()
			v, _ := newSensor(t, dev)
			presetXtalk(t, v)

			queueXtalkWith(dev, func(zone int, s *vl53l1.RangeSample) {
				if zone == tt.zone {
					s.SigmaMM = 60 << 5
				}
			})

			res, status, err := v.RunXtalkExtraction()
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, uint16(60<<5), res.Regions[tt.zone].SigmaMM)

			assert.Equal(t, tt.wantOffset, v.GetCalibrationData().Customer.XtalkPlaneOffsetKcps)
			assert.Equal(t, uint16(tt.wantOffset),
				dev.Register16(vl53l1.ALGO_CROSSTALK_COMPENSATION_PLANE_OFFSET_KCPS))
		})
	}
}

func TestXtalkExtractionCommFailure(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)
	presetXtalk(t, v)

	queueXtalk(dev)
	dev.FailRead(vl53l1.RESULT_INTERRUPT_STATUS, 3, io.EOF)

	res, status, err := v.RunXtalkExtraction()

	var commErr *vl53l1.CommError
	require.True(t, errors.As(err, &commErr))
	assert.ErrorIs(t, err, io.EOF)
	assert.Nil(t, res)
	assert.Equal(t, vl53l1.NewStatus(vl53l1.CommFail), status)

	assert.False(t, dev.Running())
	assert.True(t, v.XtalkCompensationEnabled())
	assert.Equal(t, uint16(777), dev.Register16(vl53l1.ALGO_CROSSTALK_COMPENSATION_PLANE_OFFSET_KCPS))
	assert.Equal(t, vl53l1.PresetStandardRanging, v.PresetMode())
}

// xtalkHistogram is a cover glass return centred on bin 3 over an ambient of
// 10 counts per bin
func xtalkHistogram() vl53l1.HistogramBinData {

	h := vl53l1.HistogramBinData{
		VcselPeriod:         0x05,
		RefPhase:            3 << 11,
		EffectiveSpads:      10 << 8,
		TotalPeriodsElapsed: 1000,
	}

	for i := range h.Bins {
		h.Bins[i] = 10
	}

	h.Bins[1] += 10
	h.Bins[2] += 20
	h.Bins[3] += 40
	h.Bins[4] += 20
	h.Bins[5] += 10

	return h
}

func TestHistogramXtalkExtraction(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)
	presetXtalk(t, v)

	// settling cycle plus three samples
	dev.Repeat(vl53l1test.HistogramFrame(xtalkHistogram()), 4)

	res, status, err := v.RunHistogramXtalkExtraction(vl53l1.XtalkTarget{})
	require.NoError(t, err)
	assert.True(t, status.OK(), status.String())

	require.NotNil(t, res.Shape)

	want := vl53l1.XtalkHistogramShape{ZeroDistancePhase: 3 << 11, VcselPeriod: 0x05}
	want.Bins[1], want.Bins[2], want.Bins[3], want.Bins[4], want.Bins[5] = 100, 200, 400, 200, 100

	if diff := cmp.Diff(want, *res.Shape); diff != "" {
		t.Errorf("xtalk shape mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, uint32(60952), res.PlaneOffsetKcps)
	assert.Zero(t, res.XPlaneGradient)
	assert.Zero(t, res.YPlaneGradient)
	assert.Equal(t, uint16(0xFFFF), res.RangeIgnoreThresholdMCPS)

	cal := v.GetCalibrationData()
	assert.Equal(t, want, cal.XtalkShape)
	assert.Equal(t, uint32(60952), cal.Customer.XtalkPlaneOffsetKcps)
	assert.Equal(t, uint16(60952), dev.Register16(vl53l1.ALGO_CROSSTALK_COMPENSATION_PLANE_OFFSET_KCPS))

	assert.True(t, v.XtalkCompensationEnabled())
	assert.Equal(t, vl53l1.PresetStandardRanging, v.PresetMode())
	assert.False(t, dev.Running())
}

func TestHistogramXtalkExtractionNoSignal(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)
	presetXtalk(t, v)

	flat := xtalkHistogram()

	for i := range flat.Bins {
		flat.Bins[i] = 10
	}

	dev.Repeat(vl53l1test.HistogramFrame(flat), 4)

	res, status, err := v.RunHistogramXtalkExtraction(vl53l1.XtalkTarget{})
	require.NoError(t, err)
	assert.Equal(t, vl53l1.NewStatus(vl53l1.NoSampleFail), status)
	assert.Nil(t, res.Shape)

	cal := v.GetCalibrationData()
	assert.Equal(t, uint32(777), cal.Customer.XtalkPlaneOffsetKcps)
	assert.Equal(t, vl53l1.XtalkHistogramShape{}, cal.XtalkShape)
	assert.Equal(t, uint16(777), dev.Register16(vl53l1.ALGO_CROSSTALK_COMPENSATION_PLANE_OFFSET_KCPS))
}

func TestHistogramXtalkExtractionInvalidTarget(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)
	writes := len(dev.Writes())

	_, status, err := v.RunHistogramXtalkExtraction(vl53l1.XtalkTarget{DistanceMM: 6000})
	assert.ErrorIs(t, err, vl53l1.ErrParam)
	assert.Equal(t, vl53l1.NewStatus(vl53l1.InvalidParams), status)
	assert.Len(t, dev.Writes(), writes)
}
