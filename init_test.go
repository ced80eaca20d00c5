package vl53l1_test

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-vl53l1"
	"github.com/swdee/go-vl53l1/vl53l1test"
)

// testTuning keeps the sample counts small so scenarios need few frames
func testTuning() vl53l1.Tuning {

	tu := vl53l1.DefaultTuning()
	tu.XtalkSamples = 2
	tu.XtalkHistogramSamples = 3
	tu.OffsetPreRangeSamples = 2
	tu.OffsetMM1Samples = 2
	tu.OffsetMM2Samples = 2
	tu.ZoneSamples = 2
	tu.ZonePhaseSamples = 2

	return tu
}

// newSensor initialises a sensor on dev against a mock clock
func newSensor(t *testing.T, dev *vl53l1test.Device, opts ...vl53l1.Option) (*vl53l1.VL53L1, *vl53l1test.MockClock) {

	t.Helper()

	clock := vl53l1test.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	opts = append([]vl53l1.Option{
		vl53l1.WithClock(clock),
		vl53l1.WithTuning(testTuning()),
	}, opts...)

	v, err := vl53l1.New(dev, opts...)
	require.NoError(t, err)

	return v, clock
}

// target is a completed range with rates inside every calibration limit
func target(rangeMM int16) vl53l1.RangeSample {
	return vl53l1.RangeSample{
		DeviceStatus:       vl53l1.DeviceRangeComplete,
		MedianRangeMM:      rangeMM,
		EffectiveSpads:     20 << 8,
		PeakSignalRateMCPS: 10 << 7,
		AmbientRateMCPS:    1 << 7,
		SigmaMM:            8 << 5,
	}
}

// failed is a frame whose only target failed a non fatal check
func failed() vl53l1test.Frame {
	t := target(0)
	t.DeviceStatus = vl53l1.DeviceSigmaThresholdCheck
	return vl53l1test.RangeFrame(t)
}

func TestNewInitialisesDevice(t *testing.T) {

	dev := vl53l1test.NewDevice()
	dev.SetRegister(vl53l1.MM_CONFIG_INNER_OFFSET_MM, 0x00, 0x03)
	dev.SetRegister(vl53l1.MM_CONFIG_OUTER_OFFSET_MM, 0x00, 0x05)

	v, clock := newSensor(t, dev)

	assert.True(t, v.Initialised())

	// soft reset then boot
	assert.Equal(t, [][]byte{{0x00}, {0x01}}, dev.WritesTo(vl53l1.SOFT_RESET))
	assert.Contains(t, clock.Sleeps(), 100*time.Microsecond)
	assert.Equal(t, uint8(0x01), dev.Register(vl53l1.PAD_I2C_HV_EXTSUP_CONFIG)&0x01)

	die := v.DieConstants()
	assert.Equal(t, vl53l1.OpticalCentre{X: 8, Y: 8}, die.OpticalCentre)
	assert.Equal(t, int16(3), die.FactoryInnerOffsetMM)
	assert.Equal(t, int16(5), die.FactoryOuterOffsetMM)

	cal := v.GetCalibrationData()
	assert.Equal(t, vl53l1.CalibrationDataVersion, cal.StructVersion)
	assert.Equal(t, int16(3), cal.Customer.MMInnerOffsetMM)
	// part to part offset defaults to the factory outer offset in 14.2
	assert.Equal(t, int16(20), cal.Customer.PartToPartRangeOffsetMM)
	assert.Equal(t, uint16(20), dev.Register16(vl53l1.ALGO_PART_TO_PART_RANGE_OFFSET_MM))

	assert.Equal(t, vl53l1.PresetStandardRanging, v.PresetMode())
	assert.Equal(t, uint32(50), v.GetMeasurementTimingBudget())
	assert.True(t, v.XtalkCompensationEnabled())
	assert.False(t, dev.Running())
}

func TestNewFailures(t *testing.T) {

	tests := []struct {
		name  string
		setup func(d *vl53l1test.Device)
		check func(t *testing.T, err error)
	}{
		{
			name: "wrong model",
			setup: func(d *vl53l1test.Device) {
				d.SetRegister(vl53l1.IDENTIFICATION_MODEL_ID, 0xEE, 0xAA)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "unexpected model ID")
			},
		},
		{
			name: "never boots",
			setup: func(d *vl53l1test.Device) {
				d.SetRegister(vl53l1.FIRMWARE_SYSTEM_STATUS, 0x00)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, vl53l1.ErrTimeout)
			},
		},
		{
			name: "oscillator unreadable",
			setup: func(d *vl53l1test.Device) {
				d.FailRead(vl53l1.OSC_MEASURED_FAST_OSC_FREQUENCY, 0, io.EOF)
			},
			check: func(t *testing.T, err error) {
				var commErr *vl53l1.CommError
				require.True(t, errors.As(err, &commErr))
				assert.Equal(t, vl53l1.OSC_MEASURED_FAST_OSC_FREQUENCY, commErr.Index)
				assert.ErrorIs(t, err, io.EOF)
			},
		},
		{
			name: "oscillator not measured",
			setup: func(d *vl53l1test.Device) {
				d.SetRegister(vl53l1.OSC_MEASURED_FAST_OSC_FREQUENCY, 0x00, 0x00)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "fast oscillator")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			dev := vl53l1test.NewDevice()
			tt.setup(dev)

			clock := vl53l1test.NewMockClock(time.Unix(0, 0))
			v, err := vl53l1.New(dev, vl53l1.WithClock(clock))

			require.Error(t, err)
			tt.check(t, err)
			assert.False(t, v.Initialised())
		})
	}

	_, err := vl53l1.New(nil)
	assert.Error(t, err)
}

func TestNewRejectsInvalidTuning(t *testing.T) {

	tu := vl53l1.DefaultTuning()
	tu.ZoneSamples = 0

	dev := vl53l1test.NewDevice()
	_, err := vl53l1.New(dev, vl53l1.WithTuning(tu))

	assert.ErrorIs(t, err, vl53l1.ErrParam)
	assert.Empty(t, dev.Writes())
}

func TestTimeoutMustBePositive(t *testing.T) {

	dev := vl53l1test.NewDevice()

	_, err := vl53l1.New(dev, vl53l1.WithTimeout(0))
	assert.ErrorIs(t, err, vl53l1.ErrParam)
	assert.Empty(t, dev.Writes())

	v, _ := newSensor(t, dev)

	assert.ErrorIs(t, v.SetTimeout(0), vl53l1.ErrParam)
	assert.ErrorIs(t, v.SetTimeout(-time.Second), vl53l1.ErrParam)
	assert.NoError(t, v.SetTimeout(time.Second))

	tu := v.Tuning()
	tu.MeasurementTimeout = 0
	assert.ErrorIs(t, v.SetTuning(tu), vl53l1.ErrParam)
	assert.Equal(t, testTuning().MeasurementTimeout, v.Tuning().MeasurementTimeout)
}

// fixedNVM serves die constants captured from another source
type fixedNVM vl53l1.DieConstants

func (n fixedNVM) ReadDieConstants() (vl53l1.DieConstants, error) {
	return vl53l1.DieConstants(n), nil
}

func TestSettersDuringCalibration(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, clock := newSensor(t, dev)

	dev.Repeat(vl53l1test.RangeFrame(target(480)), 12)

	var wg sync.WaitGroup
	var status vl53l1.CalibrationStatus
	var err error

	wg.Add(1)

	go func() {
		defer wg.Done()
		_, status, err = v.RunOffsetCalibration(vl53l1.OffsetTarget{CalDistanceMM: 500, ReflectancePct: 50})
	}()

	for i := 0; i < 10; i++ {
		v.SetClock(clock)
		v.SetNVM(fixedNVM(v.DieConstants()))
		v.TimeoutOccurred()
		assert.NoError(t, v.SetTimeout(time.Second))
	}

	wg.Wait()

	require.NoError(t, err)
	assert.True(t, status.OK(), status.String())
	assert.False(t, v.TimeoutOccurred())
}

func TestWithoutInit(t *testing.T) {

	dev := vl53l1test.NewDevice()

	v, err := vl53l1.New(dev, vl53l1.WithoutInit())
	require.NoError(t, err)
	assert.False(t, v.Initialised())

	res, status, err := v.RunOffsetCalibration(vl53l1.OffsetTarget{CalDistanceMM: 500, ReflectancePct: 50})
	assert.ErrorIs(t, err, vl53l1.ErrNotInitialised)
	assert.Nil(t, res)
	assert.Equal(t, vl53l1.NewStatus(vl53l1.InvalidParams), status)
	assert.Empty(t, dev.Writes())

	_, err = v.BeginRanging(vl53l1.ModeBackToBack, vl53l1.ConfigFull)
	assert.ErrorIs(t, err, vl53l1.ErrNotInitialised)

	require.NoError(t, v.Init())
	assert.True(t, v.Initialised())
}

func TestNewWithLog(t *testing.T) {

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	dev := vl53l1test.NewDevice()
	clock := vl53l1test.NewMockClock(time.Unix(0, 0))

	_, err := vl53l1.NewWithLog(dev, log, vl53l1.WithClock(clock))
	require.NoError(t, err)

	var messages []string

	for _, e := range hook.AllEntries() {
		messages = append(messages, e.Message)
	}

	assert.Contains(t, messages, "device init complete")
}

func TestWithDistanceModeAndBudget(t *testing.T) {

	dev := vl53l1test.NewDevice()

	v, _ := newSensor(t, dev, vl53l1.WithDistanceMode(vl53l1.Short), vl53l1.WithTimingBudget(33))

	assert.Equal(t, vl53l1.Short, v.GetDistanceMode())
	assert.Equal(t, vl53l1.PresetShortRange, v.PresetMode())
	assert.Equal(t, uint32(33), v.GetMeasurementTimingBudget())
	assert.Equal(t, uint8(0x07), dev.Register(vl53l1.RANGE_CONFIG_VCSEL_PERIOD_A))

	require.NoError(t, v.SetDistanceMode(vl53l1.Long))
	assert.Equal(t, vl53l1.Long, v.GetDistanceMode())
	assert.Equal(t, uint32(33), v.GetMeasurementTimingBudget())

	assert.ErrorIs(t, v.SetDistanceMode(vl53l1.DistanceMode(7)), vl53l1.ErrParam)
}
