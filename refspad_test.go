package vl53l1_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-vl53l1"
	"github.com/swdee/go-vl53l1/vl53l1test"
)

func TestRefSpadCharacterisation(t *testing.T) {

	spads := []byte{0xFF, 0x0F, 0x00, 0x00, 0x00, 0x00}

	tests := []struct {
		name   string
		status vl53l1.DeviceStatus
		want   vl53l1.CalibrationStatus
	}{
		{"complete", vl53l1.DeviceRangeComplete, vl53l1.Success()},
		{"not enough spads", vl53l1.DeviceRefSpadCharNotEnough, vl53l1.NewStatus(vl53l1.RefSpadNotEnoughSpads)},
		{"rate above target", vl53l1.DeviceRefSpadCharMoreThanTgt, vl53l1.NewStatus(vl53l1.RefSpadRateTooHigh)},
		{"rate below target", vl53l1.DeviceRefSpadCharLessThanTgt, vl53l1.NewStatus(vl53l1.RefSpadRateTooLow)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			dev := vl53l1test.NewDevice()
			v, _ := newSensor(t, dev)

			// device test mode leaves its selection in these registers
			dev.SetRegister(vl53l1.REF_SPAD_CHAR_RESULT_NUM_ACTUAL_SPADS, 12)
			dev.SetRegister(vl53l1.REF_SPAD_CHAR_RESULT_REF_LOCATION, 2)
			dev.Queue(vl53l1test.Frame{Status: tt.status, StreamCount: 1})

			// the customer registers hold the selection once the device
			// has written it
			dev.SetRegister(vl53l1.GLOBAL_CONFIG_SPAD_ENABLES_REF_0, spads...)
			cal := v.GetCalibrationData()
			copy(cal.Customer.SpadEnablesRef[:], spads)
			require.NoError(t, v.SetCalibrationData(cal))

			res, status, err := v.RunRefSpadCharacterisation()
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)

			assert.Equal(t, tt.status, res.DeviceStatus)
			assert.Equal(t, uint8(12), res.NumSpads)
			assert.Equal(t, uint8(2), res.RefLocation)
			assert.Equal(t, [6]uint8{0xFF, 0x0F}, res.SpadEnables)

			// selection is stored on warnings too
			cust := v.GetCalibrationData().Customer
			assert.Equal(t, uint8(12), cust.RefSpadManNumRequestedSpad)
			assert.Equal(t, uint8(2), cust.RefSpadManRefLocation)
			assert.Equal(t, vl53l1.TargetRate, cust.RefSpadCharTotalRateTargetMCPS)
			assert.Equal(t, uint8(12), dev.Register(vl53l1.REF_SPAD_MAN_NUM_REQUESTED_REF_SPADS))

			assert.Equal(t, uint8(0), dev.Register(vl53l1.TEST_MODE_CTRL))
			assert.Equal(t, vl53l1.PresetStandardRanging, v.PresetMode())
			assert.False(t, dev.Running())
		})
	}
}

func TestRefSpadCharacterisationTimeout(t *testing.T) {

	dev := vl53l1test.NewDevice()
	v, _ := newSensor(t, dev)

	before := v.GetCalibrationData().Customer

	res, status, err := v.RunRefSpadCharacterisation()
	assert.ErrorIs(t, err, vl53l1.ErrTimeout)
	assert.Nil(t, res)
	assert.Equal(t, vl53l1.NewStatus(vl53l1.TimeoutFail), status)

	after := v.GetCalibrationData().Customer
	assert.Equal(t, before.RefSpadManNumRequestedSpad, after.RefSpadManNumRequestedSpad)
	assert.False(t, dev.Running())
}
