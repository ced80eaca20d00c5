package vl53l1test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swdee/go-vl53l1"
)

func TestNewDeviceIdentity(t *testing.T) {

	d := NewDevice()

	tests := []struct {
		name  string
		index uint16
		want  uint16
	}{
		{"model id", vl53l1.IDENTIFICATION_MODEL_ID, ModelID},
		{"fast oscillator", vl53l1.OSC_MEASURED_FAST_OSC_FREQUENCY, FastOscFrequency},
		{"oscillator calibrate", vl53l1.RESULT_OSC_CALIBRATE_VAL, OscCalibrateVal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Register16(tt.index))
		})
	}

	assert.Equal(t, byte(0x01), d.Register(vl53l1.FIRMWARE_SYSTEM_STATUS))
	assert.False(t, d.Running())
	assert.Zero(t, d.Pending())
}
