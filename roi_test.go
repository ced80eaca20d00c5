package vl53l1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCentreSpadRoundTrip(t *testing.T) {

	for spad := 0; spad < 256; spad++ {
		x, y := decodeCentreSpad(uint8(spad))
		assert.Less(t, x, uint8(SpadArrayWidth))
		assert.Less(t, y, uint8(SpadArrayWidth))
		assert.Equal(t, uint8(spad), encodeCentreSpad(x, y), "spad %d", spad)
	}

	x, y := decodeCentreSpad(DefaultCentreSpad)
	assert.Equal(t, uint8(8), x)
	assert.Equal(t, uint8(8), y)
}

func TestUserROIValidate(t *testing.T) {

	tests := []struct {
		name    string
		roi     UserROI
		wantErr bool
	}{
		{"full array", UserROI{X: 8, Y: 8, Width: 16, Height: 16}, false},
		{"minimum", UserROI{X: 2, Y: 2, Width: 4, Height: 4}, false},
		{"too narrow", UserROI{X: 8, Y: 8, Width: 3, Height: 4}, true},
		{"too tall", UserROI{X: 8, Y: 8, Width: 4, Height: 17}, true},
		{"centre outside", UserROI{X: 16, Y: 8, Width: 4, Height: 4}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			err := tt.roi.Validate()

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrParam)
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestUserROISizeReg(t *testing.T) {
	assert.Equal(t, uint8(0xFF), UserROI{Width: 16, Height: 16}.SizeReg())
	assert.Equal(t, uint8(0x33), UserROI{Width: 4, Height: 4}.SizeReg())
	assert.Equal(t, uint8(0x73), UserROI{Width: 4, Height: 8}.SizeReg())
}

func TestNewZoneConfig(t *testing.T) {

	tests := []struct {
		preset ZonePreset
		zones  int
		size   uint8
		first  UserROI
	}{
		{Zones1x1, 1, 16, UserROI{X: 8, Y: 8, Width: 16, Height: 16}},
		{Zones2x2, 4, 8, UserROI{X: 4, Y: 4, Width: 8, Height: 8}},
		{Zones3x3, 9, 5, UserROI{X: 2, Y: 2, Width: 5, Height: 5}},
		{Zones4x4, 16, 4, UserROI{X: 2, Y: 2, Width: 4, Height: 4}},
		{ZonesXtalkPlanar, 5, 8, UserROI{X: 4, Y: 4, Width: 8, Height: 8}},
	}

	for _, tt := range tests {
		t.Run(tt.preset.String(), func(t *testing.T) {

			z, err := NewZoneConfig(tt.preset)
			require.NoError(t, err)
			require.NoError(t, z.Validate())

			assert.Equal(t, tt.preset, z.Preset)
			assert.Equal(t, tt.zones, z.Active())
			assert.Equal(t, tt.first, z.Zones[0])
			assert.Equal(t, tt.size, z.Zones[0].Width)
		})
	}

	planar, err := NewZoneConfig(ZonesXtalkPlanar)
	require.NoError(t, err)
	assert.Equal(t, UserROI{X: 8, Y: 8, Width: 16, Height: 16}, planar.Zones[xtalkReferenceRegion])

	_, err = NewZoneConfig(ZonesCustom)
	assert.ErrorIs(t, err, ErrParam)
}

func TestNewCustomZoneConfig(t *testing.T) {

	roi := UserROI{X: 8, Y: 8, Width: 4, Height: 4}

	z, err := NewCustomZoneConfig([]UserROI{roi, roi})
	require.NoError(t, err)
	assert.Equal(t, ZonesCustom, z.Preset)
	assert.Equal(t, 2, z.Active())

	_, err = NewCustomZoneConfig(nil)
	assert.ErrorIs(t, err, ErrParam)

	tooMany := make([]UserROI, MaxUserZones+1)

	for i := range tooMany {
		tooMany[i] = roi
	}

	_, err = NewCustomZoneConfig(tooMany)
	assert.ErrorIs(t, err, ErrParam)

	_, err = NewCustomZoneConfig([]UserROI{roi, {X: 8, Y: 8, Width: 2, Height: 2}})
	assert.ErrorIs(t, err, ErrParam)
}
