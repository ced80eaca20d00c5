package vl53l1

import "fmt"

const (
	// SpadArrayWidth is the number of SPAD columns and rows of the array
	SpadArrayWidth = 16
	// MinROISize is the smallest ROI width or height the device accepts
	MinROISize = 4
	// MaxUserZones is the largest number of zones in one zone layout
	MaxUserZones = 16
	// DefaultCentreSpad is the SPAD number at the centre of the array
	DefaultCentreSpad uint8 = 199
)

// UserROI is a rectangular region of the SPAD array given by its centre
// column X, centre row Y, width and height.
type UserROI struct {
	X      uint8
	Y      uint8
	Width  uint8
	Height uint8
}

// OpticalCentre is the SPAD column and row the lens is centred on.
type OpticalCentre struct {
	X uint8
	Y uint8
}

// Validate checks the ROI fits the SPAD array.
func (r UserROI) Validate() error {

	if r.Width < MinROISize || r.Height < MinROISize {
		return paramError("ROI size must be at least %dx%d, got %dx%d",
			MinROISize, MinROISize, r.Width, r.Height)
	}

	if r.Width > SpadArrayWidth || r.Height > SpadArrayWidth {
		return paramError("ROI size %dx%d exceeds the SPAD array", r.Width, r.Height)
	}

	if r.X >= SpadArrayWidth || r.Y >= SpadArrayWidth {
		return paramError("ROI centre (%d,%d) outside the SPAD array", r.X, r.Y)
	}

	return nil
}

// CentreSpad encodes the ROI centre as a SPAD number, see the table on
// SetROICenter.
func (r UserROI) CentreSpad() uint8 {
	return encodeCentreSpad(r.X, r.Y)
}

// SizeReg encodes width and height into the global XY size register.
func (r UserROI) SizeReg() uint8 {
	return ((r.Height - 1) << 4) | (r.Width - 1)
}

// encodeCentreSpad converts a SPAD column and row into the SPAD number
func encodeCentreSpad(x, y uint8) uint8 {

	if y > 7 {
		return 128 + (x << 3) + (15 - y)
	}

	return ((15 - x) << 3) + y
}

// decodeCentreSpad converts a SPAD number into its column and row
func decodeCentreSpad(spad uint8) (x, y uint8) {

	if spad >= 128 {
		return (spad - 128) >> 3, 15 - ((spad - 128) & 0x07)
	}

	return 15 - (spad >> 3), spad & 0x07
}

// ZonePreset selects a predefined zone layout.
type ZonePreset int

const (
	ZonesCustom ZonePreset = iota
	Zones1x1
	Zones2x2
	Zones3x3
	Zones4x4
	// ZonesXtalkPlanar is the four quadrants followed by the full array
	ZonesXtalkPlanar
)

// String implement Stringer interface for ZonePreset
func (p ZonePreset) String() string {
	switch p {
	case ZonesCustom:
		return "custom"
	case Zones1x1:
		return "1x1"
	case Zones2x2:
		return "2x2"
	case Zones3x3:
		return "3x3"
	case Zones4x4:
		return "4x4"
	case ZonesXtalkPlanar:
		return "xtalk planar"
	default:
		return fmt.Sprintf("zone preset %d", int(p))
	}
}

// ZoneConfig is the ordered list of zones ranged in turn. The zone id of a
// measurement is its index in Zones.
type ZoneConfig struct {
	Preset ZonePreset
	Zones  []UserROI
}

// Validate checks the zone count and each zone ROI.
func (z ZoneConfig) Validate() error {

	if len(z.Zones) < 1 || len(z.Zones) > MaxUserZones {
		return paramError("zone count %d outside 1..%d", len(z.Zones), MaxUserZones)
	}

	for i, r := range z.Zones {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("zone %d: %w", i, err)
		}
	}

	return nil
}

// Active returns the number of zones ranged.
func (z ZoneConfig) Active() int {
	return len(z.Zones)
}

// NewZoneConfig returns the layout of a zone preset.
func NewZoneConfig(preset ZonePreset) (ZoneConfig, error) {

	switch preset {
	case Zones1x1:
		return gridZones(preset, 1, SpadArrayWidth), nil
	case Zones2x2:
		return gridZones(preset, 2, 8), nil
	case Zones3x3:
		return gridZones(preset, 3, 5), nil
	case Zones4x4:
		return gridZones(preset, 4, 4), nil
	case ZonesXtalkPlanar:
		z := gridZones(preset, 2, 8)
		z.Zones = append(z.Zones, UserROI{X: 8, Y: 8, Width: SpadArrayWidth, Height: SpadArrayWidth})
		return z, nil
	default:
		return ZoneConfig{}, paramError("zone preset %s has no fixed layout", preset)
	}
}

// NewCustomZoneConfig validates a caller supplied layout.
func NewCustomZoneConfig(zones []UserROI) (ZoneConfig, error) {

	z := ZoneConfig{Preset: ZonesCustom, Zones: append([]UserROI(nil), zones...)}

	if err := z.Validate(); err != nil {
		return ZoneConfig{}, err
	}

	return z, nil
}

// gridZones tiles the array into n by n zones of the given size, row by row
func gridZones(preset ZonePreset, n int, size uint8) ZoneConfig {

	z := ZoneConfig{Preset: preset}
	pitch := SpadArrayWidth / n

	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			z.Zones = append(z.Zones, UserROI{
				X:      uint8(col*pitch + pitch/2),
				Y:      uint8(row*pitch + pitch/2),
				Width:  size,
				Height: size,
			})
		}
	}

	return z
}

// SetZoneConfig sets the zone layout used by following ranging loops.
func (v *VL53L1) SetZoneConfig(z ZoneConfig) error {

	if err := z.Validate(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.zones = z
	return nil
}

// ZoneConfig returns the current zone layout.
func (v *VL53L1) ZoneConfig() ZoneConfig {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.zones
}

// SetUserROI sets a single zone layout with the given ROI.
func (v *VL53L1) SetUserROI(roi UserROI) error {
	return v.SetZoneConfig(ZoneConfig{Preset: ZonesCustom, Zones: []UserROI{roi}})
}

// GetUserROI returns the ROI of the first zone.
func (v *VL53L1) GetUserROI() UserROI {

	z := v.ZoneConfig()

	return z.Zones[0]
}

// SetROISize sets the region‐of‐interest size given the width and height of the
// 16x16 SPAD array, keeping the current centre
func (v *VL53L1) SetROISize(width, height uint8) error {

	roi := v.GetUserROI()

	// check SPAD array bounds
	if width > SpadArrayWidth {
		width = SpadArrayWidth
	}

	if height > SpadArrayWidth {
		height = SpadArrayWidth
	}

	// force ROI to be centered if width or height > 10, matching what the ULD API
	// does.
	if width > 10 || height > 10 {
		roi.X, roi.Y = decodeCentreSpad(DefaultCentreSpad)
	}

	roi.Width = width
	roi.Height = height

	return v.SetUserROI(roi)
}

// SetROICenter sets the center SPAD number of the region of interest (ROI)
// based on VL53L1X_SetROICenter() from STSW-IMG009 Ultra Lite Driver
//
// ST user manual UM2555 explains ROI selection in detail. Here is a table of
// SPAD locations from UM2555 (199 is the default/center):
//
// 128,136,144,152,160,168,176,184,  192,200,208,216,224,232,240,248
// 129,137,145,153,161,169,177,185,  193,201,209,217,225,233,241,249
// 130,138,146,154,162,170,178,186,  194,202,210,218,226,234,242,250
// 131,139,147,155,163,171,179,187,  195,203,211,219,227,235,243,251
// 132,140,148,156,164,172,180,188,  196,204,212,220,228,236,244,252
// 133,141,149,157,165,173,181,189,  197,205,213,221,229,237,245,253
// 134,142,150,158,166,174,182,190,  198,206,214,222,230,238,246,254
// 135,143,151,159,167,175,183,191,  199,207,215,223,231,239,247,255
//
// 127,119,111,103, 95, 87, 79, 71,   63, 55, 47, 39, 31, 23, 15,  7
// 126,118,110,102, 94, 86, 78, 70,   62, 54, 46, 38, 30, 22, 14,  6
// 125,117,109,101, 93, 85, 77, 69,   61, 53, 45, 37, 29, 21, 13,  5
// 124,116,108,100, 92, 84, 76, 68,   60, 52, 44, 36, 28, 20, 12,  4
// 123,115,107, 99, 91, 83, 75, 67,   59, 51, 43, 35, 27, 19, 11,  3
// 122,114,106, 98, 90, 82, 74, 66,   58, 50, 42, 34, 26, 18, 10,  2
// 121,113,105, 97, 89, 81, 73, 65,   57, 49, 41, 33, 25, 17,  9,  1
// 120,112,104, 96, 88, 80, 72, 64,   56, 48, 40, 32, 24, 16,  8,  0 <- Pin 1
//
// The lens inverts the image it sees, so to shift the field of view towards
// the upper left pick a centre SPAD in the lower right.
func (v *VL53L1) SetROICenter(spadNumber uint8) error {

	roi := v.GetUserROI()
	roi.X, roi.Y = decodeCentreSpad(spadNumber)

	return v.SetUserROI(roi)
}

// GetROICenter returns the current center SPAD
func (v *VL53L1) GetROICenter() uint8 {
	return v.GetUserROI().CentreSpad()
}

// GetROISize returns the current ROI width and height
func (v *VL53L1) GetROISize() (width, height uint8) {

	roi := v.GetUserROI()

	return roi.Width, roi.Height
}
