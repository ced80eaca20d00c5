package vl53l1

import "fmt"

// PresetMode selects a device configuration for ranging or calibration.
type PresetMode int

const (
	PresetStandardRanging PresetMode = iota
	PresetShortRange
	PresetLongRange
	PresetMultizone
	PresetMM1Calibration
	PresetMM2Calibration
	PresetHistogramLongRange
	PresetHistogramMultizone
	PresetXtalkPlanar
	PresetRefSpadCharacterisation
	numPresetModes
)

var presetModeNames = [...]string{
	"standard ranging",
	"short range",
	"long range",
	"multizone",
	"mm1 calibration",
	"mm2 calibration",
	"histogram long range",
	"histogram multizone",
	"xtalk planar",
	"ref spad characterisation",
}

// String implement Stringer interface for PresetMode
func (p PresetMode) String() string {
	if p >= 0 && p < numPresetModes {
		return presetModeNames[p]
	}

	return fmt.Sprintf("preset mode %d", int(p))
}

// Sequence step enables for SYSTEM_SEQUENCE_CONFIG
const (
	sequenceVHV      uint8 = 0x01
	sequencePhasecal uint8 = 0x02
	sequenceRefPhase uint8 = 0x04
	sequenceDSS1     uint8 = 0x08
	sequenceDSS2     uint8 = 0x10
	sequenceMM1      uint8 = 0x20
	sequenceMM2      uint8 = 0x40
	sequenceRange    uint8 = 0x80
)

// DSS modes for DSS_CONFIG_ROI_MODE_CONTROL
const (
	dssModeTargetRate     uint8 = 0x01
	dssModeManualEffSpads uint8 = 0x02
)

// deviceSettings is the in-memory copy of the configuration written to the
// device when ranging starts.
type deviceSettings struct {
	// timing config
	vcselPeriodA   uint8
	vcselPeriodB   uint8
	validPhaseHigh uint8
	// phasecal and mode mitigation timeouts in microseconds
	phasecalTimeoutUs uint32
	mmTimeoutUs       uint32
	// range timeout per VCSEL period A and B in microseconds
	rangeTimeoutUs     uint32
	interMeasurementMs uint32

	// dynamic config
	woiSD0          uint8
	woiSD1          uint8
	initialPhaseSD0 uint8
	initialPhaseSD1 uint8
	sequenceConfig  uint8

	// general config
	dssMode        uint8
	dssTargetRate  uint16
	dssManualSpads uint16

	histogram bool
	multizone bool
	testMode  uint8
}

// baseSettings is standard ranging, from VL53L1_preset_mode_standard_ranging()
func baseSettings() deviceSettings {
	return deviceSettings{
		vcselPeriodA:       0x0B,
		vcselPeriodB:       0x09,
		validPhaseHigh:     0x78,
		phasecalTimeoutUs:  1000,
		mmTimeoutUs:        2000,
		rangeTimeoutUs:     13000,
		interMeasurementMs: 100,
		woiSD0:             0x0B,
		woiSD1:             0x09,
		initialPhaseSD0:    10,
		initialPhaseSD1:    10,
		sequenceConfig:     sequenceVHV | sequencePhasecal | sequenceDSS1 | sequenceDSS2 | sequenceRange,
		dssMode:            dssModeTargetRate,
		dssTargetRate:      TargetRate,
		dssManualSpads:     200 << 8,
	}
}

func shortRange(s *deviceSettings) {
	s.vcselPeriodA, s.vcselPeriodB, s.validPhaseHigh = 0x07, 0x05, 0x38
	s.woiSD0, s.woiSD1 = 0x07, 0x05
	s.initialPhaseSD0, s.initialPhaseSD1 = 6, 6
}

func longRange(s *deviceSettings) {
	s.vcselPeriodA, s.vcselPeriodB, s.validPhaseHigh = 0x0F, 0x0D, 0xB8
	s.woiSD0, s.woiSD1 = 0x0F, 0x0D
	s.initialPhaseSD0, s.initialPhaseSD1 = 14, 14
}

func mmCalibration(step uint8) func(*deviceSettings) {
	return func(s *deviceSettings) {
		s.sequenceConfig = sequenceVHV | sequencePhasecal | sequenceDSS1 | sequenceDSS2 | step
		s.dssMode = dssModeManualEffSpads
	}
}

func histogramRanging(s *deviceSettings) {
	longRange(s)
	s.histogram = true
}

// presetDeltas holds the differences of each preset mode from baseSettings
var presetDeltas = map[PresetMode][]func(*deviceSettings){
	PresetStandardRanging: nil,
	PresetShortRange:      {shortRange},
	PresetLongRange:       {longRange},
	PresetMultizone: {func(s *deviceSettings) {
		s.multizone = true
	}},
	PresetMM1Calibration:     {mmCalibration(sequenceMM1)},
	PresetMM2Calibration:     {mmCalibration(sequenceMM2)},
	PresetHistogramLongRange: {histogramRanging},
	PresetHistogramMultizone: {histogramRanging, func(s *deviceSettings) {
		s.multizone = true
	}},
	PresetXtalkPlanar: {func(s *deviceSettings) {
		s.multizone = true
		s.sequenceConfig = sequenceVHV | sequencePhasecal | sequenceDSS1 | sequenceRange
	}},
	PresetRefSpadCharacterisation: {func(s *deviceSettings) {
		s.sequenceConfig = sequenceVHV | sequencePhasecal | sequenceRefPhase
		s.testMode = testModeRefSpadChar
	}},
}

// testModeRefSpadChar is the TEST_MODE_CTRL value selecting reference SPAD
// characterisation
const testModeRefSpadChar uint8 = 0x08

// presetSettings builds the settings of a preset mode.
func presetSettings(mode PresetMode) (deviceSettings, error) {

	deltas, ok := presetDeltas[mode]

	if !ok {
		return deviceSettings{}, paramError("unknown preset mode %d", int(mode))
	}

	s := baseSettings()

	for _, d := range deltas {
		d(&s)
	}

	return s, nil
}

// SetPresetMode selects the configuration used by following ranging loops.
// The current timing budget is kept.
func (v *VL53L1) SetPresetMode(mode PresetMode) error {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.setPresetMode(mode)
}

func (v *VL53L1) setPresetMode(mode PresetMode) error {

	s, err := presetSettings(mode)

	if err != nil {
		return err
	}

	if v.timingBudget > 0 {
		if err := applyTimingBudget(&s, v.timingBudget); err != nil {
			return err
		}
	}

	v.preset = mode
	v.settings = s

	v.log.WithField("preset", mode).Debug("preset mode set")

	return nil
}

// PresetMode returns the active preset mode.
func (v *VL53L1) PresetMode() PresetMode {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.preset
}
