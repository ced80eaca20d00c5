package vl53l1

import "fmt"

// DistanceMode represents the selected ranging mode of sensor
type DistanceMode int

const (
	// Short distance mode is limited to 1.3m range in ambient and dark light
	Short DistanceMode = iota
	// Medium distance mode is limited to 2.9m in dark and 76cm in ambient light
	Medium
	// Long distance mode is limited to 3.6m in dark and 73cm in ambient light
	Long
)

// distancePresets maps each DistanceMode onto its preset mode
var distancePresets = map[DistanceMode]PresetMode{
	Short:  PresetShortRange,
	Medium: PresetStandardRanging,
	Long:   PresetLongRange,
}

// SetDistanceMode configures the sensor for Short, Medium, or Long range.
func (v *VL53L1) SetDistanceMode(mode DistanceMode) error {

	preset, ok := distancePresets[mode]

	if !ok {
		return paramError("unrecognized distance mode %d", int(mode))
	}

	return v.SetPresetMode(preset)
}

// GetDistanceMode returns the sensors current DistanceMode setting, defaulting
// to Medium for presets that are not a plain distance mode
func (v *VL53L1) GetDistanceMode() DistanceMode {

	preset := v.PresetMode()

	for mode, p := range distancePresets {
		if p == preset {
			return mode
		}
	}

	return Medium
}

// SetMeasurementTimingBudget sets the timing budget in milliseconds for one
// measurement, which is the time allowed for sensor to take one measurement
func (v *VL53L1) SetMeasurementTimingBudget(budget uint32) error {

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := applyTimingBudget(&v.settings, budget); err != nil {
		return err
	}

	v.timingBudget = budget
	return nil
}

// GetMeasurementTimingBudget returns the current timing budget in milliseconds
func (v *VL53L1) GetMeasurementTimingBudget() uint32 {

	v.mu.Lock()
	defer v.mu.Unlock()

	return (2*v.settings.rangeTimeoutUs + TimingGuard) / 1000
}

// SetInterMeasurementPeriod sets the period in milliseconds between the starts
// of two timed measurements
func (v *VL53L1) SetInterMeasurementPeriod(periodMs uint32) error {

	v.mu.Lock()
	defer v.mu.Unlock()

	if periodMs < v.timingBudget {
		return paramError("inter measurement period %dms shorter than timing budget %dms",
			periodMs, v.timingBudget)
	}

	v.settings.interMeasurementMs = periodMs
	return nil
}

// applyTimingBudget splits a timing budget in milliseconds into the range
// timeout of each of the two VCSEL periods
func applyTimingBudget(s *deviceSettings, budget uint32) error {

	// convert milliseconds to microseconds
	budgetUs := budget * 1000

	if budgetUs <= TimingGuard {
		return paramError("timing budget too low")
	}

	rangeTimeoutUs := budgetUs - TimingGuard
	rangeTimeoutUs /= 2

	if rangeTimeoutUs > 1100000 {
		return paramError("timing budget too high")
	}

	s.rangeTimeoutUs = rangeTimeoutUs
	return nil
}

// timingGroup returns the timing config registers for the settings.
func timingGroup(s *deviceSettings, fastOscFrequency, oscCalibrateVal uint16) ([]regWrite, error) {

	if fastOscFrequency == 0 {
		return nil, fmt.Errorf("fast oscillator frequency not measured")
	}

	// Range A VCSEL period
	macroPeriodUs := calcMacroPeriod(s.vcselPeriodA, fastOscFrequency)

	// Phase timeout - uses Timing A
	phasecalTimeoutMclks := timeoutMicrosecondsToMclks(s.phasecalTimeoutUs, macroPeriodUs)

	if phasecalTimeoutMclks > 0xFF {
		phasecalTimeoutMclks = 0xFF
	}

	mmTimeoutA := timeoutMicrosecondsToMclks(s.mmTimeoutUs, macroPeriodUs)
	rangeTimeoutA := timeoutMicrosecondsToMclks(s.rangeTimeoutUs, macroPeriodUs)

	// Range B VCSEL period
	macroPeriodUs = calcMacroPeriod(s.vcselPeriodB, fastOscFrequency)

	mmTimeoutB := timeoutMicrosecondsToMclks(s.mmTimeoutUs, macroPeriodUs)
	rangeTimeoutB := timeoutMicrosecondsToMclks(s.rangeTimeoutUs, macroPeriodUs)

	return []regWrite{
		reg8(RANGE_CONFIG_VCSEL_PERIOD_A, s.vcselPeriodA),
		reg8(RANGE_CONFIG_VCSEL_PERIOD_B, s.vcselPeriodB),
		reg8(RANGE_CONFIG_VALID_PHASE_HIGH, s.validPhaseHigh),
		reg8(PHASECAL_CONFIG_TIMEOUT_MACROP, uint8(phasecalTimeoutMclks)),
		reg16(MM_CONFIG_TIMEOUT_MACROP_A, encodeTimeout(mmTimeoutA)),
		reg16(RANGE_CONFIG_TIMEOUT_MACROP_A, encodeTimeout(rangeTimeoutA)),
		reg16(MM_CONFIG_TIMEOUT_MACROP_B, encodeTimeout(mmTimeoutB)),
		reg16(RANGE_CONFIG_TIMEOUT_MACROP_B, encodeTimeout(rangeTimeoutB)),
		// period * osc_calibrate_val
		reg32(SYSTEM_INTERMEASUREMENT_PERIOD, s.interMeasurementMs*uint32(oscCalibrateVal)),
	}, nil
}

// decodeTimeout decode sequence step timeout in MCLKs from register value
// based on VL53L1_decode_timeout()
func decodeTimeout(regVal uint16) uint32 {
	return (uint32(regVal&0xFF) << (regVal >> 8)) + 1
}

// encodeTimeout encode sequence step timeout register value from timeout in MCLKs
// based on VL53L1_encode_timeout()
func encodeTimeout(timeoutMclks uint32) uint16 {
	var lsByte uint32
	var msByte uint16 = 0

	if timeoutMclks > 0 {
		lsByte = timeoutMclks - 1

		for lsByte&0xFFFFFF00 > 0 {
			lsByte >>= 1
			msByte++
		}

		return (msByte << 8) | uint16(lsByte&0xFF)
	}

	return 0
}

// timeoutMclksToMicroseconds convert sequence step timeout from macro periods
// to microseconds with given macro period in microseconds (12.12 format)
// based on VL53L1_calc_timeout_us()
func timeoutMclksToMicroseconds(timeoutMclks, macroPeriodUs uint32) uint32 {
	return ((timeoutMclks * macroPeriodUs) + 0x800) >> 12
}

// timeoutMicrosecondsToMclks convert sequence step timeout from microseconds
// to macro periods with given macro period in microseconds (12.12 format)
// based on VL53L1_calc_timeout_mclks()
func timeoutMicrosecondsToMclks(timeoutUs, macroPeriodUs uint32) uint32 {
	return (((timeoutUs << 12) + (macroPeriodUs >> 1)) / macroPeriodUs)
}

// calcMacroPeriod calculate macro period in microseconds (12.12 format) with
// given VCSEL period based on VL53L1_calc_macro_period_us()
func calcMacroPeriod(vcselPeriod uint8, fastOscFrequency uint16) uint32 {

	pllPeriodUs := calcPLLPeriodUs(fastOscFrequency)

	vcselPeriodPclks := decodeVcselPeriod(vcselPeriod)

	// VL53L1_MACRO_PERIOD_VCSEL_PERIODS = 2304
	macroPeriodUs := 2304 * pllPeriodUs
	macroPeriodUs >>= 6
	macroPeriodUs *= vcselPeriodPclks
	macroPeriodUs >>= 6

	return macroPeriodUs
}
