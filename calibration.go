package vl53l1

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// CalibrationDataVersion is the StructVersion of CalibrationData accepted by
// SetCalibrationData
const CalibrationDataVersion uint32 = 0x00010002

// CustomerCalibration is the part of the calibration data written to the
// customer registers of the device.
type CustomerCalibration struct {
	SpadEnablesRef             [6]uint8
	RefEnStartSelect           uint8
	RefSpadManNumRequestedSpad uint8
	RefSpadManRefLocation      uint8
	// plane offset in 7.9 kcps per SPAD
	XtalkPlaneOffsetKcps uint32
	// gradients in 5.11 kcps per SPAD
	XtalkXPlaneGradient int16
	XtalkYPlaneGradient int16
	// reference SPAD characterisation rate target, 9.7 mcps
	RefSpadCharTotalRateTargetMCPS uint16
	// part to part offset in 14.2 mm
	PartToPartRangeOffsetMM int16
	MMInnerOffsetMM         int16
	MMOuterOffsetMM         int16
}

// XtalkHistogramShape is the normalised crosstalk histogram captured by
// histogram crosstalk extraction.
type XtalkHistogramShape struct {
	ZeroDistancePhase uint16
	VcselPeriod       uint8
	// bins sum to 1000
	Bins [HistogramBins]uint32
}

// DmaxCalibration is the reference measurement Dmax estimates scale from.
type DmaxCalibration struct {
	RefDistanceMM         uint16
	RefReflectancePct     uint8
	RefPeakSignalRateMCPS uint16
	RefEffectiveSpads     uint16
}

// ZoneCalibrationEntry is the stored offset of one zone.
type ZoneCalibrationEntry struct {
	// range offset in 14.2 mm
	RangeOffsetMM int32
	// median range measured during calibration in 14.2 mm
	MedianRangeMM  int32
	PeakRateMCPS   uint16
	EffectiveSpads uint16
}

// ZoneCalibrationData holds the per zone offsets for a zone preset.
type ZoneCalibrationData struct {
	Preset            ZonePreset
	ZeroDistancePhase uint16
	PhaseCalRefPhase  uint16
	Zones             []ZoneCalibrationEntry
}

// CalibrationData is everything calibration produces for one device. It can
// be read back and re-applied on a later power up.
type CalibrationData struct {
	StructVersion uint32
	Customer      CustomerCalibration
	// range ignore threshold derived from the crosstalk plane, 3.13 mcps
	XtalkRangeIgnoreThresholdMCPS uint16
	XtalkShape                    XtalkHistogramShape
	Dmax                          DmaxCalibration
	Zones                         ZoneCalibrationData
}

// Validate checks the version and bounds of calibration data.
func (d *CalibrationData) Validate() error {

	if d.StructVersion != CalibrationDataVersion {
		return paramError("calibration data version 0x%08X, want 0x%08X",
			d.StructVersion, CalibrationDataVersion)
	}

	if len(d.Zones.Zones) > MaxUserZones {
		return paramError("calibration data has %d zones, maximum %d",
			len(d.Zones.Zones), MaxUserZones)
	}

	return nil
}

// clone returns a deep copy
func (d CalibrationData) clone() CalibrationData {

	d.Zones.Zones = append([]ZoneCalibrationEntry(nil), d.Zones.Zones...)
	return d
}

// GetCalibrationData returns a copy of the current calibration data.
func (v *VL53L1) GetCalibrationData() CalibrationData {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.cal.clone()
}

// SetCalibrationData validates data, stores it and writes the customer
// registers. Invalid data is rejected before any register access.
func (v *VL53L1) SetCalibrationData(data CalibrationData) error {

	if err := data.Validate(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.cal = data.clone()

	return v.writeCustomerCalibration()
}

// customerGroup returns the customer registers for the calibration data. The
// crosstalk plane is only written while compensation is enabled.
func (v *VL53L1) customerGroup() []regWrite {

	c := &v.cal.Customer

	group := []regWrite{
		{reg: GLOBAL_CONFIG_SPAD_ENABLES_REF_0, data: c.SpadEnablesRef[:]},
		reg8(GLOBAL_CONFIG_REF_EN_START_SELECT, c.RefEnStartSelect),
		reg8(REF_SPAD_MAN_NUM_REQUESTED_REF_SPADS, c.RefSpadManNumRequestedSpad),
		reg8(REF_SPAD_MAN_REF_LOCATION, c.RefSpadManRefLocation),
		reg16(REF_SPAD_CHAR_TOTAL_RATE_TARGET_MCPS, c.RefSpadCharTotalRateTargetMCPS),
		reg16(ALGO_PART_TO_PART_RANGE_OFFSET_MM, uint16(c.PartToPartRangeOffsetMM)),
		reg16(MM_CONFIG_INNER_OFFSET_MM, uint16(c.MMInnerOffsetMM)),
		reg16(MM_CONFIG_OUTER_OFFSET_MM, uint16(c.MMOuterOffsetMM)),
	}

	var offset uint32
	var xGrad, yGrad int16
	var ignore uint16

	if v.xtalkEnabled {
		offset = c.XtalkPlaneOffsetKcps
		xGrad, yGrad = c.XtalkXPlaneGradient, c.XtalkYPlaneGradient
		ignore = v.cal.XtalkRangeIgnoreThresholdMCPS
	}

	if offset > 0xFFFF {
		offset = 0xFFFF
	}

	return append(group,
		reg16(ALGO_CROSSTALK_COMPENSATION_PLANE_OFFSET_KCPS, uint16(offset)),
		reg16(ALGO_CROSSTALK_COMPENSATION_X_PLANE_GRADIENT, uint16(xGrad)),
		reg16(ALGO_CROSSTALK_COMPENSATION_Y_PLANE_GRADIENT, uint16(yGrad)),
		reg16(ALGO_RANGE_IGNORE_THRESHOLD_MCPS, ignore),
	)
}

// writeCustomerCalibration writes the customer registers from the in-memory
// calibration data
func (v *VL53L1) writeCustomerCalibration() error {
	return v.writeGroup("customer", v.customerGroup())
}

// readCustomerCalibration loads the customer registers into the in-memory
// calibration data
func (v *VL53L1) readCustomerCalibration() error {

	c := &v.cal.Customer

	buf := make([]byte, 0x24-int(GLOBAL_CONFIG_SPAD_ENABLES_REF_0))

	if err := v.readBlock(GLOBAL_CONFIG_SPAD_ENABLES_REF_0, buf); err != nil {
		return errors.Wrap(err, "read customer calibration")
	}

	at := func(reg uint16) []byte {
		return buf[reg-GLOBAL_CONFIG_SPAD_ENABLES_REF_0:]
	}

	copy(c.SpadEnablesRef[:], at(GLOBAL_CONFIG_SPAD_ENABLES_REF_0))
	c.RefEnStartSelect = at(GLOBAL_CONFIG_REF_EN_START_SELECT)[0]
	c.RefSpadManNumRequestedSpad = at(REF_SPAD_MAN_NUM_REQUESTED_REF_SPADS)[0]
	c.RefSpadManRefLocation = at(REF_SPAD_MAN_REF_LOCATION)[0]
	c.XtalkPlaneOffsetKcps = uint32(be16(at(ALGO_CROSSTALK_COMPENSATION_PLANE_OFFSET_KCPS)))
	c.XtalkXPlaneGradient = int16(be16(at(ALGO_CROSSTALK_COMPENSATION_X_PLANE_GRADIENT)))
	c.XtalkYPlaneGradient = int16(be16(at(ALGO_CROSSTALK_COMPENSATION_Y_PLANE_GRADIENT)))
	c.RefSpadCharTotalRateTargetMCPS = be16(at(REF_SPAD_CHAR_TOTAL_RATE_TARGET_MCPS))
	c.PartToPartRangeOffsetMM = int16(be16(at(ALGO_PART_TO_PART_RANGE_OFFSET_MM)))
	c.MMInnerOffsetMM = int16(be16(at(MM_CONFIG_INNER_OFFSET_MM)))
	c.MMOuterOffsetMM = int16(be16(at(MM_CONFIG_OUTER_OFFSET_MM)))

	v.cal.StructVersion = CalibrationDataVersion

	return nil
}

// EnableXtalkCompensation writes the stored crosstalk plane to the device
func (v *VL53L1) EnableXtalkCompensation() error {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.setXtalkCompensation(true)
}

// DisableXtalkCompensation zeroes the crosstalk plane on the device, keeping
// the stored coefficients
func (v *VL53L1) DisableXtalkCompensation() error {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.setXtalkCompensation(false)
}

// XtalkCompensationEnabled reports whether crosstalk compensation is applied
func (v *VL53L1) XtalkCompensationEnabled() bool {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.xtalkEnabled
}

func (v *VL53L1) setXtalkCompensation(enable bool) error {

	v.xtalkEnabled = enable

	v.log.WithFields(logrus.Fields{
		"enabled":    enable,
		"offsetKcps": v.cal.Customer.XtalkPlaneOffsetKcps,
	}).Debug("crosstalk compensation")

	return v.writeCustomerCalibration()
}

// rangeIgnoreThreshold derives the range ignore threshold from the plane
// offset and the tuning multiplier in 3.5 format, clipped to 16 bits
func rangeIgnoreThreshold(planeOffsetKcps uint32, mult uint8) uint16 {

	threshold := (uint64(planeOffsetKcps) * uint64(mult)) >> 5

	if threshold > 0xFFFF {
		threshold = 0xFFFF
	}

	return uint16(threshold)
}

// OffsetCalibrationMode selects how offset calibration results are applied.
type OffsetCalibrationMode int

const (
	// OffsetModeStandard applies the MM1 and MM2 offsets directly
	OffsetModeStandard OffsetCalibrationMode = iota
	// OffsetModePreRangeOnly derives the part to part offset from the
	// pre-range result only
	OffsetModePreRangeOnly
)

// SetOffsetCalibrationMode selects how offset calibration is persisted
func (v *VL53L1) SetOffsetCalibrationMode(mode OffsetCalibrationMode) error {

	if mode != OffsetModeStandard && mode != OffsetModePreRangeOnly {
		return paramError("unknown offset calibration mode %d", int(mode))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.offsetMode = mode
	return nil
}

// EstimateDmax returns the maximum detectable distance for an ambient rate
// and target reflectance using the stored Dmax reference.
func (v *VL53L1) EstimateDmax(ambientRateMCPS uint16, reflectancePct uint8) uint16 {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.sp.EstimateDmax(v.cal.Dmax, ambientRateMCPS, reflectancePct)
}
