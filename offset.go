package vl53l1

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// OffsetTarget is the calibration target for offset calibration.
type OffsetTarget struct {
	CalDistanceMM  uint16
	ReflectancePct uint8
}

// Validate checks the calibration target.
func (t OffsetTarget) Validate() error {

	if t.CalDistanceMM == 0 {
		return paramError("offset calibration distance must be above zero")
	}

	if t.ReflectancePct == 0 || t.ReflectancePct > 100 {
		return paramError("target reflectance %d%% outside 1..100", t.ReflectancePct)
	}

	return nil
}

// OffsetSubMode is one ranging configuration measured by offset calibration.
type OffsetSubMode int

const (
	SubModePreRange OffsetSubMode = iota
	SubModeMM1
	SubModeMM2
)

// String implement Stringer interface for OffsetSubMode
func (s OffsetSubMode) String() string {
	switch s {
	case SubModePreRange:
		return "pre-range"
	case SubModeMM1:
		return "mm1"
	case SubModeMM2:
		return "mm2"
	default:
		return fmt.Sprintf("submode %d", int(s))
	}
}

// OffsetSubModeResult holds the averaged samples of one sub-mode.
type OffsetSubModeResult struct {
	SubMode   OffsetSubMode
	Preset    PresetMode
	Requested int
	Samples   uint32
	// averages, 8.8 SPADs, 9.7 mcps and 11.5 mm
	EffectiveSpads uint16
	PeakRateMCPS   uint16
	SigmaMM        uint16
	MedianRangeMM  int32
	// RangeOffsetMM is the calibration distance minus the median range
	RangeOffsetMM int32
}

// OffsetCalibrationResult is the outcome of offset calibration.
type OffsetCalibrationResult struct {
	CalDistanceMM uint16
	Mode          OffsetCalibrationMode
	SubModes      []OffsetSubModeResult
	// offsets as written to the customer registers, part to part in 14.2 mm
	// and mode mitigation in mm
	PartToPartRangeOffsetMM int16
	MMInnerOffsetMM         int16
	MMOuterOffsetMM         int16
	Dmax                    DmaxCalibration
}

// offsetSubModes lists the sub-modes measured in order with their preset
var offsetSubModes = []struct {
	mode   OffsetSubMode
	preset PresetMode
}{
	{SubModePreRange, PresetStandardRanging},
	{SubModeMM1, PresetMM1Calibration},
	{SubModeMM2, PresetMM2Calibration},
}

// RunOffsetCalibration measures a target at a known distance and derives the
// range offsets. The existing offsets are zeroed while measuring and put back
// unless calibration succeeds or warns. A warning from a later sub-mode never
// replaces an error from an earlier one. Based on VL53L1_run_offset_calibration()
func (v *VL53L1) RunOffsetCalibration(target OffsetTarget) (result *OffsetCalibrationResult,
	status CalibrationStatus, err error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	log := v.procedureLog("offset").WithField("distance", target.CalDistanceMM)

	if err := target.Validate(); err != nil {
		return nil, failed(log, err), err
	}

	if err := v.requireIdle(); err != nil {
		return nil, failed(log, err), err
	}

	log.WithField("mode", v.offsetMode).Info("calibration started")

	saved := v.saveState()
	cust := &v.cal.Customer
	savedOffsets := [3]int16{cust.PartToPartRangeOffsetMM, cust.MMInnerOffsetMM, cust.MMOuterOffsetMM}
	persist := false

	defer func() {
		if !persist {
			cust.PartToPartRangeOffsetMM = savedOffsets[0]
			cust.MMInnerOffsetMM = savedOffsets[1]
			cust.MMOuterOffsetMM = savedOffsets[2]
		}

		rerr := v.restoreState(saved)

		if werr := v.writeCustomerCalibration(); rerr == nil {
			rerr = werr
		}

		if err == nil && rerr != nil {
			err = errors.Wrap(rerr, "restore after offset calibration")
			result, status = nil, failed(log, err)
		}
	}()

	// measure raw ranges
	cust.PartToPartRangeOffsetMM, cust.MMInnerOffsetMM, cust.MMOuterOffsetMM = 0, 0, 0

	res := &OffsetCalibrationResult{CalDistanceMM: target.CalDistanceMM, Mode: v.offsetMode}
	requested := []int{v.tuning.OffsetPreRangeSamples, v.tuning.OffsetMM1Samples, v.tuning.OffsetMM2Samples}

	subModes := offsetSubModes

	if v.offsetMode == OffsetModePreRangeOnly {
		subModes = subModes[:1]
	}

	c := statusClassifier{}
	var preRangeSpads uint16

	for _, sm := range subModes {

		n := requested[sm.mode]

		sub, err := v.offsetSubMode(sm.mode, sm.preset, n, preRangeSpads, log)

		if err != nil {
			return nil, failed(log, err), err
		}

		sub.RangeOffsetMM = int32(target.CalDistanceMM) - sub.MedianRangeMM
		res.SubModes = append(res.SubModes, sub)

		v.classifyOffsetSubMode(&c, sub)

		if sm.mode == SubModePreRange {
			preRangeSpads = sub.EffectiveSpads
		}
	}

	status = c.result()

	if status.IsError() {
		finished(log, status)
		return res, status, nil
	}

	pre := res.SubModes[0]

	switch v.offsetMode {
	case OffsetModePreRangeOnly:
		res.PartToPartRangeOffsetMM = int16(clampInt64(int64(pre.RangeOffsetMM)*4, -0x8000, 0x7FFF))
	default:
		res.MMInnerOffsetMM = int16(clampInt64(int64(res.SubModes[SubModeMM1].RangeOffsetMM), -0x8000, 0x7FFF))
		res.MMOuterOffsetMM = int16(clampInt64(int64(res.SubModes[SubModeMM2].RangeOffsetMM), -0x8000, 0x7FFF))
	}

	res.Dmax = DmaxCalibration{
		RefDistanceMM:         target.CalDistanceMM,
		RefReflectancePct:     target.ReflectancePct,
		RefPeakSignalRateMCPS: pre.PeakRateMCPS,
		RefEffectiveSpads:     pre.EffectiveSpads,
	}

	cust.PartToPartRangeOffsetMM = res.PartToPartRangeOffsetMM
	cust.MMInnerOffsetMM = res.MMInnerOffsetMM
	cust.MMOuterOffsetMM = res.MMOuterOffsetMM
	v.cal.Dmax = res.Dmax
	persist = true

	log.WithFields(logrus.Fields{
		"partToPart": res.PartToPartRangeOffsetMM,
		"inner":      res.MMInnerOffsetMM,
		"outer":      res.MMOuterOffsetMM,
	}).Debug("offsets")

	finished(log, status)

	return res, status, nil
}

// offsetSubMode ranges n+2 cycles in one sub-mode, accumulating the nearest
// completed target of every cycle after the first
func (v *VL53L1) offsetSubMode(mode OffsetSubMode, preset PresetMode, n int,
	manualSpads uint16, log logrus.FieldLogger) (OffsetSubModeResult, error) {

	sub := OffsetSubModeResult{SubMode: mode, Preset: preset, Requested: n}

	if err := v.setPresetMode(preset); err != nil {
		return sub, err
	}

	v.zones = singleZone(v.zones)

	if manualSpads > 0 {
		v.settings.dssMode = dssModeManualEffSpads
		v.settings.dssManualSpads = manualSpads
	}

	var acc Accumulator

	err := v.rangeCycles(ModeBackToBack, ConfigFull, n+2, func(m *Measurement) error {

		if m.Cycle == 0 || m.Status != DeviceRangeComplete || acc.Count() >= uint32(n) {
			return nil
		}

		added := acc.AddNearest(completedTargets(m.Targets), SampleFilter{})

		log.WithFields(logrus.Fields{
			"submode": mode,
			"cycle":   m.Cycle,
			"added":   added,
		}).Debug("offset sample")

		return nil
	})

	if err != nil {
		return sub, errors.Wrapf(err, "%s", mode)
	}

	sub.Samples = acc.Count()
	sub.EffectiveSpads = uint16(acc.Average(StatEffectiveSpads))
	sub.PeakRateMCPS = uint16(acc.Average(StatPeakSignalRate))
	sub.SigmaMM = uint16(acc.Average(StatSigma))
	sub.MedianRangeMM = int32(acc.Average(StatMedianRange))

	return sub, nil
}

// classifyOffsetSubMode records the sample adequacy of one sub-mode
func (v *VL53L1) classifyOffsetSubMode(c *statusClassifier, sub OffsetSubModeResult) {

	if sub.Samples == 0 {
		c.record(NoSampleFail)
		return
	}

	if sub.EffectiveSpads == 0 {
		c.record(NoSpadsEnabledFail)
		return
	}

	if sub.EffectiveSpads < v.tuning.OffsetMinSpads {
		c.record(SpadCountTooLow)
	}

	if sub.PeakRateMCPS > v.tuning.OffsetMaxRateMCPS {
		c.record(RateTooHigh)
	}

	if sub.SubMode == SubModePreRange && sub.SigmaMM > v.tuning.OffsetMaxSigmaMM {
		c.record(SigmaTooHigh)
	}

	if int(sub.Samples) < sub.Requested {
		c.record(MissingSamples)
	}
}
