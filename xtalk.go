package vl53l1

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// xtalkRegions is the number of regions sampled by rate based extraction,
// four quadrants and the full field reference
const xtalkRegions = xtalkReferenceRegion + 1

// XtalkCalibrationResult holds the crosstalk compensation derived by either
// extraction procedure.
type XtalkCalibrationResult struct {
	// plane offset in 7.9 kcps per SPAD
	PlaneOffsetKcps uint32
	// gradients in 5.11 kcps per SPAD
	XPlaneGradient int16
	YPlaneGradient int16
	// range ignore threshold in 3.13 mcps
	RangeIgnoreThresholdMCPS uint16
	// Regions holds the per region averages of rate based extraction
	Regions []XtalkRegionStats
	// Shape is set by histogram extraction only
	Shape *XtalkHistogramShape
}

// RunXtalkExtraction measures crosstalk with no target in the field of view
// over four quadrants and the full array and fits the compensation plane.
// Compensation is disabled while sampling and enabled again on return, with
// the previous coefficients kept unless extraction succeeds. Based on
// VL53L1_run_xtalk_extraction()
func (v *VL53L1) RunXtalkExtraction() (result *XtalkCalibrationResult, status CalibrationStatus, err error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	log := v.procedureLog("xtalk")

	if err := v.requireIdle(); err != nil {
		return nil, failed(log, err), err
	}

	log.Info("calibration started")

	saved := v.saveState()

	defer func() {
		rerr := v.restoreState(saved)

		if cerr := v.setXtalkCompensation(true); rerr == nil {
			rerr = cerr
		}

		if err == nil && rerr != nil {
			err = errors.Wrap(rerr, "restore after xtalk extraction")
			result, status = nil, failed(log, err)
		}
	}()

	if err := v.setXtalkCompensation(false); err != nil {
		return nil, failed(log, err), err
	}

	if err := v.setPresetMode(PresetXtalkPlanar); err != nil {
		return nil, failed(log, err), err
	}

	if v.zones, err = NewZoneConfig(ZonesXtalkPlanar); err != nil {
		return nil, failed(log, err), err
	}

	bank, err := NewAccumulatorBank(xtalkRegions)

	if err != nil {
		return nil, failed(log, err), err
	}

	samples := v.tuning.XtalkSamples
	filter := v.tuning.XtalkFilter

	err = v.rangeCycles(ModeBackToBack, ConfigFull, (samples+1)*xtalkRegions, func(m *Measurement) error {

		// first pass over the regions settles the device
		if m.Cycle < xtalkRegions {
			return nil
		}

		acc, err := bank.Bucket(m.ZoneID)

		if err != nil {
			return err
		}

		added := acc.AddNearest(completedTargets(m.Targets), filter)

		log.WithFields(logrus.Fields{
			"cycle":  m.Cycle,
			"region": m.ZoneID,
			"added":  added,
		}).Debug("xtalk sample")

		return nil
	})

	if err != nil {
		return nil, failed(log, err), err
	}

	res := &XtalkCalibrationResult{}
	c := statusClassifier{}

	for id := 0; id < xtalkRegions; id++ {

		acc, _ := bank.Bucket(id)

		res.Regions = append(res.Regions, XtalkRegionStats{
			ROI:             v.zones.Zones[id],
			Samples:         acc.Count(),
			RatePerSpadKcps: uint32(acc.Average(StatRatePerSpad)),
			SigmaMM:         uint16(acc.Average(StatSigma)),
		})
	}

	// quadrants only degrade the gradient
	for id := 0; id < xtalkReferenceRegion; id++ {

		acc, _ := bank.Bucket(id)

		if acc.Count() == 0 {
			c.record(NoSamplesForGradient)
			continue
		}

		if res.Regions[id].SigmaMM > v.tuning.XtalkMaxSigmaMM {
			c.record(SigmaLimitForGradient)
		}

		c.checkCount(acc, samples)
	}

	ref, _ := bank.Bucket(xtalkReferenceRegion)

	if c.requireSamples(ref) {

		if res.Regions[xtalkReferenceRegion].SigmaMM > v.tuning.XtalkMaxSigmaMM {
			c.record(SigmaLimitFail)
		}

		c.checkCount(ref, samples)
	}

	status = c.result()

	if status.IsError() {
		finished(log, status)
		return res, status, nil
	}

	plane, err := v.sp.SolveXtalkPlane(res.Regions, v.die.OpticalCentre)

	if err != nil {
		err = errors.Wrap(err, "xtalk plane")
		return nil, failed(log, err), err
	}

	res.PlaneOffsetKcps = plane.OffsetKcps
	res.XPlaneGradient = plane.XGradient
	res.YPlaneGradient = plane.YGradient
	res.RangeIgnoreThresholdMCPS = rangeIgnoreThreshold(plane.OffsetKcps, v.tuning.XtalkRangeIgnoreMult)

	v.storeXtalk(res)

	log.WithFields(logrus.Fields{
		"offsetKcps": res.PlaneOffsetKcps,
		"xGradient":  res.XPlaneGradient,
		"yGradient":  res.YPlaneGradient,
	}).Debug("xtalk plane")

	finished(log, status)

	return res, status, nil
}

// storeXtalk writes an extraction result into the calibration data. The
// registers are written when compensation is enabled again.
func (v *VL53L1) storeXtalk(res *XtalkCalibrationResult) {

	c := &v.cal.Customer
	c.XtalkPlaneOffsetKcps = res.PlaneOffsetKcps
	c.XtalkXPlaneGradient = res.XPlaneGradient
	c.XtalkYPlaneGradient = res.YPlaneGradient

	v.cal.XtalkRangeIgnoreThresholdMCPS = res.RangeIgnoreThresholdMCPS

	if res.Shape != nil {
		v.cal.XtalkShape = *res.Shape
	}
}
