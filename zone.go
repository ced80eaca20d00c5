package vl53l1

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ZoneTarget is the calibration target and zone layout for zone calibration.
// Zones is only used with ZonesCustom.
type ZoneTarget struct {
	CalDistanceMM uint16
	Preset        ZonePreset
	Zones         []UserROI
}

// zoneConfig validates the target and returns its layout
func (t ZoneTarget) zoneConfig() (ZoneConfig, error) {

	if t.CalDistanceMM == 0 {
		return ZoneConfig{}, paramError("zone calibration distance must be above zero")
	}

	if t.Preset == ZonesCustom {
		return NewCustomZoneConfig(t.Zones)
	}

	return NewZoneConfig(t.Preset)
}

// ZoneResult holds the averaged samples and offset of one zone.
type ZoneResult struct {
	ZoneID    int
	ROI       UserROI
	Requested int
	Samples   uint32
	// averages, 8.8 SPADs, 9.7 mcps, 11.5 mm and 5.11 phase
	EffectiveSpads uint16
	PeakRateMCPS   uint16
	SigmaMM        uint16
	Phase          uint16
	// range from phase and offset in 14.2 mm
	MedianRangeMM int32
	RangeOffsetMM int32
}

// ZoneCalibrationResult is the outcome of zone calibration.
type ZoneCalibrationResult struct {
	Preset            ZonePreset
	CalDistanceMM     uint16
	ZeroDistancePhase uint16
	PhaseCalRefPhase  uint16
	PhaseSamples      uint32
	Zones             []ZoneResult
}

// RunZoneCalibration ranges a flat target at a known distance with each zone
// of the layout in turn and derives a range offset per zone from the averaged
// phase. The status is the last check to fail over all zones, except that a
// warning from a later zone never replaces an error. Based on VL53L1_run_zone_calibration()
func (v *VL53L1) RunZoneCalibration(target ZoneTarget) (result *ZoneCalibrationResult,
	status CalibrationStatus, err error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	log := v.procedureLog("zone").WithField("distance", target.CalDistanceMM)

	zones, err := target.zoneConfig()

	if err != nil {
		return nil, failed(log, err), err
	}

	if err := v.requireIdle(); err != nil {
		return nil, failed(log, err), err
	}

	log.WithField("zones", zones.Active()).Info("calibration started")

	saved := v.saveState()

	defer func() {
		if rerr := v.restoreState(saved); err == nil && rerr != nil {
			err = errors.Wrap(rerr, "restore after zone calibration")
			result, status = nil, failed(log, err)
		}
	}()

	if err := v.setPresetMode(PresetMultizone); err != nil {
		return nil, failed(log, err), err
	}

	v.zones = zones

	n := zones.Active()
	samples := v.tuning.ZoneSamples

	bank, err := NewAccumulatorBank(n)

	if err != nil {
		return nil, failed(log, err), err
	}

	err = v.rangeCycles(ModeBackToBack, ConfigFull, (samples+2)*n, func(m *Measurement) error {

		// first pass over the zones settles the device
		if m.Cycle < n || m.Status != DeviceRangeComplete {
			return nil
		}

		acc, err := bank.Bucket(m.ZoneID)

		if err != nil {
			return err
		}

		if acc.Count() >= uint32(samples) {
			return nil
		}

		added := acc.AddNearest(completedTargets(m.Targets), SampleFilter{})

		log.WithFields(logrus.Fields{
			"cycle": m.Cycle,
			"zone":  m.ZoneID,
			"added": added,
		}).Debug("zone sample")

		return nil
	})

	if err != nil {
		return nil, failed(log, err), err
	}

	zero, ref, err := v.zonePhaseReference(log)

	if err != nil {
		return nil, failed(log, err), err
	}

	res := &ZoneCalibrationResult{
		Preset:            zones.Preset,
		CalDistanceMM:     target.CalDistanceMM,
		ZeroDistancePhase: uint16(zero.Average(StatPhase)),
		PhaseCalRefPhase:  uint16(ref.Average(StatPhase)),
		PhaseSamples:      zero.Count(),
	}

	c := statusClassifier{}
	c.requireSamples(zero)

	pllPeriodMM := calcPLLPeriodMM(v.fastOscFrequency)

	for id := 0; id < n; id++ {

		acc, _ := bank.Bucket(id)

		z := ZoneResult{
			ZoneID:         id,
			ROI:            zones.Zones[id],
			Requested:      samples,
			Samples:        acc.Count(),
			EffectiveSpads: uint16(acc.Average(StatEffectiveSpads)),
			PeakRateMCPS:   uint16(acc.Average(StatPeakSignalRate)),
			SigmaMM:        uint16(acc.Average(StatSigma)),
			Phase:          uint16(acc.Average(StatPhase)),
		}

		if acc.Count() > 0 {
			z.MedianRangeMM = rangeFromPhase(z.Phase, res.ZeroDistancePhase, pllPeriodMM)
			z.RangeOffsetMM = int32(target.CalDistanceMM)*4 - z.MedianRangeMM
		}

		res.Zones = append(res.Zones, z)

		v.classifyZone(&c, acc, z)
	}

	status = c.result()

	if status.IsError() {
		finished(log, status)
		return res, status, nil
	}

	entries := make([]ZoneCalibrationEntry, 0, n)

	for _, z := range res.Zones {
		entries = append(entries, ZoneCalibrationEntry{
			RangeOffsetMM:  z.RangeOffsetMM,
			MedianRangeMM:  z.MedianRangeMM,
			PeakRateMCPS:   z.PeakRateMCPS,
			EffectiveSpads: z.EffectiveSpads,
		})
	}

	v.cal.Zones = ZoneCalibrationData{
		Preset:            res.Preset,
		ZeroDistancePhase: res.ZeroDistancePhase,
		PhaseCalRefPhase:  res.PhaseCalRefPhase,
		Zones:             entries,
	}

	finished(log, status)

	return res, status, nil
}

// zonePhaseReference averages the zero distance phase and the phasecal
// reference phase over a histogram loop of two cycles per sample on the full
// array, taking the second cycle of each pair.
func (v *VL53L1) zonePhaseReference(log logrus.FieldLogger) (zero, ref *Accumulator, err error) {

	if err := v.setPresetMode(PresetHistogramLongRange); err != nil {
		return nil, nil, err
	}

	if v.zones, err = NewZoneConfig(Zones1x1); err != nil {
		return nil, nil, err
	}

	zero, ref = &Accumulator{}, &Accumulator{}

	err = v.rangeCycles(ModeBackToBack, ConfigFull, 2*v.tuning.ZonePhaseSamples, func(m *Measurement) error {

		if m.Cycle%2 == 0 || m.Histogram == nil {
			return nil
		}

		zero.Add(RangeSample{Phase: m.Histogram.ZeroDistancePhase})
		ref.Add(RangeSample{Phase: m.Histogram.RefPhase})

		log.WithFields(logrus.Fields{
			"cycle":     m.Cycle,
			"zeroPhase": m.Histogram.ZeroDistancePhase,
		}).Debug("phase reference sample")

		return nil
	})

	if err != nil {
		return nil, nil, errors.Wrap(err, "phase reference")
	}

	return zero, ref, nil
}

// classifyZone records the sample adequacy of one zone
func (v *VL53L1) classifyZone(c *statusClassifier, acc *Accumulator, z ZoneResult) {

	if !c.requireSamples(acc) {
		return
	}

	if z.EffectiveSpads == 0 {
		c.record(NoSpadsEnabledFail)
		return
	}

	if z.EffectiveSpads < v.tuning.ZoneMinSpads {
		c.record(SpadCountTooLow)
	}

	if z.PeakRateMCPS > v.tuning.ZoneMaxRateMCPS {
		c.record(RateTooHigh)
	}

	c.checkCount(acc, z.Requested)
}
