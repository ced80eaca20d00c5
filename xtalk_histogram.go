package vl53l1

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// XtalkTarget is the reflector position used by histogram crosstalk
// extraction, typically the cover glass.
type XtalkTarget struct {
	DistanceMM uint16
}

// maxXtalkTargetMM is the furthest reflector histogram extraction accepts
const maxXtalkTargetMM = 5000

// Validate checks the target distance.
func (t XtalkTarget) Validate() error {

	if t.DistanceMM > maxXtalkTargetMM {
		return paramError("xtalk target distance %dmm above %dmm", t.DistanceMM, maxXtalkTargetMM)
	}

	return nil
}

// RunHistogramXtalkExtraction captures histograms over the full array and
// averages the bins around the target distance into a normalised crosstalk
// shape and a scalar crosstalk rate. Gradients are zero. Compensation is
// enabled again on return. Based on VL53L1_run_hist_xtalk_extraction()
func (v *VL53L1) RunHistogramXtalkExtraction(target XtalkTarget) (result *XtalkCalibrationResult,
	status CalibrationStatus, err error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	log := v.procedureLog("histogram xtalk").WithField("distance", target.DistanceMM)

	if err := target.Validate(); err != nil {
		return nil, failed(log, err), err
	}

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
			err = errors.Wrap(rerr, "restore after histogram xtalk extraction")
			result, status = nil, failed(log, err)
		}
	}()

	if err := v.setXtalkCompensation(false); err != nil {
		return nil, failed(log, err), err
	}

	if err := v.setPresetMode(PresetHistogramLongRange); err != nil {
		return nil, failed(log, err), err
	}

	if v.zones, err = NewZoneConfig(Zones1x1); err != nil {
		return nil, failed(log, err), err
	}

	samples := v.tuning.XtalkHistogramSamples
	halfWidth := v.tuning.XtalkHistogramHalfWidth
	pllPeriodMM := calcPLLPeriodMM(v.fastOscFrequency)
	targetQmm := int32(target.DistanceMM) * 4

	var acc Accumulator
	var binSums [HistogramBins]int64
	var periods uint64
	var vcselPeriod uint8

	err = v.rangeCycles(ModeBackToBack, ConfigFull, samples+1, func(m *Measurement) error {

		if m.Cycle == 0 {
			return nil
		}

		h := m.Histogram

		if h == nil {
			return errors.Errorf("cycle %d returned no histogram", m.Cycle)
		}

		phase := phaseFromRange(targetQmm, h.ZeroDistancePhase, pllPeriodMM)
		window := histogramWindow(phase, halfWidth, h.PeriodBins())
		signal, total := windowedSignal(h, window)

		log.WithFields(logrus.Fields{
			"cycle":  m.Cycle,
			"window": window,
			"events": total,
		}).Debug("xtalk histogram")

		if total <= 0 || acc.Count() >= uint32(samples) {
			return nil
		}

		for _, b := range window {
			binSums[b] += int64(signal[b])
		}

		acc.Add(RangeSample{
			SignalTotalEvents: int32(clampInt64(total, 0, 0x7FFFFFFF)),
			EffectiveSpads:    h.EffectiveSpads,
			Phase:             h.ZeroDistancePhase,
		})

		periods += uint64(h.TotalPeriodsElapsed)
		vcselPeriod = h.VcselPeriod

		return nil
	})

	if err != nil {
		return nil, failed(log, err), err
	}

	c := statusClassifier{}
	res := &XtalkCalibrationResult{}

	if c.requireSamples(&acc) {

		if acc.Average(StatEffectiveSpads) == 0 {
			c.record(NoSpadsEnabledFail)
		}

		c.checkCount(&acc, samples)
	}

	status = c.result()

	if status.IsError() {
		finished(log, status)
		return res, status, nil
	}

	var total int64

	for _, s := range binSums {
		total += s
	}

	res.Shape = &XtalkHistogramShape{
		ZeroDistancePhase: uint16(acc.Average(StatPhase)),
		VcselPeriod:       vcselPeriod,
		Bins:              normaliseShape(binSums, total),
	}

	avgPeriods := uint32(roundedAverage(int64(periods), acc.Count()))

	res.PlaneOffsetKcps = xtalkRateFromEvents(acc.Average(StatSignalEvents),
		uint16(acc.Average(StatEffectiveSpads)),
		integrationTimeUs(avgPeriods, v.fastOscFrequency))
	res.RangeIgnoreThresholdMCPS = rangeIgnoreThreshold(res.PlaneOffsetKcps, v.tuning.XtalkRangeIgnoreMult)

	v.storeXtalk(res)

	log.WithFields(logrus.Fields{
		"offsetKcps": res.PlaneOffsetKcps,
		"zeroPhase":  res.Shape.ZeroDistancePhase,
	}).Debug("xtalk shape")

	finished(log, status)

	return res, status, nil
}

// xtalkRateFromEvents converts average signal events over an integration time
// in microseconds and an 8.8 SPAD count into a 7.9 kcps per SPAD rate
func xtalkRateFromEvents(events int64, effectiveSpads uint16, integrationUs uint32) uint32 {

	if events <= 0 || effectiveSpads == 0 || integrationUs == 0 {
		return 0
	}

	// events per us is mcps, x1000 for kcps, x256 for the 8.8 SPADs and x512
	// for the 7.9 result
	rate := (uint64(events) * 1000 * 256 * 512) / (uint64(integrationUs) * uint64(effectiveSpads))

	return uint32(clampInt64(int64(rate), 0, 0xFFFFFFFF))
}
