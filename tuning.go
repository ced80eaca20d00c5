package vl53l1

import "time"

// Tuning holds the sample counts and limits used by the calibration
// procedures. Rates are 9.7 mcps, SPAD counts 8.8 and sigmas 11.5 mm unless
// named otherwise.
type Tuning struct {
	// MeasurementTimeout bounds the wait for one ranging cycle
	MeasurementTimeout time.Duration

	// reference SPAD characterisation
	RefSpadTargetRateMCPS uint16
	RefSpadTimeoutUs      uint32

	// rate based crosstalk extraction
	XtalkSamples         int
	XtalkMaxSigmaMM      uint16
	XtalkFilter          SampleFilter
	XtalkRangeIgnoreMult uint8

	// histogram crosstalk extraction
	XtalkHistogramSamples   int
	XtalkHistogramHalfWidth int

	// offset calibration
	OffsetPreRangeSamples int
	OffsetMM1Samples      int
	OffsetMM2Samples      int
	OffsetMinSpads        uint16
	OffsetMaxRateMCPS     uint16
	OffsetMaxSigmaMM      uint16

	// zone calibration
	ZoneSamples      int
	ZonePhaseSamples int
	ZoneMinSpads     uint16
	ZoneMaxRateMCPS  uint16
}

// DefaultTuning returns the tuning used when none is supplied.
func DefaultTuning() Tuning {
	return Tuning{
		MeasurementTimeout: 500 * time.Millisecond,

		RefSpadTargetRateMCPS: TargetRate,
		RefSpadTimeoutUs:      10000,

		XtalkSamples:    5,
		XtalkMaxSigmaMM: 50 << 5,
		XtalkFilter: SampleFilter{
			Enabled:     true,
			MinRangeMM:  -50,
			MaxRangeMM:  50,
			MaxRateKcps: 200 << 9,
		},
		XtalkRangeIgnoreMult: 64,

		XtalkHistogramSamples:   20,
		XtalkHistogramHalfWidth: 2,

		OffsetPreRangeSamples: 8,
		OffsetMM1Samples:      40,
		OffsetMM2Samples:      9,
		OffsetMinSpads:        5 << 8,
		OffsetMaxRateMCPS:     50 << 7,
		OffsetMaxSigmaMM:      16 << 5,

		ZoneSamples:      16,
		ZonePhaseSamples: 8,
		ZoneMinSpads:     5 << 8,
		ZoneMaxRateMCPS:  50 << 7,
	}
}

// Validate checks the sample counts are usable and the measurement timeout
// is set.
func (t Tuning) Validate() error {

	if t.MeasurementTimeout <= 0 {
		return paramError("measurement timeout %s must be positive", t.MeasurementTimeout)
	}

	counts := []struct {
		name string
		n    int
	}{
		{"xtalk samples", t.XtalkSamples},
		{"histogram xtalk samples", t.XtalkHistogramSamples},
		{"offset pre-range samples", t.OffsetPreRangeSamples},
		{"offset mm1 samples", t.OffsetMM1Samples},
		{"offset mm2 samples", t.OffsetMM2Samples},
		{"zone samples", t.ZoneSamples},
		{"zone phase samples", t.ZonePhaseSamples},
	}

	for _, c := range counts {
		if c.n < 1 || c.n > 255 {
			return paramError("%s %d outside 1..255", c.name, c.n)
		}
	}

	if t.XtalkHistogramHalfWidth < 0 || t.XtalkHistogramHalfWidth >= HistogramBins/2 {
		return paramError("histogram xtalk half width %d outside 0..%d",
			t.XtalkHistogramHalfWidth, HistogramBins/2-1)
	}

	if t.XtalkFilter.Enabled && t.XtalkFilter.MinRangeMM >= t.XtalkFilter.MaxRangeMM {
		return paramError("xtalk filter window %d..%d is empty",
			t.XtalkFilter.MinRangeMM, t.XtalkFilter.MaxRangeMM)
	}

	return nil
}

// SetTuning replaces the calibration tuning.
func (v *VL53L1) SetTuning(t Tuning) error {

	if err := t.Validate(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.tuning = t
	return nil
}

// Tuning returns the calibration tuning.
func (v *VL53L1) Tuning() Tuning {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.tuning
}
