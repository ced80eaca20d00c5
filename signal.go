package vl53l1

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SignalProcessor is the numeric signal processing the calibration procedures
// delegate to.
type SignalProcessor interface {
	// HistogramToRange extracts targets from a histogram snapshot.
	HistogramToRange(h *HistogramBinData, fastOscFrequency uint16) ([]RangeSample, error)
	// EstimateDmax returns the maximum detectable distance in mm.
	EstimateDmax(ref DmaxCalibration, ambientRateMCPS uint16, reflectancePct uint8) uint16
	// SolveXtalkPlane derives plane offset and gradients from per region rates.
	SolveXtalkPlane(regions []XtalkRegionStats, optical OpticalCentre) (XtalkPlane, error)
}

// XtalkRegionStats is the averaged crosstalk rate of one calibration region.
type XtalkRegionStats struct {
	ROI     UserROI
	Samples uint32
	// average rate per SPAD in kcps, 7.9 format
	RatePerSpadKcps uint32
	// average sigma in mm, 11.5 format
	SigmaMM uint16
}

// XtalkPlane holds crosstalk compensation coefficients. The offset is the
// rate per SPAD at the optical centre in 7.9 kcps and the gradients are the
// change per SPAD column or row in 5.11 kcps.
type XtalkPlane struct {
	OffsetKcps uint32
	XGradient  int16
	YGradient  int16
}

// xtalkReferenceRegion is the full field region used for the plane offset
const xtalkReferenceRegion = 4

// DefaultSignalProcessor is a compact implementation of the processing the
// calibration procedures need.
type DefaultSignalProcessor struct {
	// PeakHalfWidth is the number of bins either side of the peak treated as
	// signal.
	PeakHalfWidth int
	// MinSignalRateMCPS is the smallest usable return rate for Dmax, 9.7
	// format.
	MinSignalRateMCPS uint16
	// AmbientSNR scales the shot noise floor of the ambient rate for Dmax.
	AmbientSNR float64
}

// NewDefaultSignalProcessor returns the processor with its default settings.
func NewDefaultSignalProcessor() *DefaultSignalProcessor {
	return &DefaultSignalProcessor{
		PeakHalfWidth:     1,
		MinSignalRateMCPS: 0x0080 / 4,
		AmbientSNR:        4.0,
	}
}

// HistogramToRange finds the peak bin of one VCSEL period, subtracts the
// ambient level and returns the centroid target.
func (p *DefaultSignalProcessor) HistogramToRange(h *HistogramBinData,
	fastOscFrequency uint16) ([]RangeSample, error) {

	if h == nil {
		return nil, errors.New("nil histogram")
	}

	periodBins := h.PeriodBins()

	counts := make([]float64, periodBins)

	for i := range counts {
		counts[i] = float64(h.Bins[i])
	}

	peak := floats.MaxIdx(counts)
	window := histogramWindow(uint16(peak)<<11, p.PeakHalfWidth, periodBins)
	signal, total := windowedSignal(h, window)

	sample := RangeSample{
		EffectiveSpads:    h.EffectiveSpads,
		SignalTotalEvents: int32(total),
	}

	if total <= 0 {
		sample.DeviceStatus = DeviceMinSignalEventCheck
		return []RangeSample{sample}, nil
	}

	// centroid with the window unwrapped around the peak
	half := (len(window) - 1) / 2
	weights := make([]float64, len(window))
	positions := make([]float64, len(window))

	for i, b := range window {
		weights[i] = float64(signal[b])
		positions[i] = float64(peak - half + i)
	}

	centroid := floats.Dot(weights, positions) / floats.Sum(weights)

	switch {
	case centroid < 0:
		centroid += float64(periodBins)
	case centroid >= float64(periodBins):
		centroid -= float64(periodBins)
	}

	spread := 0.0

	for i := range positions {
		d := positions[i] - centroid
		spread += weights[i] * d * d
	}

	spread = math.Sqrt(spread / floats.Sum(weights))

	pllPeriodMM := calcPLLPeriodMM(fastOscFrequency)
	phase := uint16(math.Round(centroid * 2048))
	rangeQmm := rangeFromPhase(phase, h.ZeroDistancePhase, pllPeriodMM)

	sample.DeviceStatus = DeviceRangeComplete
	sample.Phase = phase
	sample.MedianRangeMM = int16(clampInt64(int64(rangeQmm)/4, math.MinInt16, math.MaxInt16))
	sample.SigmaMM = uint16(clampInt64(int64(spread*float64(pllPeriodMM)*8), 0, 0xFFFF))

	integrationUs := integrationTimeUs(h.TotalPeriodsElapsed, fastOscFrequency)

	if integrationUs > 0 {
		rate := (total << 7) / int64(integrationUs)
		sample.PeakSignalRateMCPS = uint16(clampInt64(rate, 0, 0xFFFF))

		ambient := int64(ambientPerBin(h, window)) * int64(periodBins)
		sample.AmbientRateMCPS = uint16(clampInt64((ambient<<7)/int64(integrationUs), 0, 0xFFFF))
	}

	sample.RatePerSpadKcps = ratePerSpad(sample.PeakSignalRateMCPS, sample.EffectiveSpads)

	return []RangeSample{sample}, nil
}

// EstimateDmax scales the reference distance by the inverse square law down to
// the weakest return that still clears the ambient shot noise.
func (p *DefaultSignalProcessor) EstimateDmax(ref DmaxCalibration, ambientRateMCPS uint16,
	reflectancePct uint8) uint16 {

	if ref.RefDistanceMM == 0 || ref.RefPeakSignalRateMCPS == 0 || ref.RefReflectancePct == 0 {
		return 0
	}

	signal := float64(ref.RefPeakSignalRateMCPS) / 128
	signal *= float64(reflectancePct) / float64(ref.RefReflectancePct)

	floor := float64(p.MinSignalRateMCPS) / 128
	noise := p.AmbientSNR * math.Sqrt(float64(ambientRateMCPS)/128)

	if noise > floor {
		floor = noise
	}

	if floor <= 0 || signal <= 0 {
		return 0
	}

	dmax := float64(ref.RefDistanceMM) * math.Sqrt(signal/floor)

	return uint16(clampInt64(int64(dmax), 0, 0xFFFF))
}

// SolveXtalkPlane takes the offset from the full field reference region and
// fits the gradients to the quadrant rates by least squares. Regions without
// samples are left out of the fit. The gradients stay zero when the remaining
// quadrants cannot separate X from Y.
func (p *DefaultSignalProcessor) SolveXtalkPlane(regions []XtalkRegionStats,
	optical OpticalCentre) (XtalkPlane, error) {

	if len(regions) <= xtalkReferenceRegion {
		return XtalkPlane{}, errors.Errorf("need %d regions, got %d", xtalkReferenceRegion+1, len(regions))
	}

	ref := regions[xtalkReferenceRegion]
	plane := XtalkPlane{OffsetKcps: ref.RatePerSpadKcps}

	var xs, ys, rates []float64

	for i, r := range regions {

		if i == xtalkReferenceRegion || r.Samples == 0 {
			continue
		}

		xs = append(xs, float64(r.ROI.X)-float64(optical.X))
		ys = append(ys, float64(r.ROI.Y)-float64(optical.Y))
		rates = append(rates, float64(r.RatePerSpadKcps)-float64(ref.RatePerSpadKcps))
	}

	if len(rates) < 2 {
		return plane, nil
	}

	a := mat.NewDense(len(rates), 2, nil)

	for i := range rates {
		a.Set(i, 0, xs[i])
		a.Set(i, 1, ys[i])
	}

	b := mat.NewVecDense(len(rates), rates)

	var g mat.VecDense

	if err := g.SolveVec(a, b); err != nil {

		// quadrants on one diagonal leave the gradients undetermined
		var cond mat.Condition

		if errors.As(err, &cond) {
			return plane, nil
		}

		return plane, errors.Wrap(err, "solve crosstalk gradients")
	}

	// 7.9 rate per SPAD into 5.11
	plane.XGradient = int16(clampInt64(int64(math.Round(g.AtVec(0)*4)), math.MinInt16, math.MaxInt16))
	plane.YGradient = int16(clampInt64(int64(math.Round(g.AtVec(1)*4)), math.MinInt16, math.MaxInt16))

	return plane, nil
}

func clampInt64(v, lo, hi int64) int64 {

	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
