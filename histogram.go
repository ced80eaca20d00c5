package vl53l1

// HistogramBins is the number of bins returned per histogram snapshot.
const HistogramBins = 24

// HistogramBinData is one histogram snapshot with the timing metadata needed
// to turn bin positions into distance.
type HistogramBinData struct {
	Bins [HistogramBins]int32
	// VCSEL period register code of the ranging timing
	VcselPeriod              uint8
	PhasecalResultVcselStart uint8
	CalConfigVcselStart      uint8
	// first and last bin of the returned window
	WindowStart uint8
	WindowEnd   uint8
	// phasecal reference phase, 5.11 format
	RefPhase uint16
	// effective SPAD count, 8.8 format
	EffectiveSpads      uint16
	TotalPeriodsElapsed uint32
	// zero distance phase in bins, 5.11 format
	ZeroDistancePhase uint16
}

// decodeVcselPeriod converts the VCSEL period register code into PLL clocks
// based on VL53L1_decode_vcsel_period()
func decodeVcselPeriod(regVal uint8) uint32 {
	return (uint32(regVal) + 1) << 1
}

// PeriodBins returns the number of bins in one VCSEL period, clipped to the
// bins actually returned.
func (h *HistogramBinData) PeriodBins() int {

	n := int(decodeVcselPeriod(h.VcselPeriod))

	if n > HistogramBins || n == 0 {
		n = HistogramBins
	}

	return n
}

// calcZeroDistancePhase returns the phase of a zero distance target in 5.11
// bins based on VL53L1_hist_calc_zero_distance_phase()
func calcZeroDistancePhase(vcselPeriod, phasecalVcselStart, calVcselStart uint8,
	refPhase uint16) uint16 {

	period := 2048 * decodeVcselPeriod(vcselPeriod)

	phase := period
	phase += uint32(refPhase)
	phase += 2048 * uint32(phasecalVcselStart)
	phase -= 2048 * uint32(calVcselStart)

	return uint16(phase % period)
}

// calcPLLPeriodUs returns the PLL period in microseconds, 0.18 format, based
// on VL53L1_calc_pll_period_us()
func calcPLLPeriodUs(fastOscFrequency uint16) uint32 {

	if fastOscFrequency == 0 {
		return 0
	}

	return (uint32(1) << 30) / uint32(fastOscFrequency)
}

// speedOfLightInAirDiv8 is c in air divided by 8, used for the PLL period to
// distance conversion
const speedOfLightInAirDiv8 = 37463

// calcPLLPeriodMM returns the distance covered by one PLL period in 14.2
// millimeters based on VL53L1_calc_pll_period_mm()
func calcPLLPeriodMM(fastOscFrequency uint16) uint32 {

	pllPeriodUs := calcPLLPeriodUs(fastOscFrequency)
	pllPeriodMM := speedOfLightInAirDiv8 * (pllPeriodUs >> 2)

	return (pllPeriodMM + 0x8000) >> 16
}

// rangeFromPhase converts a 5.11 phase into a 14.2 range relative to the zero
// distance phase.
func rangeFromPhase(phase, zeroDistancePhase uint16, pllPeriodMM uint32) int32 {

	delta := int64(phase) - int64(zeroDistancePhase)

	return int32((delta * int64(pllPeriodMM)) >> 11)
}

// phaseFromRange is the inverse of rangeFromPhase, clipped to 16 bits.
func phaseFromRange(rangeQmm int32, zeroDistancePhase uint16, pllPeriodMM uint32) uint16 {

	if pllPeriodMM == 0 {
		return zeroDistancePhase
	}

	phase := int64(zeroDistancePhase) + (int64(rangeQmm)<<11)/int64(pllPeriodMM)

	if phase < 0 {
		return 0
	}

	if phase > 0xFFFF {
		return 0xFFFF
	}

	return uint16(phase)
}

// histogramWindow returns the bins within halfWidth of the bin containing
// phase, wrapped to one VCSEL period.
func histogramWindow(phase uint16, halfWidth, periodBins int) []int {

	centre := int(phase) >> 11

	if periodBins < 1 {
		return nil
	}

	if 2*halfWidth+1 > periodBins {
		halfWidth = (periodBins - 1) / 2
	}

	bins := make([]int, 0, 2*halfWidth+1)

	for i := centre - halfWidth; i <= centre+halfWidth; i++ {
		bins = append(bins, ((i%periodBins)+periodBins)%periodBins)
	}

	return bins
}

// ambientPerBin returns the mean count of the bins outside window within one
// period, rounded half up.
func ambientPerBin(h *HistogramBinData, window []int) int32 {

	in := make(map[int]bool, len(window))

	for _, b := range window {
		in[b] = true
	}

	var acc Accumulator

	for i := 0; i < h.PeriodBins(); i++ {
		if !in[i] {
			acc.count++
			acc.sums[StatSignalEvents] += int64(h.Bins[i])
		}
	}

	if acc.Count() == 0 {
		return 0
	}

	return int32(acc.Average(StatSignalEvents))
}

// windowedSignal returns the ambient corrected counts of the window bins and
// their total.
func windowedSignal(h *HistogramBinData, window []int) ([HistogramBins]int32, int64) {

	var signal [HistogramBins]int32
	var total int64

	ambient := ambientPerBin(h, window)

	for _, b := range window {

		c := h.Bins[b] - ambient

		if c < 0 {
			c = 0
		}

		signal[b] = c
		total += int64(c)
	}

	return signal, total
}

// normaliseShape scales bins so they sum to shapeScale, rounding each bin
// half up. A zero total returns the bins unchanged.
func normaliseShape(sums [HistogramBins]int64, total int64) [HistogramBins]uint32 {

	var shape [HistogramBins]uint32

	if total <= 0 {
		for i, s := range sums {
			if s > 0 {
				shape[i] = uint32(s)
			}
		}
		return shape
	}

	for i, s := range sums {

		if s <= 0 {
			continue
		}

		shape[i] = uint32(floorDiv(2*s*shapeScale+total, 2*total))
	}

	return shape
}

// shapeScale is the sum of a normalised crosstalk shape
const shapeScale = 1000

// integrationTimeUs returns the integration time covered by a histogram from
// its elapsed periods.
func integrationTimeUs(totalPeriods uint32, fastOscFrequency uint16) uint32 {
	return uint32((uint64(totalPeriods) * uint64(calcPLLPeriodUs(fastOscFrequency))) >> 18)
}
