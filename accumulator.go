package vl53l1

// Statistic selects one running sum tracked by an Accumulator.
type Statistic int

const (
	StatEffectiveSpads Statistic = iota
	StatPeakSignalRate
	StatAmbientRate
	StatSigma
	StatMedianRange
	StatPhase
	StatRatePerSpad
	StatSignalEvents
	numStatistics
)

// Accumulator keeps running sums of the sample statistics of one zone or
// region together with the number of samples added.
type Accumulator struct {
	count uint32
	sums  [numStatistics]int64
}

// Add incorporates one sample into the running sums.
func (a *Accumulator) Add(s RangeSample) {

	a.count++

	a.sums[StatEffectiveSpads] += int64(s.EffectiveSpads)
	a.sums[StatPeakSignalRate] += int64(s.PeakSignalRateMCPS)
	a.sums[StatAmbientRate] += int64(s.AmbientRateMCPS)
	a.sums[StatSigma] += int64(s.SigmaMM)
	a.sums[StatMedianRange] += int64(s.MedianRangeMM)
	a.sums[StatPhase] += int64(s.Phase)
	a.sums[StatRatePerSpad] += int64(s.RatePerSpadKcps)
	a.sums[StatSignalEvents] += int64(s.SignalTotalEvents)
}

// AddValue adds to one running sum without counting a new sample. It is used
// for statistics that are not part of a RangeSample.
func (a *Accumulator) AddValue(st Statistic, value int64) {
	a.sums[st] += value
}

// Count returns the number of samples added.
func (a *Accumulator) Count() uint32 {
	return a.count
}

// Sum returns the running sum of a statistic.
func (a *Accumulator) Sum(st Statistic) int64 {
	return a.sums[st]
}

// Average returns the sum divided by the sample count rounded half up, or the
// sum itself when no samples were added.
func (a *Accumulator) Average(st Statistic) int64 {
	return roundedAverage(a.sums[st], a.count)
}

// Reset zeroes the accumulator.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// roundedAverage divides sum by count rounding halves towards positive
// infinity. A zero count returns sum unchanged.
func roundedAverage(sum int64, count uint32) int64 {

	if count == 0 {
		return sum
	}

	n := int64(count)

	return floorDiv(2*sum+n, 2*n)
}

// floorDiv divides rounding towards negative infinity
func floorDiv(a, b int64) int64 {

	q := a / b

	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}

	return q
}

// AccumulatorBank is a bounded set of accumulators indexed by zone or region
// id.
type AccumulatorBank struct {
	buckets []Accumulator
}

// NewAccumulatorBank returns a bank of n empty accumulators.
func NewAccumulatorBank(n int) (*AccumulatorBank, error) {

	if n < 1 || n > MaxUserZones {
		return nil, paramError("accumulator bank size %d outside 1..%d", n, MaxUserZones)
	}

	return &AccumulatorBank{buckets: make([]Accumulator, n)}, nil
}

// Len returns the number of buckets.
func (b *AccumulatorBank) Len() int {
	return len(b.buckets)
}

// Bucket returns the accumulator for id.
func (b *AccumulatorBank) Bucket(id int) (*Accumulator, error) {

	if id < 0 || id >= len(b.buckets) {
		return nil, paramError("bucket id %d outside 0..%d", id, len(b.buckets)-1)
	}

	return &b.buckets[id], nil
}

// SampleFilter is the validity window a sample must pass before it is
// accumulated. A disabled filter accepts everything.
type SampleFilter struct {
	Enabled    bool
	MinRangeMM int16
	MaxRangeMM int16
	// maximum rate per SPAD in kcps, 7.9 format
	MaxRateKcps uint32
}

// Accept reports whether s lies strictly inside the range window and at or
// below the rate ceiling.
func (f SampleFilter) Accept(s RangeSample) bool {

	if !f.Enabled {
		return true
	}

	if s.MedianRangeMM <= f.MinRangeMM || s.MedianRangeMM >= f.MaxRangeMM {
		return false
	}

	return s.RatePerSpadKcps <= f.MaxRateKcps
}

// SelectNearest returns the target with the minimum median range among those
// accepted by the filter.
func SelectNearest(targets []RangeSample, f SampleFilter) (RangeSample, bool) {

	var best RangeSample
	found := false

	for _, t := range targets {

		if !f.Accept(t) {
			continue
		}

		if !found || t.MedianRangeMM < best.MedianRangeMM {
			best = t
			found = true
		}
	}

	return best, found
}

// AddNearest selects the nearest valid target and accumulates it, reporting
// whether a sample was added.
func (a *Accumulator) AddNearest(targets []RangeSample, f SampleFilter) bool {

	t, ok := SelectNearest(targets, f)

	if !ok {
		return false
	}

	a.Add(t)
	return true
}
