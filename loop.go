package vl53l1

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RangingMode is the SYSTEM_MODE_START value a ranging loop runs in.
type RangingMode uint8

const (
	// ModeSingleShot restarts the device for every cycle
	ModeSingleShot RangingMode = 0x10
	// ModeBackToBack starts the next cycle as soon as the interrupt clears
	ModeBackToBack RangingMode = 0x20
	// ModeTimed starts a cycle every inter measurement period
	ModeTimed RangingMode = 0x40

	// modeAbort stops any ranging in progress
	modeAbort uint8 = 0x80
)

// String implement Stringer interface for RangingMode
func (m RangingMode) String() string {
	switch m {
	case ModeSingleShot:
		return "single shot"
	case ModeBackToBack:
		return "back to back"
	case ModeTimed:
		return "timed"
	default:
		return fmt.Sprintf("ranging mode 0x%02X", uint8(m))
	}
}

const (
	// rangeResultLen is the size of the range result block read from
	// RESULT_INTERRUPT_STATUS
	rangeResultLen = 65
	// histogramResultLen is the size of the histogram result block
	histogramResultLen = 16 + 3*HistogramBins

	// offsets into the result blocks
	resultRangeStatus  = 1
	resultReportStatus = 2
	resultStreamCount  = 3
	resultSD0          = 4
	resultSD1          = 18
	resultCoreSD0      = 32
	resultCoreSD1      = 48
	resultSD1Status    = 64
)

// RangingLoop drives repeated ranging cycles on a device and yields one
// decoded Measurement per cycle.
type RangingLoop struct {
	v    *VL53L1
	mode RangingMode
	// cycle is the index of the next measurement
	cycle int
	// zone is the zone the device is currently ranging
	zone int
	done bool
	// external loops were started by BeginRanging and lock the device on
	// each call
	external bool
}

// BeginRanging writes the device configuration from level down and starts
// ranging in mode. The loop must be ended with End.
func (v *VL53L1) BeginRanging(mode RangingMode, level ConfigLevel) (*RangingLoop, error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireIdle(); err != nil {
		return nil, err
	}

	l, err := v.beginRanging(mode, level)

	if err != nil {
		return nil, err
	}

	l.external = true
	v.loop = l

	return l, nil
}

// beginRanging configures and starts the device without taking the lock
func (v *VL53L1) beginRanging(mode RangingMode, level ConfigLevel) (*RangingLoop, error) {

	switch mode {
	case ModeSingleShot, ModeBackToBack, ModeTimed:
	default:
		return nil, paramError("unknown ranging mode 0x%02X", uint8(mode))
	}

	if err := v.zones.Validate(); err != nil {
		return nil, err
	}

	l := &RangingLoop{v: v, mode: mode}

	if err := v.writeConfig(level, 0); err != nil {
		return nil, err
	}

	if err := v.writeReg(SYSTEM_MODE_START, uint8(mode)); err != nil {
		// the device may have latched the start
		v.writeReg(SYSTEM_MODE_START, modeAbort)
		return nil, errors.Wrap(err, "start ranging")
	}

	v.log.WithFields(logrus.Fields{
		"mode":  mode,
		"level": level,
		"zones": v.zones.Active(),
	}).Debug("ranging started")

	return l, nil
}

// Next waits for the device to complete a cycle and returns its measurement.
// A device hard fault returns a *RangeError and a timeout ErrTimeout; End must
// still be called.
func (l *RangingLoop) Next() (*Measurement, error) {

	if l.external {
		l.v.mu.Lock()
		defer l.v.mu.Unlock()
	}

	return l.next()
}

func (l *RangingLoop) next() (*Measurement, error) {

	if l.done {
		return nil, ErrNotRunning
	}

	v := l.v

	if err := v.pollFor(v.tuning.MeasurementTimeout, v.dataReady); err != nil {
		return nil, errors.Wrapf(err, "cycle %d", l.cycle)
	}

	m, err := l.readMeasurement()

	if err != nil {
		return nil, err
	}

	if m.Status.IsFatal() {

		v.log.WithFields(logrus.Fields{
			"cycle":  m.Cycle,
			"zone":   m.ZoneID,
			"status": m.Status,
		}).Warn("device fault")

		return nil, &RangeError{Status: m.Status, Cycle: m.Cycle}
	}

	if err := l.advance(); err != nil {
		return nil, err
	}

	return m, nil
}

// readMeasurement reads and decodes the result of the current cycle
func (l *RangingLoop) readMeasurement() (*Measurement, error) {

	v := l.v

	m := &Measurement{Cycle: l.cycle, ZoneID: l.zone}

	if v.settings.histogram {

		buf := make([]byte, histogramResultLen)

		if err := v.readBlock(RESULT_INTERRUPT_STATUS, buf); err != nil {
			return nil, err
		}

		m.Status = DeviceStatus(buf[resultRangeStatus] & 0x1F)
		m.StreamCount = buf[resultStreamCount]
		m.Histogram = decodeHistogram(buf)

		targets, err := v.sp.HistogramToRange(m.Histogram, v.fastOscFrequency)

		if err != nil {
			return nil, errors.Wrapf(err, "process histogram cycle %d", l.cycle)
		}

		m.Targets = targets

		return m, nil
	}

	buf := make([]byte, rangeResultLen)

	if err := v.readBlock(RESULT_INTERRUPT_STATUS, buf); err != nil {
		return nil, err
	}

	m.Status = DeviceStatus(buf[resultRangeStatus] & 0x1F)
	m.StreamCount = buf[resultStreamCount]

	count := int(buf[resultReportStatus] & 0x03)

	if count >= 1 {
		m.Targets = append(m.Targets, decodeTarget(m.Status, buf[resultSD0:], buf[resultCoreSD0:]))
	}

	if count >= 2 {
		status := DeviceStatus(buf[resultSD1Status] & 0x1F)
		m.Targets = append(m.Targets, decodeTarget(status, buf[resultSD1:], buf[resultCoreSD1:]))
	}

	return m, nil
}

// decodeTarget decodes one stream of the range result block
func decodeTarget(status DeviceStatus, sd, core []byte) RangeSample {

	t := RangeSample{
		DeviceStatus:       status,
		EffectiveSpads:     be16(sd[0:]),
		PeakSignalRateMCPS: be16(sd[2:]),
		AmbientRateMCPS:    be16(sd[4:]),
		SigmaMM:            sigmaToFixed5(be16(sd[6:])),
		Phase:              be16(sd[8:]),
		MedianRangeMM:      int16(be16(sd[10:])),
		SignalTotalEvents:  int32(be32(core[8:])),
	}

	t.RatePerSpadKcps = ratePerSpad(t.PeakSignalRateMCPS, t.EffectiveSpads)

	return t
}

// decodeHistogram decodes the histogram result block
func decodeHistogram(buf []byte) *HistogramBinData {

	h := &HistogramBinData{
		VcselPeriod:              buf[4],
		PhasecalResultVcselStart: buf[5],
		CalConfigVcselStart:      buf[6],
		WindowStart:              buf[7],
		RefPhase:                 be16(buf[8:]),
		EffectiveSpads:           be16(buf[10:]),
		TotalPeriodsElapsed:      be32(buf[12:]),
	}

	h.WindowEnd = h.WindowStart + HistogramBins - 1

	for i := range h.Bins {
		h.Bins[i] = int32(be24(buf[16+3*i:]))
	}

	h.ZeroDistancePhase = calcZeroDistancePhase(h.VcselPeriod,
		h.PhasecalResultVcselStart, h.CalConfigVcselStart, h.RefPhase)

	return h
}

// advance moves to the next zone, clears the interrupt and restarts a single
// shot loop. Based on VL53L1_clear_interrupt_and_enable_next_range()
func (l *RangingLoop) advance() error {

	v := l.v

	l.cycle++

	if n := v.zones.Active(); n > 1 {

		l.zone = (l.zone + 1) % n

		if err := v.writeGroup("dynamic", v.dynamicGroup(l.zone)); err != nil {
			return err
		}
	}

	if err := v.writeReg(SYSTEM_INTERRUPT_CLEAR, 0x01); err != nil {
		return err
	}

	if l.mode == ModeSingleShot {
		return v.writeReg(SYSTEM_MODE_START, uint8(l.mode))
	}

	return nil
}

// End stops ranging and resets the zone configuration. It is safe to call
// more than once.
func (l *RangingLoop) End() error {

	if l.external {
		l.v.mu.Lock()
		defer l.v.mu.Unlock()
	}

	return l.end()
}

func (l *RangingLoop) end() error {

	if l.done {
		return nil
	}

	v := l.v

	l.done = true

	if v.loop == l {
		v.loop = nil
	}

	err := v.writeReg(SYSTEM_MODE_START, modeAbort)

	if l.zone != 0 {
		l.zone = 0

		if zerr := v.writeGroup("dynamic", v.dynamicGroup(0)); err == nil {
			err = zerr
		}
	}

	v.log.WithFields(logrus.Fields{
		"mode":   l.mode,
		"cycles": l.cycle,
	}).Debug("ranging stopped")

	return err
}

// Cycles returns the number of measurements read so far
func (l *RangingLoop) Cycles() int {
	return l.cycle
}

// dataReady checks if the sensor has a new reading available. It assumes interrupt
// is active Low (GPIO_HV_MUX__CTRL bit 4 is 1)
func (v *VL53L1) dataReady() (bool, error) {

	status, err := v.readReg(GPIO_TIO_HV_STATUS)

	if err != nil {
		return false, err
	}

	// Active low: data ready when bit 0 == 0.
	return (status & 0x01) == 0, nil
}

// rangeCycles runs n cycles in mode handing each measurement to fn, and
// always stops the device before returning.
func (v *VL53L1) rangeCycles(mode RangingMode, level ConfigLevel, n int,
	fn func(m *Measurement) error) (err error) {

	l, err := v.beginRanging(mode, level)

	if err != nil {
		return err
	}

	defer func() {
		if endErr := l.end(); err == nil {
			err = endErr
		}
	}()

	for i := 0; i < n; i++ {

		m, err := l.next()

		if err != nil {
			return err
		}

		if err := fn(m); err != nil {
			return err
		}
	}

	return nil
}
