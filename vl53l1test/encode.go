package vl53l1test

import "github.com/swdee/go-vl53l1"

// encodeFrame lays a frame out the way the device presents its result block
// at RESULT_INTERRUPT_STATUS.
func encodeFrame(f *Frame) []byte {

	if f.Histogram != nil {
		return encodeHistogram(f)
	}

	buf := make([]byte, 65)

	buf[1] = uint8(f.Status)
	buf[3] = f.StreamCount

	n := len(f.Targets)

	if n > 2 {
		n = 2
	}

	buf[2] = uint8(n)

	if n >= 1 {
		encodeTarget(buf[4:], buf[32:], f.Targets[0])
	}

	if n >= 2 {
		encodeTarget(buf[18:], buf[48:], f.Targets[1])
		buf[64] = uint8(f.Targets[1].DeviceStatus)
	}

	return buf
}

func encodeTarget(sd, core []byte, t vl53l1.RangeSample) {

	put16(sd[0:], t.EffectiveSpads)
	put16(sd[2:], t.PeakSignalRateMCPS)
	put16(sd[4:], t.AmbientRateMCPS)
	// device reports sigma in 14.2
	put16(sd[6:], t.SigmaMM>>3)
	put16(sd[8:], t.Phase)
	put16(sd[10:], uint16(t.MedianRangeMM))
	put16(sd[12:], t.PeakSignalRateMCPS)

	put32(core[8:], uint32(t.SignalTotalEvents))
}

func encodeHistogram(f *Frame) []byte {

	h := f.Histogram
	buf := make([]byte, 16+3*vl53l1.HistogramBins)

	buf[1] = uint8(f.Status)
	buf[3] = f.StreamCount
	buf[4] = h.VcselPeriod
	buf[5] = h.PhasecalResultVcselStart
	buf[6] = h.CalConfigVcselStart
	buf[7] = h.WindowStart
	put16(buf[8:], h.RefPhase)
	put16(buf[10:], h.EffectiveSpads)
	put32(buf[12:], h.TotalPeriodsElapsed)

	for i, b := range h.Bins {
		v := uint32(b)
		buf[16+3*i] = byte(v >> 16)
		buf[17+3*i] = byte(v >> 8)
		buf[18+3*i] = byte(v)
	}

	return buf
}

func put16(b []byte, v uint16) {
	b[0], b[1] = byte(v>>8), byte(v)
}

func put32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}
