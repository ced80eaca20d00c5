package vl53l1

import "fmt"

// DeviceStatus is the raw status the device reports in the low 5 bits of
// RESULT_RANGE_STATUS.
type DeviceStatus uint8

const (
	DeviceNoUpdate                 DeviceStatus = 0
	DeviceVcselContinuityFail      DeviceStatus = 1
	DeviceVcselWatchdogFail        DeviceStatus = 2
	DeviceNoVHVValueFound          DeviceStatus = 3
	DeviceMSRCNoTarget             DeviceStatus = 4
	DeviceRangePhaseCheck          DeviceStatus = 5
	DeviceSigmaThresholdCheck      DeviceStatus = 6
	DevicePhaseConsistency         DeviceStatus = 7
	DeviceMinClip                  DeviceStatus = 8
	DeviceRangeComplete            DeviceStatus = 9
	DeviceAlgoUnderflow            DeviceStatus = 10
	DeviceAlgoOverflow             DeviceStatus = 11
	DeviceRangeIgnoreThreshold     DeviceStatus = 12
	DeviceUserROIClip              DeviceStatus = 13
	DeviceRefSpadCharNotEnough     DeviceStatus = 14
	DeviceRefSpadCharMoreThanTgt   DeviceStatus = 15
	DeviceRefSpadCharLessThanTgt   DeviceStatus = 16
	DeviceMultiClipFail            DeviceStatus = 17
	DeviceGPHStreamCountReady      DeviceStatus = 18
	DeviceRangeCompleteNoWrapCheck DeviceStatus = 19
	DeviceEventConsistency         DeviceStatus = 20
	DeviceMinSignalEventCheck      DeviceStatus = 21
	DeviceRangeCompleteMergedPulse DeviceStatus = 22
)

var deviceStatusNames = [...]string{
	"no update",
	"vcsel continuity fail",
	"vcsel watchdog fail",
	"no vhv value found",
	"msrc no target",
	"range phase check",
	"sigma threshold check",
	"phase consistency",
	"min clip",
	"range complete",
	"algo underflow",
	"algo overflow",
	"range ignore threshold",
	"user roi clip",
	"ref spad char not enough spads",
	"ref spad char more than target",
	"ref spad char less than target",
	"multi clip fail",
	"gph stream count ready",
	"range complete, no wrap check",
	"event consistency",
	"min signal event check",
	"range complete, merged pulse",
}

// String implement Stringer interface for DeviceStatus
func (s DeviceStatus) String() string {
	if int(s) < len(deviceStatusNames) {
		return deviceStatusNames[s]
	}

	return fmt.Sprintf("device status %d", uint8(s))
}

// IsFatal reports whether the status is a hardware fault that aborts any
// calibration in progress.
func (s DeviceStatus) IsFatal() bool {
	switch s {
	case DeviceVcselContinuityFail, DeviceVcselWatchdogFail,
		DeviceNoVHVValueFound, DeviceUserROIClip, DeviceMultiClipFail:
		return true
	}

	return false
}

// RangeStatus represents the sensor's reported status simplified for users of
// live ranging data.
type RangeStatus uint8

const (
	RangeValid                RangeStatus = 0
	SigmaFail                 RangeStatus = 1
	SignalFail                RangeStatus = 2
	RangeValidMinRangeClipped RangeStatus = 3
	OutOfBoundsFail           RangeStatus = 4
	HardwareFail              RangeStatus = 5
	RangeValidNoWrapCheckFail RangeStatus = 6
	WrapTargetFail            RangeStatus = 7
	XtalkSignalFail           RangeStatus = 9
	SynchronizationInt        RangeStatus = 10
	MinRangeFail              RangeStatus = 13
	NoneStatus                RangeStatus = 255
)

// String implement Stringer interface for RangeStatus
func (s RangeStatus) String() string {
	switch s {
	case RangeValid:
		return "range valid"
	case SigmaFail:
		return "sigma fail"
	case SignalFail:
		return "signal fail"
	case RangeValidMinRangeClipped:
		return "range valid, min range clipped"
	case OutOfBoundsFail:
		return "out of bounds fail"
	case HardwareFail:
		return "hardware fail"
	case RangeValidNoWrapCheckFail:
		return "range valid, no wrap check fail"
	case WrapTargetFail:
		return "wrap target fail"
	case XtalkSignalFail:
		return "xtalk signal fail"
	case SynchronizationInt:
		return "synchronization int"
	case MinRangeFail:
		return "min range fail"
	case NoneStatus:
		return "no update"
	default:
		return "unknown status"
	}
}

// RangeSample is one decoded target of a measurement.
type RangeSample struct {
	DeviceStatus DeviceStatus
	// median range in millimeters
	MedianRangeMM int16
	// peak signal rate in mcps, 9.7 format
	PeakSignalRateMCPS uint16
	// ambient rate in mcps, 9.7 format
	AmbientRateMCPS uint16
	// sigma estimate in millimeters, 11.5 format
	SigmaMM uint16
	// phase in histogram bins, 5.11 format
	Phase uint16
	SignalTotalEvents int32
	// effective SPAD count, 8.8 format
	EffectiveSpads uint16
	// signal rate per SPAD in kcps, 7.9 format
	RatePerSpadKcps uint32
}

// Measurement holds everything decoded from one ranging cycle.
type Measurement struct {
	Cycle       int
	ZoneID      int
	StreamCount uint8
	Status      DeviceStatus
	Targets     []RangeSample
	Histogram   *HistogramBinData
}

// RangingData holds a single range measurement and related rate information.
type RangingData struct {
	RangeMM                 uint16
	RangeStatus             RangeStatus
	PeakSignalCountRateMCPS float32
	AmbientCountRateMCPS    float32
}

// RangingData gets range, status, rates of the nearest target based on
// VL53L1_GetRangingMeasurementData()
func (m *Measurement) RangingData() RangingData {

	rData := RangingData{RangeStatus: NoneStatus}

	if len(m.Targets) == 0 {
		return rData
	}

	t := m.Targets[0]

	for _, c := range m.Targets[1:] {
		if c.MedianRangeMM < t.MedianRangeMM {
			t = c
		}
	}

	rangeVal := t.MedianRangeMM

	if rangeVal < 0 {
		rangeVal = 0
	}

	// apply a gain correction: (r * 2011 + 0x0400) / 0x0800
	rData.RangeMM = uint16((uint32(rangeVal)*2011 + 0x0400) / 0x0800)
	rData.RangeStatus = simpleRangeStatus(t.DeviceStatus, m.StreamCount)

	// from SetSimpleData()
	rData.PeakSignalCountRateMCPS = countRateFixedToFloat(t.PeakSignalRateMCPS)
	rData.AmbientCountRateMCPS = countRateFixedToFloat(t.AmbientRateMCPS)

	return rData
}

// simpleRangeStatus maps a device status onto the user facing RangeStatus
func simpleRangeStatus(s DeviceStatus, streamCount uint8) RangeStatus {

	switch s {
	case DeviceMultiClipFail, DeviceVcselWatchdogFail, DeviceVcselContinuityFail,
		DeviceNoVHVValueFound:
		return HardwareFail
	case DeviceUserROIClip:
		return MinRangeFail
	case DeviceGPHStreamCountReady:
		return SynchronizationInt
	case DeviceRangePhaseCheck:
		return OutOfBoundsFail
	case DeviceMSRCNoTarget:
		return SignalFail
	case DeviceSigmaThresholdCheck:
		return SigmaFail
	case DevicePhaseConsistency:
		return WrapTargetFail
	case DeviceRangeIgnoreThreshold:
		return XtalkSignalFail
	case DeviceMinClip:
		return RangeValidMinRangeClipped
	case DeviceRangeComplete:
		if streamCount == 0 {
			return RangeValidNoWrapCheckFail
		}
		return RangeValid
	default:
		return NoneStatus
	}
}

// countRateFixedToFloat converts count rate from fixed point 9.7 format to float
func countRateFixedToFloat(countRateFixed uint16) float32 {
	return float32(countRateFixed) / float32(1<<7)
}

// sigmaToFixed5 converts the device 14.2 sigma into 11.5 format, clamping to
// 16 bits on overflow.
func sigmaToFixed5(raw uint16) uint16 {

	sigma := uint32(raw) << 3

	if sigma > 0xFFFF {
		sigma = 0xFFFF
	}

	return uint16(sigma)
}

// ratePerSpad converts a 9.7 mcps peak rate and 8.8 effective SPAD count into
// a 7.9 kcps per SPAD rate.
func ratePerSpad(peakRateMCPS, effectiveSpads uint16) uint32 {

	if effectiveSpads == 0 {
		return 0
	}

	rate := (uint64(peakRateMCPS) * 1000 * 1024) / uint64(effectiveSpads)

	if rate > 0xFFFFFFFF {
		rate = 0xFFFFFFFF
	}

	return uint32(rate)
}
