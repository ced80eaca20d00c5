package vl53l1

import "github.com/sirupsen/logrus"

// savedState is the session configuration a procedure changes and puts back
// before returning.
type savedState struct {
	preset PresetMode
	zones  ZoneConfig
}

func (v *VL53L1) saveState() savedState {
	return savedState{preset: v.preset, zones: v.zones}
}

func (v *VL53L1) restoreState(s savedState) error {
	v.zones = s.zones
	return v.setPresetMode(s.preset)
}

// singleZone returns a layout of the first zone of z only
func singleZone(z ZoneConfig) ZoneConfig {
	return ZoneConfig{Preset: ZonesCustom, Zones: []UserROI{z.Zones[0]}}
}

// completedTargets returns the targets the device fully ranged
func completedTargets(targets []RangeSample) []RangeSample {

	var done []RangeSample

	for _, t := range targets {
		if t.DeviceStatus == DeviceRangeComplete {
			done = append(done, t)
		}
	}

	return done
}

// procedureLog returns the logger for one calibration procedure
func (v *VL53L1) procedureLog(name string) logrus.FieldLogger {
	return v.log.WithField("procedure", name)
}

// failed logs and classifies a fatal procedure error
func failed(log logrus.FieldLogger, err error) CalibrationStatus {

	status := StatusFromError(err)

	log.WithError(err).WithField("status", status).Error("calibration aborted")

	return status
}

// finished logs the outcome of a procedure that ran to completion
func finished(log logrus.FieldLogger, status CalibrationStatus) {

	entry := log.WithField("status", status)

	switch {
	case status.IsError():
		entry.Error("calibration failed")
	case status.IsWarning():
		entry.Warn("calibration complete with warning")
	default:
		entry.Info("calibration complete")
	}
}
