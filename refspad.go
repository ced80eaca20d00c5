package vl53l1

import "github.com/pkg/errors"

// RefSpadResult is the outcome of reference SPAD characterisation.
type RefSpadResult struct {
	DeviceStatus DeviceStatus
	NumSpads     uint8
	RefLocation  uint8
	SpadEnables  [6]uint8
}

// refSpadWarnings maps the characterisation device statuses onto warnings
var refSpadWarnings = map[DeviceStatus]StatusCode{
	DeviceRefSpadCharNotEnough:   RefSpadNotEnoughSpads,
	DeviceRefSpadCharMoreThanTgt: RefSpadRateTooHigh,
	DeviceRefSpadCharLessThanTgt: RefSpadRateTooLow,
}

// RunRefSpadCharacterisation runs the device test mode that selects the
// reference SPADs and stores the selection in the customer calibration. The
// selection is stored even when the device reports a warning. Based on
// VL53L1_run_ref_spad_char()
func (v *VL53L1) RunRefSpadCharacterisation() (result *RefSpadResult, status CalibrationStatus, err error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	log := v.procedureLog("refspad")

	if err := v.requireIdle(); err != nil {
		return nil, failed(log, err), err
	}

	log.Info("calibration started")

	saved := v.saveState()

	defer func() {
		rerr := v.restoreState(saved)

		// leave test mode
		if werr := v.writeReg(TEST_MODE_CTRL, 0x00); rerr == nil {
			rerr = werr
		}

		if err == nil && rerr != nil {
			err = errors.Wrap(rerr, "restore after ref spad characterisation")
			result, status = nil, failed(log, err)
		}
	}()

	if err := v.setPresetMode(PresetRefSpadCharacterisation); err != nil {
		return nil, failed(log, err), err
	}

	v.zones = singleZone(v.zones)
	v.settings.phasecalTimeoutUs = v.tuning.RefSpadTimeoutUs
	v.cal.Customer.RefSpadCharTotalRateTargetMCPS = v.tuning.RefSpadTargetRateMCPS

	res := &RefSpadResult{}

	err = v.rangeCycles(ModeSingleShot, ConfigFull, 1, func(m *Measurement) error {
		res.DeviceStatus = m.Status
		return nil
	})

	if err != nil {
		return nil, failed(log, err), err
	}

	if res.NumSpads, err = v.readReg(REF_SPAD_CHAR_RESULT_NUM_ACTUAL_SPADS); err != nil {
		return nil, failed(log, err), err
	}

	if res.RefLocation, err = v.readReg(REF_SPAD_CHAR_RESULT_REF_LOCATION); err != nil {
		return nil, failed(log, err), err
	}

	if err = v.readBlock(GLOBAL_CONFIG_SPAD_ENABLES_REF_0, res.SpadEnables[:]); err != nil {
		return nil, failed(log, err), err
	}

	var c statusClassifier

	if code, ok := refSpadWarnings[res.DeviceStatus]; ok {
		c.record(code)
	}

	cust := &v.cal.Customer
	cust.RefSpadManNumRequestedSpad = res.NumSpads
	cust.RefSpadManRefLocation = res.RefLocation
	cust.SpadEnablesRef = res.SpadEnables

	if err = v.writeCustomerCalibration(); err != nil {
		return nil, failed(log, err), err
	}

	log.WithField("spads", res.NumSpads).WithField("location", res.RefLocation).
		Debug("reference spads selected")

	status = c.result()
	finished(log, status)

	return res, status, nil
}
