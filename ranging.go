package vl53l1

// StartContinuous begins continuous ranging with the given period (in ms).
func (v *VL53L1) StartContinuous(periodMs uint32) error {

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireIdle(); err != nil {
		return err
	}

	v.log.Debug("Start continuous mode")

	v.settings.interMeasurementMs = periodMs

	l, err := v.beginRanging(ModeTimed, ConfigTimingOnwards)

	if err != nil {
		return err
	}

	v.loop = l
	return nil
}

// StopContinuous stops continuous ranging.
func (v *VL53L1) StopContinuous() error {

	v.mu.Lock()
	defer v.mu.Unlock()

	v.log.Debug("Stop continuous mode")

	if v.loop == nil {
		return ErrNotRunning
	}

	if err := v.loop.end(); err != nil {
		return err
	}

	return v.restoreManualCalibration()
}

// Read returns a range data read from sensor. If blocking is true, this function
// will wait for a new measurement to be captured.  If blocking is false then it
// reads existing measurement from register.
func (v *VL53L1) Read(blocking bool) (RangingData, error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loop == nil || v.loop.external {
		return RangingData{}, ErrNotRunning
	}

	return v.readContinuous(v.loop, blocking)
}

// readContinuous reads one measurement of a timed or single shot loop and
// applies the low power auto mode updates
func (v *VL53L1) readContinuous(l *RangingLoop, blocking bool) (RangingData, error) {

	if blocking {
		if err := v.pollUntil(v.dataReady); err != nil {
			return RangingData{}, err
		}
	}

	m, err := l.readMeasurement()

	if err != nil {
		return RangingData{}, err
	}

	if !v.calibrated {
		if err := v.setupManualCalibration(); err != nil {
			return RangingData{}, err
		}

		v.calibrated = true
	}

	if err := v.updateDSS(m); err != nil {
		return RangingData{}, err
	}

	rData := m.RangingData()

	if err := l.advance(); err != nil {
		return RangingData{}, err
	}

	return rData, nil
}

// ReadSingle performs a single-shot ranging measurement
func (v *VL53L1) ReadSingle() (RangingData, error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireIdle(); err != nil {
		return RangingData{}, err
	}

	l, err := v.beginRanging(ModeSingleShot, ConfigTimingOnwards)

	if err != nil {
		return RangingData{}, err
	}

	rData, err := v.readContinuous(l, true)

	if endErr := l.end(); err == nil {
		err = endErr
	}

	return rData, err
}

// ReadRangeContinuousMillimeters returns a range reading in millimeters
// when continuous mode is active
func (v *VL53L1) ReadRangeContinuousMillimeters() (uint16, error) {
	rData, err := v.Read(true)
	return rData.RangeMM, err
}

// ReadRangeSingleMillimeters performs a single-shot range measurement and returns the reading in
// millimeters
func (v *VL53L1) ReadRangeSingleMillimeters() (uint16, error) {
	rData, err := v.ReadSingle()
	return rData.RangeMM, err
}

// setupManualCalibration sets up ranges after the first one in low power auto
// mode by turning off FW calibration steps and programming static values.  based
// on VL53L1_low_power_auto_setup_manual_calibration()
func (v *VL53L1) setupManualCalibration() error {

	// save original vhv configs
	initVal, err := v.readReg(VHV_CONFIG_INIT)

	if err != nil {
		return err
	}

	v.savedVHVInit = initVal
	timeoutVal, err := v.readReg(VHV_CONFIG_TIMEOUT_MACROP_LOOP_BOUND)

	if err != nil {
		return err
	}

	v.savedVHVTimeout = timeoutVal

	// disable VHV init
	if err := v.writeReg(VHV_CONFIG_INIT, v.savedVHVInit&0x7F); err != nil {
		return err
	}

	// set loop bound to tuning param
	newVal := (v.savedVHVTimeout & 0x03) + (3 << 2)

	if err := v.writeReg(VHV_CONFIG_TIMEOUT_MACROP_LOOP_BOUND, newVal); err != nil {
		return err
	}

	// override phasecal
	if err := v.writeReg(PHASECAL_CONFIG_OVERRIDE, 0x01); err != nil {
		return err
	}

	phStart, err := v.readReg(PHASECAL_RESULT_VCSEL_START)

	if err != nil {
		return err
	}

	return v.writeReg(CAL_CONFIG_VCSEL_START, phStart)
}

// restoreManualCalibration undoes setupManualCalibration once continuous
// ranging stops
func (v *VL53L1) restoreManualCalibration() error {

	// In low-power auto mode, restore VHV configuration.
	v.calibrated = false

	if v.savedVHVInit != 0 {
		if err := v.writeReg(VHV_CONFIG_INIT, v.savedVHVInit); err != nil {
			return err
		}
	}

	if v.savedVHVTimeout != 0 {
		if err := v.writeReg(VHV_CONFIG_TIMEOUT_MACROP_LOOP_BOUND, v.savedVHVTimeout); err != nil {
			return err
		}
	}

	// remove phasecal override
	return v.writeReg(PHASECAL_CONFIG_OVERRIDE, 0x00)
}

// updateDSS performs dynamic SPAD selection calculation/update based on
// VL53L1_low_power_auto_update_DSS()
func (v *VL53L1) updateDSS(m *Measurement) error {

	var t RangeSample

	if len(m.Targets) > 0 {
		t = m.Targets[0]
	}

	if spadCount := t.EffectiveSpads; spadCount != 0 {
		// calc total rate per spad
		totalRatePerSpad := uint32(t.PeakSignalRateMCPS) + uint32(t.AmbientRateMCPS)

		// clip to 16 bits
		if totalRatePerSpad > 0xFFFF {
			totalRatePerSpad = 0xFFFF
		}

		// shift up to take advantage of 32 bits
		totalRatePerSpad <<= 16
		totalRatePerSpad /= uint32(spadCount)

		if totalRatePerSpad != 0 {
			// get the target rate and shift up by 16
			requiredSpads := (uint32(v.settings.dssTargetRate) << 16) / totalRatePerSpad

			// clip to 16 bit
			if requiredSpads > 0xFFFF {
				requiredSpads = 0xFFFF
			}

			// override DSS config
			return v.writeReg16Bit(DSS_CONFIG_MANUAL_EFFECTIVE_SPADS_SELECT, uint16(requiredSpads))
		}
	}

	// If we reached this point, it means something above would have resulted in a
	// divide by zero. We want to gracefully set a spad target, not just exit
	// with an error so fall back to a mid‐point target.
	return v.writeReg16Bit(DSS_CONFIG_MANUAL_EFFECTIVE_SPADS_SELECT, 0x8000)
}
