package vl53l1

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ConfigLevel selects how much of the device configuration is written when
// ranging starts. Each level includes every level below it.
type ConfigLevel int

const (
	ConfigSystemControl ConfigLevel = iota
	ConfigDynamicOnwards
	ConfigTimingOnwards
	ConfigGeneralOnwards
	ConfigStaticOnwards
	ConfigCustomerOnwards
	ConfigFull
)

// String implement Stringer interface for ConfigLevel
func (l ConfigLevel) String() string {
	switch l {
	case ConfigSystemControl:
		return "system control"
	case ConfigDynamicOnwards:
		return "dynamic onwards"
	case ConfigTimingOnwards:
		return "timing onwards"
	case ConfigGeneralOnwards:
		return "general onwards"
	case ConfigStaticOnwards:
		return "static onwards"
	case ConfigCustomerOnwards:
		return "customer onwards"
	case ConfigFull:
		return "full"
	default:
		return fmt.Sprintf("config level %d", int(l))
	}
}

// deviceModelID is the expected IDENTIFICATION_MODEL_ID
const deviceModelID uint16 = 0xEACC

// Init initialize sensor using sequence based on VL53L1_DataInit() and
// VL53L1_StaticInit()
func (v *VL53L1) Init() error {

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loop != nil {
		return ErrBusy
	}

	v.initialised = false

	if err := v.dataInit(); err != nil {
		return errors.Wrap(err, "data init")
	}

	if err := v.staticInit(); err != nil {
		return errors.Wrap(err, "static init")
	}

	v.initialised = true

	v.log.WithFields(logrus.Fields{
		"fastOsc": v.fastOscFrequency,
		"oscCal":  v.oscCalibrateVal,
		"preset":  v.preset,
	}).Info("device init complete")

	return nil
}

// dataInit implements VL53L1_DataInit(), resetting the device and loading its
// oscillator, die constants and customer calibration
func (v *VL53L1) dataInit() error {

	// check model ID and module type registers (values specified in datasheet)
	model, err := v.readReg16Bit(IDENTIFICATION_MODEL_ID)

	if err != nil {
		return err
	}

	if model != deviceModelID {
		return fmt.Errorf("unexpected model ID: 0x%X", model)
	}

	// VL53L1_software_reset()
	if err := v.writeReg(SOFT_RESET, 0x00); err != nil {
		return err
	}

	v.clock.Sleep(100 * time.Microsecond)

	if err := v.writeReg(SOFT_RESET, 0x01); err != nil {
		return err
	}

	// give it some time to boot; otherwise the sensor NACKs during the readReg()
	// call below
	v.clock.Sleep(1 * time.Millisecond)

	// VL53L1_poll_for_boot_completion()
	err = v.pollUntil(func() (bool, error) {

		sysStatus, err := v.readReg(FIRMWARE_SYSTEM_STATUS)

		if err != nil {
			return false, err
		}

		return sysStatus&0x01 != 0, nil
	})

	if err != nil {
		return errors.Wrap(err, "boot completion")
	}

	// sensor uses 1V8 mode for I/O by default; switch to 2V8 mode
	val, err := v.readReg(PAD_I2C_HV_EXTSUP_CONFIG)

	if err != nil {
		return err
	}

	if err := v.writeReg(PAD_I2C_HV_EXTSUP_CONFIG, val|0x01); err != nil {
		return err
	}

	// Store oscillator info.
	fosc, err := v.readReg16Bit(OSC_MEASURED_FAST_OSC_FREQUENCY)

	if err != nil {
		return err
	}

	if fosc == 0 {
		return errors.New("fast oscillator frequency reads zero")
	}

	v.fastOscFrequency = fosc

	oscCal, err := v.readReg16Bit(RESULT_OSC_CALIBRATE_VAL)

	if err != nil {
		return err
	}

	v.oscCalibrateVal = oscCal

	die, err := v.nvm.ReadDieConstants()

	if err != nil {
		return errors.Wrap(err, "read die constants")
	}

	v.die = die

	return v.readCustomerCalibration()
}

// staticInit implements VL53L1_StaticInit(), selecting the preset mode and
// writing the full configuration
func (v *VL53L1) staticInit() error {

	if err := v.setPresetMode(v.preset); err != nil {
		return err
	}

	// Set part‐to‐part range offset from the factory outer offset when the
	// customer registers carry none.
	if v.cal.Customer.PartToPartRangeOffsetMM == 0 {
		v.cal.Customer.PartToPartRangeOffsetMM = v.die.FactoryOuterOffsetMM * 4
	}

	return v.writeConfig(ConfigFull, 0)
}

// staticGroup returns the static config registers
func (v *VL53L1) staticGroup() []regWrite {
	return []regWrite{
		reg16(DSS_CONFIG_TARGET_TOTAL_RATE_MCPS, v.settings.dssTargetRate),
		reg8(GPIO_TIO_HV_STATUS, 0x02),
		reg8(SIGMA_EST_EFFECTIVE_PULSE_WIDTH_NS, 8),
		reg8(SIGMA_EST_EFFECTIVE_AMBIENT_WIDTH_NS, 16),
		reg8(ALGO_CROSSTALK_COMP_VALID_HEIGHT_MM, 0x01),
		reg8(ALGO_RANGE_IGNORE_VALID_HEIGHT_MM, 0xFF),
		reg8(ALGO_RANGE_MIN_CLIP, 0),
		reg8(ALGO_CONSISTENCY_CHECK_TOLERANCE, 2),
	}
}

// generalGroup returns the general config registers
func (v *VL53L1) generalGroup() []regWrite {
	return []regWrite{
		reg16(SYSTEM_THRESH_RATE_HIGH, 0x0000),
		reg16(SYSTEM_THRESH_RATE_LOW, 0x0000),
		reg8(DSS_CONFIG_APERTURE_ATTENUATION, 0x38),
		reg8(DSS_CONFIG_ROI_MODE_CONTROL, v.settings.dssMode),
		reg16(DSS_CONFIG_MANUAL_EFFECTIVE_SPADS_SELECT, v.settings.dssManualSpads),
		reg16(RANGE_CONFIG_SIGMA_THRESH, 360),
		reg16(RANGE_CONFIG_MIN_COUNT_RATE_RTN_LIMIT_MCPS, 192),
	}
}

// dynamicGroup returns the dynamic config registers for one zone
func (v *VL53L1) dynamicGroup(zone int) []regWrite {

	s := &v.settings
	roi := v.zones.Zones[zone]

	return []regWrite{
		reg8(SYSTEM_GROUPED_PARAMETER_HOLD_0, 0x01),
		reg8(SD_CONFIG_WOI_SD0, s.woiSD0),
		reg8(SD_CONFIG_WOI_SD1, s.woiSD1),
		reg8(SD_CONFIG_INITIAL_PHASE_SD0, s.initialPhaseSD0),
		reg8(SD_CONFIG_INITIAL_PHASE_SD1, s.initialPhaseSD1),
		reg8(SYSTEM_GROUPED_PARAMETER_HOLD_1, 0x01),
		reg8(SD_CONFIG_QUANTIFIER, 2),
		reg8(ROI_CONFIG_USER_ROI_CENTRE_SPAD, roi.CentreSpad()),
		reg8(ROI_CONFIG_USER_ROI_REQUESTED_GLOBAL_XY_SIZE, roi.SizeReg()),
		reg8(SYSTEM_SEED_CONFIG, 1),
		reg8(SYSTEM_SEQUENCE_CONFIG, s.sequenceConfig),
		reg8(SYSTEM_GROUPED_PARAMETER_HOLD, 0x00),
	}
}

// systemControlGroup returns the registers written immediately before a
// mode start
func (v *VL53L1) systemControlGroup() []regWrite {
	return []regWrite{
		reg8(TEST_MODE_CTRL, v.settings.testMode),
		reg8(SYSTEM_INTERRUPT_CLEAR, 0x01),
	}
}

// writeConfig writes the config groups from level down to system control,
// with the dynamic group for the given zone. Based on VL53L1_init_and_start_range()
func (v *VL53L1) writeConfig(level ConfigLevel, zone int) error {

	if level < ConfigSystemControl || level > ConfigFull {
		return paramError("unknown config level %d", int(level))
	}

	if level >= ConfigCustomerOnwards {
		if err := v.writeGroup("customer", v.customerGroup()); err != nil {
			return err
		}
	}

	if level >= ConfigStaticOnwards {
		if err := v.writeGroup("static", v.staticGroup()); err != nil {
			return err
		}
	}

	if level >= ConfigGeneralOnwards {
		if err := v.writeGroup("general", v.generalGroup()); err != nil {
			return err
		}
	}

	if level >= ConfigTimingOnwards {
		timing, err := timingGroup(&v.settings, v.fastOscFrequency, v.oscCalibrateVal)

		if err != nil {
			return err
		}

		if err := v.writeGroup("timing", timing); err != nil {
			return err
		}
	}

	if level >= ConfigDynamicOnwards {
		if err := v.writeGroup("dynamic", v.dynamicGroup(zone)); err != nil {
			return err
		}
	}

	v.log.WithFields(logrus.Fields{
		"level":  level,
		"zone":   zone,
		"preset": v.preset,
	}).Debug("device config written")

	return v.writeGroup("system control", v.systemControlGroup())
}
