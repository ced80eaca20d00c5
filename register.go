package vl53l1

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Basic registers
	SOFT_RESET uint16 = 0x0000

	// I2C address configuration
	I2C_SLAVE_DEVICE_ADDRESS uint16 = 0x0001

	// Identification and status registers
	IDENTIFICATION_MODEL_ID uint16 = 0x010F
	FIRMWARE_SYSTEM_STATUS  uint16 = 0x00E5

	// Oscillator and calibration registers
	OSC_MEASURED_FAST_OSC_FREQUENCY uint16 = 0x0006
	RESULT_OSC_CALIBRATE_VAL        uint16 = 0x00DE

	// VHV configuration registers
	VHV_CONFIG_TIMEOUT_MACROP_LOOP_BOUND uint16 = 0x0008
	VHV_CONFIG_INIT                      uint16 = 0x000B

	// Reference SPAD configuration, written from customer calibration data
	GLOBAL_CONFIG_SPAD_ENABLES_REF_0      uint16 = 0x000D
	GLOBAL_CONFIG_REF_EN_START_SELECT     uint16 = 0x0013
	REF_SPAD_MAN_NUM_REQUESTED_REF_SPADS  uint16 = 0x0014
	REF_SPAD_MAN_REF_LOCATION             uint16 = 0x0015
	REF_SPAD_CHAR_TOTAL_RATE_TARGET_MCPS  uint16 = 0x001C
	REF_SPAD_CHAR_RESULT_NUM_ACTUAL_SPADS uint16 = 0x00D9
	REF_SPAD_CHAR_RESULT_REF_LOCATION     uint16 = 0x00DA

	// Crosstalk compensation plane
	ALGO_CROSSTALK_COMPENSATION_PLANE_OFFSET_KCPS uint16 = 0x0016
	ALGO_CROSSTALK_COMPENSATION_X_PLANE_GRADIENT  uint16 = 0x0018
	ALGO_CROSSTALK_COMPENSATION_Y_PLANE_GRADIENT  uint16 = 0x001A

	// Algorithm part-to-part range offset
	ALGO_PART_TO_PART_RANGE_OFFSET_MM uint16 = 0x001E

	// Mode mitigation offsets
	MM_CONFIG_INNER_OFFSET_MM uint16 = 0x0020
	MM_CONFIG_OUTER_OFFSET_MM uint16 = 0x0022

	// DSS (Dynamic SPAD Selection) and related
	DSS_CONFIG_TARGET_TOTAL_RATE_MCPS        uint16 = 0x0024
	ALGO_RANGE_IGNORE_THRESHOLD_MCPS         uint16 = 0x0026
	DSS_CONFIG_ROI_MODE_CONTROL              uint16 = 0x004F
	DSS_CONFIG_MANUAL_EFFECTIVE_SPADS_SELECT uint16 = 0x0054
	DSS_CONFIG_APERTURE_ATTENUATION          uint16 = 0x0057

	// I/O voltage selection register
	PAD_I2C_HV_EXTSUP_CONFIG uint16 = 0x002E

	// GPIO status
	GPIO_TIO_HV_STATUS uint16 = 0x0031

	// Sigma estimator parameters
	SIGMA_EST_EFFECTIVE_PULSE_WIDTH_NS   uint16 = 0x0036
	SIGMA_EST_EFFECTIVE_AMBIENT_WIDTH_NS uint16 = 0x0037

	// Algorithm parameters
	ALGO_CROSSTALK_COMP_VALID_HEIGHT_MM uint16 = 0x0039
	ALGO_RANGE_IGNORE_VALID_HEIGHT_MM   uint16 = 0x003E
	ALGO_RANGE_MIN_CLIP                 uint16 = 0x003F
	ALGO_CONSISTENCY_CHECK_TOLERANCE    uint16 = 0x0040

	// Calibration and override registers
	CAL_CONFIG_VCSEL_START         uint16 = 0x0047
	PHASECAL_CONFIG_TIMEOUT_MACROP uint16 = 0x004B
	PHASECAL_CONFIG_OVERRIDE       uint16 = 0x004D

	// Timing thresholds
	SYSTEM_THRESH_RATE_HIGH uint16 = 0x0050
	SYSTEM_THRESH_RATE_LOW  uint16 = 0x0052

	// Timing timeout registers
	MM_CONFIG_TIMEOUT_MACROP_A    uint16 = 0x005A
	MM_CONFIG_TIMEOUT_MACROP_B    uint16 = 0x005C
	RANGE_CONFIG_TIMEOUT_MACROP_A uint16 = 0x005E
	RANGE_CONFIG_TIMEOUT_MACROP_B uint16 = 0x0061

	// Range configuration
	RANGE_CONFIG_VCSEL_PERIOD_A                uint16 = 0x0060
	RANGE_CONFIG_VCSEL_PERIOD_B                uint16 = 0x0063
	RANGE_CONFIG_SIGMA_THRESH                  uint16 = 0x0064
	RANGE_CONFIG_MIN_COUNT_RATE_RTN_LIMIT_MCPS uint16 = 0x0066
	RANGE_CONFIG_VALID_PHASE_HIGH              uint16 = 0x0069

	SYSTEM_INTERMEASUREMENT_PERIOD uint16 = 0x006C

	// Grouped parameters, seed and sequence config
	SYSTEM_GROUPED_PARAMETER_HOLD_0 uint16 = 0x0071
	SYSTEM_SEED_CONFIG              uint16 = 0x0077
	SYSTEM_GROUPED_PARAMETER_HOLD_1 uint16 = 0x007C
	SD_CONFIG_QUANTIFIER            uint16 = 0x007E
	SYSTEM_SEQUENCE_CONFIG          uint16 = 0x0081
	SYSTEM_GROUPED_PARAMETER_HOLD   uint16 = 0x0082

	// SD (Single Detector) configuration registers for ROI
	SD_CONFIG_WOI_SD0           uint16 = 0x0078
	SD_CONFIG_WOI_SD1           uint16 = 0x0079
	SD_CONFIG_INITIAL_PHASE_SD0 uint16 = 0x007A
	SD_CONFIG_INITIAL_PHASE_SD1 uint16 = 0x007B

	// ROI (region of interest) registers
	ROI_CONFIG_USER_ROI_CENTRE_SPAD              uint16 = 0x007F
	ROI_CONFIG_USER_ROI_REQUESTED_GLOBAL_XY_SIZE uint16 = 0x0080

	// Interrupt and mode registers
	SYSTEM_INTERRUPT_CLEAR uint16 = 0x0086
	SYSTEM_MODE_START      uint16 = 0x0087

	// Result registers. Range and histogram results are both read as one
	// block starting at RESULT_INTERRUPT_STATUS.
	RESULT_INTERRUPT_STATUS uint16 = 0x0088
	RESULT_RANGE_STATUS     uint16 = 0x0089

	// Phasecal result
	PHASECAL_RESULT_VCSEL_START uint16 = 0x00D8

	// Device test mode control
	TEST_MODE_CTRL uint16 = 0x00FE

	// NVM copy of the optical centre, loaded by firmware at boot
	ROI_CONFIG_MODE_ROI_CENTRE_SPAD uint16 = 0x013E
)

// Transport is a synchronous register-range transport to one device. Index
// is the 16-bit register address of the first byte.
type Transport interface {
	ReadRegisters(index uint16, buf []byte) error
	WriteRegisters(index uint16, data []byte) error
}

// readBlock reads len(buf) bytes starting at register reg.
func (v *VL53L1) readBlock(reg uint16, buf []byte) error {

	if err := v.bus.ReadRegisters(reg, buf); err != nil {
		return &CommError{Op: "read", Index: reg, Len: len(buf), Err: err}
	}

	v.log.WithFields(logrus.Fields{
		"reg": reg,
		"len": len(buf),
	}).Trace("read registers")

	return nil
}

// writeBlock writes data starting at register reg.
func (v *VL53L1) writeBlock(reg uint16, data []byte) error {

	if err := v.bus.WriteRegisters(reg, data); err != nil {
		return &CommError{Op: "write", Index: reg, Len: len(data), Err: err}
	}

	v.log.WithFields(logrus.Fields{
		"reg":  reg,
		"data": data,
	}).Trace("write registers")

	return nil
}

// writeReg writes a 8 bit value to the register
func (v *VL53L1) writeReg(reg uint16, value uint8) error {
	return v.writeBlock(reg, []byte{value})
}

// writeReg16Bit writes a 16 bit value to the register
func (v *VL53L1) writeReg16Bit(reg uint16, value uint16) error {
	return v.writeBlock(reg, []byte{byte(value >> 8), byte(value)})
}

// writeReg32Bit writes a 32 bit value to the register
func (v *VL53L1) writeReg32Bit(reg uint16, value uint32) error {

	buf := []byte{
		byte(value >> 24), byte(value >> 16),
		byte(value >> 8), byte(value),
	}

	return v.writeBlock(reg, buf)
}

// readReg reads an 8-bit value from a 16-bit register.
func (v *VL53L1) readReg(reg uint16) (uint8, error) {

	buf := make([]byte, 1)

	if err := v.readBlock(reg, buf); err != nil {
		return 0, err
	}

	return buf[0], nil
}

// readReg16Bit reads a 16-bit value from a 16-bit register.
func (v *VL53L1) readReg16Bit(reg uint16) (uint16, error) {

	buf := make([]byte, 2)

	if err := v.readBlock(reg, buf); err != nil {
		return 0, err
	}

	return be16(buf), nil
}

// readReg32Bit reads a 32-bit value from a 16-bit register.
func (v *VL53L1) readReg32Bit(reg uint16) (uint32, error) {

	buf := make([]byte, 4)

	if err := v.readBlock(reg, buf); err != nil {
		return 0, err
	}

	return be32(buf), nil
}

// regWrite is one entry of a register group written in sequence.
type regWrite struct {
	reg  uint16
	data []byte
}

func reg8(reg uint16, value uint8) regWrite {
	return regWrite{reg: reg, data: []byte{value}}
}

func reg16(reg uint16, value uint16) regWrite {
	return regWrite{reg: reg, data: []byte{byte(value >> 8), byte(value)}}
}

func reg32(reg uint16, value uint32) regWrite {
	return regWrite{reg: reg, data: []byte{
		byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value),
	}}
}

// writeGroup writes each entry in order, stopping at the first failure.
func (v *VL53L1) writeGroup(name string, group []regWrite) error {

	for _, w := range group {
		if err := v.writeBlock(w.reg, w.data); err != nil {
			return errors.Wrapf(err, "write %s config", name)
		}
	}

	return nil
}

func be16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func be24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
