package vl53l1

import "github.com/pkg/errors"

// DieConstants are the per part values programmed at the factory.
type DieConstants struct {
	OpticalCentre OpticalCentre
	// factory mode mitigation offsets in mm
	FactoryInnerOffsetMM int16
	FactoryOuterOffsetMM int16
	// peak rate map of the SPAD array in 9.7 mcps, row major, optional
	PeakRateMap []uint16
}

// NVMSource provides the read-only die constants of a device.
type NVMSource interface {
	ReadDieConstants() (DieConstants, error)
}

// StaticNVM returns fixed die constants, for parts whose NVM was read once
// and cached.
type StaticNVM DieConstants

func (s StaticNVM) ReadDieConstants() (DieConstants, error) {
	return DieConstants(s), nil
}

// registerNVM reads the die constants the firmware copies from NVM into
// registers at boot.
type registerNVM struct {
	v *VL53L1
}

func (r registerNVM) ReadDieConstants() (DieConstants, error) {

	var dc DieConstants

	centre, err := r.v.readReg(ROI_CONFIG_MODE_ROI_CENTRE_SPAD)

	if err != nil {
		return dc, errors.Wrap(err, "read optical centre")
	}

	dc.OpticalCentre.X, dc.OpticalCentre.Y = decodeCentreSpad(centre)

	inner, err := r.v.readReg16Bit(MM_CONFIG_INNER_OFFSET_MM)

	if err != nil {
		return dc, errors.Wrap(err, "read factory inner offset")
	}

	outer, err := r.v.readReg16Bit(MM_CONFIG_OUTER_OFFSET_MM)

	if err != nil {
		return dc, errors.Wrap(err, "read factory outer offset")
	}

	dc.FactoryInnerOffsetMM = int16(inner)
	dc.FactoryOuterOffsetMM = int16(outer)

	return dc, nil
}

// SetNVM replaces the die constant source read by Init
func (v *VL53L1) SetNVM(nvm NVMSource) {

	v.mu.Lock()
	defer v.mu.Unlock()

	v.nvm = nvm
}

// DieConstants returns the die constants read at Init
func (v *VL53L1) DieConstants() DieConstants {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.die
}
