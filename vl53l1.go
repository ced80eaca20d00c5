// Package vl53l1 is a driver for the ST VL53L1 time-of-flight sensor covering
// ranging, histogram capture and the device calibration procedures.
package vl53l1

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Address is the default address of the sensor on I2C bus
	Address uint8 = 0x29
	// TimingGuard is used in measurement timing budget calculations and is
	// given in microseconds
	TimingGuard uint32 = 4528
	// TargetRate is used in DSS calculations
	TargetRate uint16 = 0x0A00
)

// VL53L1 represents a single VL53L1 sensor instance. All device state is
// owned by the instance and guarded by its mutex, which a calibration
// procedure holds for its whole run.
type VL53L1 struct {
	mu sync.Mutex

	// bus is the register transport
	bus   Transport
	clock Clock
	// log logger for debugging
	log logrus.FieldLogger

	sp     SignalProcessor
	nvm    NVMSource
	tuning Tuning

	ioTimeout    time.Duration
	didTimeout   bool
	timeoutStart time.Time

	initialised      bool
	fastOscFrequency uint16
	oscCalibrateVal  uint16
	die              DieConstants

	preset   PresetMode
	settings deviceSettings
	zones    ZoneConfig
	// timing budget in milliseconds
	timingBudget uint32

	cal          CalibrationData
	xtalkEnabled bool
	offsetMode   OffsetCalibrationMode

	// loop is the ranging loop started by BeginRanging, nil when idle
	loop *RangingLoop

	// continuous ranging state kept for Read()
	calibrated      bool
	savedVHVInit    uint8
	savedVHVTimeout uint8

	skipInit bool
}

// Option configures a sensor instance before it is initialised.
type Option func(*VL53L1)

// WithLogger sets the logger used for debugging
func WithLogger(log logrus.FieldLogger) Option {
	return func(v *VL53L1) {
		v.log = log
	}
}

// WithClock sets the clock used for polling and delays
func WithClock(clock Clock) Option {
	return func(v *VL53L1) {
		v.clock = clock
	}
}

// WithNVM sets the die constant source read by Init
func WithNVM(nvm NVMSource) Option {
	return func(v *VL53L1) {
		v.nvm = nvm
	}
}

// WithSignalProcessor replaces the default signal processing
func WithSignalProcessor(sp SignalProcessor) Option {
	return func(v *VL53L1) {
		v.sp = sp
	}
}

// WithTuning sets the calibration tuning
func WithTuning(t Tuning) Option {
	return func(v *VL53L1) {
		v.tuning = t
	}
}

// WithTimeout sets the timeout for device polling, it must be positive
func WithTimeout(timeout time.Duration) Option {
	return func(v *VL53L1) {
		v.ioTimeout = timeout
	}
}

// WithDistanceMode sets the distance mode configured by Init
func WithDistanceMode(mode DistanceMode) Option {
	return func(v *VL53L1) {
		v.preset = distancePresets[mode]
	}
}

// WithTimingBudget sets the timing budget in milliseconds configured by Init
func WithTimingBudget(budget uint32) Option {
	return func(v *VL53L1) {
		v.timingBudget = budget
	}
}

// WithoutInit skips device initialisation in New, Init must then be called
// before ranging
func WithoutInit() Option {
	return func(v *VL53L1) {
		v.skipInit = true
	}
}

// New returns a new VL53L1 sensor instance on the given transport and
// initialises the device
func New(bus Transport, opts ...Option) (*VL53L1, error) {

	if bus == nil {
		return nil, errors.New("nil transport")
	}

	// create null logger
	nullLog := logrus.New()
	nullLog.SetOutput(io.Discard)

	v := &VL53L1{
		bus:          bus,
		clock:        systemClock{},
		log:          nullLog,
		sp:           NewDefaultSignalProcessor(),
		tuning:       DefaultTuning(),
		ioTimeout:    500 * time.Millisecond,
		preset:       PresetStandardRanging,
		timingBudget: 50,
		xtalkEnabled: true,
	}

	v.nvm = registerNVM{v: v}
	v.zones, _ = NewZoneConfig(Zones1x1)

	for _, opt := range opts {
		opt(v)
	}

	if err := v.tuning.Validate(); err != nil {
		return nil, err
	}

	if v.ioTimeout <= 0 {
		return nil, paramError("timeout %s must be positive", v.ioTimeout)
	}

	if v.skipInit {
		return v, nil
	}

	// finish device setup
	if err := v.Init(); err != nil {
		return v, errors.Wrap(err, "failed to init device")
	}

	v.log.Debug("device initialised")

	return v, nil
}

// NewWithLog creates sensor instance with logger to be used for debugging
func NewWithLog(bus Transport, log logrus.FieldLogger, opts ...Option) (*VL53L1, error) {
	return New(bus, append([]Option{WithLogger(log)}, opts...)...)
}

// readdresser is implemented by transports that can follow an address change
type readdresser interface {
	Readdress(newAddr uint8) error
}

// SetAddress change default address of sensor and point the transport at the
// new address.
func (v *VL53L1) SetAddress(newAddr uint8) error {

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.writeReg(I2C_SLAVE_DEVICE_ADDRESS, newAddr&0x7F); err != nil {
		return err
	}

	if r, ok := v.bus.(readdresser); ok {
		return r.Readdress(newAddr)
	}

	return nil
}

// SetSignalProcessor replaces the signal processing used by ranging and
// calibration
func (v *VL53L1) SetSignalProcessor(sp SignalProcessor) {

	v.mu.Lock()
	defer v.mu.Unlock()

	v.sp = sp
}

// Initialised reports whether Init completed
func (v *VL53L1) Initialised() bool {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.initialised
}

// requireIdle checks the device is initialised and no ranging loop is active
func (v *VL53L1) requireIdle() error {

	if !v.initialised {
		return ErrNotInitialised
	}

	if v.loop != nil {
		return ErrBusy
	}

	return nil
}
