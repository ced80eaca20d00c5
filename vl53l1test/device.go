// Package vl53l1test provides a register level simulated VL53L1 and a mock
// clock for testing code built on package vl53l1.
package vl53l1test

import (
	"sync"

	"github.com/swdee/go-vl53l1"
)

// Frame is the result of one ranging cycle served by the simulated device.
// A frame with a Histogram is served as a histogram result block.
type Frame struct {
	Status      vl53l1.DeviceStatus
	StreamCount uint8
	// up to two targets, sigma in 11.5 mm and a multiple of 8
	Targets   []vl53l1.RangeSample
	Histogram *vl53l1.HistogramBinData
}

// RangeFrame returns a range frame reporting the status of its first target.
func RangeFrame(targets ...vl53l1.RangeSample) Frame {

	f := Frame{StreamCount: 1, Targets: targets}

	if len(targets) > 0 {
		f.Status = targets[0].DeviceStatus
	}

	return f
}

// HistogramFrame returns a histogram frame.
func HistogramFrame(h vl53l1.HistogramBinData) Frame {
	return Frame{Status: vl53l1.DeviceRangeComplete, StreamCount: 1, Histogram: &h}
}

// Write is one register write received by the device.
type Write struct {
	Index uint16
	Data  []byte
}

// failure makes transfers on one register fail once after succeeds
// successful transfers
type failure struct {
	after int
	err   error
}

// Default register contents after power up
const (
	ModelID          uint16 = 0xEACC
	FastOscFrequency uint16 = 0xBCCC
	OscCalibrateVal  uint16 = 0x0100
)

// Device is a simulated VL53L1 implementing vl53l1.Transport. Ranging cycles
// complete immediately with the next queued frame; with the queue empty the
// device never signals data ready.
type Device struct {
	mu sync.Mutex

	regs    map[uint16]byte
	queue   []Frame
	current *Frame
	// seen is set once the current frame has been read
	seen    bool
	running bool
	mode    uint8

	modeStarts int
	aborts     int
	served     int
	writes     []Write

	readFail  map[uint16]*failure
	writeFail map[uint16]*failure
}

// NewDevice returns a booted device with default register contents.
func NewDevice() *Device {

	d := &Device{
		regs:      make(map[uint16]byte),
		readFail:  make(map[uint16]*failure),
		writeFail: make(map[uint16]*failure),
	}

	d.setRegister(vl53l1.IDENTIFICATION_MODEL_ID, byte(ModelID>>8), byte(ModelID&0xFF))
	d.setRegister(vl53l1.FIRMWARE_SYSTEM_STATUS, 0x01)
	d.setRegister(vl53l1.OSC_MEASURED_FAST_OSC_FREQUENCY, byte(FastOscFrequency>>8), byte(FastOscFrequency&0xFF))
	d.setRegister(vl53l1.RESULT_OSC_CALIBRATE_VAL, byte(OscCalibrateVal>>8), byte(OscCalibrateVal&0xFF))
	d.setRegister(vl53l1.ROI_CONFIG_MODE_ROI_CENTRE_SPAD, vl53l1.DefaultCentreSpad)
	d.setRegister(vl53l1.GPIO_TIO_HV_STATUS, 0x01)

	return d
}

// Queue appends frames served by following ranging cycles.
func (d *Device) Queue(frames ...Frame) {

	d.mu.Lock()
	defer d.mu.Unlock()

	d.queue = append(d.queue, frames...)
}

// Repeat queues n copies of f.
func (d *Device) Repeat(f Frame, n int) {
	for i := 0; i < n; i++ {
		d.Queue(f)
	}
}

// Pending returns the number of queued frames not yet served.
func (d *Device) Pending() int {

	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.queue)
}

// Served returns the number of frames served.
func (d *Device) Served() int {

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.served
}

// SetRegister sets register contents starting at index.
func (d *Device) SetRegister(index uint16, data ...byte) {

	d.mu.Lock()
	defer d.mu.Unlock()

	d.setRegister(index, data...)
}

func (d *Device) setRegister(index uint16, data ...byte) {
	for i, b := range data {
		d.regs[index+uint16(i)] = b
	}
}

// Register returns the contents of one register.
func (d *Device) Register(index uint16) byte {

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.regs[index]
}

// Register16 returns a big endian 16-bit register.
func (d *Device) Register16(index uint16) uint16 {

	d.mu.Lock()
	defer d.mu.Unlock()

	return uint16(d.regs[index])<<8 | uint16(d.regs[index+1])
}

// FailRead makes the read of index fail with err after succeed good reads.
func (d *Device) FailRead(index uint16, succeed int, err error) {

	d.mu.Lock()
	defer d.mu.Unlock()

	d.readFail[index] = &failure{after: succeed, err: err}
}

// FailWrite makes the write of index fail with err after succeed good writes.
func (d *Device) FailWrite(index uint16, succeed int, err error) {

	d.mu.Lock()
	defer d.mu.Unlock()

	d.writeFail[index] = &failure{after: succeed, err: err}
}

// Writes returns every write received in order.
func (d *Device) Writes() []Write {

	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Write(nil), d.writes...)
}

// WritesTo returns the data of every write starting at index.
func (d *Device) WritesTo(index uint16) [][]byte {

	d.mu.Lock()
	defer d.mu.Unlock()

	var out [][]byte

	for _, w := range d.writes {
		if w.Index == index {
			out = append(out, w.Data)
		}
	}

	return out
}

// ModeStarts returns the number of ranging starts received.
func (d *Device) ModeStarts() int {

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.modeStarts
}

// Aborts returns the number of ranging aborts received.
func (d *Device) Aborts() int {

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.aborts
}

// Running reports whether the device is ranging.
func (d *Device) Running() bool {

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.running
}

// check applies an injected failure, which fires once
func check(fails map[uint16]*failure, index uint16) error {

	f, ok := fails[index]

	if !ok {
		return nil
	}

	if f.after > 0 {
		f.after--
		return nil
	}

	delete(fails, index)

	return f.err
}

// ReadRegisters implements vl53l1.Transport.
func (d *Device) ReadRegisters(index uint16, buf []byte) error {

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := check(d.readFail, index); err != nil {
		return err
	}

	if index == vl53l1.RESULT_INTERRUPT_STATUS && d.current != nil {
		for i := range buf {
			buf[i] = 0
		}

		copy(buf, encodeFrame(d.current))
		d.seen = true
		return nil
	}

	for i := range buf {
		buf[i] = d.regs[index+uint16(i)]
	}

	if index == vl53l1.GPIO_TIO_HV_STATUS && len(buf) > 0 {
		// interrupt is active low
		if d.running && d.current != nil {
			buf[0] &^= 0x01
		} else {
			buf[0] |= 0x01
		}
	}

	return nil
}

// WriteRegisters implements vl53l1.Transport.
func (d *Device) WriteRegisters(index uint16, data []byte) error {

	d.mu.Lock()
	defer d.mu.Unlock()

	d.writes = append(d.writes, Write{Index: index, Data: append([]byte(nil), data...)})

	if err := check(d.writeFail, index); err != nil {
		return err
	}

	for i, b := range data {

		reg := index + uint16(i)
		d.regs[reg] = b

		switch reg {
		case vl53l1.SYSTEM_MODE_START:
			d.modeStart(b)
		case vl53l1.SYSTEM_INTERRUPT_CLEAR:
			if b&0x01 != 0 {
				d.interruptClear()
			}
		}
	}

	return nil
}

func (d *Device) modeStart(mode byte) {

	if mode&0x80 != 0 {
		d.aborts++
		d.running = false

		// a measurement never read is lost to the abort, keep its frame for
		// the next start
		if d.current != nil && !d.seen {
			d.queue = append([]Frame{*d.current}, d.queue...)
			d.served--
		}

		d.current = nil
		return
	}

	d.modeStarts++
	d.running = true
	d.mode = mode
	d.current = d.next()
}

func (d *Device) interruptClear() {

	if !d.running || d.current == nil {
		return
	}

	d.current = nil

	// single shot waits for the next start
	if d.mode != uint8(vl53l1.ModeSingleShot) {
		d.current = d.next()
	}
}

func (d *Device) next() *Frame {

	if len(d.queue) == 0 {
		return nil
	}

	f := d.queue[0]
	d.queue = d.queue[1:]
	d.served++
	d.seen = false

	return &f
}
