package vl53l1

import "time"

// Clock provides time to the polling loops so tests can run them against
// virtual time.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
}

// systemClock is the Clock backed by package time
type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (systemClock) Sleep(d time.Duration)           { time.Sleep(d) }

// pollInterval is the delay between device status polls
const pollInterval = 1 * time.Millisecond

// SetTimeout set the timeout duration for reading sensor values
func (v *VL53L1) SetTimeout(timeout time.Duration) error {

	if timeout <= 0 {
		return paramError("timeout %s must be positive", timeout)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.ioTimeout = timeout

	return nil
}

// SetClock replaces the clock used for polling and delays
func (v *VL53L1) SetClock(clock Clock) {

	v.mu.Lock()
	defer v.mu.Unlock()

	v.clock = clock
}

// TimeoutOccurred reports whether a timeout has occurred
func (v *VL53L1) TimeoutOccurred() bool {

	v.mu.Lock()
	defer v.mu.Unlock()

	tmp := v.didTimeout
	v.didTimeout = false
	return tmp
}

// startTimeout starts the timeout counter
func (v *VL53L1) startTimeout() {
	v.timeoutStart = v.clock.Now()
}

// checkTimeoutExpired checks if timeout has expired. A non-positive timeout
// expires on the first check.
func (v *VL53L1) checkTimeoutExpired(timeout time.Duration) bool {
	return v.clock.Since(v.timeoutStart) >= timeout
}

// pollUntil polls ready until it reports true or the I/O timeout expires.
func (v *VL53L1) pollUntil(ready func() (bool, error)) error {
	return v.pollFor(v.ioTimeout, ready)
}

// pollFor polls ready until it reports true or timeout expires.
func (v *VL53L1) pollFor(timeout time.Duration, ready func() (bool, error)) error {

	v.startTimeout()

	for {
		ok, err := ready()

		if err != nil {
			return err
		}

		if ok {
			return nil
		}

		if v.checkTimeoutExpired(timeout) {
			v.didTimeout = true
			return ErrTimeout
		}

		v.clock.Sleep(pollInterval)
	}
}
