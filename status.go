package vl53l1

import (
	"fmt"

	"github.com/pkg/errors"
)

// Severity is the outcome class of a calibration procedure.
type Severity int

const (
	SeveritySuccess Severity = iota
	SeverityWarning
	SeverityError
)

// String implement Stringer interface for Severity
func (s Severity) String() string {
	switch s {
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusCode names the specific condition behind a CalibrationStatus.
type StatusCode int

const (
	StatusOK StatusCode = iota

	// warnings, result is usable and persisted
	MissingSamples
	SigmaTooHigh
	RateTooHigh
	SpadCountTooLow
	NoSamplesForGradient
	SigmaLimitForGradient
	RefSpadNotEnoughSpads
	RefSpadRateTooHigh
	RefSpadRateTooLow

	// errors, result must not be trusted
	NoSampleFail
	SigmaLimitFail
	NoSpadsEnabledFail
	CommFail
	TimeoutFail
	RangeFault
	InvalidParams
	InternalFail
)

var statusCodeNames = map[StatusCode]string{
	StatusOK:              "ok",
	MissingSamples:        "missing samples",
	SigmaTooHigh:          "sigma too high",
	RateTooHigh:           "rate too high",
	SpadCountTooLow:       "spad count too low",
	NoSamplesForGradient:  "no samples for gradient",
	SigmaLimitForGradient: "sigma limit for gradient",
	RefSpadNotEnoughSpads: "ref spad not enough spads",
	RefSpadRateTooHigh:    "ref spad rate too high",
	RefSpadRateTooLow:     "ref spad rate too low",
	NoSampleFail:          "no sample fail",
	SigmaLimitFail:        "sigma limit fail",
	NoSpadsEnabledFail:    "no spads enabled fail",
	CommFail:              "comm fail",
	TimeoutFail:           "timeout fail",
	RangeFault:            "range fault",
	InvalidParams:         "invalid params",
	InternalFail:          "internal fail",
}

// String implement Stringer interface for StatusCode
func (c StatusCode) String() string {
	if s, ok := statusCodeNames[c]; ok {
		return s
	}

	return fmt.Sprintf("status(%d)", int(c))
}

// Severity returns the outcome class the code belongs to.
func (c StatusCode) Severity() Severity {
	switch {
	case c == StatusOK:
		return SeveritySuccess
	case c >= NoSampleFail:
		return SeverityError
	default:
		return SeverityWarning
	}
}

// CalibrationStatus is the single outcome reported by a calibration
// procedure: success, one warning or one error.
type CalibrationStatus struct {
	Severity Severity
	Code     StatusCode
}

// NewStatus returns the status for code with its inherent severity.
func NewStatus(code StatusCode) CalibrationStatus {
	return CalibrationStatus{Severity: code.Severity(), Code: code}
}

// Success returns the success status.
func Success() CalibrationStatus {
	return CalibrationStatus{}
}

func (s CalibrationStatus) OK() bool {
	return s.Severity == SeveritySuccess
}

func (s CalibrationStatus) IsWarning() bool {
	return s.Severity == SeverityWarning
}

func (s CalibrationStatus) IsError() bool {
	return s.Severity == SeverityError
}

func (s CalibrationStatus) String() string {
	if s.Severity == SeveritySuccess {
		return s.Severity.String()
	}

	return fmt.Sprintf("%s(%s)", s.Severity, s.Code)
}

// StatusFromError maps a fatal procedure error onto its error status.
func StatusFromError(err error) CalibrationStatus {

	if err == nil {
		return Success()
	}

	var commErr *CommError
	var rangeErr *RangeError

	switch {
	case errors.As(err, &commErr):
		return NewStatus(CommFail)
	case errors.As(err, &rangeErr):
		return NewStatus(RangeFault)
	case errors.Is(err, ErrTimeout):
		return NewStatus(TimeoutFail)
	case errors.Is(err, ErrParam), errors.Is(err, ErrBusy), errors.Is(err, ErrNotInitialised):
		return NewStatus(InvalidParams)
	default:
		return NewStatus(InternalFail)
	}
}

// statusClassifier collects the outcome of the sample-adequacy checks of one
// procedure. Checks overwrite each other in the order they are made, except
// that a warning never replaces an error.
type statusClassifier struct {
	status CalibrationStatus
}

func (c *statusClassifier) record(code StatusCode) {

	next := NewStatus(code)

	if c.status.IsError() && !next.IsError() {
		return
	}

	c.status = next
}

// requireSamples records NoSampleFail for an empty bucket. Callers skip the
// remaining checks of a bucket when it returns false.
func (c *statusClassifier) requireSamples(acc *Accumulator) bool {

	if acc.Count() == 0 {
		c.record(NoSampleFail)
		return false
	}

	return true
}

// checkCount records MissingSamples when fewer samples than requested were
// accepted into the bucket.
func (c *statusClassifier) checkCount(acc *Accumulator, requested int) {
	if int(acc.Count()) < requested {
		c.record(MissingSamples)
	}
}

func (c *statusClassifier) result() CalibrationStatus {
	return c.status
}
