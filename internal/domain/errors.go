package domain

import (
	"errors"
	"fmt"
)

// Rejections end the processing of one waveform. They are expected outcomes,
// not failures of the batch.
var (
	ErrMultipleTraces     = errors.New("multiple traces")
	ErrPreprocess         = errors.New("preprocess failed")
	ErrLowSNR             = errors.New("low snr")
	ErrSplineConstruction = errors.New("spline construction failed")
	ErrDistanceOutOfRange = errors.New("distance out of range")
	ErrNonFiniteMagnitude = errors.New("non-finite magnitude")
)

// ErrMissingFrequencyDistanceTable means no correction grid exists for the
// selected window duration. It indicates a broken configuration and must
// stop the run.
var ErrMissingFrequencyDistanceTable = errors.New("missing frequency/distance table")

// ErrEventNotFound is returned by stores that hold no result for an event.
var ErrEventNotFound = errors.New("event not found")

// Rejection reasons as reported in logs, metrics and output records.
const (
	ReasonMultipleTraces     = "multiple-traces"
	ReasonPreprocessFailed   = "preprocess-failed"
	ReasonLowSNR             = "low-snr"
	ReasonSplineError        = "spline-error"
	ReasonDistanceOutOfRange = "distance-out-of-range"
	ReasonNonFiniteMagnitude = "non-finite-magnitude"
)

var rejectionReasons = []struct {
	err    error
	reason string
}{
	{ErrMultipleTraces, ReasonMultipleTraces},
	{ErrPreprocess, ReasonPreprocessFailed},
	{ErrLowSNR, ReasonLowSNR},
	{ErrSplineConstruction, ReasonSplineError},
	{ErrDistanceOutOfRange, ReasonDistanceOutOfRange},
	{ErrNonFiniteMagnitude, ReasonNonFiniteMagnitude},
}

// Reject wraps a rejection sentinel with detail.
func Reject(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// RejectionReason returns the reason string for a rejection error and
// whether err is a rejection at all.
func RejectionReason(err error) (string, bool) {
	for _, r := range rejectionReasons {
		if errors.Is(err, r.err) {
			return r.reason, true
		}
	}
	return "", false
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMissingFrequencyDistanceTable)
}
