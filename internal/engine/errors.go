package engine

import (
	"errors"
	"fmt"
)

// ErrOutputMissing reports that the tool exited successfully but the expected
// output file was not produced.
var ErrOutputMissing = errors.New("output file not found after conversion")

var (
	errLockHeld     = errors.New("engine profile dir is locked by another process")
	errStartAborted = errors.New("start aborted by shutdown")
)

// StartError reports that the engine process could not be launched. It is
// surfaced to every caller awaiting the shared start attempt; a later
// EnsureReady may retry.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return "engine start failed: " + e.Err.Error() }
func (e *StartError) Unwrap() error { return e.Err }

// ConversionError reports a failed tool invocation for a real conversion.
// Output carries the tool's captured diagnostic output.
type ConversionError struct {
	Format string
	Output string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("conversion to %s failed: %v: %s", e.Format, e.Err, e.Output)
	}
	return fmt.Sprintf("conversion to %s failed: %v", e.Format, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }
