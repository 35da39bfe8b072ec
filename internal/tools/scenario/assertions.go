package scenario

import (
	"fmt"
	"log"
)

// AssertionMode controls how expectation mismatches are handled.
type AssertionMode int

const (
	// AssertionStrict fails the scenario on the first unmet expectation.
	AssertionStrict AssertionMode = iota
	// AssertionLogOnly logs unmet expectations and keeps running.
	AssertionLogOnly
)

// Assertions evaluates scripted expectations against observed results.
type Assertions struct {
	Mode   AssertionMode
	Logger *log.Logger
}

// Failf reports a malformed or unrunnable step. It always fails.
func (a Assertions) Failf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// Assertf reports an unmet expectation. In log-only mode the mismatch is
// logged and the scenario continues.
func (a Assertions) Assertf(format string, args ...any) error {
	if a.Mode == AssertionLogOnly {
		if a.Logger != nil {
			a.Logger.Printf("assertion skipped: "+format, args...)
		}
		return nil
	}
	return fmt.Errorf(format, args...)
}
