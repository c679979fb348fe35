package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/eyes/internal/domain"
)

// ErrRoutingNotConfigured is returned when a stage has no usable routing.
// It is never retried.
var ErrRoutingNotConfigured = errors.New("routing not configured")

// Class is the raw error class of a failed attempt.
type Class string

const (
	ClassTimeout   Class = "timeout"
	ClassTransport Class = "transport"
	ClassMalformed Class = "malformed"
)

// Attempt records one provider call made by Execute.
type Attempt struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Fallback  bool   `json:"fallback"`
	Class     Class  `json:"class,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Tries     int    `json:"tries"`
}

// Failure is returned when every attempt for a stage failed.
type Failure struct {
	Stage    string
	Attempts []Attempt
}

func (f *Failure) Error() string {
	parts := make([]string, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", a.Provider, a.Model, a.Class))
	}
	return fmt.Sprintf("stage %s failed after %d attempt(s): %s", f.Stage, len(f.Attempts), strings.Join(parts, ", "))
}

// TimedOut reports whether every attempt ended in a timeout.
func (f *Failure) TimedOut() bool {
	if len(f.Attempts) == 0 {
		return false
	}
	for _, a := range f.Attempts {
		if a.Class != ClassTimeout {
			return false
		}
	}
	return true
}

// Code maps the failure onto the envelope taxonomy.
func (f *Failure) Code() domain.Code {
	if f.TimedOut() {
		return domain.CodeEyeTimeout
	}
	return domain.CodeEyeError
}

// Message is the caller-facing description of the failure.
func (f *Failure) Message() string {
	if f.TimedOut() {
		return fmt.Sprintf("stage %s timed out on every provider", f.Stage)
	}
	last := f.Attempts[len(f.Attempts)-1]
	return fmt.Sprintf("stage %s failed: %s/%s returned %s error", f.Stage, last.Provider, last.Model, last.Class)
}
