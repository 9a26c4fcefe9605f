package convert

import (
	"errors"
	"fmt"
)

// Kind classifies why a conversion failed.
type Kind string

const (
	KindTimeout       Kind = "timeout"
	KindTool          Kind = "tool"
	KindOutputMissing Kind = "output-missing"
	KindLaunch        Kind = "launch"
	KindRejected      Kind = "rejected"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrTimeout       = errors.New("converter timed out")
	ErrToolFailed    = errors.New("converter reported failure")
	ErrOutputMissing = errors.New("converter produced no output")
	ErrLaunch        = errors.New("converter could not be started")
	ErrRejected      = errors.New("input rejected before conversion")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindTool:
		return ErrToolFailed
	case KindOutputMissing:
		return ErrOutputMissing
	case KindLaunch:
		return ErrLaunch
	case KindRejected:
		return ErrRejected
	}
	return nil
}

// Error is the failure outcome of a conversion.
type Error struct {
	Kind     Kind
	Strategy Strategy
	Input    string

	// Detail is a short human-readable reason (exit code, tool stderr...).
	Detail string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s conversion of %s: %v", e.Strategy, e.Input, e.Kind.sentinel())
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var convErr *Error
	if errors.As(err, &convErr) {
		return convErr.Kind
	}
	return ""
}
