package backup

import (
	"errors"
	"fmt"
)

// Kind classifies a backup failure
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindProbe
	KindInsufficientSpace
	KindAlreadyExists
	KindUnknownExclusion
	KindSpawn
	KindRuntime
	KindInterrupted
	KindIO
	KindConsumer
)

var kindNames = map[Kind]string{
	KindUnknown:           "UnknownError",
	KindConfig:            "ConfigError",
	KindProbe:             "ProbeError",
	KindInsufficientSpace: "InsufficientSpace",
	KindAlreadyExists:     "AlreadyExists",
	KindUnknownExclusion:  "UnknownExclusion",
	KindSpawn:             "SpawnError",
	KindRuntime:           "RuntimeError",
	KindInterrupted:       "InterruptedError",
	KindIO:                "IOError",
	KindConsumer:          "ConsumerError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error type returned by destinations, the estimator and the
// orchestrator. Required and Available are only set for KindInsufficientSpace.
type Error struct {
	Kind        Kind
	Destination string
	Message     string
	Required    uint64
	Available   uint64
	Err         error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err != nil:
		return e.Err.Error()
	case e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, dest string, format string, args ...any) *Error {
	return &Error{Kind: kind, Destination: dest, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, dest string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Destination: dest, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// NewConsumerError wraps a consumer lifecycle failure.
func NewConsumerError(err error, format string, args ...any) error {
	return wrapError(KindConsumer, "", err, format, args...)
}

// NewConfigError reports a malformed destination or exclusion.
func NewConfigError(format string, args ...any) error {
	return newError(KindConfig, "", format, args...)
}
