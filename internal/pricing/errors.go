package pricing

import (
	"errors"
	"fmt"
)

// Service-level errors.
var (
	ErrInvalidProduct   = errors.New("invalid product")
	ErrJobNotFound      = errors.New("job not found")
	ErrAllSourcesFailed = errors.New("all sources failed")
	ErrParse            = errors.New("listing parse error")
)

// Source failure sentinels. A SourceError matches exactly one of them.
var (
	ErrSourceTimeout = errors.New("source timeout")
	ErrSourceBlocked = errors.New("source blocked")
	ErrSourceParse   = errors.New("source parse error")
	ErrSourceNetwork = errors.New("source network error")
)

// ErrorKind classifies source failures for retry policy.
type ErrorKind int

// Source failure kinds.
const (
	KindNetwork ErrorKind = iota
	KindTimeout
	KindBlocked
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return ReasonTimeout
	case KindBlocked:
		return ReasonBlocked
	case KindParse:
		return ReasonParse
	default:
		return ReasonNetwork
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrSourceTimeout
	case KindBlocked:
		return ErrSourceBlocked
	case KindParse:
		return ErrSourceParse
	default:
		return ErrSourceNetwork
	}
}

// SourceError is returned by source adapters.
type SourceError struct {
	Source string
	Kind   ErrorKind
	Err    error
}

// NewSourceError wraps err with a source and kind.
func NewSourceError(source string, kind ErrorKind, err error) *SourceError {
	return &SourceError{Source: source, Kind: kind, Err: err}
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind.sentinel())
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind.sentinel(), e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *SourceError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf extracts the failure kind from err. Unknown errors are network failures.
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrSourceTimeout):
		return KindTimeout
	case errors.Is(err, ErrSourceBlocked):
		return KindBlocked
	case errors.Is(err, ErrSourceParse):
		return KindParse
	default:
		return KindNetwork
	}
}
