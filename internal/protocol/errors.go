package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated          = errors.New("protocol: truncated input")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrCorrupt            = errors.New("protocol: corrupt input")
)

// DecodeError names the field a decode step failed on.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (field=%s)", e.Err, e.Field)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Wrap attaches field to err. Errors already carrying a field keep the innermost one.
func Wrap(field string, err error) error {
	if err == nil {
		return nil
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Field: field, Err: err}
}

// Corruptf builds an ErrCorrupt with detail.
func Corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Kind is a stable label for an error class.
type Kind string

const (
	KindNone        Kind = ""
	KindTruncated   Kind = "truncated"
	KindUnsupported Kind = "unsupported_version"
	KindCorrupt     Kind = "corrupt"
	KindOther       Kind = "other"
)

func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTruncated):
		return KindTruncated
	case errors.Is(err, ErrUnsupportedVersion):
		return KindUnsupported
	case errors.Is(err, ErrCorrupt):
		return KindCorrupt
	default:
		return KindOther
	}
}
