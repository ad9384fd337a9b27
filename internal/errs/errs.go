package errs

import (
	"fmt"
	"strings"

	cr "github.com/cockroachdb/errors"
)

// Error taxonomy shared by all layers. Concrete errors are marked with one of
// these so callers can branch with Is regardless of wrapping.
var (
	ErrInvalidRequest      = cr.New("invalid request")
	ErrNotFound            = cr.New("not found")
	ErrUnitConflict        = cr.New("unit conflict")
	ErrAlreadyTerminal     = cr.New("contract already terminal")
	ErrInvalidTransition   = cr.New("invalid state transition")
	ErrConcurrentUpdate    = cr.New("concurrent update")
	ErrDispatchUnavailable = cr.New("notification dispatch unavailable")
	ErrPermanentDelivery   = cr.New("permanent delivery failure")
	ErrJobOverlap          = cr.New("job already running")
)

func New(msg string) error {
	return cr.New(msg)
}

func Newf(format string, args ...any) error {
	return cr.Newf(format, args...)
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return cr.Wrapf(err, format, args...)
}

func Mark(err error, markErr error) error {
	if err == nil {
		return markErr
	}
	return cr.Mark(err, markErr)
}

// Invalid builds an ErrInvalidRequest-marked error with a caller facing message.
func Invalid(format string, args ...any) error {
	return cr.Mark(cr.Newf(format, args...), ErrInvalidRequest)
}

// NotFound builds an ErrNotFound-marked error for the named entity.
func NotFound(entity, id string) error {
	return cr.Mark(cr.Newf("%s %q not found", entity, id), ErrNotFound)
}

func Is(err, reference error) bool {
	return cr.Is(err, reference)
}

func As(err error, target any) bool {
	return cr.As(err, target)
}

func ExtractStackLines(err error, maxLines int) []string {
	if err == nil {
		return nil
	}
	s := fmt.Sprintf("%+v", err)
	lines := strings.Split(s, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}
