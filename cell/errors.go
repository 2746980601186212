package cell

import (
	"errors"
	"fmt"
)

// ErrTypeMismatch is matched by every conversion failure in this package.
var ErrTypeMismatch = errors.New("type mismatch")

// MismatchError is returned when a value of one kind is read as another.
type MismatchError struct {
	Want Kind
	Got  Kind
	Msg  string
}

func mismatch(want, got Kind) error {
	return &MismatchError{Want: want, Got: got}
}

func mismatchf(want, got Kind, format string, args ...any) error {
	return &MismatchError{Want: want, Got: got, Msg: fmt.Sprintf(format, args...)}
}

func (e *MismatchError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("type mismatch: want %v, got %v: %s", e.Want, e.Got, e.Msg)
	}
	return fmt.Sprintf("type mismatch: want %v, got %v", e.Want, e.Got)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}
