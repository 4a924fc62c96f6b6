package indi

import (
	"errors"
	"fmt"
)

// Connection errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnect          = errors.New("connect failed")
)

// Decode and model errors.
var (
	ErrUnknownElement   = errors.New("unknown element")
	ErrMissingAttribute = errors.New("missing attribute")
	ErrInvalidNumber    = errors.New("invalid number")
	ErrInvalidSwitch    = errors.New("invalid switch state")
	ErrInvalidBLOB      = errors.New("invalid blob payload")
	ErrKindMismatch     = errors.New("value kind mismatch")
	ErrPropertyNotFound = errors.New("property not found")
	ErrMemberNotFound   = errors.New("member not found")
)

// DecodeError reports an element that could not be turned into a value or
// message.
type DecodeError struct {
	Element string
	Name    string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("decode %s %q: %v", e.Element, e.Name, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Element, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeError(el *Element, err error) error {
	return &DecodeError{Element: el.Name, Name: el.Attr("name"), Err: err}
}
