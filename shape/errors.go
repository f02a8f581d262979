package shape

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ShapeMismatchError reports a tensor whose dimensions violate a block's
// declared contract.
type ShapeMismatchError struct {
	Op   string // block or operation that rejected the tensor
	Got  Shape
	Want Shape // optional
	Msg  string
}

func (e *ShapeMismatchError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "shape mismatch in %s: ", e.Op)
	sb.WriteString(e.Msg)
	if e.Got != nil {
		fmt.Fprintf(&sb, " (got %v", e.Got)
		if e.Want != nil {
			fmt.Fprintf(&sb, ", want %v", e.Want)
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// Mismatchf builds a ShapeMismatchError.
func Mismatchf(op string, got, want Shape, format string, args ...interface{}) error {
	return &ShapeMismatchError{Op: op, Got: got, Want: want, Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports invalid construction parameters.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Msg
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// Configf builds a ConfigurationError.
func Configf(format string, args ...interface{}) error {
	return configErrorf(format, args...)
}

// IsShapeMismatch reports whether err wraps a *ShapeMismatchError.
func IsShapeMismatch(err error) bool {
	var target *ShapeMismatchError
	return errors.As(err, &target)
}

// IsConfiguration reports whether err wraps a *ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}
