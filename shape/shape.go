// Package shape holds the closed-form size arithmetic used by the ERFNet
// blocks. It has no tensor backend dependency so that a whole network can be
// checked symbolically before any parameter is touched.
package shape

import (
	"fmt"

	"github.com/pkg/errors"
)

// NCHW axis indices.
const (
	Batch   = 0
	Channel = 1
	Height  = 2
	Width   = 3
)

// Shape is a tensor shape, [batch channels height width] for activations.
type Shape []int64

// New returns an activation shape.
func New(batch, channels, height, width int64) Shape {
	return Shape{batch, channels, height, width}
}

// Clone returns a copy of s.
func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

// Equal reports whether both shapes have the same rank and dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Size returns the number of elements.
func (s Shape) Size() int64 {
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

func (s Shape) String() string {
	return fmt.Sprint([]int64(s))
}

// CheckActivation verifies s is a rank-4 activation with the given channel
// count. op names the block for the error message.
func (s Shape) CheckActivation(op string, channels int64) error {
	if len(s) != 4 {
		return &ShapeMismatchError{Op: op, Got: s, Msg: fmt.Sprintf("expected rank 4 [B C H W], got rank %d", len(s))}
	}
	for i, d := range s {
		if d <= 0 {
			return &ShapeMismatchError{Op: op, Got: s, Msg: fmt.Sprintf("axis %d has non-positive size %d", i, d)}
		}
	}
	if s[Channel] != channels {
		return &ShapeMismatchError{
			Op:   op,
			Got:  s,
			Msg:  fmt.Sprintf("expected %d input channels, got %d", channels, s[Channel]),
			Want: Shape{s[Batch], channels, s[Height], s[Width]},
		}
	}
	return nil
}

// Flatten returns [batch, prod(rest)].
func Flatten(s Shape) Shape {
	if len(s) == 0 {
		return Shape{}
	}
	return Shape{s[0], s[1:].Size()}
}

// Window describes one spatial axis of a convolution or pooling window.
type Window struct {
	Kernel   int64
	Stride   int64
	Padding  int64
	Dilation int64
	// OutputPadding is only meaningful for transposed convolutions.
	OutputPadding int64
}

// Validate checks the window is well formed.
func (w Window) Validate() error {
	switch {
	case w.Kernel < 1:
		return configErrorf("kernel size must be >= 1, got %d", w.Kernel)
	case w.Stride < 1:
		return configErrorf("stride must be >= 1, got %d", w.Stride)
	case w.Padding < 0:
		return configErrorf("padding must be >= 0, got %d", w.Padding)
	case w.Dilation < 1:
		return configErrorf("dilation must be >= 1, got %d", w.Dilation)
	case w.OutputPadding < 0:
		return configErrorf("output padding must be >= 0, got %d", w.OutputPadding)
	case w.OutputPadding >= w.Stride && w.OutputPadding >= w.Dilation:
		return configErrorf("output padding %d must be smaller than stride %d or dilation %d", w.OutputPadding, w.Stride, w.Dilation)
	}
	return nil
}

// ConvOut returns floor((in + 2p - d(k-1) - 1)/s) + 1, or an error when the
// dilated kernel does not fit the padded input.
func (w Window) ConvOut(in int64) (int64, error) {
	span := w.Dilation*(w.Kernel-1) + 1
	if in+2*w.Padding < span {
		return 0, errors.Errorf("input size %d (padding %d) is smaller than dilated kernel span %d", in, w.Padding, span)
	}
	return (in+2*w.Padding-span)/w.Stride + 1, nil
}

// ConvTransposeOut returns (in-1)s - 2p + d(k-1) + op + 1.
func (w Window) ConvTransposeOut(in int64) (int64, error) {
	out := (in-1)*w.Stride - 2*w.Padding + w.Dilation*(w.Kernel-1) + w.OutputPadding + 1
	if out <= 0 {
		return 0, errors.Errorf("transposed convolution of size %d yields non-positive size %d", in, out)
	}
	return out, nil
}

// PoolOut returns the max-pool output size (no padding, no ceil mode).
func (w Window) PoolOut(in int64) (int64, error) {
	return w.ConvOut(in)
}
