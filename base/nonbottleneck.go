package base

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/shape"
)

// NonBottleneck1D is the residual factorized block: a 3x1/1x3 conv pair, then
// a second pair dilated by `dilated`, then channel dropout and an identity
// skip connection. Input and output shapes are identical.
type NonBottleneck1D struct {
	Conv3x1a *Conv
	Conv1x3a *Conv
	Bn1      *nn.BatchNorm
	Conv3x1b *Conv
	Conv1x3b *Conv
	Bn2      *nn.BatchNorm

	chann    int64
	dilated  int64
	dropProb float64
}

// NewNonBottleneck1D creates a residual block over `chann` channels.
// Parameter names follow conv3x1_1, conv1x3_1, bn1, conv3x1_2, conv1x3_2, bn2.
func NewNonBottleneck1D(p *nn.Path, chann int64, dropProb float64, dilated int64) (*NonBottleneck1D, error) {
	if dilated < 1 {
		return nil, shape.Configf("residual block dilation must be >= 1, got %d", dilated)
	}
	if dropProb < 0 || dropProb > 1 {
		return nil, shape.Configf("dropout probability must be in [0, 1], got %v", dropProb)
	}

	b := &NonBottleneck1D{chann: chann, dilated: dilated, dropProb: dropProb}
	convs := []struct {
		dst    **Conv
		name   string
		kH, kW int64
		dil    int64
	}{
		{&b.Conv3x1a, "conv3x1_1", 3, 1, 1},
		{&b.Conv1x3a, "conv1x3_1", 1, 3, 1},
		{&b.Conv3x1b, "conv3x1_2", 3, 1, dilated},
		{&b.Conv1x3b, "conv1x3_2", 1, 3, dilated},
	}
	for _, c := range convs {
		conv, err := FactorizedConv(p.Sub(c.name), chann, c.kH, c.kW, c.dil)
		if err != nil {
			return nil, errors.Wrap(err, c.name)
		}
		*c.dst = conv
	}
	b.Bn1 = BatchNorm2d(p.Sub("bn1"), chann)
	b.Bn2 = BatchNorm2d(p.Sub("bn2"), chann)

	return b, nil
}

// Dilation returns the dilation of the second conv pair.
func (b *NonBottleneck1D) Dilation() int64 { return b.dilated }

// DropProb returns the channel dropout probability.
func (b *NonBottleneck1D) DropProb() float64 { return b.dropProb }

func (b *NonBottleneck1D) String() string {
	return fmt.Sprintf("NonBottleneck1D(%d, drop=%v, dilated=%d)", b.chann, b.dropProb, b.dilated)
}

// OutShape implements Block.
func (b *NonBottleneck1D) OutShape(in shape.Shape) (shape.Shape, error) {
	if err := in.CheckActivation(b.String(), b.chann); err != nil {
		return nil, err
	}
	out := in
	for _, c := range []*Conv{b.Conv3x1a, b.Conv1x3a, b.Conv3x1b, b.Conv1x3b} {
		next, err := c.OutShape(out)
		if err != nil {
			return nil, errors.Wrap(err, b.String())
		}
		out = next
	}
	if !out.Equal(in) {
		return nil, shape.Mismatchf(b.String(), out, in, "residual branch changed the shape")
	}
	return in.Clone(), nil
}

// Forward implements Block. Dropout is skipped entirely when its probability
// is zero or when not training.
func (b *NonBottleneck1D) Forward(x *ts.Tensor, train bool) (*ts.Tensor, error) {
	if _, err := b.OutShape(x.MustSize()); err != nil {
		return nil, err
	}

	c1, err := b.Conv3x1a.Forward(x, train)
	if err != nil {
		return nil, err
	}
	relu1 := c1.MustRelu(true)
	c2, err := b.Conv1x3a.Forward(relu1, train)
	relu1.MustDrop()
	if err != nil {
		return nil, err
	}
	bn1 := b.Bn1.ForwardT(c2, train)
	c2.MustDrop()
	relu2 := bn1.MustRelu(true)

	c3, err := b.Conv3x1b.Forward(relu2, train)
	relu2.MustDrop()
	if err != nil {
		return nil, err
	}
	relu3 := c3.MustRelu(true)
	c4, err := b.Conv1x3b.Forward(relu3, train)
	relu3.MustDrop()
	if err != nil {
		return nil, err
	}
	out := b.Bn2.ForwardT(c4, train)
	c4.MustDrop()

	if b.dropProb != 0 && train {
		dropped := ts.MustFeatureDropout(out, b.dropProb, train)
		out.MustDrop()
		out = dropped
	}

	// identity skip connection
	sum := out.MustAdd(x, true)
	return sum.MustRelu(true), nil
}
