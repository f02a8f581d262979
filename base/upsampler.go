package base

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/shape"
)

// UpsamplerBlock doubles the spatial resolution with a 3x3 stride-2 transposed
// conv (padding 1, output padding 1), followed by batch norm and ReLU.
type UpsamplerBlock struct {
	Conv *Conv
	Bn   *nn.BatchNorm
}

// NewUpsamplerBlock creates an UpsamplerBlock.
func NewUpsamplerBlock(p *nn.Path, nIn, nOut int64) (*UpsamplerBlock, error) {
	conv, err := ConvTranspose2d(p.Sub("conv"), nIn, nOut, 3, 1, 1, 2)
	if err != nil {
		return nil, err
	}

	return &UpsamplerBlock{Conv: conv, Bn: BatchNorm2d(p.Sub("bn"), nOut)}, nil
}

func (u *UpsamplerBlock) String() string {
	return fmt.Sprintf("UpsamplerBlock(%d->%d)", u.Conv.CIn, u.Conv.COut)
}

// OutShape implements Block.
func (u *UpsamplerBlock) OutShape(in shape.Shape) (shape.Shape, error) {
	if err := in.CheckActivation(u.String(), u.Conv.CIn); err != nil {
		return nil, err
	}
	return u.Conv.OutShape(in)
}

// Forward implements Block.
func (u *UpsamplerBlock) Forward(x *ts.Tensor, train bool) (*ts.Tensor, error) {
	if _, err := u.OutShape(x.MustSize()); err != nil {
		return nil, err
	}
	conv, err := u.Conv.Forward(x, train)
	if err != nil {
		return nil, err
	}
	bn := u.Bn.ForwardT(conv, train)
	conv.MustDrop()

	return bn.MustRelu(true), nil
}
