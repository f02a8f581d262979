package base

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/shape"
)

// DownsamplerBlock halves the spatial resolution. A stride-2 3x3 conv producing
// nOut-nIn channels runs next to a 2x2 max-pool that keeps the nIn input
// channels; both are concatenated, batch-normalized and rectified.
type DownsamplerBlock struct {
	Conv *Conv
	Bn   *nn.BatchNorm

	nIn  int64
	nOut int64
	pool shape.Window
}

// NewDownsamplerBlock creates a DownsamplerBlock. nOut must exceed nIn.
func NewDownsamplerBlock(p *nn.Path, nIn, nOut int64) (*DownsamplerBlock, error) {
	if nIn <= 0 {
		return nil, shape.Configf("downsampler input channels must be positive, got %d", nIn)
	}
	if nOut <= nIn {
		return nil, shape.Configf("downsampler needs noutput > ninput, got %d -> %d", nIn, nOut)
	}

	conv, err := Conv2d(p.Sub("conv"), nIn, nOut-nIn, 3, 1, 2)
	if err != nil {
		return nil, err
	}

	return &DownsamplerBlock{
		Conv: conv,
		Bn:   BatchNorm2d(p.Sub("bn"), nOut),
		nIn:  nIn,
		nOut: nOut,
		pool: shape.Window{Kernel: 2, Stride: 2, Dilation: 1},
	}, nil
}

func (d *DownsamplerBlock) String() string {
	return fmt.Sprintf("DownsamplerBlock(%d->%d)", d.nIn, d.nOut)
}

// OutShape implements Block.
func (d *DownsamplerBlock) OutShape(in shape.Shape) (shape.Shape, error) {
	if err := in.CheckActivation(d.String(), d.nIn); err != nil {
		return nil, err
	}
	convShape, err := d.Conv.OutShape(in)
	if err != nil {
		return nil, err
	}
	poolShape, err := d.poolShape(in)
	if err != nil {
		return nil, err
	}
	if convShape[shape.Height] != poolShape[shape.Height] || convShape[shape.Width] != poolShape[shape.Width] {
		return nil, shape.Mismatchf(d.String(), in, nil,
			"cannot concatenate conv output %v with pool output %v (odd spatial size)", convShape, poolShape)
	}

	return shape.New(in[shape.Batch], d.nOut, convShape[shape.Height], convShape[shape.Width]), nil
}

func (d *DownsamplerBlock) poolShape(in shape.Shape) (shape.Shape, error) {
	h, err := d.pool.PoolOut(in[shape.Height])
	if err != nil {
		return nil, shape.Mismatchf(d.String(), in, nil, "max-pool height: %v", err)
	}
	w, err := d.pool.PoolOut(in[shape.Width])
	if err != nil {
		return nil, shape.Mismatchf(d.String(), in, nil, "max-pool width: %v", err)
	}
	return shape.New(in[shape.Batch], d.nIn, h, w), nil
}

// Forward implements Block.
func (d *DownsamplerBlock) Forward(x *ts.Tensor, train bool) (*ts.Tensor, error) {
	if _, err := d.OutShape(x.MustSize()); err != nil {
		return nil, err
	}

	conv, err := d.Conv.Forward(x, train)
	if err != nil {
		return nil, err
	}
	k, s := d.pool.Kernel, d.pool.Stride
	pool := x.MustMaxPool2d([]int64{k, k}, []int64{s, s}, []int64{0, 0}, []int64{1, 1}, false, false)
	klog.V(2).Infof("%v: conv %v pool %v", d, conv.MustSize(), pool.MustSize())

	cat := ts.MustCat([]ts.Tensor{*conv, *pool}, 1)
	conv.MustDrop()
	pool.MustDrop()
	bn := d.Bn.ForwardT(cat, train)
	cat.MustDrop()

	return bn.MustRelu(true), nil
}
