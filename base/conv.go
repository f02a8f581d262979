package base

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/shape"
)

// ConvConfig holds the immutable window settings of a convolution.
// H and W describe the height and width axes independently so that
// factorized (3x1 / 1x3) and dilated kernels share one type.
type ConvConfig struct {
	H, W       shape.Window
	Bias       bool
	Transposed bool
}

// SquareConvConfig returns a config with the same window on both axes.
func SquareConvConfig(ksize, padding, stride int64) ConvConfig {
	w := shape.Window{Kernel: ksize, Stride: stride, Padding: padding, Dilation: 1}
	return ConvConfig{H: w, W: w, Bias: true}
}

// Conv is a 2D convolution or transposed convolution.
type Conv struct {
	Ws     *ts.Tensor
	Bs     *ts.Tensor
	CIn    int64
	COut   int64
	Config ConvConfig
}

// NewConv creates the conv parameters under p as `weight` and `bias`.
// Weight layout is [cOut cIn kH kW], or [cIn cOut kH kW] when transposed.
func NewConv(p *nn.Path, cIn, cOut int64, cfg ConvConfig) (*Conv, error) {
	if cIn <= 0 || cOut <= 0 {
		return nil, shape.Configf("conv channels must be positive, got %d -> %d", cIn, cOut)
	}
	if err := cfg.H.Validate(); err != nil {
		return nil, errors.Wrap(err, "conv height window")
	}
	if err := cfg.W.Validate(); err != nil {
		return nil, errors.Wrap(err, "conv width window")
	}

	dims := []int64{cOut, cIn, cfg.H.Kernel, cfg.W.Kernel}
	if cfg.Transposed {
		dims = []int64{cIn, cOut, cfg.H.Kernel, cfg.W.Kernel}
	}
	// Same bound as torch's default init: 1/sqrt(fan_in), fan_in taken from dim 1.
	fanIn := dims[1] * cfg.H.Kernel * cfg.W.Kernel
	bound := 1.0 / math.Sqrt(float64(fanIn))

	ws := p.NewVar("weight", dims, nn.NewUniformInit(-bound, bound))
	bs := ts.NewTensor()
	if cfg.Bias {
		bs = p.NewVar("bias", []int64{cOut}, nn.NewUniformInit(-bound, bound))
	}

	return &Conv{Ws: ws, Bs: bs, CIn: cIn, COut: cOut, Config: cfg}, nil
}

// Conv2d creates a square-kernel convolution with bias.
func Conv2d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) (*Conv, error) {
	return NewConv(p, cIn, cOut, SquareConvConfig(ksize, padding, stride))
}

// ConvTranspose2d creates a square-kernel transposed convolution with bias.
func ConvTranspose2d(p *nn.Path, cIn, cOut, ksize, padding, outputPadding, stride int64) (*Conv, error) {
	cfg := SquareConvConfig(ksize, padding, stride)
	cfg.H.OutputPadding = outputPadding
	cfg.W.OutputPadding = outputPadding
	cfg.Transposed = true
	return NewConv(p, cIn, cOut, cfg)
}

// FactorizedConv creates a kH x kW convolution with stride 1 whose padding
// equals its dilation on every axis with a kernel wider than 1, so spatial
// size is preserved.
func FactorizedConv(p *nn.Path, chann, kH, kW, dilation int64) (*Conv, error) {
	axis := func(k int64) shape.Window {
		if k == 1 {
			return shape.Window{Kernel: 1, Stride: 1, Dilation: 1}
		}
		return shape.Window{Kernel: k, Stride: 1, Padding: (k / 2) * dilation, Dilation: dilation}
	}
	return NewConv(p, chann, chann, ConvConfig{H: axis(kH), W: axis(kW), Bias: true})
}

func (c *Conv) String() string {
	kind := "Conv"
	if c.Config.Transposed {
		kind = "ConvTranspose"
	}
	return fmt.Sprintf("%s(%d->%d, %dx%d)", kind, c.CIn, c.COut, c.Config.H.Kernel, c.Config.W.Kernel)
}

// OutShape implements Block.
func (c *Conv) OutShape(in shape.Shape) (shape.Shape, error) {
	if err := in.CheckActivation(c.String(), c.CIn); err != nil {
		return nil, err
	}
	out := func(w shape.Window, size int64) (int64, error) {
		if c.Config.Transposed {
			return w.ConvTransposeOut(size)
		}
		return w.ConvOut(size)
	}
	h, err := out(c.Config.H, in[shape.Height])
	if err != nil {
		return nil, shape.Mismatchf(c.String(), in, nil, "height: %v", err)
	}
	w, err := out(c.Config.W, in[shape.Width])
	if err != nil {
		return nil, shape.Mismatchf(c.String(), in, nil, "width: %v", err)
	}

	return shape.New(in[shape.Batch], c.COut, h, w), nil
}

// Forward implements Block. The train flag is unused.
func (c *Conv) Forward(x *ts.Tensor, train bool) (*ts.Tensor, error) {
	if _, err := c.OutShape(x.MustSize()); err != nil {
		return nil, err
	}

	h, w := c.Config.H, c.Config.W
	stride := []int64{h.Stride, w.Stride}
	padding := []int64{h.Padding, w.Padding}
	dilation := []int64{h.Dilation, w.Dilation}

	var (
		out *ts.Tensor
		err error
	)
	if c.Config.Transposed {
		outputPadding := []int64{h.OutputPadding, w.OutputPadding}
		out, err = ts.ConvTranspose2d(x, c.Ws, c.Bs, stride, padding, outputPadding, 1, dilation)
	} else {
		out, err = ts.Conv2d(x, c.Ws, c.Bs, stride, padding, dilation, 1)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s forward", c)
	}

	return out, nil
}
