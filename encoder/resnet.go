package encoder

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/base"
	"github.com/sugarme/erfnet/shape"
)

// ResNetEncoder is the stem and first stage of ResNet34: 64 channels at 1/4
// resolution, the same feature shape as ERFNetEncoder. Variable names match
// torchvision (conv1, bn1, layer1.N.*) so ImageNet weights load with
// LoadPartial, which makes it a drop-in pretrained encoder. Inputs are RGB in
// [0, 1] and get ImageNet normalization before conv1.
type ResNetEncoder struct {
	Conv1      *base.Conv
	Bn1        *nn.BatchNorm
	Layer1     *base.Sequence
	OutputConv *base.Conv

	pool shape.Window
}

// NewResNet34Encoder creates a ResNetEncoder whose predict head outputs numClasses channels.
func NewResNet34Encoder(p *nn.Path, numClasses int64) (*ResNetEncoder, error) {
	if numClasses <= 0 {
		return nil, shape.Configf("encoder classes must be positive, got %d", numClasses)
	}

	cfg := base.SquareConvConfig(7, 3, 2)
	cfg.Bias = false
	conv1, err := base.NewConv(p.Sub("conv1"), InChannels, OutChannels, cfg) // NOTE. `conv1` and `bn1` are at root of pretrained model
	if err != nil {
		return nil, errors.Wrap(err, "conv1")
	}

	lp := p.Sub("layer1")
	layer1 := base.Seq()
	for i := 0; i < 3; i++ {
		bb, err := NewBasicBlock(lp.Sub(fmt.Sprint(i)), OutChannels)
		if err != nil {
			return nil, errors.Wrapf(err, "layer1.%d", i)
		}
		layer1.Add(bb)
	}

	outputConv, err := base.NewProjectionHead(p.Sub("output_conv"), OutChannels, numClasses)
	if err != nil {
		return nil, errors.Wrap(err, "output_conv")
	}

	return &ResNetEncoder{
		Conv1:      conv1,
		Bn1:        nn.BatchNorm2D(p.Sub("bn1"), OutChannels, nn.DefaultBatchNormConfig()),
		Layer1:     layer1,
		OutputConv: outputConv,
		pool:       shape.Window{Kernel: 3, Stride: 2, Padding: 1, Dilation: 1},
	}, nil
}

// OutShape implements Encoder.
func (e *ResNetEncoder) OutShape(in shape.Shape, predict bool) (shape.Shape, error) {
	out, err := e.Conv1.OutShape(in)
	if err != nil {
		return nil, errors.Wrap(err, "encoder.conv1")
	}
	h, errH := e.pool.PoolOut(out[shape.Height])
	w, errW := e.pool.PoolOut(out[shape.Width])
	if errH != nil || errW != nil {
		return nil, shape.Mismatchf("encoder.maxpool", out, nil, "input too small for 3x3 max-pool")
	}
	out = shape.New(out[shape.Batch], out[shape.Channel], h, w)

	if out, err = e.Layer1.OutShape(out); err != nil {
		return nil, errors.Wrap(err, "encoder.layer1")
	}
	if !predict {
		return out, nil
	}
	if out, err = e.OutputConv.OutShape(out); err != nil {
		return nil, errors.Wrap(err, "encoder.output_conv")
	}
	return out, nil
}

// Forward implements Encoder.
func (e *ResNetEncoder) Forward(x *ts.Tensor, predict, train bool) (*ts.Tensor, error) {
	if _, err := e.OutShape(x.MustSize(), predict); err != nil {
		return nil, err
	}

	xn := rgbNormalize(x)
	c1, err := e.Conv1.Forward(xn, train)
	xn.MustDrop()
	if err != nil {
		return nil, err
	}
	bn1 := e.Bn1.ForwardT(c1, train)
	c1.MustDrop()
	relu := bn1.MustRelu(true)
	k, s, pd := e.pool.Kernel, e.pool.Stride, e.pool.Padding
	x0 := relu.MustMaxPool2d([]int64{k, k}, []int64{s, s}, []int64{pd, pd}, []int64{1, 1}, false, true)

	x1, err := e.Layer1.Forward(x0, train)
	x0.MustDrop()
	if err != nil {
		return nil, errors.Wrap(err, "encoder.layer1")
	}
	if !predict {
		return x1, nil
	}

	logits, err := e.OutputConv.Forward(x1, train)
	x1.MustDrop()
	return logits, err
}

// rgbNormalize maps [0, 1] RGB to ImageNet zero mean, unit variance.
func rgbNormalize(x *ts.Tensor) *ts.Tensor {
	meanVals := []float32{0.485, 0.456, 0.406} // image RGB mean
	sdVals := []float32{0.229, 0.224, 0.225}   // image RGB standard error

	device := x.MustDevice()
	mean := ts.MustOfSlice(meanVals).MustView([]int64{1, 3, 1, 1}, true).MustTo(device, true)
	sd := ts.MustOfSlice(sdVals).MustView([]int64{1, 3, 1, 1}, true).MustTo(device, true)

	// x = (x - mean)/sd
	n := x.MustSub(mean, false).MustDiv(sd, true)
	mean.MustDrop()
	sd.MustDrop()

	return n
}

// BasicBlock is the two 3x3 conv residual block of ResNet with an identity
// shortcut (same channels, stride 1).
type BasicBlock struct {
	Conv1 *base.Conv
	Bn1   *nn.BatchNorm
	Conv2 *base.Conv
	Bn2   *nn.BatchNorm
}

// NewBasicBlock creates a BasicBlock over c channels.
func NewBasicBlock(path *nn.Path, c int64) (*BasicBlock, error) {
	cfg := base.SquareConvConfig(3, 1, 1)
	cfg.Bias = false
	conv1, err := base.NewConv(path.Sub("conv1"), c, c, cfg)
	if err != nil {
		return nil, err
	}
	conv2, err := base.NewConv(path.Sub("conv2"), c, c, cfg)
	if err != nil {
		return nil, err
	}

	return &BasicBlock{
		Conv1: conv1,
		Bn1:   nn.BatchNorm2D(path.Sub("bn1"), c, nn.DefaultBatchNormConfig()),
		Conv2: conv2,
		Bn2:   nn.BatchNorm2D(path.Sub("bn2"), c, nn.DefaultBatchNormConfig()),
	}, nil
}

func (bb *BasicBlock) String() string {
	return fmt.Sprintf("BasicBlock(%d)", bb.Conv1.CIn)
}

// OutShape implements base.Block.
func (bb *BasicBlock) OutShape(in shape.Shape) (shape.Shape, error) {
	out, err := bb.Conv1.OutShape(in)
	if err != nil {
		return nil, err
	}
	if out, err = bb.Conv2.OutShape(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Forward implements base.Block.
func (bb *BasicBlock) Forward(x *ts.Tensor, train bool) (*ts.Tensor, error) {
	c1, err := bb.Conv1.Forward(x, train)
	if err != nil {
		return nil, err
	}
	bn1Ts := bb.Bn1.ForwardT(c1, train)
	c1.MustDrop()
	relu := bn1Ts.MustRelu(true)
	c2, err := bb.Conv2.Forward(relu, train)
	relu.MustDrop()
	if err != nil {
		return nil, err
	}
	bn2Ts := bb.Bn2.ForwardT(c2, train)
	c2.MustDrop()
	sum := bn2Ts.MustAdd(x, true)

	return sum.MustRelu(true), nil
}
