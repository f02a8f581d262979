package encoder

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/base"
	"github.com/sugarme/erfnet/shape"
)

// Channel counts and dropout rates of the ERFNet encoder stages.
const (
	InChannels  int64 = 3
	Stage1Chann int64 = 16
	Stage2Chann int64 = 64
	// OutChannels is the feature width handed to the decoder.
	OutChannels = Stage2Chann

	Stage1DropProb = 0.03
	Stage2DropProb = 0.3
)

// Stage2Dilations are the dilation rates of the residual blocks after the
// second downsampler.
var Stage2Dilations = []int64{2, 4, 8, 16}

// ERFNetEncoder is the ERFNet encoder:
//
//	DownsamplerBlock(3, 16)
//	5 x NonBottleneck1D(16, 0.03, 1)
//	DownsamplerBlock(16, 64)
//	NonBottleneck1D(64, 0.3, d) for d in 2, 4, 8, 16
//
// OutputConv (1x1, 64 -> numClasses) always exists but only runs in predict mode.
type ERFNetEncoder struct {
	InitialBlock *base.DownsamplerBlock
	Layers       *base.Sequence
	OutputConv   *base.Conv

	numClasses int64
}

// NewERFNetEncoder creates an ERFNetEncoder whose predict head outputs numClasses channels.
func NewERFNetEncoder(p *nn.Path, numClasses int64) (*ERFNetEncoder, error) {
	if numClasses <= 0 {
		return nil, shape.Configf("encoder classes must be positive, got %d", numClasses)
	}

	initial, err := base.NewDownsamplerBlock(p.Sub("initial_block"), InChannels, Stage1Chann)
	if err != nil {
		return nil, errors.Wrap(err, "initial_block")
	}

	lp := p.Sub("layers")
	layers := base.Seq()
	next := func() *nn.Path { return lp.Sub(fmt.Sprint(layers.Len())) }

	for i := 0; i < 5; i++ {
		nb, err := base.NewNonBottleneck1D(next(), Stage1Chann, Stage1DropProb, 1)
		if err != nil {
			return nil, errors.Wrapf(err, "layers.%d", layers.Len())
		}
		layers.Add(nb)
	}

	down, err := base.NewDownsamplerBlock(next(), Stage1Chann, Stage2Chann)
	if err != nil {
		return nil, errors.Wrapf(err, "layers.%d", layers.Len())
	}
	layers.Add(down)

	for _, d := range Stage2Dilations {
		nb, err := base.NewNonBottleneck1D(next(), Stage2Chann, Stage2DropProb, d)
		if err != nil {
			return nil, errors.Wrapf(err, "layers.%d", layers.Len())
		}
		layers.Add(nb)
	}

	outputConv, err := base.NewProjectionHead(p.Sub("output_conv"), Stage2Chann, numClasses)
	if err != nil {
		return nil, errors.Wrap(err, "output_conv")
	}

	return &ERFNetEncoder{
		InitialBlock: initial,
		Layers:       layers,
		OutputConv:   outputConv,
		numClasses:   numClasses,
	}, nil
}

// NumClasses returns the channel count of the predict head.
func (e *ERFNetEncoder) NumClasses() int64 { return e.numClasses }

// OutShape implements Encoder.
func (e *ERFNetEncoder) OutShape(in shape.Shape, predict bool) (shape.Shape, error) {
	out, err := e.InitialBlock.OutShape(in)
	if err != nil {
		return nil, errors.Wrap(err, "encoder.initial_block")
	}
	out, err = e.Layers.OutShape(out)
	if err != nil {
		return nil, errors.Wrap(err, "encoder")
	}
	if !predict {
		return out, nil
	}
	out, err = e.OutputConv.OutShape(out)
	if err != nil {
		return nil, errors.Wrap(err, "encoder.output_conv")
	}
	return out, nil
}

// Forward implements Encoder.
func (e *ERFNetEncoder) Forward(x *ts.Tensor, predict, train bool) (*ts.Tensor, error) {
	x0, err := e.InitialBlock.Forward(x, train)
	if err != nil {
		return nil, errors.Wrap(err, "encoder.initial_block")
	}
	x1, err := e.Layers.Forward(x0, train)
	x0.MustDrop()
	if err != nil {
		return nil, errors.Wrap(err, "encoder")
	}
	klog.V(2).Infof("encoder features: %v", x1.MustSize())
	if !predict {
		return x1, nil
	}

	logits, err := e.OutputConv.Forward(x1, train)
	x1.MustDrop()
	if err != nil {
		return nil, errors.Wrap(err, "encoder.output_conv")
	}
	return logits, nil
}
