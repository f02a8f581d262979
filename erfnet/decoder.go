package erfnet

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/base"
	"github.com/sugarme/erfnet/encoder"
	"github.com/sugarme/erfnet/shape"
)

// DecoderChann is the channel count inside the decoder.
const DecoderChann int64 = 16

// Decoder upsamples encoder features 4x back to input resolution:
//
//	UpsamplerBlock(64, 16)
//	2 x NonBottleneck1D(16, 0, 1)
//	ConvTranspose(16 -> numClasses, kernel 2, stride 2)
type Decoder struct {
	Layers     *base.Sequence
	OutputConv *base.Conv
}

// NewDecoder creates a Decoder producing numClasses channels.
func NewDecoder(p *nn.Path, numClasses int64) (*Decoder, error) {
	if numClasses <= 0 {
		return nil, shape.Configf("decoder classes must be positive, got %d", numClasses)
	}

	lp := p.Sub("layers")
	layers := base.Seq()
	up, err := base.NewUpsamplerBlock(lp.Sub("0"), encoder.OutChannels, DecoderChann)
	if err != nil {
		return nil, errors.Wrap(err, "layers.0")
	}
	layers.Add(up)
	for _, name := range []string{"1", "2"} {
		nb, err := base.NewNonBottleneck1D(lp.Sub(name), DecoderChann, 0, 1)
		if err != nil {
			return nil, errors.Wrapf(err, "layers.%s", name)
		}
		layers.Add(nb)
	}

	outputConv, err := base.ConvTranspose2d(p.Sub("output_conv"), DecoderChann, numClasses, 2, 0, 0, 2)
	if err != nil {
		return nil, errors.Wrap(err, "output_conv")
	}

	return &Decoder{Layers: layers, OutputConv: outputConv}, nil
}

// OutShape implements base.Block.
func (d *Decoder) OutShape(in shape.Shape) (shape.Shape, error) {
	out, err := d.Layers.OutShape(in)
	if err != nil {
		return nil, errors.Wrap(err, "decoder")
	}
	out, err = d.OutputConv.OutShape(out)
	if err != nil {
		return nil, errors.Wrap(err, "decoder.output_conv")
	}
	return out, nil
}

// Forward implements base.Block.
func (d *Decoder) Forward(x *ts.Tensor, train bool) (*ts.Tensor, error) {
	z, err := d.Layers.Forward(x, train)
	if err != nil {
		return nil, errors.Wrap(err, "decoder")
	}
	out, err := d.OutputConv.Forward(z, train)
	z.MustDrop()
	if err != nil {
		return nil, errors.Wrap(err, "decoder.output_conv")
	}
	klog.V(2).Infof("decoder output: %v", out.MustSize())

	return out, nil
}

func (d *Decoder) String() string {
	return "Decoder"
}
