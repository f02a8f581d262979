package erfnet

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/encoder"
	"github.com/sugarme/erfnet/shape"
)

// Net is ERFNet followed by a linear classifier over the flattened output.
// Ref: https://ieeexplore.ieee.org/document/8063438
type Net struct {
	Encoder encoder.Encoder
	Decoder *Decoder
	// Fc projects the flattened decoder output (full mode).
	Fc *nn.Linear
	// EncoderFc projects the flattened encoder prediction (encode-only mode).
	// The reference network reuses fc here, which only fits when both widths
	// agree; a separate head keeps encode-only mode usable at any resolution.
	// It adds the encoder_fc.* variables, absent from reference checkpoints.
	EncoderFc *nn.Linear

	cfg        Config
	fcWidth    int64
	encFcWidth int64
	shared     bool
}

// New creates a Net under p. Parameters are named after the PyTorch module
// tree: encoder.*, decoder.*, fc.*; the encode-only head lives at encoder_fc.*.
//
// When cfg.Encoder is set the Net uses it as is and creates no encoder
// parameters of its own.
func New(p *nn.Path, cfg Config) (*Net, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	enc := cfg.Encoder
	shared := enc != nil
	if !shared {
		e, err := encoder.NewERFNetEncoder(p.Sub("encoder"), InternalClasses)
		if err != nil {
			return nil, errors.Wrap(err, "encoder")
		}
		enc = e
	}
	dec, err := NewDecoder(p.Sub("decoder"), InternalClasses)
	if err != nil {
		return nil, errors.Wrap(err, "decoder")
	}

	n := &Net{Encoder: enc, Decoder: dec, cfg: cfg, shared: shared}

	// Derive linear widths from the configured resolution.
	in := cfg.InputShape(1)
	decOut, err := n.denseShape(in)
	if err != nil {
		return nil, errors.Wrapf(err, "input resolution %dx%d", cfg.Height, cfg.Width)
	}
	encOut, err := enc.OutShape(in, true)
	if err != nil {
		return nil, errors.Wrapf(err, "input resolution %dx%d", cfg.Height, cfg.Width)
	}
	n.fcWidth = shape.Flatten(decOut)[1]
	n.encFcWidth = shape.Flatten(encOut)[1]

	n.Fc = nn.NewLinear(p.Sub("fc"), n.fcWidth, cfg.NumClasses, nn.DefaultLinearConfig())
	n.EncoderFc = nn.NewLinear(p.Sub("encoder_fc"), n.encFcWidth, cfg.NumClasses, nn.DefaultLinearConfig())

	klog.V(1).Infof("erfnet: input %v, decoder output %v, fc %d -> %d, encoder fc %d -> %d, shared encoder: %v",
		in, decOut, n.fcWidth, cfg.NumClasses, n.encFcWidth, cfg.NumClasses, shared)

	return n, nil
}

// NewNet creates a Net at the authored resolution. An optional encoder is
// shared instead of building one; the Net then expects the pretrained
// resolution and its fc is PretrainedFlattenWidth wide.
func NewNet(p *nn.Path, numClasses int64, encoderOpt ...encoder.Encoder) (*Net, error) {
	cfg := DefaultConfig(numClasses)
	if len(encoderOpt) > 0 && encoderOpt[0] != nil {
		cfg = PretrainedConfig(numClasses, encoderOpt[0])
	}
	return New(p, cfg)
}

// Config returns the configuration the Net was built with.
func (n *Net) Config() Config { return n.cfg }

// FlattenWidth returns the input width of the linear layer used in the given mode.
func (n *Net) FlattenWidth(onlyEncode bool) int64 {
	if onlyEncode {
		return n.encFcWidth
	}
	return n.fcWidth
}

// SharedEncoder reports whether the encoder was supplied by the caller.
func (n *Net) SharedEncoder() bool { return n.shared }

func (n *Net) denseShape(in shape.Shape) (shape.Shape, error) {
	encOut, err := n.Encoder.OutShape(in, false)
	if err != nil {
		return nil, err
	}
	return n.Decoder.OutShape(encOut)
}

func (n *Net) checkInput(in shape.Shape) error {
	if err := in.CheckActivation("input", encoder.InChannels); err != nil {
		return err
	}
	if in[shape.Height] != n.cfg.Height || in[shape.Width] != n.cfg.Width {
		return shape.Mismatchf("input", in, n.cfg.InputShape(in[shape.Batch]),
			"network was built for %dx%d inputs", n.cfg.Height, n.cfg.Width)
	}
	return nil
}

// Forward runs the network and returns class scores of shape [batch numClasses].
//
// With onlyEncode, the encoder runs with its predict head and the result goes
// through EncoderFc; otherwise encoder features are decoded and go through Fc.
// The second result is always nil: it exists for call sites that expect an
// auxiliary output.
func (n *Net) Forward(x *ts.Tensor, onlyEncode, train bool) (*ts.Tensor, *ts.Tensor, error) {
	if err := n.checkInput(x.MustSize()); err != nil {
		return nil, nil, err
	}

	var (
		features *ts.Tensor
		err      error
	)
	fc, width, name := n.Fc, n.fcWidth, "fc"
	if onlyEncode {
		fc, width, name = n.EncoderFc, n.encFcWidth, "encoder_fc"
		features, err = n.Encoder.Forward(x, true, train)
	} else {
		features, err = n.forwardDense(x, train)
	}
	if err != nil {
		return nil, nil, err
	}

	logits, err := project(features, fc, width, name)
	features.MustDrop()
	if err != nil {
		return nil, nil, err
	}

	return logits, nil, nil
}

// Segment runs encoder and decoder and returns the dense class map
// [batch InternalClasses H W] without the linear projection.
func (n *Net) Segment(x *ts.Tensor, train bool) (*ts.Tensor, error) {
	if err := n.checkInput(x.MustSize()); err != nil {
		return nil, err
	}
	return n.forwardDense(x, train)
}

func (n *Net) forwardDense(x *ts.Tensor, train bool) (*ts.Tensor, error) {
	features, err := n.Encoder.Forward(x, false, train)
	if err != nil {
		return nil, err
	}
	out, err := n.Decoder.Forward(features, train)
	features.MustDrop()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// project flattens x per batch element and applies fc.
func project(x *ts.Tensor, fc *nn.Linear, width int64, name string) (*ts.Tensor, error) {
	size := shape.Shape(x.MustSize())
	flat := shape.Flatten(size)
	if flat[1] != width {
		return nil, shape.Mismatchf(name, size, nil,
			"flattened width %d does not match linear input width %d", flat[1], width)
	}
	xs := x.MustView([]int64{flat[0], flat[1]}, false)
	out := fc.Forward(xs)
	xs.MustDrop()

	return out, nil
}

// Stage is the symbolic output shape of one pipeline stage.
type Stage struct {
	Name  string
	Shape shape.Shape
}

// Shapes returns the per-stage shapes of both execution modes for a batch.
func (n *Net) Shapes(batch int64) ([]Stage, error) {
	in := n.cfg.InputShape(batch)
	encOut, err := n.Encoder.OutShape(in, false)
	if err != nil {
		return nil, err
	}
	encPred, err := n.Encoder.OutShape(in, true)
	if err != nil {
		return nil, err
	}
	decOut, err := n.Decoder.OutShape(encOut)
	if err != nil {
		return nil, err
	}

	return []Stage{
		{"input", in},
		{"encoder", encOut},
		{"encoder.output_conv", encPred},
		{"encoder_fc", shape.Shape{batch, n.cfg.NumClasses}},
		{"decoder", decOut},
		{"fc", shape.Shape{batch, n.cfg.NumClasses}},
	}, nil
}
