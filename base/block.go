package base

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/shape"
)

// BatchNormEps is the numerical stabilizer of every ERFNet batch norm.
const BatchNormEps = 0.001

// Block is one stage of the network. OutShape is the symbolic form of Forward:
// it validates an input shape and returns the output shape without touching
// any tensor, so a stack of blocks can be checked at construction.
type Block interface {
	OutShape(in shape.Shape) (shape.Shape, error)
	Forward(x *ts.Tensor, train bool) (*ts.Tensor, error)
}

// BatchNorm2d creates a batch norm over `c` channels with eps 0.001.
func BatchNorm2d(p *nn.Path, c int64) *nn.BatchNorm {
	bnConfig := nn.DefaultBatchNormConfig()
	bnConfig.Eps = BatchNormEps
	return nn.BatchNorm2D(p, c, bnConfig)
}

// Sequence applies its blocks in order. Blocks are indexed "0", "1", ...
// which is also how their parameters are named under the parent path.
type Sequence struct {
	blocks []Block
}

// Seq creates an empty Sequence.
func Seq() *Sequence {
	return &Sequence{}
}

// Add appends a block.
func (s *Sequence) Add(b Block) {
	s.blocks = append(s.blocks, b)
}

// Len returns the number of blocks.
func (s *Sequence) Len() int {
	return len(s.blocks)
}

// At returns the i-th block.
func (s *Sequence) At(i int) Block {
	return s.blocks[i]
}

// OutShape implements Block.
func (s *Sequence) OutShape(in shape.Shape) (shape.Shape, error) {
	out := in
	for i, b := range s.blocks {
		next, err := b.OutShape(out)
		if err != nil {
			return nil, errors.Wrapf(err, "layers.%d", i)
		}
		out = next
	}
	return out, nil
}

// Forward implements Block. Intermediate tensors are dropped; the input is not.
func (s *Sequence) Forward(x *ts.Tensor, train bool) (*ts.Tensor, error) {
	out := x
	for i, b := range s.blocks {
		next, err := b.Forward(out, train)
		if out != x {
			out.MustDrop()
		}
		if err != nil {
			return nil, errors.Wrapf(err, "layers.%d", i)
		}
		if klog.V(3).Enabled() {
			klog.Infof("layers.%d %v: %v", i, b, next.MustSize())
		}
		out = next
	}
	if out == x {
		return x.MustShallowClone(), nil
	}
	return out, nil
}

func (s *Sequence) String() string {
	return fmt.Sprintf("Sequence(%d)", len(s.blocks))
}
