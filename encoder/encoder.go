package encoder

import (
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/shape"
)

// Encoder is the feature extractor of a segmentation model. With predict set,
// it also projects its features to per-pixel class scores.
type Encoder interface {
	OutShape(in shape.Shape, predict bool) (shape.Shape, error)
	Forward(x *ts.Tensor, predict, train bool) (*ts.Tensor, error)
}
