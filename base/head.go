package base

import "github.com/sugarme/gotch/nn"

// NewProjectionHead creates the 1x1 conv that projects features to per-pixel
// class scores at unchanged resolution.
func NewProjectionHead(p *nn.Path, cIn, cOut int64) (*Conv, error) {
	return Conv2d(p, cIn, cOut, 1, 0, 1)
}
