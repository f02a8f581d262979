package erfnet

import (
	"github.com/sugarme/erfnet/encoder"
	"github.com/sugarme/erfnet/shape"
)

// InternalClasses is the channel count of the encoder predict head and of the
// decoder output, independent of the requested class count.
const InternalClasses int64 = 2

// Authored input resolutions. The flatten widths follow from
// InternalClasses * Height * Width of the decoder output.
const (
	DefaultHeight int64 = 200
	DefaultWidth  int64 = 88

	PretrainedHeight int64 = 400
	PretrainedWidth  int64 = 88

	DefaultFlattenWidth    int64 = 35200
	PretrainedFlattenWidth int64 = 70400
)

// Config configures a Net.
type Config struct {
	// NumClasses is the number of class scores per batch element.
	NumClasses int64
	// Height and Width fix the input resolution. The linear layers are sized
	// from them, so any other resolution is rejected at forward time.
	Height int64
	Width  int64
	// Encoder optionally supplies an already built (e.g. pretrained) encoder.
	// When nil, Net builds its own ERFNetEncoder.
	Encoder encoder.Encoder
}

// DefaultConfig returns the configuration of a Net with its own encoder.
func DefaultConfig(numClasses int64) Config {
	return Config{NumClasses: numClasses, Height: DefaultHeight, Width: DefaultWidth}
}

// PretrainedConfig returns the configuration of a Net sharing enc.
func PretrainedConfig(numClasses int64, enc encoder.Encoder) Config {
	return Config{NumClasses: numClasses, Height: PretrainedHeight, Width: PretrainedWidth, Encoder: enc}
}

// Validate checks the scalar fields. Geometry is checked by New, which walks
// the configured input shape through every block.
func (c Config) Validate() error {
	if c.NumClasses <= 0 {
		return shape.Configf("NumClasses must be positive, got %d", c.NumClasses)
	}
	if c.Height <= 0 || c.Width <= 0 {
		return shape.Configf("input resolution must be positive, got %dx%d", c.Height, c.Width)
	}
	return nil
}

// InputShape returns the expected input shape for a batch.
func (c Config) InputShape(batch int64) shape.Shape {
	return shape.New(batch, encoder.InChannels, c.Height, c.Width)
}
