package encoder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/base"
	"github.com/sugarme/erfnet/encoder"
	"github.com/sugarme/erfnet/shape"
)

func TestERFNetEncoderLayout(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	enc, err := encoder.NewERFNetEncoder(vs.Root(), 2)
	require.NoError(t, err)

	require.Equal(t, 10, enc.Layers.Len())
	for i := 0; i < 5; i++ {
		nb, ok := enc.Layers.At(i).(*base.NonBottleneck1D)
		require.True(t, ok, "layer %d", i)
		assert.Equal(t, int64(1), nb.Dilation())
		assert.Equal(t, 0.03, nb.DropProb())
	}
	_, ok := enc.Layers.At(5).(*base.DownsamplerBlock)
	assert.True(t, ok)

	var dilations []int64
	for i := 6; i < 10; i++ {
		nb := enc.Layers.At(i).(*base.NonBottleneck1D)
		assert.Equal(t, 0.3, nb.DropProb())
		dilations = append(dilations, nb.Dilation())
	}
	assert.Equal(t, []int64{2, 4, 8, 16}, dilations)

	vars := vs.Variables()
	for _, name := range []string{
		"initial_block.conv.weight",
		"layers.0.conv3x1_1.weight",
		"layers.5.bn.running_mean",
		"layers.9.conv1x3_2.bias",
		"output_conv.weight",
	} {
		_, ok := vars[name]
		assert.True(t, ok, "missing variable %s", name)
	}
}

func TestERFNetEncoderShapes(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	enc, err := encoder.NewERFNetEncoder(vs.Root(), 5)
	require.NoError(t, err)

	in := shape.New(2, 3, 200, 88)
	out, err := enc.OutShape(in, false)
	require.NoError(t, err)
	assert.Equal(t, shape.New(2, 64, 50, 22), out)

	pred, err := enc.OutShape(in, true)
	require.NoError(t, err)
	assert.Equal(t, shape.New(2, 5, 50, 22), pred)

	x := ts.MustRand([]int64{2, 3, 32, 48}, gotch.Float, gotch.CPU)
	defer x.MustDrop()
	ts.NoGrad(func() {
		feat, err := enc.Forward(x, false, false)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 64, 8, 12}, feat.MustSize())
		feat.MustDrop()

		logits, err := enc.Forward(x, true, false)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 5, 8, 12}, logits.MustSize())
		logits.MustDrop()
	})
}

func TestERFNetEncoderErrors(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	_, err := encoder.NewERFNetEncoder(vs.Root().Sub("bad"), 0)
	assert.True(t, shape.IsConfiguration(err))

	enc, err := encoder.NewERFNetEncoder(vs.Root(), 2)
	require.NoError(t, err)

	// 1 channel instead of 3.
	_, err = enc.OutShape(shape.New(1, 1, 200, 88), false)
	assert.True(t, shape.IsShapeMismatch(err))

	// 202/2 = 101 rows reach the second downsampler.
	_, err = enc.OutShape(shape.New(1, 3, 202, 88), false)
	require.Error(t, err)
	assert.True(t, shape.IsShapeMismatch(err))
	assert.Contains(t, err.Error(), "layers.5")
}
