package erfnet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/encoder"
	"github.com/sugarme/erfnet/erfnet"
	"github.com/sugarme/erfnet/shape"
)

func newNet(t *testing.T, numClasses int64) (*nn.VarStore, *erfnet.Net) {
	t.Helper()
	vs := nn.NewVarStore(gotch.CPU)
	net, err := erfnet.NewNet(vs.Root(), numClasses)
	require.NoError(t, err)
	return vs, net
}

func TestNewNetWidths(t *testing.T) {
	vs, net := newNet(t, 10)
	assert.Equal(t, erfnet.DefaultFlattenWidth, net.FlattenWidth(false))
	assert.Equal(t, int64(2*50*22), net.FlattenWidth(true))
	assert.False(t, net.SharedEncoder())
	// Linear keeps its weight transposed; the stored variable is [out in].
	assert.Equal(t, []int64{35200, 10}, net.Fc.Ws.MustSize())

	vars := vs.Variables()
	fcWeight := vars["fc.weight"]
	assert.Equal(t, []int64{10, 35200}, fcWeight.MustSize())
	encFcWeight := vars["encoder_fc.weight"]
	assert.Equal(t, []int64{10, 2 * 50 * 22}, encFcWeight.MustSize())
	for _, name := range []string{"encoder.initial_block.bn.weight", "decoder.layers.0.conv.weight", "decoder.output_conv.bias", "fc.weight", "encoder_fc.bias"} {
		_, ok := vars[name]
		assert.True(t, ok, "missing variable %s", name)
	}
}

func TestNewNetPretrainedEncoder(t *testing.T) {
	shared := nn.NewVarStore(gotch.CPU)
	enc, err := encoder.NewERFNetEncoder(shared.Root(), erfnet.InternalClasses)
	require.NoError(t, err)

	vs := nn.NewVarStore(gotch.CPU)
	net, err := erfnet.NewNet(vs.Root(), 4, enc)
	require.NoError(t, err)
	assert.True(t, net.SharedEncoder())
	assert.Equal(t, erfnet.PretrainedFlattenWidth, net.FlattenWidth(false))

	// The shared encoder's parameters stay in their own store.
	for name := range vs.Variables() {
		assert.NotContains(t, name, "encoder.")
	}
}

func TestNewNetConfigErrors(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)

	_, err := erfnet.New(vs.Root().Sub("a"), erfnet.Config{NumClasses: 0, Height: 200, Width: 88})
	assert.True(t, shape.IsConfiguration(err))

	_, err = erfnet.New(vs.Root().Sub("b"), erfnet.Config{NumClasses: 3, Height: -1, Width: 88})
	assert.True(t, shape.IsConfiguration(err))

	// 202 rows cannot be downsampled twice.
	_, err = erfnet.New(vs.Root().Sub("c"), erfnet.Config{NumClasses: 3, Height: 202, Width: 88})
	assert.True(t, shape.IsShapeMismatch(err))
}

func TestNetForward(t *testing.T) {
	_, net := newNet(t, 3)
	x := ts.MustRand([]int64{2, 3, 200, 88}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	ts.NoGrad(func() {
		logits, aux, err := net.Forward(x, false, false)
		require.NoError(t, err)
		assert.Nil(t, aux)
		assert.Equal(t, []int64{2, 3}, logits.MustSize())
		logits.MustDrop()

		logits, aux, err = net.Forward(x, true, false)
		require.NoError(t, err)
		assert.Nil(t, aux)
		assert.Equal(t, []int64{2, 3}, logits.MustSize())
		logits.MustDrop()

		dense, err := net.Segment(x, false)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, erfnet.InternalClasses, 200, 88}, dense.MustSize())
		dense.MustDrop()
	})
}

func TestNetForwardIsDeterministicInEval(t *testing.T) {
	_, net := newNet(t, 2)
	x := ts.MustRand([]int64{1, 3, 200, 88}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	ts.NoGrad(func() {
		a, _, err := net.Forward(x, false, false)
		require.NoError(t, err)
		b, _, err := net.Forward(x, false, false)
		require.NoError(t, err)
		assert.Equal(t, a.Float64Values(), b.Float64Values())
		a.MustDrop()
		b.MustDrop()
	})
}

func TestNetForwardShapeMismatch(t *testing.T) {
	_, net := newNet(t, 2)

	for _, dims := range [][]int64{
		{1, 3, 176, 352}, // divisible by 8 but not the authored resolution
		{1, 1, 200, 88},
		{3, 200, 88},
	} {
		x := ts.MustRand(dims, gotch.Float, gotch.CPU)
		_, _, err := net.Forward(x, false, false)
		require.Error(t, err, "%v", dims)
		assert.True(t, shape.IsShapeMismatch(err), "%v", dims)
		assert.Contains(t, err.Error(), "input")
		x.MustDrop()
	}
}

func TestNetShapes(t *testing.T) {
	_, net := newNet(t, 7)
	stages, err := net.Shapes(4)
	require.NoError(t, err)

	got := map[string]shape.Shape{}
	for _, s := range stages {
		got[s.Name] = s.Shape
	}
	assert.Equal(t, shape.New(4, 3, 200, 88), got["input"])
	assert.Equal(t, shape.New(4, 64, 50, 22), got["encoder"])
	assert.Equal(t, shape.New(4, 2, 50, 22), got["encoder.output_conv"])
	assert.Equal(t, shape.New(4, 2, 200, 88), got["decoder"])
	assert.Equal(t, shape.Shape{4, 7}, got["fc"])
}

func TestCustomResolution(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net, err := erfnet.New(vs.Root(), erfnet.Config{NumClasses: 2, Height: 176, Width: 352})
	require.NoError(t, err)
	assert.Equal(t, int64(2*176*352), net.FlattenWidth(false))
	assert.Equal(t, int64(2*44*88), net.FlattenWidth(true))
}

func TestNetWithResNetEncoder(t *testing.T) {
	backbone := nn.NewVarStore(gotch.CPU)
	enc, err := encoder.NewResNet34Encoder(backbone.Root(), erfnet.InternalClasses)
	require.NoError(t, err)

	vs := nn.NewVarStore(gotch.CPU)
	net, err := erfnet.New(vs.Root(), erfnet.Config{NumClasses: 3, Height: 64, Width: 32, Encoder: enc})
	require.NoError(t, err)
	assert.Equal(t, int64(2*64*32), net.FlattenWidth(false))

	x := ts.MustRand([]int64{1, 3, 64, 32}, gotch.Float, gotch.CPU)
	defer x.MustDrop()
	ts.NoGrad(func() {
		logits, _, err := net.Forward(x, false, false)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, logits.MustSize())
		logits.MustDrop()
	})
}
