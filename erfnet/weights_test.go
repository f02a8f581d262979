package erfnet_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/erfnet"
	"github.com/sugarme/erfnet/shape"
)

func TestSaveLoadWeights(t *testing.T) {
	vs, net := newNet(t, 2)
	fpath := filepath.Join(t.TempDir(), "erfnet.ot")
	require.NoError(t, vs.Save(fpath))

	vs2 := nn.NewVarStore(gotch.CPU)
	net2, err := erfnet.NewNet(vs2.Root(), 2)
	require.NoError(t, err)
	missing, err := erfnet.LoadWeights(vs2, fpath, erfnet.FromCheckpoint)
	require.NoError(t, err)
	assert.Empty(t, missing)

	x := ts.MustRand([]int64{1, 3, 200, 88}, gotch.Float, gotch.CPU)
	defer x.MustDrop()
	ts.NoGrad(func() {
		a, _, err := net.Forward(x, false, false)
		require.NoError(t, err)
		b, _, err := net2.Forward(x, false, false)
		require.NoError(t, err)
		assert.Equal(t, a.Float64Values(), b.Float64Values())
	})

	_, err = erfnet.LoadWeights(vs2, fpath, "url")
	assert.True(t, shape.IsConfiguration(err))
}

func TestParams(t *testing.T) {
	vs, _ := newNet(t, 2)
	params := erfnet.Params(vs)
	require.NotEmpty(t, params)
	for i := 1; i < len(params); i++ {
		assert.Less(t, params[i-1].Name, params[i].Name)
	}
	assert.Greater(t, erfnet.ParamCount(vs), 2*erfnet.DefaultFlattenWidth)
}

func TestERFNetFactory(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net, err := erfnet.ERFNet(vs.Root(), 5, true)
	require.NoError(t, err)
	assert.Equal(t, int64(5), net.Config().NumClasses)
}
