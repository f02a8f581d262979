package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	ts "github.com/sugarme/gotch/tensor"
)

// constantRGB builds a [1 3 2 2] tensor with one value per channel.
func constantRGB(r, g, b float32) *ts.Tensor {
	data := make([]float32, 0, 12)
	for _, v := range []float32{r, g, b} {
		data = append(data, v, v, v, v)
	}
	return ts.MustOfSlice(data).MustView([]int64{1, 3, 2, 2}, true)
}

func TestRGBNormalize(t *testing.T) {
	mean := constantRGB(0.485, 0.456, 0.406)
	defer mean.MustDrop()
	zeros := rgbNormalize(mean)
	defer zeros.MustDrop()
	assert.Equal(t, []int64{1, 3, 2, 2}, zeros.MustSize())
	for _, v := range zeros.Float64Values() {
		assert.InDelta(t, 0, v, 1e-6)
	}

	ones := constantRGB(1, 1, 1)
	defer ones.MustDrop()
	n := rgbNormalize(ones)
	defer n.MustDrop()
	want := []float64{(1 - 0.485) / 0.229, (1 - 0.456) / 0.224, (1 - 0.406) / 0.225}
	for i, v := range n.Float64Values() {
		assert.InDelta(t, want[i/4], v, 1e-5, "index %d", i)
	}
}
