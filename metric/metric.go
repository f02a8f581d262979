// Package metric evaluates network outputs against labels.
package metric

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/erfnet/shape"
)

// Predict returns the argmax class per row of a [batch classes] score tensor
// as a [batch] int64 tensor.
func Predict(scores *ts.Tensor) (*ts.Tensor, error) {
	size := shape.Shape(scores.MustSize())
	if len(size) != 2 {
		return nil, shape.Mismatchf("Predict", size, nil, "expected [batch classes] scores")
	}
	return scores.MustArgmax([]int64{1}, false, false), nil
}

// PredictDense returns the argmax class per pixel of a [batch classes H W]
// map as a [batch H W] int64 tensor.
func PredictDense(maps *ts.Tensor) (*ts.Tensor, error) {
	size := shape.Shape(maps.MustSize())
	if len(size) != 4 {
		return nil, shape.Mismatchf("PredictDense", size, nil, "expected [batch classes H W] map")
	}
	return maps.MustArgmax([]int64{1}, false, false), nil
}

// Labels reads a label tensor back as a slice.
func Labels(labels *ts.Tensor) []int64 {
	values := labels.Float64Values()
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}

func checkPair(pred, target *ts.Tensor) (int64, error) {
	p, t := shape.Shape(pred.MustSize()), shape.Shape(target.MustSize())
	if !p.Equal(t) {
		return 0, shape.Mismatchf("metric", p, t, "prediction and target shapes differ")
	}
	if p.Size() == 0 {
		return 0, errors.New("no labels")
	}
	return p.Size(), nil
}

// count sums a boolean mask.
func count(mask *ts.Tensor) float64 {
	sum := mask.MustSum(gotch.Double, true)
	n := sum.Float64Values()[0]
	sum.MustDrop()
	return n
}

// classMask returns labels == k as a double 0/1 tensor.
func classMask(labels *ts.Tensor, k int64) *ts.Tensor {
	return labels.MustEq(ts.IntScalar(k), false).MustTotype(gotch.Double, true)
}

// Accuracy returns the fraction of equal labels.
func Accuracy(pred, target *ts.Tensor) (float64, error) {
	n, err := checkPair(pred, target)
	if err != nil {
		return 0, err
	}
	hits := pred.MustEq1(target, false)
	return count(hits) / float64(n), nil
}

// ConfusionMatrix counts target (row) against prediction (column).
// Labels outside [0, numClasses) are ignored.
func ConfusionMatrix(pred, target *ts.Tensor, numClasses int64) ([][]int64, error) {
	if _, err := checkPair(pred, target); err != nil {
		return nil, err
	}

	predMasks := make([]*ts.Tensor, numClasses)
	for k := range predMasks {
		predMasks[k] = classMask(pred, int64(k))
	}
	cm := make([][]int64, numClasses)
	for i := range cm {
		cm[i] = make([]int64, numClasses)
		t := classMask(target, int64(i))
		for j, p := range predMasks {
			cm[i][j] = int64(count(t.MustMul(p, false)))
		}
		t.MustDrop()
	}
	for _, p := range predMasks {
		p.MustDrop()
	}
	return cm, nil
}

// IoU returns the intersection over union per class. A class absent from
// both prediction and target gets NaN.
func IoU(pred, target *ts.Tensor, numClasses int64) ([]float64, error) {
	if _, err := checkPair(pred, target); err != nil {
		return nil, err
	}

	iou := make([]float64, numClasses)
	for k := int64(0); k < numClasses; k++ {
		p := classMask(pred, k)
		t := classMask(target, k)
		inter := count(p.MustMul(t, false))
		union := count(p) + count(t) - inter
		if union == 0 {
			iou[k] = math.NaN()
			continue
		}
		iou[k] = inter / union
	}
	return iou, nil
}

// MeanIoU averages IoU over classes that are present.
func MeanIoU(pred, target *ts.Tensor, numClasses int64) (float64, error) {
	iou, err := IoU(pred, target, numClasses)
	if err != nil {
		return 0, err
	}
	var sum float64
	var n int
	for _, v := range iou {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, errors.New("no class present")
	}
	return sum / float64(n), nil
}
