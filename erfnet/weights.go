package erfnet

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/shape"
)

// PretrainedURL is where the reference PyTorch weights are published. They are
// a .pth state dict and have to be converted to a gotch .ot file before
// LoadWeights can read them.
const PretrainedURL = "https://github.com/adrshm91/erfnet_pytorch/tree/master/trained_models/erfnet_pretrained.pth"

// Weight load modes.
const (
	// FromCheckpoint requires every variable of the var store in the file.
	FromCheckpoint = "checkpoint"
	// FromPartial loads matching variables and keeps the rest as initialized.
	FromPartial = "partial"
)

// ERFNet creates a Net with its own encoder at the authored resolution.
// Remote weights are never fetched: with pretrained set, weights must be
// converted from PretrainedURL and loaded with LoadWeights.
func ERFNet(p *nn.Path, numClasses int64, pretrained bool) (*Net, error) {
	net, err := NewNet(p, numClasses)
	if err != nil {
		return nil, err
	}
	if pretrained {
		klog.Warningf("erfnet: pretrained weights are not downloaded; convert %s and call LoadWeights", PretrainedURL)
	}
	return net, nil
}

// LoadWeights loads a gotch weight file into vs. It returns the names of the
// variables missing from the file, which is only non-empty for FromPartial.
func LoadWeights(vs *nn.VarStore, fpath, from string) ([]string, error) {
	modelPath, err := filepath.Abs(fpath)
	if err != nil {
		return nil, errors.Wrapf(err, "weights path %q", fpath)
	}

	switch from {
	case FromCheckpoint:
		if err := vs.Load(modelPath); err != nil {
			return nil, errors.Wrapf(err, "load checkpoint %q", modelPath)
		}
		return nil, nil
	case FromPartial:
		missing, err := vs.LoadPartial(modelPath)
		if err != nil {
			return nil, errors.Wrapf(err, "load partial %q", modelPath)
		}
		for _, m := range missing {
			klog.V(1).Infof("erfnet: variable %q not in %s", m, modelPath)
		}
		return missing, nil
	default:
		return nil, shape.Configf("invalid load option %q: expected %q or %q", from, FromCheckpoint, FromPartial)
	}
}

// Param is a named variable and its shape.
type Param struct {
	Name  string
	Shape shape.Shape
}

// Params returns the variables of vs sorted by name.
func Params(vs *nn.VarStore) []Param {
	vars := vs.Variables()
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)

	params := make([]Param, 0, len(names))
	for _, n := range names {
		x := vars[n]
		params = append(params, Param{Name: n, Shape: x.MustSize()})
	}
	return params
}

// ParamCount returns the total number of scalar parameters in vs, including
// batch norm running statistics.
func ParamCount(vs *nn.VarStore) int64 {
	var total int64
	for _, p := range Params(vs) {
		total += p.Shape.Size()
	}
	return total
}
