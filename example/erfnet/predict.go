package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/erfnet/encoder"
	"github.com/sugarme/erfnet/erfnet"
	"github.com/sugarme/erfnet/metric"
)

// buildEncoder returns nil for the network's own encoder, or a ResNet34
// encoder in its own var store loaded from the backbone weights.
func buildEncoder() (encoder.Encoder, error) {
	switch EncoderStr {
	case "erfnet":
		return nil, nil
	case "resnet34":
		vs := nn.NewVarStore(Device)
		enc, err := encoder.NewResNet34Encoder(vs.Root(), erfnet.InternalClasses)
		if err != nil {
			return nil, err
		}
		if Backbone != "" {
			if _, err := erfnet.LoadWeights(vs, absPath(Backbone), erfnet.FromPartial); err != nil {
				return nil, err
			}
		}
		return enc, nil
	default:
		return nil, errors.Errorf("invalid encoder option %q: expected 'erfnet' or 'resnet34'", EncoderStr)
	}
}

// buildNet creates the network on Device and loads weights if a model path is set.
func buildNet() (*nn.VarStore, *erfnet.Net, error) {
	enc, err := buildEncoder()
	if err != nil {
		return nil, nil, err
	}

	vs := nn.NewVarStore(Device)
	cfg := erfnet.Config{NumClasses: NumClasses, Height: Height, Width: Width, Encoder: enc}
	net, err := erfnet.New(vs.Root(), cfg)
	if err != nil {
		return nil, nil, err
	}

	if ModelPath != "" {
		missing, err := erfnet.LoadWeights(vs, absPath(ModelPath), LoadFrom)
		if err != nil {
			return nil, nil, err
		}
		if len(missing) > 0 {
			klog.Warningf("%d variables not found in %s, kept as initialized", len(missing), ModelPath)
		}
	}

	klog.Infof("ERFNet: %s parameters, input %dx%d, %d classes",
		humanize.Comma(erfnet.ParamCount(vs)), Height, Width, NumClasses)
	return vs, net, nil
}

func runParams() error {
	vs, _, err := buildNet()
	if err != nil {
		return err
	}
	for _, p := range erfnet.Params(vs) {
		fmt.Printf("%-45s %v\n", p.Name, p.Shape)
	}
	fmt.Printf("total: %s\n", humanize.Comma(erfnet.ParamCount(vs)))
	return nil
}

func runShapes() error {
	_, net, err := buildNet()
	if err != nil {
		return err
	}
	stages, err := net.Shapes(1)
	if err != nil {
		return err
	}
	for _, s := range stages {
		fmt.Printf("%-22s %v\n", s.Name, s.Shape)
	}
	fmt.Printf("flatten width: full %d, encode-only %d\n", net.FlattenWidth(false), net.FlattenWidth(true))
	return nil
}

func samples() ([]Sample, error) {
	switch {
	case Manifest != "":
		return readManifest(absPath(Manifest))
	case InputPath != "":
		return []Sample{{Image: absPath(InputPath), Label: -1}}, nil
	default:
		return nil, errors.New("either -input or -manifest is required")
	}
}

// loadInput reads an image and returns it with its [1 3 H W] tensor on Device.
func loadInput(path string) (*ts.Tensor, error) {
	img, err := readImage(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %q", path)
	}
	x, err := imageTensor(img, Height, Width)
	if err != nil {
		return nil, err
	}
	return x.MustUnsqueeze(0, true).MustTo(Device, true), nil
}

func runPredict() error {
	_, net, err := buildNet()
	if err != nil {
		return err
	}
	rows, err := samples()
	if err != nil {
		return err
	}

	var preds, targets []int64
	bar := progressbar.Default(int64(len(rows)), "predict")
	for _, s := range rows {
		x, err := loadInput(s.Image)
		if err != nil {
			return err
		}

		var (
			logits *ts.Tensor
			ferr   error
		)
		ts.NoGrad(func() {
			logits, _, ferr = net.Forward(x, OnlyEncode, false)
		})
		x.MustDrop()
		if ferr != nil {
			return errors.Wrap(ferr, s.Image)
		}
		predTs, err := metric.Predict(logits)
		logits.MustDrop()
		if err != nil {
			return err
		}
		pred := metric.Labels(predTs)
		predTs.MustDrop()

		klog.V(1).Infof("%s: class %d", s.Image, pred[0])
		if s.Label >= 0 {
			preds = append(preds, pred[0])
			targets = append(targets, s.Label)
		}
		_ = bar.Add(1)
	}

	if len(targets) > 0 {
		predTs := ts.MustOfSlice(preds)
		targetTs := ts.MustOfSlice(targets)
		acc, err := metric.Accuracy(predTs, targetTs)
		predTs.MustDrop()
		targetTs.MustDrop()
		if err != nil {
			return err
		}
		fmt.Printf("\naccuracy: %.4f over %d labelled images\n", acc, len(targets))
	}
	return nil
}

func runSegment() error {
	_, net, err := buildNet()
	if err != nil {
		return err
	}
	rows, err := samples()
	if err != nil {
		return err
	}
	outDir := absPath(OutputDir)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	bar := progressbar.Default(int64(len(rows)), "segment")
	for _, s := range rows {
		src, err := readImage(s.Image)
		if err != nil {
			return errors.Wrapf(err, "read %q", s.Image)
		}
		x, err := loadInput(s.Image)
		if err != nil {
			return err
		}

		var (
			dense *ts.Tensor
			ferr  error
		)
		ts.NoGrad(func() {
			dense, ferr = net.Segment(x, false)
		})
		x.MustDrop()
		if ferr != nil {
			return errors.Wrap(ferr, s.Image)
		}
		labelTs, err := metric.PredictDense(dense)
		dense.MustDrop()
		if err != nil {
			return err
		}
		size := labelTs.MustSize()
		labels := metric.Labels(labelTs)
		labelTs.MustDrop()

		mask, err := maskImage(labels, 0, size[1], size[2], erfnet.InternalClasses)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.Base(s.Image), filepath.Ext(s.Image))
		if err := savePNG(overlay(src, mask), filepath.Join(outDir, name+"-mask.png")); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	return nil
}
