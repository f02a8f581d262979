package main

import (
	"flag"
	"path/filepath"

	"github.com/sugarme/gotch"
	"k8s.io/klog/v2"
)

// flag variables
var (
	task       string
	ModelPath  string
	LoadFrom   string
	InputPath  string
	Manifest   string
	OutputDir  string
	NumClasses int64
	Height     int64
	Width      int64
	OnlyEncode bool
	EncoderStr string
	Backbone   string
	Cuda       bool
	Device     gotch.Device
)

func init() {
	flag.StringVar(&task, "task", "shapes", "task to run: params, shapes, predict or segment")
	flag.StringVar(&ModelPath, "model", "", "path to a gotch '.ot' weight file; empty keeps random weights")
	flag.StringVar(&LoadFrom, "from", "partial", "weight load mode: 'checkpoint' or 'partial'")
	flag.StringVar(&InputPath, "input", "", "input image (.png, .jpg or .tiff)")
	flag.StringVar(&Manifest, "manifest", "", "CSV file with an 'image' column and an optional 'label' column")
	flag.StringVar(&OutputDir, "output", "./output", "directory for segmentation masks")
	flag.Int64Var(&NumClasses, "classes", 2, "number of output classes")
	flag.Int64Var(&Height, "height", 200, "network input height")
	flag.Int64Var(&Width, "width", 88, "network input width")
	flag.StringVar(&EncoderStr, "encoder", "erfnet", "encoder type: 'erfnet' or 'resnet34' (shared, pretrained backbone)")
	flag.StringVar(&Backbone, "backbone", "", "path to ResNet34 '.ot' weights for the resnet34 encoder")
	flag.BoolVar(&OnlyEncode, "encode", false, "classify from the encoder prediction only")
	flag.BoolVar(&Cuda, "cuda", false, "use CUDA when available")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	Device = gotch.CPU
	if Cuda {
		Device = gotch.NewCuda().CudaIfAvailable()
	}

	var err error
	switch task {
	case "params":
		err = runParams()
	case "shapes":
		err = runShapes()
	case "predict":
		err = runPredict()
	case "segment":
		err = runSegment()
	default:
		klog.Fatalf("Unknown task %q. Expected params, shapes, predict or segment.", task)
	}
	if err != nil {
		klog.Fatalf("%s: %+v", task, err)
	}
}

// helper to get absolute file path
func absPath(p string) string {
	fullpath, err := filepath.Abs(p)
	if err != nil {
		klog.Fatal(err)
	}
	return fullpath
}
