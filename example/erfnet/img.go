package main

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/image/draw"
)

// readImage reads image from file.
func readImage(filename string) (image.Image, error) {
	ext := filepath.Ext(filename)
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch ext {
	case ".png", ".PNG":
		return png.Decode(f)
	case ".jpg", ".jpeg", ".JPG", ".JPEG":
		return jpeg.Decode(f)
	case ".tiff", ".tif", ".TIFF", ".TIF":
		return tiff.Decode(f)
	default:
		return nil, fmt.Errorf("unsupported image format: %v", ext)
	}
}

// toRGBA converts any image to *image.RGBA with origin at (0, 0).
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// imageTensor resizes img to height x width and returns a [3 H W] float
// tensor with values in [0, 1].
func imageTensor(img image.Image, height, width int64) (*ts.Tensor, error) {
	resized := toRGBA(imaging.Resize(img, int(width), int(height), imaging.Lanczos))

	hw := int(height * width)
	data := make([]float32, 3*hw)
	for y := 0; y < int(height); y++ {
		for x := 0; x < int(width); x++ {
			c := resized.RGBAAt(x, y)
			i := y*int(width) + x
			data[i] = float32(c.R) / 255
			data[hw+i] = float32(c.G) / 255
			data[2*hw+i] = float32(c.B) / 255
		}
	}

	x, err := ts.OfSlice(data)
	if err != nil {
		return nil, err
	}
	return x.MustView([]int64{3, height, width}, true), nil
}

// maskImage renders map index of a flattened [batch H W] label tensor as
// gray levels spread over numClasses.
func maskImage(labels []int64, index, height, width, numClasses int64) (*image.Gray, error) {
	hw := height * width
	start, end := index*hw, (index+1)*hw
	if index < 0 || end > int64(len(labels)) {
		return nil, errors.Errorf("label map %d out of range: %d labels for %dx%d maps", index, len(labels), height, width)
	}

	img := image.NewGray(image.Rect(0, 0, int(width), int(height)))
	scale := 255 / maxInt64(numClasses-1, 1)
	for i, l := range labels[start:end] {
		img.Pix[i] = uint8(l * scale)
	}
	return img, nil
}

// overlay upsamples mask to the source size and blends it over src at 25% opacity.
func overlay(src image.Image, mask *image.Gray) *image.RGBA {
	b := src.Bounds()
	full := resize.Resize(uint(b.Dx()), uint(b.Dy()), mask, resize.NearestNeighbor)

	dst := toRGBA(src)
	alpha := image.NewUniform(color.Alpha{64})
	draw.DrawMask(dst, dst.Bounds(), full, full.Bounds().Min, alpha, image.Point{}, draw.Over)

	return dst
}

func savePNG(img image.Image, filePath string) error {
	out, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer out.Close()

	return png.Encode(out, img)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
