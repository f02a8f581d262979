package main

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskOverlay(t *testing.T) {
	mask, err := maskImage([]int64{0, 1, 1, 0}, 0, 2, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 255, 255, 0}, mask.Pix)

	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	out := overlay(src, mask)
	assert.Equal(t, src.Bounds(), out.Bounds())
	// Top-left quadrant is class 0 and gets darkened, top-right is class 1.
	assert.Less(t, out.RGBAAt(1, 1).R, uint8(255))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(6, 1))
}

func TestMaskImageBatch(t *testing.T) {
	// Two 2x2 maps back to back.
	labels := []int64{0, 1, 1, 0, 1, 1, 0, 0}

	first, err := maskImage(labels, 0, 2, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 255, 255, 0}, first.Pix)

	second, err := maskImage(labels, 1, 2, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 255, 0, 0}, second.Pix)

	_, err = maskImage(labels, 2, 2, 2, 2)
	assert.Error(t, err)
	_, err = maskImage(labels[:3], 0, 2, 2, 2)
	assert.Error(t, err)
}

func TestImageTensor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	x, err := imageTensor(img, 8, 16)
	require.NoError(t, err)
	defer x.MustDrop()
	assert.Equal(t, []int64{3, 8, 16}, x.MustSize())
	for _, v := range x.Float64Values() {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "manifest.csv")
	require.NoError(t, os.WriteFile(fname, []byte("image,label\na.png,1\n/abs/b.tif,0\n"), 0644))

	rows, err := readManifest(fname)
	require.NoError(t, err)
	assert.Equal(t, []Sample{
		{Image: filepath.Join(dir, "a.png"), Label: 1},
		{Image: "/abs/b.tif", Label: 0},
	}, rows)

	noLabel := filepath.Join(dir, "nolabel.csv")
	require.NoError(t, os.WriteFile(noLabel, []byte("image\na.png\n"), 0644))
	rows, err = readManifest(noLabel)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), rows[0].Label)

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("path\na.png\n"), 0644))
	_, err = readManifest(bad)
	assert.Error(t, err)
}

func TestReadImageUnsupported(t *testing.T) {
	_, err := readImage("image.bmp")
	assert.Error(t, err)
}
