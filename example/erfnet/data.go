package main

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
)

// Sample is one manifest row. Label is -1 when the manifest has no label column.
type Sample struct {
	Image string
	Label int64
}

// readManifest reads image paths (relative to the manifest) and optional labels.
func readManifest(filename string) ([]Sample, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	df := dataframe.ReadCSV(f, dataframe.HasHeader(true))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "read manifest %q", filename)
	}

	hasImage, hasLabel := false, false
	for _, n := range df.Names() {
		switch n {
		case "image":
			hasImage = true
		case "label":
			hasLabel = true
		}
	}
	if !hasImage {
		return nil, errors.Errorf("manifest %q has no 'image' column", filename)
	}

	dir := filepath.Dir(filename)
	images := df.Col("image").Records()
	var labels []string
	if hasLabel {
		labels = df.Col("label").Records()
	}

	samples := make([]Sample, 0, len(images))
	for i, img := range images {
		if !filepath.IsAbs(img) {
			img = filepath.Join(dir, img)
		}
		s := Sample{Image: img, Label: -1}
		if hasLabel {
			l, err := strconv.ParseInt(labels[i], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "manifest row %d", i+1)
			}
			s.Label = l
		}
		samples = append(samples, s)
	}

	return samples, nil
}
