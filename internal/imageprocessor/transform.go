package imageprocessor

import (
	"encoding/base64"

	"github.com/example/facemask/internal/landmark"
)

// Transform crops the image around the landmarks and renders one clip-path mask
// per non-empty region. Image failures are absorbed by the crop stage; the only
// error is a *landmark.InvalidError for a landmarks document of the wrong shape.
func Transform(in Input) (*Result, error) {
	if !in.SkipArtificialDelay {
		simulateWorkload()
	}

	set, err := landmark.Parse(in.Landmarks)
	if err != nil {
		return nil, err
	}

	crop := CropToLandmarks(in.ImageBase64, set)
	remapped := landmark.Remap(set, crop.OffsetX, crop.OffsetY)

	masks := make([]MaskDescriptor, 0, len(remapped.Groups))
	regions := make([]Region, 0, len(remapped.Groups))
	for i, group := range remapped.Groups {
		if len(group) == 0 {
			continue
		}
		name := landmark.RegionName(i)
		d := BuildPath(group, exclusionGroup(name, remapped))

		masks = append(masks, MaskDescriptor{Name: name, PathD: d, Points: pairs(group)})
		if d != "" {
			regions = append(regions, Region{Name: name, Path: d})
		}
	}

	doc := AssembleSVG(EmbeddedImage{
		Width:       crop.Width,
		Height:      crop.Height,
		MIMEType:    crop.MIMEType,
		ImageBase64: crop.ImageBase64,
	}, regions)

	return &Result{
		SVGBase64:    base64.StdEncoding.EncodeToString([]byte(doc)),
		MaskContours: masks,
		Crop:         crop,
	}, nil
}

func exclusionGroup(name string, set landmark.LandmarkSet) landmark.ContourGroup {
	excluded, ok := landmark.ExclusionFor(name)
	if !ok {
		return nil
	}
	idx, ok := landmark.RegionIndex(excluded)
	if !ok || idx >= len(set.Groups) {
		return nil
	}
	return set.Groups[idx]
}

func pairs(group landmark.ContourGroup) [][2]float64 {
	out := make([][2]float64, len(group))
	for i, p := range group {
		out[i] = [2]float64{p.X, p.Y}
	}
	return out
}

// simulateWorkload burns a fixed amount of CPU to stand in for real processing cost.
func simulateWorkload() int {
	sum := 0
	for i := 0; i < 100; i++ {
		for j := 0; j < 1000; j++ {
			sum += (i * j) % 12345
		}
	}
	return sum
}
