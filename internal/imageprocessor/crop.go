package imageprocessor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/example/facemask/internal/landmark"
)

// CropPadding is the margin in pixels added around the landmark bounding box.
const CropPadding = 50

const fallbackMIMEType = "image/jpeg"

// MaxImagePixels is the largest decoded image, in pixels, the crop stage accepts.
// Larger images take the fallback path without being decoded.
const MaxImagePixels = 50_000_000

// mimeType returns the media type of a registered decoder format name.
func mimeType(format string) (string, bool) {
	switch format {
	case "jpeg", "png", "gif", "tiff", "bmp", "webp":
		return "image/" + format, true
	default:
		return "", false
	}
}

// CropGeometry holds integer crop bounds in the oriented image.
type CropGeometry struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// Rect converts the geometry to an image rectangle.
func (g CropGeometry) Rect() image.Rectangle {
	return image.Rect(g.Left, g.Top, g.Right, g.Bottom)
}

// CropResult is the output of the orientation and crop stage.
type CropResult struct {
	ImageBase64 string
	MIMEType    string
	Width       int
	Height      int
	OffsetX     int
	OffsetY     int
	// Err is set when the stage fell back to the uncropped input.
	Err error
}

// Degraded reports whether the fallback path was taken.
func (r CropResult) Degraded() bool {
	return r.Err != nil
}

// ComputeCropGeometry pads the bounding box of all landmark points and clamps it
// to the image. Without points, or when clamping leaves nothing, it returns the
// whole image.
func ComputeCropGeometry(set landmark.LandmarkSet, width, height int) CropGeometry {
	identity := CropGeometry{Right: width, Bottom: height}

	box, ok := landmark.Bounds(set)
	if !ok {
		return identity
	}

	g := CropGeometry{
		Left:   clamp(int(box.MinX-CropPadding), 0, width),
		Top:    clamp(int(box.MinY-CropPadding), 0, height),
		Right:  clamp(int(box.MaxX+CropPadding), 0, width),
		Bottom: clamp(int(box.MaxY+CropPadding), 0, height),
	}
	if g.Right <= g.Left || g.Bottom <= g.Top {
		return identity
	}
	return g
}

// CropToLandmarks decodes the Base64 image, applies its EXIF orientation, crops it
// to the padded landmark region and re-encodes it. It never fails: any error
// yields the fallback dimensions, the input passed through as text and zero
// offsets, with the cause kept in Err.
func CropToLandmarks(imageBase64 []byte, set landmark.LandmarkSet) CropResult {
	res, err := cropToLandmarks(imageBase64, set)
	if err != nil {
		w, h := set.FallbackDimensions()
		return CropResult{
			ImageBase64: string(imageBase64),
			MIMEType:    fallbackMIMEType,
			Width:       w,
			Height:      h,
			Err:         err,
		}
	}
	return res
}

func cropToLandmarks(imageBase64 []byte, set landmark.LandmarkSet) (CropResult, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(imageBase64)))
	n, err := base64.StdEncoding.Decode(raw, imageBase64)
	if err != nil {
		return CropResult{}, fmt.Errorf("decode base64: %w", err)
	}
	raw = raw[:n]

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return CropResult{}, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return CropResult{}, fmt.Errorf("image of %dx%d pixels exceeds the %d pixel limit", cfg.Width, cfg.Height, MaxImagePixels)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return CropResult{}, fmt.Errorf("decode image: %w", err)
	}
	img = orient(img, exifOrientation(raw))

	bounds := img.Bounds()
	geom := ComputeCropGeometry(set, bounds.Dx(), bounds.Dy())
	cropped := imaging.Crop(img, geom.Rect().Add(bounds.Min))
	size := cropped.Bounds()
	if size.Empty() {
		return CropResult{}, fmt.Errorf("empty crop %v of %dx%d image", geom.Rect(), bounds.Dx(), bounds.Dy())
	}

	var buf bytes.Buffer
	mt, err := encodeImage(&buf, cropped, format)
	if err != nil {
		return CropResult{}, fmt.Errorf("encode image: %w", err)
	}

	return CropResult{
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MIMEType:    mt,
		Width:       size.Dx(),
		Height:      size.Dy(),
		OffsetX:     geom.Left,
		OffsetY:     geom.Top,
	}, nil
}

// rotationDegrees maps an EXIF orientation tag to a counter-clockwise rotation.
func rotationDegrees(orientation int) int {
	switch orientation {
	case 3:
		return 180
	case 6:
		return 270
	case 8:
		return 90
	default:
		return 0
	}
}

func orient(img image.Image, orientation int) image.Image {
	switch rotationDegrees(orientation) {
	case 90:
		return imaging.Rotate90(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate270(img)
	default:
		return img
	}
}

// encodeImage writes img in the source container format when possible and falls
// back to JPEG for unknown formats or encoder errors.
func encodeImage(buf *bytes.Buffer, img image.Image, format string) (string, error) {
	mt, known := mimeType(format)
	if known && format != "jpeg" {
		var err error
		if format == "webp" {
			err = webp.Encode(buf, img, &webp.Options{Lossless: true})
		} else {
			var f imaging.Format
			f, err = imaging.FormatFromExtension(format)
			if err == nil {
				err = imaging.Encode(buf, img, f)
			}
		}
		if err == nil {
			return mt, nil
		}
		buf.Reset()
	}

	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return "", err
	}
	return fallbackMIMEType, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
