package imageprocessor

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const backgroundFill = "#FAFAFA"

// Region pairs a region name with its clip path.
type Region struct {
	Name string
	Path string
}

// EmbeddedImage is the raster drawn under every clip path.
type EmbeddedImage struct {
	Width       int
	Height      int
	MIMEType    string
	ImageBase64 string
}

// ClipID returns the clip path id for a region.
func ClipID(name string) string {
	return "mask_" + strings.ReplaceAll(name, " ", "_")
}

// AssembleSVG renders the clip path definitions, a background rectangle and one
// clipped copy of the image per region, in the given order. Regions with an empty
// path are left out.
func AssembleSVG(img EmbeddedImage, regions []Region) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		`<svg width="%d" height="%d" viewBox="0 0 %d %d" preserveAspectRatio="xMidYMid meet" xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink">`+"\n",
		img.Width, img.Height, img.Width, img.Height)

	b.WriteString("  <defs>\n")
	for _, r := range regions {
		if r.Path == "" {
			continue
		}
		fmt.Fprintf(&b, `    <clipPath id="%s"><path d="%s" /></clipPath>`+"\n", attr(ClipID(r.Name)), attr(r.Path))
	}
	b.WriteString("  </defs>\n")

	fmt.Fprintf(&b, `  <rect x="0" y="0" width="%d" height="%d" fill="%s"/>`+"\n", img.Width, img.Height, backgroundFill)

	href := attr("data:" + img.MIMEType + ";base64," + img.ImageBase64)
	for _, r := range regions {
		if r.Path == "" {
			continue
		}
		fmt.Fprintf(&b, `  <image width="%d" height="%d" clip-path="url(#%s)" xlink:href="%s" />`+"\n",
			img.Width, img.Height, attr(ClipID(r.Name)), href)
	}
	b.WriteString("</svg>")
	return b.String()
}

// attr escapes s for use inside a double quoted attribute value.
func attr(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
