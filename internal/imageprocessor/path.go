package imageprocessor

import (
	"math"
	"strconv"
	"strings"

	"github.com/example/facemask/internal/landmark"
)

const (
	// ExclusionRadius is the distance from an excluded region's centroid within
	// which contour points are pushed outward.
	ExclusionRadius = 2 * CropPadding
	// ExclusionStep is how far a point is pushed.
	ExclusionStep = 5.0
)

// BuildPath converts a contour into a closed smoothed SVG path. When exclude is
// non-empty and the contour has more than two points, points near the centroid of
// exclude are first pushed away from it.
func BuildPath(points, exclude landmark.ContourGroup) string {
	if len(exclude) > 0 && len(points) > 2 {
		points = Deflect(points, exclude.Centroid())
	}
	return smoothPath(points)
}

// Deflect moves every point closer than ExclusionRadius to center one
// ExclusionStep further out along the radial direction. A point on the center
// moves along (1, 1).
func Deflect(points landmark.ContourGroup, center landmark.Point) landmark.ContourGroup {
	out := make(landmark.ContourGroup, len(points))
	for i, p := range points {
		dx, dy := p.X-center.X, p.Y-center.Y
		dist := math.Hypot(dx, dy)
		switch {
		case dist >= ExclusionRadius:
			out[i] = p
		case dist == 0:
			step := ExclusionStep / math.Sqrt2
			out[i] = landmark.Point{X: p.X + step, Y: p.Y + step}
		default:
			out[i] = landmark.Point{
				X: p.X + dx/dist*ExclusionStep,
				Y: p.Y + dy/dist*ExclusionStep,
			}
		}
	}
	return out
}

// smoothPath treats every point as a quadratic control point and passes the curve
// through the midpoints between consecutive points, closing back to the start.
func smoothPath(points landmark.ContourGroup) string {
	switch len(points) {
	case 0:
		return ""
	case 1:
		return "M " + xy(points[0]) + " Z"
	case 2:
		return "M " + xy(points[0]) + " L " + xy(points[1])
	}

	var b strings.Builder
	first := points[0]
	b.WriteString("M ")
	b.WriteString(xy(first))
	b.WriteString(" Q ")
	b.WriteString(xy(first))
	b.WriteString(", ")
	b.WriteString(xy(midpoint(first, points[1])))

	last := len(points) - 1
	for i := 1; i < last; i++ {
		b.WriteString(" T ")
		b.WriteString(xy(midpoint(points[i], points[i+1])))
	}
	b.WriteString(" T ")
	b.WriteString(xy(midpoint(points[last], first)))
	b.WriteString(" Z")
	return b.String()
}

func midpoint(a, b landmark.Point) landmark.Point {
	return landmark.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

func xy(p landmark.Point) string {
	return formatCoord(p.X) + " " + formatCoord(p.Y)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
