package landmark

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// DefaultDimension is used for both axes when no fallback dimensions are supplied.
const DefaultDimension = 1024

// Point is a landmark coordinate in image pixel space.
type Point struct {
	X float64
	Y float64
}

// ContourGroup is the ordered outline sample of one facial region.
type ContourGroup []Point

// LandmarkSet holds contour groups by their positional region index plus optional
// fallback image dimensions.
type LandmarkSet struct {
	Groups     []ContourGroup
	Dimensions *[2]int
}

// FallbackDimensions returns the supplied dimensions or 1024x1024.
func (s LandmarkSet) FallbackDimensions() (int, int) {
	if s.Dimensions == nil {
		return DefaultDimension, DefaultDimension
	}
	return s.Dimensions[0], s.Dimensions[1]
}

// PointCount returns the number of points across all groups.
func (s LandmarkSet) PointCount() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g)
	}
	return n
}

// InvalidError reports a landmarks payload whose structure cannot be iterated.
type InvalidError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *InvalidError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid landmarks: %s: %v", e.Reason, e.Err)
	}
	return "invalid landmarks: " + e.Reason
}

// Unwrap returns the decoding error, if any.
func (e *InvalidError) Unwrap() error {
	return e.Err
}

type rawPoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

var jsonNull = []byte("null")

// Parse decodes a JSON landmarks document of the form
// {"landmarks": [[{"x":..,"y":..}, ...], ...], "dimensions": [w, h]}.
//
// Entries that are not objects or lack either coordinate are dropped from their
// group; group positions are never compacted.
func Parse(raw []byte) (LandmarkSet, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return LandmarkSet{}, &InvalidError{Reason: "document is not an object", Err: err}
	}
	if doc == nil {
		return LandmarkSet{}, &InvalidError{Reason: "document is null"}
	}

	groupsRaw, ok := doc["landmarks"]
	if !ok {
		return LandmarkSet{}, &InvalidError{Reason: `missing "landmarks" key`}
	}
	var groups []json.RawMessage
	if err := json.Unmarshal(groupsRaw, &groups); err != nil {
		return LandmarkSet{}, &InvalidError{Reason: `"landmarks" is not a list`, Err: err}
	}

	set := LandmarkSet{Groups: make([]ContourGroup, 0, len(groups))}
	for i, g := range groups {
		group, err := parseGroup(g)
		if err != nil {
			return LandmarkSet{}, &InvalidError{Reason: fmt.Sprintf("group %d is not a list", i), Err: err}
		}
		set.Groups = append(set.Groups, group)
	}

	if dimsRaw, ok := doc["dimensions"]; ok {
		set.Dimensions = parseDimensions(dimsRaw)
	}
	return set, nil
}

func parseGroup(raw json.RawMessage) (ContourGroup, error) {
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return ContourGroup{}, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	group := make(ContourGroup, 0, len(entries))
	for _, e := range entries {
		var p rawPoint
		if err := json.Unmarshal(e, &p); err != nil {
			continue
		}
		if p.X == nil || p.Y == nil {
			continue
		}
		group = append(group, Point{X: *p.X, Y: *p.Y})
	}
	return group, nil
}

// parseDimensions accepts [w, h] with positive values and ignores anything else.
func parseDimensions(raw json.RawMessage) *[2]int {
	var dims []float64
	if err := json.Unmarshal(raw, &dims); err != nil || len(dims) != 2 {
		return nil
	}
	w, h := int(dims[0]), int(dims[1])
	if w <= 0 || h <= 0 {
		return nil
	}
	return &[2]int{w, h}
}

// Remap shifts every point by the crop offset. The group layout, including empty
// groups, is preserved.
func Remap(set LandmarkSet, offsetX, offsetY int) LandmarkSet {
	dx, dy := float64(offsetX), float64(offsetY)
	out := LandmarkSet{
		Groups:     make([]ContourGroup, len(set.Groups)),
		Dimensions: set.Dimensions,
	}
	for i, g := range set.Groups {
		shifted := make(ContourGroup, len(g))
		for j, p := range g {
			shifted[j] = Point{X: p.X - dx, Y: p.Y - dy}
		}
		out.Groups[i] = shifted
	}
	return out
}

// Box is an axis-aligned bounding box.
type Box struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Bounds returns the bounding box of every point in the set. ok is false when the
// set holds no points.
func Bounds(set LandmarkSet) (box Box, ok bool) {
	box = Box{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	for _, g := range set.Groups {
		for _, p := range g {
			box.MinX = math.Min(box.MinX, p.X)
			box.MinY = math.Min(box.MinY, p.Y)
			box.MaxX = math.Max(box.MaxX, p.X)
			box.MaxY = math.Max(box.MaxY, p.Y)
			ok = true
		}
	}
	if !ok {
		return Box{}, false
	}
	return box, true
}

// Centroid returns the arithmetic mean of the group's points.
func (g ContourGroup) Centroid() Point {
	if len(g) == 0 {
		return Point{}
	}
	var sx, sy float64
	for _, p := range g {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(g))
	return Point{X: sx / n, Y: sy / n}
}
