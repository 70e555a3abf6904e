package imageprocessor

import (
	"math"
	"strings"
	"testing"

	"github.com/example/facemask/internal/landmark"
)

func TestBuildPathDegenerateContours(t *testing.T) {
	if got := BuildPath(nil, nil); got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
	if got := BuildPath(landmark.ContourGroup{{X: 10, Y: 20}}, nil); got != "M 10 20 Z" {
		t.Fatalf("unexpected single point path: %q", got)
	}
	two := landmark.ContourGroup{{X: 10, Y: 20}, {X: 30, Y: 40}}
	if got := BuildPath(two, nil); got != "M 10 20 L 30 40" {
		t.Fatalf("unexpected two point path: %q", got)
	}
}

func TestBuildPathSmoothsThreeOrMorePoints(t *testing.T) {
	triangle := landmark.ContourGroup{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}
	if got := BuildPath(triangle, nil); got != "M 0 0 Q 0 0, 5 0 T 10 5 T 5 5 Z" {
		t.Fatalf("unexpected path: %q", got)
	}

	square := landmark.ContourGroup{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}, {X: 1, Y: 3}}
	got := BuildPath(square, nil)
	if !strings.HasPrefix(got, "M 0 0 Q 0 0, 2 0") {
		t.Fatalf("unexpected path start: %q", got)
	}
	if !strings.HasSuffix(got, " Z") {
		t.Fatalf("expected closed path, got %q", got)
	}
	if n := strings.Count(got, " T "); n != len(square)-1 {
		t.Fatalf("expected %d smooth segments, got %d in %q", len(square)-1, n, got)
	}
	if !strings.Contains(got, "T 0.5 1.5 Z") {
		t.Fatalf("expected closing segment through the last/first midpoint, got %q", got)
	}
}

func TestBuildPathIgnoresExclusionForShortContours(t *testing.T) {
	two := landmark.ContourGroup{{X: 10, Y: 20}, {X: 30, Y: 40}}
	exclude := landmark.ContourGroup{{X: 10, Y: 20}}
	if got := BuildPath(two, exclude); got != "M 10 20 L 30 40" {
		t.Fatalf("expected exclusion to be skipped, got %q", got)
	}
}

func TestBuildPathAppliesExclusion(t *testing.T) {
	points := landmark.ContourGroup{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}
	exclude := landmark.ContourGroup{{X: 5, Y: 5}}
	if BuildPath(points, exclude) == BuildPath(points, nil) {
		t.Fatal("expected exclusion to change the path")
	}
	far := landmark.ContourGroup{{X: 500, Y: 500}}
	if BuildPath(points, far) != BuildPath(points, nil) {
		t.Fatal("expected a distant exclusion to leave the path unchanged")
	}
}

func TestDeflect(t *testing.T) {
	center := landmark.Point{X: 100, Y: 100}
	points := landmark.ContourGroup{
		{X: 100, Y: 100}, // on the center
		{X: 130, Y: 140}, // distance 50
		{X: 200, Y: 100}, // distance exactly 100
		{X: 300, Y: 300}, // far away
	}

	out := Deflect(points, center)

	step := ExclusionStep / math.Sqrt2
	assertPoint(t, out[0], landmark.Point{X: 100 + step, Y: 100 + step})
	assertPoint(t, out[1], landmark.Point{X: 133, Y: 144})
	if out[2] != points[2] {
		t.Fatalf("expected boundary point unchanged, got %+v", out[2])
	}
	if out[3] != points[3] {
		t.Fatalf("expected far point unchanged, got %+v", out[3])
	}

	moved := math.Hypot(out[1].X-center.X, out[1].Y-center.Y)
	if math.Abs(moved-55) > 1e-9 {
		t.Fatalf("expected point pushed to distance 55, got %v", moved)
	}
	if points[0] != (landmark.Point{X: 100, Y: 100}) {
		t.Fatal("deflect mutated its input")
	}
}

func assertPoint(t *testing.T, got, want landmark.Point) {
	t.Helper()
	if math.Abs(got.X-want.X) > 1e-9 || math.Abs(got.Y-want.Y) > 1e-9 {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
