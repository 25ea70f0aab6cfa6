// Package chart keeps the scrolling X/Y/Z time series shown next to the
// live readings and renders them as an image.
package chart

import (
	"github.com/golang/geo/r3"
)

// Point is one value at T seconds since the session's time origin.
type Point struct {
	T float64 `json:"t"`
	V float64 `json:"v"`
}

// Snapshot is a copy of the three series.
type Snapshot struct {
	X []Point `json:"x"`
	Y []Point `json:"y"`
	Z []Point `json:"z"`
}

// Len returns the number of points per series.
func (s Snapshot) Len() int {
	return len(s.X)
}

// Series holds the three axis series. Like the sample log it is owned by a
// single goroutine.
type Series struct {
	window int
	x      []Point
	y      []Point
	z      []Point
}

// New returns empty series keeping at most window points each (0 keeps all).
func New(window int) *Series {
	if window < 0 {
		window = 0
	}
	return &Series{window: window}
}

// Add appends one reading at time t.
func (s *Series) Add(t float64, v r3.Vector) {
	s.x = s.push(s.x, Point{T: t, V: v.X})
	s.y = s.push(s.y, Point{T: t, V: v.Y})
	s.z = s.push(s.z, Point{T: t, V: v.Z})
}

func (s *Series) push(pts []Point, p Point) []Point {
	if s.window > 0 && len(pts) >= s.window {
		n := copy(pts, pts[len(pts)-s.window+1:])
		pts = pts[:n]
	}
	return append(pts, p)
}

// Reset drops every point.
func (s *Series) Reset() {
	s.x, s.y, s.z = nil, nil, nil
}

// Len returns the number of points per series.
func (s *Series) Len() int {
	return len(s.x)
}

// Snapshot copies the current series.
func (s *Series) Snapshot() Snapshot {
	return Snapshot{X: clonePoints(s.x), Y: clonePoints(s.y), Z: clonePoints(s.z)}
}

func clonePoints(pts []Point) []Point {
	out := make([]Point, len(pts))
	copy(out, pts)
	return out
}
