package components

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vec4 is a per-particle vector. W is 1 for positions and 0 for velocities;
// the fourth lane only keeps buffers 4-wide.
type Vec4 struct {
	X, Y, Z, W float64
}

// Point returns v as a position (W = 1).
func Point(v r3.Vec) Vec4 {
	return Vec4{X: v.X, Y: v.Y, Z: v.Z, W: 1}
}

// Direction returns v as a free vector (W = 0).
func Direction(v r3.Vec) Vec4 {
	return Vec4{X: v.X, Y: v.Y, Z: v.Z}
}

// Vec3 drops the W lane.
func (v Vec4) Vec3() r3.Vec {
	return r3.Vec{X: v.X, Y: v.Y, Z: v.Z}
}

// Bounds is an axis-aligned box.
type Bounds struct {
	Min, Max r3.Vec
}

// NewBounds returns the box spanning min and max.
func NewBounds(min, max r3.Vec) Bounds {
	return Bounds{Min: min, Max: max}
}

// Valid reports whether the box is finite and not inverted.
func (b Bounds) Valid() bool {
	for _, f := range []float64{b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z
}

// Size returns the box extent per axis.
func (b Bounds) Size() r3.Vec {
	return r3.Sub(b.Max, b.Min)
}

// Center returns the box midpoint.
func (b Bounds) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

// Contains reports whether p lies inside the box, faces included.
func (b Bounds) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// ContainsStrict reports whether p lies inside the box, faces excluded.
func (b Bounds) ContainsStrict(p r3.Vec) bool {
	return p.X > b.Min.X && p.X < b.Max.X &&
		p.Y > b.Min.Y && p.Y < b.Max.Y &&
		p.Z > b.Min.Z && p.Z < b.Max.Z
}

// Expand grows the box by d on every side. A negative d shrinks it.
func (b Bounds) Expand(d float64) Bounds {
	pad := r3.Vec{X: d, Y: d, Z: d}
	return Bounds{Min: r3.Sub(b.Min, pad), Max: r3.Add(b.Max, pad)}
}

// Translate moves the box by v.
func (b Bounds) Translate(v r3.Vec) Bounds {
	return Bounds{Min: r3.Add(b.Min, v), Max: r3.Add(b.Max, v)}
}

// BoundsOf returns the extrema of points padded by pad on every side.
// An empty slice yields an inverted box.
func BoundsOf(points []Vec4, pad float64) Bounds {
	inf := math.Inf(1)
	min := r3.Vec{X: inf, Y: inf, Z: inf}
	max := r3.Vec{X: -inf, Y: -inf, Z: -inf}

	for _, p := range points {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		min.Z = math.Min(min.Z, p.Z)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
		max.Z = math.Max(max.Z, p.Z)
	}

	if len(points) == 0 {
		return Bounds{Min: min, Max: max}
	}
	return Bounds{Min: min, Max: max}.Expand(pad)
}
