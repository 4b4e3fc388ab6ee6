// Package sph holds the SPH building blocks shared by the solvers: the
// smoothing kernel, the uniform hash grid and the parallel-for worker pool.
package sph

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidRadius is returned when a kernel or grid is built from a
// non-positive or non-finite length.
var ErrInvalidRadius = errors.New("sph: radius must be positive and finite")

// Kernel holds the Poly6, Spiky gradient and viscosity Laplacian
// normalisation constants for a support radius. Solvers evaluate the
// gradient and Laplacian inline from SpikyGradCoeff and ViscLapCoeff.
type Kernel struct {
	Radius  float64
	Radius2 float64

	Poly6Coeff     float64 // 315 / (64 pi h^9)
	SpikyGradCoeff float64 // -45 / (pi h^6)
	ViscLapCoeff   float64 // 45 / (pi h^6)
}

// NewKernel derives the kernel constants for support radius h.
func NewKernel(h float64) (Kernel, error) {
	if !(h > 0) || math.IsInf(h, 0) {
		return Kernel{}, fmt.Errorf("kernel radius %v: %w", h, ErrInvalidRadius)
	}

	h2 := h * h
	h6 := h2 * h2 * h2
	h9 := h6 * h2 * h

	return Kernel{
		Radius:         h,
		Radius2:        h2,
		Poly6Coeff:     315.0 / (64.0 * math.Pi * h9),
		SpikyGradCoeff: -45.0 / (math.Pi * h6),
		ViscLapCoeff:   45.0 / (math.Pi * h6),
	}, nil
}

// Poly6 evaluates the density kernel for displacement r.
func (k Kernel) Poly6(r r3.Vec) float64 {
	return k.Poly6Dist2(r3.Norm2(r))
}

// Poly6Dist2 evaluates the density kernel for a squared distance.
func (k Kernel) Poly6Dist2(r2 float64) float64 {
	if r2 > k.Radius2 {
		return 0
	}
	d := k.Radius2 - r2
	return k.Poly6Coeff * d * d * d
}

// Poly6Zero is the self contribution W(0).
func (k Kernel) Poly6Zero() float64 {
	return k.Poly6Dist2(0)
}
