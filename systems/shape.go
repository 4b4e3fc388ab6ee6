package systems

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/pbdfluid/components"
)

// minCovariance is the Frobenius norm below which the covariance carries no
// orientation and the identity is used.
const minCovariance = 1e-12

// rotation is a row-major 3x3 matrix.
type rotation [3][3]float64

var identity = rotation{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

func (r *rotation) apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: r[0][0]*v.X + r[0][1]*v.Y + r[0][2]*v.Z,
		Y: r[1][0]*v.X + r[1][1]*v.Y + r[1][2]*v.Z,
		Z: r[2][0]*v.X + r[2][1]*v.Y + r[2][2]*v.Z,
	}
}

// covariance accumulates A = sum (p_i - c) q_i^T over the current points and
// their rest offsets.
func covariance(points []components.Vec4, centroid r3.Vec, rest []r3.Vec) *mat.Dense {
	var a [9]float64
	for i, p := range points {
		d := r3.Sub(p.Vec3(), centroid)
		q := rest[i]
		a[0] += d.X * q.X
		a[1] += d.X * q.Y
		a[2] += d.X * q.Z
		a[3] += d.Y * q.X
		a[4] += d.Y * q.Y
		a[5] += d.Y * q.Z
		a[6] += d.Z * q.X
		a[7] += d.Z * q.Y
		a[8] += d.Z * q.Z
	}
	return mat.NewDense(3, 3, a[:])
}

// optimalRotation returns the rotation closest to a in the least-squares
// sense, R = U diag(1, 1, det(U V^T)) V^T. Degenerate input and failed
// factorisations yield the identity.
func optimalRotation(a *mat.Dense) rotation {
	if !(mat.Norm(a, 2) > minCovariance) {
		return identity
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return identity
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// Reflection: flip the axis of the smallest singular value.
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}

	var out rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return out
}
