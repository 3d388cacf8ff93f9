package element

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// JacobiGQ computes the N+1 point Gauss quadrature for the Jacobi weight
// (1-x)^alpha (1+x)^beta on [-1,1], exact for polynomials of degree 2N+1.
func JacobiGQ(alpha, beta float64, N int) (X, W []float64) {
	if N == 0 {
		return []float64{-(alpha - beta) / (alpha + beta + 2.)}, []float64{Gamma0(alpha, beta)}
	}

	h1 := make([]float64, N+1)
	for i := 0; i < N+1; i++ {
		h1[i] = 2*float64(i) + alpha + beta
	}

	// main diagonal: d0[i] = -(α²-β²)/((2i+α+β)*(2i+α+β+2))
	d0 := make([]float64, N+1)
	fac := beta*beta - alpha*alpha
	for i := 0; i < N+1; i++ {
		d0[i] = fac / (h1[i] * (h1[i] + 2.))
	}
	if alpha+beta < 1e-15 {
		d0[0] = 0.
	}

	d1 := make([]float64, N)
	for i := 0; i < N; i++ {
		ip1 := float64(i + 1)
		val := h1[i]
		d1[i] = 2.0 / (val + 2.0) * math.Sqrt(
			ip1*(ip1+alpha+beta)*(ip1+alpha)*(ip1+beta)/(val+1)/(val+3),
		)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(NewSymTriDiagonal(d0, d1), true); !ok {
		panic("eigenvalue decomposition failed")
	}
	X = eig.Values(nil)

	var V mat.Dense
	eig.VectorsTo(&V)
	W = make([]float64, N+1)
	g0 := Gamma0(alpha, beta)
	for i := range W {
		v := V.At(0, i)
		W[i] = v * v * g0
	}
	return X, W
}

// Gamma0 is the integral of the Jacobi weight over [-1,1]
func Gamma0(alpha, beta float64) float64 {
	ab1 := alpha + beta + 1.
	return math.Gamma(alpha+1) * math.Gamma(beta+1) * math.Pow(2, ab1) / ab1 / math.Gamma(ab1)
}

// NewSymTriDiagonal builds the symmetric matrix with diagonal d0 and
// off-diagonal d1
func NewSymTriDiagonal(d0, d1 []float64) *mat.SymDense {
	n := len(d0)
	T := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		T.SetSym(i, i, d0[i])
		if i < n-1 {
			T.SetSym(i, i+1, d1[i])
		}
	}
	return T
}

// Quadrature is a rule on a reference simplex: points in reference
// coordinates and weights summing to the simplex measure.
type Quadrature struct {
	Points  [][3]float64
	Weights []float64
}

// toUnit maps Gauss-Jacobi points from [-1,1] to [0,1] and scales weights
// by the Jacobian of that map including the collapsed weight factor.
func toUnit(alpha float64, N int) (x, w []float64) {
	x, w = JacobiGQ(alpha, 0, N)
	scale := math.Pow(0.5, alpha+1)
	for i := range x {
		x[i] = 0.5 * (x[i] + 1)
		w[i] *= scale
	}
	return x, w
}

// TetQuadrature returns a collapsed Gauss-Jacobi rule on the unit tetrahedron
// with (N+1)^3 points, exact for polynomials of degree 2N+1. Weights sum
// to 1/6.
func TetQuadrature(N int) Quadrature {
	a, wa := toUnit(2, N)
	b, wb := toUnit(1, N)
	c, wc := toUnit(0, N)
	var q Quadrature
	for i := range a {
		for j := range b {
			for k := range c {
				q.Points = append(q.Points, [3]float64{
					a[i],
					(1 - a[i]) * b[j],
					(1 - a[i]) * (1 - b[j]) * c[k],
				})
				q.Weights = append(q.Weights, wa[i]*wb[j]*wc[k])
			}
		}
	}
	return q
}

// TriQuadrature returns a collapsed Gauss-Jacobi rule on the unit triangle
// (0,0), (1,0), (0,1). Weights sum to 1/2. The third coordinate is zero.
func TriQuadrature(N int) Quadrature {
	a, wa := toUnit(1, N)
	b, wb := toUnit(0, N)
	var q Quadrature
	for i := range a {
		for j := range b {
			q.Points = append(q.Points, [3]float64{a[i], (1 - a[i]) * b[j], 0})
			q.Weights = append(q.Weights, wa[i]*wb[j])
		}
	}
	return q
}
