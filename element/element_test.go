package element

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var unitTet = [4][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// A skewed tetrahedron with negative orientation
var skewTet = [4][3]float64{{0.1, 0.2, 0.3}, {1.3, 0.1, -0.2}, {1.2, 1.1, 0.4}, {0.4, 0.9, 1.7}}

func TestJacobiGQ(t *testing.T) {
	t.Run("single point weight", func(t *testing.T) {
		for _, alpha := range []float64{0, 1, 2} {
			_, w := JacobiGQ(alpha, 0, 0)
			assert.InDelta(t, Gamma0(alpha, 0), w[0], 1e-14)
		}
		_, w := JacobiGQ(0, 0, 0)
		assert.InDelta(t, 2.0, w[0], 1e-14)
	})

	for N := 1; N <= 4; N++ {
		t.Run(fmt.Sprintf("N=%d", N), func(t *testing.T) {
			x, w := JacobiGQ(0, 0, N)
			require.Len(t, x, N+1)
			for p := 0; p <= 2*N+1; p++ {
				var got float64
				for i := range x {
					got += w[i] * math.Pow(x[i], float64(p))
				}
				want := 0.0
				if p%2 == 0 {
					want = 2 / float64(p+1)
				}
				assert.InDelta(t, want, got, 1e-13, "degree %d", p)
			}
		})
	}
}

func TestTetQuadrature(t *testing.T) {
	q := TetQuadrature(2)
	assert.Len(t, q.Points, 27)
	assert.InDelta(t, 1.0/6, floats.Sum(q.Weights), 1e-14)

	integrate := func(f func(p [3]float64) float64) float64 {
		var s float64
		for i, p := range q.Points {
			s += q.Weights[i] * f(p)
		}
		return s
	}
	assert.InDelta(t, 1.0/24, integrate(func(p [3]float64) float64 { return p[0] }), 1e-14)
	assert.InDelta(t, 1.0/60, integrate(func(p [3]float64) float64 { return p[1] * p[1] }), 1e-14)
	assert.InDelta(t, 1.0/720, integrate(func(p [3]float64) float64 { return p[0] * p[1] * p[2] }), 1e-14)
}

func TestTriQuadrature(t *testing.T) {
	q := TriQuadrature(2)
	assert.InDelta(t, 0.5, floats.Sum(q.Weights), 1e-14)
	var xy float64
	for i, p := range q.Points {
		xy += q.Weights[i] * p[0] * p[1]
	}
	assert.InDelta(t, 1.0/24, xy, 1e-14)
}

func TestGeometry(t *testing.T) {
	g, err := NewGeometry(unitTet)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/6, g.Volume, 1e-15)
	assert.Equal(t, [3]float64{-1, -1, -1}, g.Grad[0])
	assert.Equal(t, [3]float64{1, 0, 0}, g.Grad[1])
	assert.Equal(t, [3]float64{0, 0, 1}, g.Grad[3])
	assert.Equal(t, [3]float64{0.5, 0.25, 0}, g.Map([3]float64{0.5, 0.25, 0}))

	// Gradients reproduce linear functions on any element
	g, err = NewGeometry(skewTet)
	require.NoError(t, err)
	lin := func(p [3]float64) float64 { return 2*p[0] - 3*p[1] + 0.5*p[2] + 1 }
	var grad [3]float64
	for a := 0; a < 4; a++ {
		for i := 0; i < 3; i++ {
			grad[i] += lin(skewTet[a]) * g.Grad[a][i]
		}
	}
	assert.InDeltaSlice(t, []float64{2, -3, 0.5}, grad[:], 1e-12)

	_, err = NewGeometry([4][3]float64{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {0, 0, 1}})
	assert.Error(t, err)
}

func TestPoissonStiffness(t *testing.T) {
	g, err := NewGeometry(skewTet)
	require.NoError(t, err)
	K := PoissonStiffness(g)
	assert.True(t, mat.EqualApprox(K, K.T(), 1e-14))
	for a := 0; a < 4; a++ {
		assert.InDelta(t, 0, floats.Sum(K.RawRowView(a)), 1e-12, "row %d", a)
	}

	g, err = NewGeometry(unitTet)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/6, PoissonStiffness(g).At(1, 1), 1e-15)
}

func TestElasticityStiffnessAnnihilatesRigidModes(t *testing.T) {
	g, err := NewGeometry(skewTet)
	require.NoError(t, err)
	K := ElasticityStiffness(g, DefaultMaterial)
	assert.True(t, mat.EqualApprox(K, K.T(), 1e-3))

	modes := map[string]func(x [3]float64) [3]float64{
		"tx": func(x [3]float64) [3]float64 { return [3]float64{1, 0, 0} },
		"tz": func(x [3]float64) [3]float64 { return [3]float64{0, 0, 1} },
		"rz": func(x [3]float64) [3]float64 { return [3]float64{-x[1], x[0], 0} },
		"ry": func(x [3]float64) [3]float64 { return [3]float64{x[2], 0, -x[0]} },
		"rx": func(x [3]float64) [3]float64 { return [3]float64{0, -x[2], x[1]} },
	}
	normK := mat.Norm(K, math.Inf(1))
	for name, mode := range modes {
		t.Run(name, func(t *testing.T) {
			u := mat.NewVecDense(12, nil)
			for a := 0; a < 4; a++ {
				v := mode(skewTet[a])
				for c := 0; c < 3; c++ {
					u.SetVec(3*a+c, v[c])
				}
			}
			var r mat.VecDense
			r.MulVec(K, u)
			assert.Less(t, mat.Norm(&r, math.Inf(1))/normK, 1e-12)
		})
	}

	// A stretch is not a rigid mode
	u := mat.NewVecDense(12, nil)
	for a := 0; a < 4; a++ {
		u.SetVec(3*a, skewTet[a][0])
	}
	var r mat.VecDense
	r.MulVec(K, u)
	assert.Greater(t, mat.Norm(&r, math.Inf(1))/normK, 1e-3)
}

func TestMassAndLoad(t *testing.T) {
	g, err := NewGeometry(skewTet)
	require.NoError(t, err)
	M := Mass(g)
	assert.InDelta(t, g.Volume, mat.Sum(M), 1e-14)

	F := LoadVector(g, TetQuadrature(1), func([3]float64) float64 { return 1 })
	for a := 0; a < 4; a++ {
		assert.InDelta(t, g.Volume/4, F[a], 1e-14)
	}

	// Quadrature mass agrees with the closed form
	for b := 0; b < 4; b++ {
		col := LoadVector(g, TetQuadrature(2), func(x [3]float64) float64 {
			var phi [4]float64
			for a := 0; a < 4; a++ {
				phi[a] = g.Grad[a][0]*(x[0]-g.X[a][0]) + g.Grad[a][1]*(x[1]-g.X[a][1]) + g.Grad[a][2]*(x[2]-g.X[a][2]) + 1
			}
			return phi[b]
		})
		for a := 0; a < 4; a++ {
			assert.InDelta(t, M.At(a, b), col[a], 1e-13)
		}
	}
}

func TestFaceLoadVector(t *testing.T) {
	p := [3][3]float64{{0, 0, 0}, {2, 0, 0}, {0, 0, 3}}
	F := FaceLoadVector(p, TriQuadrature(1), func([3]float64) float64 { return 1 })
	for a := 0; a < 3; a++ {
		assert.InDelta(t, 1.0, F[a], 1e-14)
	}
}

func TestMaterial(t *testing.T) {
	lambda, mu := DefaultMaterial.Lame()
	assert.InDelta(t, 5.769230769230769e8, lambda, 1)
	assert.InDelta(t, 3.846153846153846e8, mu, 1)
	D := DefaultMaterial.Elasticity()
	assert.Equal(t, lambda+2*mu, D.At(0, 0))
	assert.Equal(t, mu, D.At(5, 5))
	assert.Equal(t, 0.0, D.At(3, 0))
}
