package element

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Material holds isotropic linear elastic constants
type Material struct {
	E  float64 // Young's modulus
	Nu float64 // Poisson ratio
}

// DefaultMaterial matches the benchmark's elasticity problem
var DefaultMaterial = Material{E: 1.0e9, Nu: 0.3}

// Lame returns the Lamé parameters lambda and mu
func (m Material) Lame() (lambda, mu float64) {
	lambda = m.E * m.Nu / ((1 + m.Nu) * (1 - 2*m.Nu))
	mu = m.E / (2 * (1 + m.Nu))
	return
}

// Elasticity returns the 6x6 constitutive matrix in Voigt order
// xx, yy, zz, xy, yz, xz with engineering shear strains.
func (m Material) Elasticity() *mat.Dense {
	lambda, mu := m.Lame()
	D := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			D.Set(i, j, lambda)
		}
		D.Set(i, i, lambda+2*mu)
		D.Set(i+3, i+3, mu)
	}
	return D
}

// PoissonStiffness returns the 4x4 Laplacian stiffness of a P1 tetrahedron,
// K_ab = vol * grad(phi_a) . grad(phi_b)
func PoissonStiffness(g *Geometry) *mat.Dense {
	G := mat.NewDense(4, 3, nil)
	for a := 0; a < 4; a++ {
		G.SetRow(a, g.Grad[a][:])
	}
	var K mat.Dense
	K.Mul(G, G.T())
	K.Scale(g.Volume, &K)
	return &K
}

// StrainDisplacement returns the 6x12 B matrix. Dofs are interleaved by
// node: column 3a+c is component c of node a.
func StrainDisplacement(g *Geometry) *mat.Dense {
	B := mat.NewDense(6, 12, nil)
	for a := 0; a < 4; a++ {
		bx, by, bz := g.Grad[a][0], g.Grad[a][1], g.Grad[a][2]
		c := 3 * a
		B.Set(0, c, bx)
		B.Set(1, c+1, by)
		B.Set(2, c+2, bz)
		B.Set(3, c, by)
		B.Set(3, c+1, bx)
		B.Set(4, c+1, bz)
		B.Set(4, c+2, by)
		B.Set(5, c, bz)
		B.Set(5, c+2, bx)
	}
	return B
}

// ElasticityStiffness returns the 12x12 linear elasticity stiffness
// K = vol * B^T D B
func ElasticityStiffness(g *Geometry, m Material) *mat.Dense {
	B := StrainDisplacement(g)
	var DB, K mat.Dense
	DB.Mul(m.Elasticity(), B)
	K.Mul(B.T(), &DB)
	K.Scale(g.Volume, &K)
	return &K
}

// Mass returns the exact 4x4 P1 mass matrix, M_ab = vol/20 (1 + delta_ab)
func Mass(g *Geometry) *mat.Dense {
	M := mat.NewDense(4, 4, nil)
	for a := 0; a < 4; a++ {
		for b := 0; b < 4; b++ {
			v := g.Volume / 20
			if a == b {
				v *= 2
			}
			M.Set(a, b, v)
		}
	}
	return M
}

// LoadVector integrates f * phi_a over the element with quadrature q
func LoadVector(g *Geometry, q Quadrature, f func(x [3]float64) float64) [4]float64 {
	var F [4]float64
	scale := math.Abs(g.DetJ)
	for n, xi := range q.Points {
		phi := ShapeFunctions(xi)
		w := q.Weights[n] * scale * f(g.Map(xi))
		for a := range F {
			F[a] += w * phi[a]
		}
	}
	return F
}

// FaceLoadVector integrates g * phi over the triangle with vertices p,
// returning one entry per triangle vertex.
func FaceLoadVector(p [3][3]float64, q Quadrature, fn func(x [3]float64) float64) [3]float64 {
	var e1, e2 [3]float64
	for i := 0; i < 3; i++ {
		e1[i] = p[1][i] - p[0][i]
		e2[i] = p[2][i] - p[0][i]
	}
	cx := e1[1]*e2[2] - e1[2]*e2[1]
	cy := e1[2]*e2[0] - e1[0]*e2[2]
	cz := e1[0]*e2[1] - e1[1]*e2[0]
	scale := math.Sqrt(cx*cx + cy*cy + cz*cz) // twice the area

	var F [3]float64
	for n, xi := range q.Points {
		var x [3]float64
		for i := 0; i < 3; i++ {
			x[i] = p[0][i] + xi[0]*e1[i] + xi[1]*e2[i]
		}
		phi := [3]float64{1 - xi[0] - xi[1], xi[0], xi[1]}
		w := q.Weights[n] * scale * fn(x)
		for a := range F {
			F[a] += w * phi[a]
		}
	}
	return F
}
