package element

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Dimensionality represents the spatial dimension of an element
type Dimensionality uint8

const (
	D0 Dimensionality = iota // 0D elements (points)
	D1                       // 1D elements (lines, edges)
	D2                       // 2D elements (triangles)
	D3                       // 3D elements (tetrahedra)
)

// ElementProperties contains metadata describing an element type
type ElementProperties struct {
	Name       string // Full descriptive name
	ShortName  string
	Order      int // Polynomial order
	Np         int // Nodes per element
	NFp        int // Nodes per face
	NFaces     int
	Dimensions Dimensionality
}

// P1Tet describes the linear Lagrange tetrahedron used for every problem in
// this package: one node per vertex, shape functions equal to the barycentric
// coordinates.
var P1Tet = ElementProperties{
	Name:       "Lagrange Tetrahedron Order 1",
	ShortName:  "Tet1",
	Order:      1,
	Np:         4,
	NFp:        3,
	NFaces:     4,
	Dimensions: D3,
}

// Geometry holds the affine map of one physical tetrahedron.
//
// The reference element is the unit simplex with vertices (0,0,0), (1,0,0),
// (0,1,0), (0,0,1). Column j of J is vertex j+1 minus vertex 0, so a reference
// point xi maps to X[0] + J*xi.
type Geometry struct {
	X      [4][3]float64
	J      *mat.Dense
	Jinv   *mat.Dense
	DetJ   float64
	Volume float64

	// Grad[a] is the constant physical gradient of shape function a
	Grad [4][3]float64
}

// NewGeometry computes the affine map and shape function gradients of the
// tetrahedron with vertex coordinates x.
func NewGeometry(x [4][3]float64) (*Geometry, error) {
	J := mat.NewDense(3, 3, nil)
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			J.Set(i, j, x[j+1][i]-x[0][i])
		}
	}
	det := mat.Det(J)
	if math.Abs(det) < 1e-300 {
		return nil, fmt.Errorf("degenerate tetrahedron, det(J) = %g", det)
	}
	var Jinv mat.Dense
	if err := Jinv.Inverse(J); err != nil {
		return nil, fmt.Errorf("inverting element jacobian: %w", err)
	}

	g := &Geometry{
		X:      x,
		J:      J,
		Jinv:   &Jinv,
		DetJ:   det,
		Volume: math.Abs(det) / 6,
	}
	// xi_j = lambda_{j+1}, so row j of Jinv is grad lambda_{j+1}
	for a := 1; a < 4; a++ {
		for i := 0; i < 3; i++ {
			g.Grad[a][i] = Jinv.At(a-1, i)
			g.Grad[0][i] -= g.Grad[a][i]
		}
	}
	return g, nil
}

// Map returns the physical point of reference coordinates xi
func (g *Geometry) Map(xi [3]float64) [3]float64 {
	var p [3]float64
	for i := 0; i < 3; i++ {
		p[i] = g.X[0][i]
		for j := 0; j < 3; j++ {
			p[i] += g.J.At(i, j) * xi[j]
		}
	}
	return p
}

// ShapeFunctions evaluates the four P1 basis functions at reference point xi
func ShapeFunctions(xi [3]float64) [4]float64 {
	return [4]float64{1 - xi[0] - xi[1] - xi[2], xi[0], xi[1], xi[2]}
}
