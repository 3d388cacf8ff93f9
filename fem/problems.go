package fem

import (
	"fmt"
	"math"

	"github.com/notargets/FEMBench/element"
	"github.com/notargets/FEMBench/la"
	"github.com/notargets/FEMBench/mesh"
	"gonum.org/v1/gonum/mat"
)

// boundaryTol is the distance within which a node counts as lying on a
// bounding box plane
const boundaryTol = 1.0e-8

// Problem is one of the benchmark's variational problems on a prepared
// function space. Prepare sets up constraints and coefficients; the two
// assembly steps are timed separately by the driver.
type Problem interface {
	Name() string
	Space() *FunctionSpace
	Prepare() error
	AssembleMatrix() (*la.Matrix, error)
	AssembleVector() (*la.Vector, error)
	BCs() []*DirichletBC
}

// PoissonProblem is -lap(u) = f on the mesh with u = 0 on the two bounding
// box faces normal to x and du/dn = g on the rest of the boundary.
type PoissonProblem struct {
	V   *FunctionSpace
	bcs []*DirichletBC

	Source  func(x [3]float64) float64
	Neumann func(x [3]float64) float64

	cellQuad element.Quadrature
	faceQuad element.Quadrature
}

// NewPoissonProblem builds the Poisson problem on a scalar space
func NewPoissonProblem(V *FunctionSpace) (*PoissonProblem, error) {
	if V.NumComponents() != 1 {
		return nil, fmt.Errorf("poisson needs a scalar space, got %d components", V.NumComponents())
	}
	return &PoissonProblem{
		V: V,
		Source: func(x [3]float64) float64 {
			dx, dy := x[0]-0.5, x[1]-0.5
			return 10 * math.Exp(-(dx*dx+dy*dy)/0.02)
		},
		Neumann: func(x [3]float64) float64 {
			return math.Sin(5 * x[0])
		},
	}, nil
}

func (p *PoissonProblem) Name() string { return "poisson" }
func (p *PoissonProblem) Space() *FunctionSpace { return p.V }
func (p *PoissonProblem) BCs() []*DirichletBC { return p.bcs }

func (p *PoissonProblem) Prepare() error {
	lo, hi := p.V.Mesh.BoundingBox()
	p.bcs = []*DirichletBC{NewDirichletBC(p.V, func(x [3]float64) bool {
		return math.Abs(x[0]-lo[0]) < boundaryTol || math.Abs(x[0]-hi[0]) < boundaryTol
	})}
	p.cellQuad = element.TetQuadrature(2)
	p.faceQuad = element.TriQuadrature(2)
	return nil
}

func (p *PoissonProblem) stiffness(_ int, g *element.Geometry) (*mat.Dense, error) {
	return element.PoissonStiffness(g), nil
}

func (p *PoissonProblem) AssembleMatrix() (*la.Matrix, error) {
	return AssembleMatrix(p.V, p.stiffness, p.bcs)
}

func (p *PoissonProblem) AssembleVector() (*la.Vector, error) {
	m := p.V.Mesh
	return AssembleVector(p.V, func(k int, g *element.Geometry) ([]float64, error) {
		F := element.LoadVector(g, p.cellQuad, p.Source)
		for f, fv := range mesh.FaceVertices {
			if !m.IsBoundaryFace(k, f) {
				continue
			}
			var tri [3][3]float64
			for i, a := range fv {
				tri[i] = g.X[a]
			}
			Ff := element.FaceLoadVector(tri, p.faceQuad, p.Neumann)
			for i, a := range fv {
				F[a] += Ff[i]
			}
		}
		return F[:], nil
	}, p.bcs)
}

// ElasticityProblem is isotropic linear elasticity with the body force of
// a twisted column, clamped on the bounding box face y = ymin.
type ElasticityProblem struct {
	V        *FunctionSpace
	Material element.Material
	bcs      []*DirichletBC

	Force func(x [3]float64) []float64
	f     *la.Vector
}

// NewElasticityProblem builds the elasticity problem on a three component
// space
func NewElasticityProblem(V *FunctionSpace) (*ElasticityProblem, error) {
	if V.NumComponents() != 3 {
		return nil, fmt.Errorf("elasticity needs 3 components, got %d", V.NumComponents())
	}
	return &ElasticityProblem{
		V:        V,
		Material: element.DefaultMaterial,
		Force: func(x [3]float64) []float64 {
			dx, dz := x[0]-0.5, x[2]-0.5
			r := math.Sqrt(dx*dx + dz*dz)
			return []float64{-dz * r * x[1], 1, dx * r * x[1]}
		},
	}, nil
}

func (p *ElasticityProblem) Name() string { return "elasticity" }
func (p *ElasticityProblem) Space() *FunctionSpace { return p.V }
func (p *ElasticityProblem) BCs() []*DirichletBC { return p.bcs }

// Prepare clamps y = ymin and interpolates the body force at the nodes
func (p *ElasticityProblem) Prepare() error {
	lo, _ := p.V.Mesh.BoundingBox()
	p.bcs = []*DirichletBC{NewDirichletBC(p.V, func(x [3]float64) bool {
		return x[1]-lo[1] < boundaryTol
	})}
	p.f = la.NewVector(p.V.Map)
	return p.V.Interpolate(p.f, p.Force)
}

func (p *ElasticityProblem) stiffness(_ int, g *element.Geometry) (*mat.Dense, error) {
	return element.ElasticityStiffness(g, p.Material), nil
}

func (p *ElasticityProblem) AssembleMatrix() (*la.Matrix, error) {
	return AssembleMatrix(p.V, p.stiffness, p.bcs)
}

// AssembleOperator assembles the stiffness without boundary conditions. Its
// kernel is spanned by the rigid body modes.
func (p *ElasticityProblem) AssembleOperator() (*la.Matrix, error) {
	return AssembleMatrix(p.V, p.stiffness, nil)
}

// AssembleVector integrates the interpolated force against the P1 basis
func (p *ElasticityProblem) AssembleVector() (*la.Vector, error) {
	if p.f == nil {
		return nil, fmt.Errorf("elasticity problem used before Prepare")
	}
	fa := p.f.Array()
	return AssembleVector(p.V, func(k int, g *element.Geometry) ([]float64, error) {
		nodes, err := p.V.CellNodes(k)
		if err != nil {
			return nil, err
		}
		M := element.Mass(g)
		F := make([]float64, 12)
		for a := 0; a < 4; a++ {
			for b, nb := range nodes {
				m := M.At(a, b)
				for c := 0; c < 3; c++ {
					F[3*a+c] += m * fa[3*nb+c]
				}
			}
		}
		return F, nil
	}, p.bcs)
}
