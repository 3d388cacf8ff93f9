package fem

import (
	"fmt"

	"github.com/notargets/FEMBench/element"
	"github.com/notargets/FEMBench/la"
	"gonum.org/v1/gonum/mat"
)

// DirichletBC fixes a set of local dofs to zero
type DirichletBC struct {
	Dofs []int
}

// NewDirichletBC constrains the dofs of V whose node satisfies marker
func NewDirichletBC(V *FunctionSpace, marker func(x [3]float64) bool) *DirichletBC {
	return &DirichletBC{Dofs: V.LocateDofsGeometrical(marker)}
}

// bcMask flags every constrained local dof
func bcMask(n int, bcs []*DirichletBC) []bool {
	mask := make([]bool, n)
	for _, bc := range bcs {
		for _, d := range bc.Dofs {
			mask[d] = true
		}
	}
	return mask
}

// CellMatrixKernel returns the element matrix of mesh cell k in interleaved
// dof order, size 4*bs square.
type CellMatrixKernel func(k int, g *element.Geometry) (*mat.Dense, error)

// CellVectorKernel returns the element vector of mesh cell k, length 4*bs.
type CellVectorKernel func(k int, g *element.Geometry) ([]float64, error)

func cellDofs(V *FunctionSpace, k int, dofs []int) ([]int, error) {
	nodes, err := V.CellNodes(k)
	if err != nil {
		return nil, err
	}
	bs := V.Map.BlockSize
	dofs = dofs[:0]
	for _, n := range nodes {
		for c := 0; c < bs; c++ {
			dofs = append(dofs, n*bs+c)
		}
	}
	return dofs, nil
}

// AssembleMatrix builds the owned rows of the global operator. Every local
// cell contributes, so owned rows are complete without communication.
// Constrained rows and columns are dropped and a unit diagonal placed on
// constrained owned rows.
func AssembleMatrix(V *FunctionSpace, kernel CellMatrixKernel, bcs []*DirichletBC) (*la.Matrix, error) {
	im := V.Map
	owned := im.SizeOwned()
	mask := bcMask(im.SizeLocal(), bcs)
	mb := la.NewMatrixBuilder(im)

	var dofs []int
	for _, k := range im.Part.Cells {
		var err error
		if dofs, err = cellDofs(V, k, dofs); err != nil {
			return nil, err
		}
		g, err := V.CellGeometry(k)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", k, err)
		}
		Ke, err := kernel(k, g)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", k, err)
		}
		if r, c := Ke.Dims(); r != len(dofs) || c != len(dofs) {
			return nil, fmt.Errorf("cell %d: element matrix is %dx%d, expected %d", k, r, c, len(dofs))
		}
		for i, row := range dofs {
			if row >= owned || mask[row] {
				continue
			}
			for j, col := range dofs {
				if mask[col] {
					continue
				}
				mb.Add(row, col, Ke.At(i, j))
			}
		}
	}

	for row := 0; row < owned; row++ {
		if mask[row] {
			mb.Set(row, row, 1)
		}
	}
	return mb.Assemble(), nil
}

// AssembleVector integrates the kernel over owned cells, accumulates ghost
// contributions into owners, zeroes constrained entries and refreshes
// ghosts. Collective.
func AssembleVector(V *FunctionSpace, kernel CellVectorKernel, bcs []*DirichletBC) (*la.Vector, error) {
	im := V.Map
	b := la.NewVector(im)
	a := b.Array()

	var dofs []int
	for i, k := range im.Part.Cells {
		if !im.Part.CellOwned[i] {
			continue
		}
		var err error
		if dofs, err = cellDofs(V, k, dofs); err != nil {
			return nil, err
		}
		g, err := V.CellGeometry(k)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", k, err)
		}
		Fe, err := kernel(k, g)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", k, err)
		}
		if len(Fe) != len(dofs) {
			return nil, fmt.Errorf("cell %d: element vector has %d entries, expected %d", k, len(Fe), len(dofs))
		}
		for j, d := range dofs {
			a[d] += Fe[j]
		}
	}

	if err := b.ScatterReverse(); err != nil {
		return nil, err
	}
	SetBC(b, bcs)
	if err := b.ScatterForward(); err != nil {
		return nil, err
	}
	return b, nil
}

// SetBC zeroes the constrained entries of b
func SetBC(b *la.Vector, bcs []*DirichletBC) {
	a := b.Array()
	for _, bc := range bcs {
		for _, d := range bc.Dofs {
			a[d] = 0
		}
	}
}
