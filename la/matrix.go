package la

import (
	"fmt"
	"math"
	"sort"

	"github.com/james-bowman/sparse"
)

// Multiplier computes y = A*x for the owned rows of a matrix over the local
// (owned+ghost) entries of x. Alternative backends plug in through
// Matrix.SetMultiplier.
type Multiplier interface {
	Mult(x, y []float64) error
}

// MatrixBuilder accumulates element contributions for the owned rows of a
// distributed matrix. Row indices are owned local dofs, column indices are
// local (owned or ghost) dofs.
type MatrixBuilder struct {
	Map *IndexMap
	dok *sparse.DOK
}

// NewMatrixBuilder returns an empty builder over im
func NewMatrixBuilder(im *IndexMap) *MatrixBuilder {
	return &MatrixBuilder{
		Map: im,
		dok: sparse.NewDOK(im.SizeOwned(), im.SizeLocal()),
	}
}

// Add accumulates v into entry (i, j)
func (mb *MatrixBuilder) Add(i, j int, v float64) {
	mb.dok.Set(i, j, mb.dok.At(i, j)+v)
}

// Set overwrites entry (i, j)
func (mb *MatrixBuilder) Set(i, j int, v float64) {
	mb.dok.Set(i, j, v)
}

// Assemble compresses the accumulated entries into a CSR matrix. Columns
// within a row are sorted.
func (mb *MatrixBuilder) Assemble() *Matrix {
	rows := mb.Map.SizeOwned()
	type entry struct {
		col int
		val float64
	}
	byRow := make([][]entry, rows)
	mb.dok.ToCSR().DoNonZero(func(i, j int, v float64) {
		byRow[i] = append(byRow[i], entry{j, v})
	})

	m := &Matrix{Map: mb.Map, rowPtr: make([]int, rows+1)}
	for i, row := range byRow {
		sort.Slice(row, func(a, b int) bool { return row[a].col < row[b].col })
		for _, e := range row {
			m.cols = append(m.cols, e.col)
			m.vals = append(m.vals, e.val)
		}
		m.rowPtr[i+1] = len(m.cols)
	}
	return m
}

// Matrix is a row-distributed sparse operator in CSR form. Each rank stores
// its owned rows with columns in local numbering.
type Matrix struct {
	Map *IndexMap

	rowPtr []int
	cols   []int
	vals   []float64

	nearNullspace []*Vector
	mult          Multiplier
}

// CSR exposes the local row storage
func (m *Matrix) CSR() (rowPtr, cols []int, vals []float64) {
	return m.rowPtr, m.cols, m.vals
}

// NumNonZeros returns the number of stored entries on this rank
func (m *Matrix) NumNonZeros() int { return len(m.vals) }

// At returns entry (i, j) in local numbering, zero when not stored
func (m *Matrix) At(i, j int) float64 {
	lo, hi := m.rowPtr[i], m.rowPtr[i+1]
	k := lo + sort.SearchInts(m.cols[lo:hi], j)
	if k < hi && m.cols[k] == j {
		return m.vals[k]
	}
	return 0
}

// SetMultiplier replaces the built-in CSR product
func (m *Matrix) SetMultiplier(mult Multiplier) { m.mult = mult }

// SetNearNullspace attaches a near-nullspace basis for preconditioner setup
func (m *Matrix) SetNearNullspace(basis []*Vector) { m.nearNullspace = basis }

// NearNullspace returns the attached basis, nil when none is set
func (m *Matrix) NearNullspace() []*Vector { return m.nearNullspace }

// Mult computes the owned entries of y = A*x. Ghosts of x are refreshed
// first; ghosts of y are left untouched. Collective over neighbours.
func (m *Matrix) Mult(x, y *Vector) error {
	if err := x.ScatterForward(); err != nil {
		return err
	}
	if m.mult != nil {
		return m.mult.Mult(x.data, y.data)
	}
	m.spmv(x.data, y.data)
	return nil
}

func (m *Matrix) spmv(x, y []float64) {
	for i := 0; i+1 < len(m.rowPtr); i++ {
		var sum float64
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			sum += m.vals[k] * x[m.cols[k]]
		}
		y[i] = sum
	}
}

// Diagonal writes the matrix diagonal into the owned entries of d
func (m *Matrix) Diagonal(d *Vector) error {
	if d.Map.SizeOwned() != len(m.rowPtr)-1 {
		return fmt.Errorf("diagonal vector has %d owned entries, matrix has %d rows",
			d.Map.SizeOwned(), len(m.rowPtr)-1)
	}
	for i := 0; i+1 < len(m.rowPtr); i++ {
		d.data[i] = m.At(i, i)
	}
	return d.ScatterForward()
}

// NormInf returns the global maximum absolute row sum. Collective.
func (m *Matrix) NormInf() (float64, error) {
	var local float64
	for i := 0; i+1 < len(m.rowPtr); i++ {
		var sum float64
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			sum += math.Abs(m.vals[k])
		}
		local = math.Max(local, sum)
	}
	r, err := m.Map.Comm.AllreduceMax([]float64{local})
	if err != nil {
		return 0, err
	}
	return r[0], nil
}
