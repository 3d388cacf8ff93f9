package solver

import (
	"fmt"

	"github.com/notargets/FEMBench/la"
	"gonum.org/v1/gonum/mat"
)

// Preconditioner approximates the action of the inverse operator. Apply
// writes the owned entries of z.
type Preconditioner interface {
	Setup(A *la.Matrix) error
	Apply(r, z *la.Vector) error
}

// NewPreconditioner returns the preconditioner registered under name
func NewPreconditioner(name string) (Preconditioner, error) {
	switch name {
	case "none", "":
		return &Identity{}, nil
	case "jacobi":
		return &Jacobi{}, nil
	case "twolevel":
		return &TwoLevel{}, nil
	}
	return nil, fmt.Errorf("unknown preconditioner %q", name)
}

// Identity leaves the residual unchanged
type Identity struct{}

func (*Identity) Setup(*la.Matrix) error { return nil }

func (*Identity) Apply(r, z *la.Vector) error {
	copy(z.Owned(), r.Owned())
	return nil
}

// Jacobi scales by the inverse diagonal
type Jacobi struct {
	invDiag []float64
}

func (j *Jacobi) Setup(A *la.Matrix) error {
	d := la.NewVector(A.Map)
	if err := A.Diagonal(d); err != nil {
		return err
	}
	j.invDiag = make([]float64, A.Map.SizeOwned())
	for i, v := range d.Owned() {
		if v == 0 {
			return fmt.Errorf("jacobi: zero diagonal in local row %d", i)
		}
		j.invDiag[i] = 1 / v
	}
	return nil
}

func (j *Jacobi) Apply(r, z *la.Vector) error {
	rr, zz := r.Owned(), z.Owned()
	for i, s := range j.invDiag {
		zz[i] = s * rr[i]
	}
	return nil
}

// TwoLevel adds a coarse correction on a small subspace Z to Jacobi:
//
//	z = D^-1 r + Z (Z^T A Z)^-1 Z^T r
//
// Z is the operator's near-nullspace when one is attached, otherwise the
// constant vector.
type TwoLevel struct {
	Jacobi

	coarse []*la.Vector
	chol   mat.Cholesky
}

func (t *TwoLevel) Setup(A *la.Matrix) error {
	if err := t.Jacobi.Setup(A); err != nil {
		return err
	}
	t.coarse = A.NearNullspace()
	if len(t.coarse) == 0 {
		one := la.NewVector(A.Map)
		one.Set(1)
		t.coarse = []*la.Vector{one}
	}

	n := len(t.coarse)
	E := mat.NewSymDense(n, nil)
	az := la.NewVector(A.Map)
	for j, zj := range t.coarse {
		if err := A.Mult(zj, az); err != nil {
			return err
		}
		col, err := la.InnerProducts(t.coarse, az)
		if err != nil {
			return err
		}
		for i := 0; i <= j; i++ {
			E.SetSym(i, j, col[i])
		}
	}
	if ok := t.chol.Factorize(E); !ok {
		return fmt.Errorf("twolevel: coarse operator of size %d is not positive definite", n)
	}
	return nil
}

func (t *TwoLevel) Apply(r, z *la.Vector) error {
	if err := t.Jacobi.Apply(r, z); err != nil {
		return err
	}
	c, err := la.InnerProducts(t.coarse, r)
	if err != nil {
		return err
	}
	var y mat.VecDense
	if err := t.chol.SolveVecTo(&y, mat.NewVecDense(len(c), c)); err != nil {
		return fmt.Errorf("twolevel: coarse solve: %w", err)
	}
	zz := z.Owned()
	for k, zk := range t.coarse {
		yk := y.AtVec(k)
		for i, v := range zk.Owned() {
			zz[i] += yk * v
		}
	}
	return nil
}
