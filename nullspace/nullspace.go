// Package nullspace builds the rigid body modes of 3-D linear elasticity,
// used as the near-nullspace of the stiffness operator by algebraic
// preconditioners.
package nullspace

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/FEMBench/fem"
	"github.com/notargets/FEMBench/la"
)

// Size is the number of rigid body modes in three dimensions
const Size = 6

// DegeneracyTol is the fraction of its original norm below which a mode is
// rejected as linearly dependent during orthonormalization
const DegeneracyTol = 1.0e-10

// ConfigError reports a function space the builder cannot handle
type ConfigError struct {
	Components int
	Dim        int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("near-nullspace needs a 3-component space in 3-D, got %d components in %d-D",
		e.Components, e.Dim)
}

// Basis is an ordered set of rigid body modes: three translations then
// rotations about z, y and x.
type Basis [Size]*la.Vector

// rotation is one SetX call: component sub-space, scale and coordinate
type rotation struct {
	sub    int
	value  float64
	offset int
}

var rotations = [3][2]rotation{
	{{0, -1, 1}, {1, 1, 0}},
	{{0, 1, 2}, {2, -1, 0}},
	{{2, 1, 1}, {1, -1, 2}},
}

// Build returns the orthonormalized rigid body modes of V. V is not
// modified. Collective.
func Build(V *fem.FunctionSpace) (Basis, error) {
	basis, err := RigidBodyModes(V)
	if err != nil {
		return basis, err
	}
	if err := la.Orthonormalize(basis[:], DegeneracyTol); err != nil {
		return basis, fmt.Errorf("orthonormalizing rigid body modes: %w", err)
	}
	if err := scatter(basis); err != nil {
		return basis, err
	}
	return basis, nil
}

// scatter refreshes every ghost entry of the basis from its owner
func scatter(basis Basis) error {
	for _, v := range basis {
		if err := v.ScatterForward(); err != nil {
			return err
		}
	}
	return nil
}

// RigidBodyModes returns the raw translations and linearised rotations of
// V before orthonormalization.
func RigidBodyModes(V *fem.FunctionSpace) (Basis, error) {
	var basis Basis
	if V.NumComponents() != 3 || V.GeometricDimension() != 3 {
		return basis, &ConfigError{Components: V.NumComponents(), Dim: V.GeometricDimension()}
	}
	var subs [3]*fem.FunctionSpace
	for i := range subs {
		sub, err := V.Sub(i)
		if err != nil {
			return basis, err
		}
		subs[i] = sub
	}

	for i := range basis {
		basis[i] = la.NewVector(V.Map)
	}
	for i := 0; i < 3; i++ {
		subs[i].SetValue(basis[i], 1.0)
	}
	for r, pair := range rotations {
		for _, rot := range pair {
			if err := subs[rot.sub].SetX(basis[3+r], rot.value, rot.offset); err != nil {
				return basis, err
			}
		}
	}
	return basis, scatter(basis)
}

// IsOrthonormal reports whether the basis is orthonormal to within tol.
// Collective.
func (b Basis) IsOrthonormal(tol float64) (bool, error) {
	return la.IsOrthonormal(b[:], tol)
}

// Vectors returns the basis as a slice for attaching to an operator
func (b Basis) Vectors() []*la.Vector { return b[:] }

// Residual is the relative size of A applied to one basis vector
type Residual struct {
	Index int
	Norm  float64 // max |(A v)_i| / ||A||_inf
}

// ErrNotNullspace is returned by Test when a mode is not annihilated
var ErrNotNullspace = errors.New("basis is not in the operator nullspace")

// Test applies A to every basis vector and checks that the result is small
// relative to the operator norm. A must be assembled without boundary
// conditions. Collective.
func (b Basis) Test(A *la.Matrix, tol float64) ([]Residual, error) {
	normA, err := A.NormInf()
	if err != nil {
		return nil, err
	}
	if normA == 0 {
		return nil, fmt.Errorf("operator is zero")
	}

	res := make([]Residual, 0, Size)
	y := la.NewVector(A.Map)
	var failed []int
	for i, v := range b {
		if err := A.Mult(v, y); err != nil {
			return nil, err
		}
		var local float64
		for _, x := range y.Owned() {
			local = math.Max(local, math.Abs(x))
		}
		m, err := A.Map.Comm.AllreduceMax([]float64{local})
		if err != nil {
			return nil, err
		}
		r := m[0] / normA
		res = append(res, Residual{Index: i, Norm: r})
		if r > tol {
			failed = append(failed, i)
		}
	}
	if len(failed) > 0 {
		return res, fmt.Errorf("%w: modes %v exceed tolerance %g", ErrNotNullspace, failed, tol)
	}
	return res, nil
}
