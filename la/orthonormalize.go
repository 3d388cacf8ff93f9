package la

import (
	"fmt"
	"math"
)

// DegenerateError reports a basis vector whose norm collapsed after
// projecting out its predecessors. Initial is the norm before projection.
type DegenerateError struct {
	Index   int
	Norm    float64
	Initial float64
}

func (e *DegenerateError) Error() string {
	return fmt.Sprintf("basis vector %d is linearly dependent on its predecessors (norm %.3e of %.3e)",
		e.Index, e.Norm, e.Initial)
}

// Orthonormalize applies modified Gram-Schmidt with one re-orthogonalization
// pass to vecs in index order, in place. A vector is degenerate when its norm
// after projection is below tol times its norm before, so the test does not
// depend on the units of the data. Collective.
func Orthonormalize(vecs []*Vector, tol float64) error {
	for i, vi := range vecs {
		initial, err := vi.Norm()
		if err != nil {
			return err
		}
		for pass := 0; pass < 2; pass++ {
			for j := 0; j < i; j++ {
				r, err := vi.Dot(vecs[j])
				if err != nil {
					return err
				}
				vi.Axpy(-r, vecs[j])
			}
		}
		norm, err := vi.Norm()
		if err != nil {
			return err
		}
		if initial == 0 || norm < tol*initial {
			return &DegenerateError{Index: i, Norm: norm, Initial: initial}
		}
		vi.Scale(1 / norm)
	}
	return nil
}

// IsOrthonormal reports whether every pairwise inner product is within tol of
// the identity. Collective.
func IsOrthonormal(vecs []*Vector, tol float64) (bool, error) {
	for i, vi := range vecs {
		dots, err := InnerProducts(vecs, vi)
		if err != nil {
			return false, err
		}
		for j, d := range dots {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(d-want) > tol {
				return false, nil
			}
		}
	}
	return true, nil
}
