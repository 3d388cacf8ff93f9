package la

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/notargets/FEMBench/comm"
	"github.com/notargets/FEMBench/mesh"
	"github.com/notargets/FEMBench/partitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newDofLayout(t *testing.T, np int) *partitions.DofLayout {
	t.Helper()
	m, err := mesh.NewUnitCube(2, 2, 3)
	require.NoError(t, err)
	centroids := make([][3]float64, m.NumElements())
	for k := range centroids {
		centroids[k] = m.Centroid(k)
	}
	pb := &partitions.PartitionBuilder{
		Mesh:          &partitions.MeshConnectivity{NumElements: m.NumElements(), Centroids: centroids},
		NumPartitions: np,
		Strategy:      partitions.SpaceFillingCurve,
	}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)
	dl, err := partitions.BuildDofLayout(layout, m.EToV, m.NumVertices())
	require.NoError(t, err)
	return dl
}

func runRanks(t *testing.T, np, bs int, fn func(im *IndexMap) error) {
	t.Helper()
	dl := newDofLayout(t, np)
	err := comm.Run(context.Background(), np, func(c *comm.Comm) error {
		im, err := NewIndexMap(c, dl.Partitions[c.Rank()], bs)
		if err != nil {
			return err
		}
		return fn(im)
	})
	require.NoError(t, err)
}

func TestScatterForwardFillsGhosts(t *testing.T) {
	for _, np := range []int{1, 2, 4} {
		for _, bs := range []int{1, 3} {
			t.Run(fmt.Sprintf("np=%d/bs=%d", np, bs), func(t *testing.T) {
				runRanks(t, np, bs, func(im *IndexMap) error {
					v := NewVector(im)
					err := v.Update(func(a []float64) {
						for i := 0; i < im.SizeOwned(); i++ {
							a[i] = float64(im.LocalToGlobal(i))
						}
					})
					if err != nil {
						return err
					}
					for i, x := range v.Array() {
						if x != float64(im.LocalToGlobal(i)) {
							return fmt.Errorf("local %d holds %g, want %d", i, x, im.LocalToGlobal(i))
						}
					}
					return nil
				})
			})
		}
	}
}

func TestScatterReverseAddsGhostCopies(t *testing.T) {
	const np = 3
	dl := newDofLayout(t, np)
	copies := make([]int, len(dl.GlobalToVertex))
	for _, dp := range dl.Partitions {
		for _, g := range dp.GlobalIndex {
			copies[g]++
		}
	}

	err := comm.Run(context.Background(), np, func(c *comm.Comm) error {
		im, err := NewIndexMap(c, dl.Partitions[c.Rank()], 1)
		if err != nil {
			return err
		}
		v := NewVector(im)
		v.Set(1)
		if err := v.ScatterReverse(); err != nil {
			return err
		}
		for i, x := range v.Owned() {
			if want := copies[im.LocalToGlobal(i)]; x != float64(want) {
				return fmt.Errorf("owned %d holds %g, want %d", i, x, want)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestDotAndNorm(t *testing.T) {
	var mu sync.Mutex
	norms := map[int]float64{}
	runRanks(t, 4, 3, func(im *IndexMap) error {
		v := NewVector(im)
		v.Set(2)
		n, err := v.Norm()
		if err != nil {
			return err
		}
		mu.Lock()
		norms[im.Comm.Rank()] = n
		mu.Unlock()

		w := v.Duplicate()
		w.Set(0.5)
		d, err := v.Dot(w)
		if err != nil {
			return err
		}
		if d != float64(im.SizeGlobal()) {
			return fmt.Errorf("dot %g, want %d", d, im.SizeGlobal())
		}
		return nil
	})

	want := 2 * math.Sqrt(float64(3*3*4*3))
	for r, n := range norms {
		assert.InDelta(t, want, n, 1e-12, "rank %d", r)
	}
}

func TestVectorArithmetic(t *testing.T) {
	runRanks(t, 1, 1, func(im *IndexMap) error {
		x, y := NewVector(im), NewVector(im)
		x.Set(1)
		y.Set(3)
		y.Axpy(2, x)   // 5
		y.Aypx(0.5, x) // 3.5
		y.Scale(2)     // 7
		z := y.Duplicate()
		z.Copy(y)
		for _, v := range z.Array() {
			assert.Equal(t, 7.0, v)
		}
		z.Zero()
		assert.Equal(t, 0.0, z.Array()[0])
		return nil
	})
}

func TestOrthonormalize(t *testing.T) {
	runRanks(t, 3, 1, func(im *IndexMap) error {
		vecs := make([]*Vector, 3)
		for p := range vecs {
			vecs[p] = NewVector(im)
			err := vecs[p].Update(func(a []float64) {
				for i := 0; i < im.SizeOwned(); i++ {
					a[i] = math.Pow(float64(im.LocalToGlobal(i)), float64(p))
				}
			})
			if err != nil {
				return err
			}
		}
		if err := Orthonormalize(vecs, 1e-10); err != nil {
			return err
		}
		ok, err := IsOrthonormal(vecs, 1e-10)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("basis is not orthonormal")
		}
		return nil
	})
}

func TestOrthonormalizeDetectsDependence(t *testing.T) {
	runRanks(t, 2, 1, func(im *IndexMap) error {
		a, b := NewVector(im), NewVector(im)
		a.Set(1)
		b.Set(-4)
		err := Orthonormalize([]*Vector{a, b}, 1e-8)
		var de *DegenerateError
		if !errors.As(err, &de) {
			return fmt.Errorf("expected DegenerateError, got %v", err)
		}
		assert.Equal(t, 1, de.Index)
		assert.Less(t, de.Norm, 1e-8*de.Initial)
		return nil
	})
}

// The degeneracy test is relative, so the same basis passes at any scale.
func TestOrthonormalizeIsScaleInvariant(t *testing.T) {
	for _, scale := range []float64{1e-14, 1, 1e14} {
		t.Run(fmt.Sprintf("scale=%g", scale), func(t *testing.T) {
			runRanks(t, 2, 1, func(im *IndexMap) error {
				a, b := NewVector(im), NewVector(im)
				a.Set(scale)
				err := b.Update(func(x []float64) {
					for i := 0; i < im.SizeOwned(); i++ {
						x[i] = scale * float64(im.LocalToGlobal(i))
					}
				})
				if err != nil {
					return err
				}
				if err := Orthonormalize([]*Vector{a, b}, 1e-10); err != nil {
					return err
				}
				ok, err := IsOrthonormal([]*Vector{a, b}, 1e-10)
				if err != nil {
					return err
				}
				assert.True(t, ok)
				return nil
			})
		})
	}
}

// A huge vector that differs from its predecessor only by rounding noise is
// still reported as dependent.
func TestOrthonormalizeDetectsDependenceAtLargeScale(t *testing.T) {
	runRanks(t, 2, 1, func(im *IndexMap) error {
		a, b := NewVector(im), NewVector(im)
		a.Set(1)
		b.Set(1e14)
		err := Orthonormalize([]*Vector{a, b}, 1e-10)
		var de *DegenerateError
		if !errors.As(err, &de) {
			return fmt.Errorf("expected DegenerateError, got %v", err)
		}
		assert.Equal(t, 1, de.Index)
		return nil
	})
}

func TestOrthonormalizeRejectsZeroVector(t *testing.T) {
	runRanks(t, 1, 1, func(im *IndexMap) error {
		err := Orthonormalize([]*Vector{NewVector(im)}, 1e-10)
		var de *DegenerateError
		if !errors.As(err, &de) {
			return fmt.Errorf("expected DegenerateError, got %v", err)
		}
		assert.Equal(t, 0.0, de.Initial)
		return nil
	})
}

// Row i couples owned dof i to every local dof with weight 1.
func denseLocalMatrix(im *IndexMap) *Matrix {
	mb := NewMatrixBuilder(im)
	for i := 0; i < im.SizeOwned(); i++ {
		for j := 0; j < im.SizeLocal(); j++ {
			mb.Add(i, j, 0.5)
			mb.Add(i, j, 0.5)
		}
	}
	return mb.Assemble()
}

func TestMatrixMult(t *testing.T) {
	runRanks(t, 3, 1, func(im *IndexMap) error {
		A := denseLocalMatrix(im)
		x, y := NewVector(im), NewVector(im)
		for i := 0; i < im.SizeOwned(); i++ {
			x.Array()[i] = float64(im.LocalToGlobal(i))
		}
		if err := A.Mult(x, y); err != nil {
			return err
		}
		var want float64
		for j := 0; j < im.SizeLocal(); j++ {
			want += float64(im.LocalToGlobal(j))
		}
		for i, got := range y.Owned() {
			if got != want {
				return fmt.Errorf("row %d: got %g want %g", i, got, want)
			}
		}
		assert.Equal(t, im.SizeOwned()*im.SizeLocal(), A.NumNonZeros())
		assert.Equal(t, 1.0, A.At(0, im.SizeLocal()-1))
		return nil
	})
}

func TestMatrixDiagonalAndNorm(t *testing.T) {
	var mu sync.Mutex
	var global int
	var norms []float64
	runRanks(t, 2, 3, func(im *IndexMap) error {
		mb := NewMatrixBuilder(im)
		for i := 0; i < im.SizeOwned(); i++ {
			mb.Set(i, i, float64(im.LocalToGlobal(i)+1))
			mb.Add(i, im.SizeLocal()-1, -1)
		}
		A := mb.Assemble()
		d := NewVector(im)
		if err := A.Diagonal(d); err != nil {
			return err
		}
		for i, v := range d.Array() {
			want := float64(im.LocalToGlobal(i) + 1)
			if i == im.SizeLocal()-1 && i < im.SizeOwned() {
				want--
			}
			if v != want {
				return fmt.Errorf("diag %d: got %g want %g", i, v, want)
			}
		}
		n, err := A.NormInf()
		if err != nil {
			return err
		}
		mu.Lock()
		norms = append(norms, n)
		global = im.SizeGlobal()
		mu.Unlock()
		return nil
	})
	require.Len(t, norms, 2)
	assert.Equal(t, norms[0], norms[1])
	// Largest row: diagonal N plus the -1 coupling
	assert.Equal(t, float64(global)+1, norms[0])
}

type countingMultiplier struct{ calls int }

func (c *countingMultiplier) Mult(x, y []float64) error {
	c.calls++
	copy(y, x)
	return nil
}

func TestMatrixCustomMultiplier(t *testing.T) {
	runRanks(t, 1, 1, func(im *IndexMap) error {
		A := NewMatrixBuilder(im).Assemble()
		cm := &countingMultiplier{}
		A.SetMultiplier(cm)
		x, y := NewVector(im), NewVector(im)
		x.Set(4)
		if err := A.Mult(x, y); err != nil {
			return err
		}
		assert.Equal(t, 1, cm.calls)
		assert.Equal(t, 4.0, y.Array()[0])
		return nil
	})
}

func TestGatherGlobal(t *testing.T) {
	runRanks(t, 4, 3, func(im *IndexMap) error {
		v := NewVector(im)
		for i := 0; i < im.SizeOwned(); i++ {
			v.Array()[i] = float64(im.LocalToGlobal(i))
		}
		g, err := v.GatherGlobal(0)
		if err != nil {
			return err
		}
		if im.Comm.Rank() != 0 {
			assert.Nil(t, g)
			return nil
		}
		if len(g) != im.SizeGlobal() {
			return fmt.Errorf("gathered %d values, want %d", len(g), im.SizeGlobal())
		}
		for i, x := range g {
			if x != float64(i) {
				return fmt.Errorf("global %d holds %g", i, x)
			}
		}
		return nil
	})
}

func TestNewIndexMapRejectsWrongRank(t *testing.T) {
	dl := newDofLayout(t, 2)
	err := comm.Run(context.Background(), 2, func(c *comm.Comm) error {
		_, err := NewIndexMap(c, dl.Partitions[1-c.Rank()], 1)
		return err
	})
	assert.Error(t, err)
}
