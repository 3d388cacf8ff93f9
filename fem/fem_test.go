package fem

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/notargets/FEMBench/comm"
	"github.com/notargets/FEMBench/la"
	"github.com/notargets/FEMBench/mesh"
	"github.com/notargets/FEMBench/partitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	Mesh   *mesh.Mesh
	Layout *partitions.DofLayout
}

func newFixture(t *testing.T, n, np int) *fixture {
	t.Helper()
	m, err := mesh.NewUnitCube(n, n, n)
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
	return &fixture{Mesh: m, Layout: dl}
}

func (f *fixture) run(t *testing.T, components int, fn func(V *FunctionSpace) error) {
	t.Helper()
	np := len(f.Layout.Partitions)
	err := comm.Run(context.Background(), np, func(c *comm.Comm) error {
		V, err := NewFunctionSpace(c, f.Mesh, f.Layout.Partitions[c.Rank()], components)
		if err != nil {
			return err
		}
		return fn(V)
	})
	require.NoError(t, err)
}

// byVertex reorders a gathered global vector into mesh vertex order
func (f *fixture) byVertex(global []float64, bs int) []float64 {
	out := make([]float64, len(global))
	for g, v := range f.Layout.GlobalToVertex {
		copy(out[v*bs:(v+1)*bs], global[g*bs:(g+1)*bs])
	}
	return out
}

func TestFunctionSpaceSubspaces(t *testing.T) {
	f := newFixture(t, 2, 2)
	f.run(t, 3, func(V *FunctionSpace) error {
		assert.Equal(t, 3, V.NumComponents())
		assert.Equal(t, 3, V.GeometricDimension())
		assert.Len(t, V.Dofs(), V.Map.SizeLocal())

		V1, err := V.Sub(1)
		if err != nil {
			return err
		}
		assert.True(t, V1.IsSubspace())
		assert.Equal(t, 1, V1.NumComponents())
		for _, d := range V1.Dofs() {
			assert.Equal(t, 1, d%3)
		}
		_, err = V.Sub(3)
		assert.Error(t, err)
		_, err = V1.Sub(0)
		assert.Error(t, err)
		return nil
	})
}

func TestSetValueAndSetX(t *testing.T) {
	f := newFixture(t, 2, 3)
	f.run(t, 3, func(V *FunctionSpace) error {
		x := la.NewVector(V.Map)
		V2, err := V.Sub(2)
		if err != nil {
			return err
		}
		V2.SetValue(x, 1)
		V0, err := V.Sub(0)
		if err != nil {
			return err
		}
		if err := V0.SetX(x, -2, 1); err != nil {
			return err
		}
		a := x.Array()
		for n := 0; n < V.NumLocalNodes(); n++ {
			p := V.NodeCoordinate(n)
			assert.Equal(t, -2*p[1], a[3*n])
			assert.Equal(t, 0.0, a[3*n+1])
			assert.Equal(t, 1.0, a[3*n+2])
		}
		assert.Error(t, V0.SetX(x, 1, 3))
		return nil
	})
}

func TestLocateDofsGeometrical(t *testing.T) {
	f := newFixture(t, 3, 2)
	var mu sync.Mutex
	found := map[int]bool{}
	f.run(t, 1, func(V *FunctionSpace) error {
		dofs := V.LocateDofsGeometrical(func(x [3]float64) bool { return x[2] < 1e-8 })
		mu.Lock()
		defer mu.Unlock()
		for _, d := range dofs {
			if V.Map.IsOwned(d) {
				found[V.Map.LocalToGlobal(d)] = true
			}
		}
		return nil
	})
	// One plane of a 3x3x3 grid
	assert.Len(t, found, 16)
}

func TestInterpolateChecksValueSize(t *testing.T) {
	f := newFixture(t, 1, 1)
	f.run(t, 3, func(V *FunctionSpace) error {
		x := la.NewVector(V.Map)
		err := V.Interpolate(x, func(p [3]float64) []float64 { return []float64{p[0]} })
		assert.Error(t, err)
		return nil
	})
}

func TestPoissonOperatorAnnihilatesConstants(t *testing.T) {
	f := newFixture(t, 3, 3)
	f.run(t, 1, func(V *FunctionSpace) error {
		p, err := NewPoissonProblem(V)
		if err != nil {
			return err
		}
		A, err := AssembleMatrix(V, p.stiffness, nil)
		if err != nil {
			return err
		}
		x, y := la.NewVector(V.Map), la.NewVector(V.Map)
		x.Set(1)
		if err := A.Mult(x, y); err != nil {
			return err
		}
		for i, v := range y.Owned() {
			if math.Abs(v) > 1e-12 {
				return fmt.Errorf("row %d: %g", i, v)
			}
		}
		return nil
	})
}

func TestConstrainedRowsHaveUnitDiagonal(t *testing.T) {
	f := newFixture(t, 2, 2)
	f.run(t, 3, func(V *FunctionSpace) error {
		p, err := NewElasticityProblem(V)
		if err != nil {
			return err
		}
		if err := p.Prepare(); err != nil {
			return err
		}
		A, err := p.AssembleMatrix()
		if err != nil {
			return err
		}
		b, err := p.AssembleVector()
		if err != nil {
			return err
		}
		rowPtr, cols, _ := A.CSR()
		for _, d := range p.BCs()[0].Dofs {
			if !V.Map.IsOwned(d) {
				continue
			}
			assert.Equal(t, 1.0, A.At(d, d))
			assert.Equal(t, []int{d}, cols[rowPtr[d]:rowPtr[d+1]])
			assert.Equal(t, 0.0, b.Array()[d])
		}
		// Constrained columns are dropped from free rows
		constrained := map[int]bool{}
		for _, d := range p.BCs()[0].Dofs {
			constrained[d] = true
		}
		for i := 0; i < V.Map.SizeOwned(); i++ {
			if constrained[i] {
				continue
			}
			for _, c := range cols[rowPtr[i]:rowPtr[i+1]] {
				assert.False(t, constrained[c], "row %d couples to constrained %d", i, c)
			}
		}
		return nil
	})
}

// The assembled system must not depend on how the mesh is split.
func TestAssemblyIsPartitionIndependent(t *testing.T) {
	for _, tc := range []struct {
		name       string
		components int
	}{
		{"poisson", 1},
		{"elasticity", 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			results := map[int][]float64{}
			diags := map[int][]float64{}
			for _, np := range []int{1, 4} {
				f := newFixture(t, 3, np)
				f.run(t, tc.components, func(V *FunctionSpace) error {
					var p Problem
					var err error
					if tc.components == 1 {
						p, err = NewPoissonProblem(V)
					} else {
						p, err = NewElasticityProblem(V)
					}
					if err != nil {
						return err
					}
					if err := p.Prepare(); err != nil {
						return err
					}
					A, err := p.AssembleMatrix()
					if err != nil {
						return err
					}
					b, err := p.AssembleVector()
					if err != nil {
						return err
					}
					d := la.NewVector(V.Map)
					if err := A.Diagonal(d); err != nil {
						return err
					}
					gb, err := b.GatherGlobal(0)
					if err != nil {
						return err
					}
					gd, err := d.GatherGlobal(0)
					if err != nil {
						return err
					}
					if gb != nil {
						results[np] = f.byVertex(gb, tc.components)
						diags[np] = f.byVertex(gd, tc.components)
					}
					return nil
				})
			}
			assert.InDeltaSlice(t, results[1], results[4], 1e-9)
			assert.InDeltaSlice(t, diags[1], diags[4], 1e-3)
		})
	}
}

func TestElasticityLoadIntegratesForce(t *testing.T) {
	f := newFixture(t, 2, 2)
	var mu sync.Mutex
	var total [3]float64
	f.run(t, 3, func(V *FunctionSpace) error {
		p, err := NewElasticityProblem(V)
		if err != nil {
			return err
		}
		if err := p.Prepare(); err != nil {
			return err
		}
		p.bcs = nil
		b, err := p.AssembleVector()
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		for i, v := range b.Owned() {
			total[i%3] += v
		}
		return nil
	})
	// f_y = 1 over the unit cube
	assert.InDelta(t, 1.0, total[1], 1e-12)
}

func TestBoundaryDofCounts(t *testing.T) {
	f := newFixture(t, 2, 1)
	f.run(t, 1, func(V *FunctionSpace) error {
		p, err := NewPoissonProblem(V)
		if err != nil {
			return err
		}
		if err := p.Prepare(); err != nil {
			return err
		}
		dofs := append([]int(nil), p.BCs()[0].Dofs...)
		sort.Ints(dofs)
		// Two planes of 3x3 nodes
		assert.Len(t, dofs, 18)
		return nil
	})
}
