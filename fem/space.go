package fem

import (
	"fmt"

	"github.com/notargets/FEMBench/comm"
	"github.com/notargets/FEMBench/element"
	"github.com/notargets/FEMBench/la"
	"github.com/notargets/FEMBench/mesh"
	"github.com/notargets/FEMBench/partitions"
)

// FunctionSpace is a P1 Lagrange space over one rank's view of the mesh.
// Vector-valued spaces interleave components per node, so local dof
// node*bs+c carries component c. A sub-space shares the parent's index map
// and restricts dof access to one component.
type FunctionSpace struct {
	Mesh    *mesh.Mesh
	Map     *la.IndexMap
	Element element.ElementProperties

	component int // -1 for the full space
	localNode map[int]int
}

// NewFunctionSpace builds a space with the given number of components over
// the dof partition of rank c.
func NewFunctionSpace(c *comm.Comm, m *mesh.Mesh, dp *partitions.DofPartition, components int) (*FunctionSpace, error) {
	im, err := la.NewIndexMap(c, dp, components)
	if err != nil {
		return nil, fmt.Errorf("function space: %w", err)
	}
	fs := &FunctionSpace{
		Mesh:      m,
		Map:       im,
		Element:   element.P1Tet,
		component: -1,
		localNode: make(map[int]int, len(dp.Nodes)),
	}
	for i, v := range dp.Nodes {
		fs.localNode[v] = i
	}
	return fs, nil
}

// NumComponents returns the value size of the space: the block size for a
// full space, one for a sub-space.
func (fs *FunctionSpace) NumComponents() int {
	if fs.component >= 0 {
		return 1
	}
	return fs.Map.BlockSize
}

// GeometricDimension returns the dimension of the mesh coordinates
func (fs *FunctionSpace) GeometricDimension() int { return mesh.Dim }

// IsSubspace reports whether fs is a component view of a larger space
func (fs *FunctionSpace) IsSubspace() bool { return fs.component >= 0 }

// Sub returns the view of component i
func (fs *FunctionSpace) Sub(i int) (*FunctionSpace, error) {
	if fs.component >= 0 {
		return nil, fmt.Errorf("sub-space of a sub-space is not supported")
	}
	if i < 0 || i >= fs.Map.BlockSize {
		return nil, fmt.Errorf("sub-space %d out of range for %d components", i, fs.Map.BlockSize)
	}
	sub := *fs
	sub.component = i
	return &sub, nil
}

// NumLocalNodes returns owned plus ghost nodes
func (fs *FunctionSpace) NumLocalNodes() int { return fs.Map.Part.NumLocal() }

// NodeCoordinate returns the position of local node n
func (fs *FunctionSpace) NodeCoordinate(n int) [3]float64 {
	return fs.Mesh.Vertices[fs.Map.Part.Nodes[n]]
}

// nodeDofs appends the dofs of local node n that belong to this space
func (fs *FunctionSpace) nodeDofs(dst []int, n int) []int {
	bs := fs.Map.BlockSize
	if fs.component >= 0 {
		return append(dst, n*bs+fs.component)
	}
	for c := 0; c < bs; c++ {
		dst = append(dst, n*bs+c)
	}
	return dst
}

// Dofs returns the local (owned and ghost) dofs of this space
func (fs *FunctionSpace) Dofs() []int {
	dofs := make([]int, 0, fs.NumLocalNodes()*fs.NumComponents())
	for n := 0; n < fs.NumLocalNodes(); n++ {
		dofs = fs.nodeDofs(dofs, n)
	}
	return dofs
}

// SetValue writes value into every dof of this space in x
func (fs *FunctionSpace) SetValue(x *la.Vector, value float64) {
	a := x.Array()
	for _, d := range fs.Dofs() {
		a[d] = value
	}
}

// SetX writes value times coordinate offset of each dof's node into x. With
// the signed offsets used for rigid body modes this produces the linearised
// rotations, e.g. component 0 set to -y and component 1 set to +x.
func (fs *FunctionSpace) SetX(x *la.Vector, value float64, offset int) error {
	if offset < 0 || offset >= fs.GeometricDimension() {
		return fmt.Errorf("coordinate offset %d out of range", offset)
	}
	a := x.Array()
	bs := fs.Map.BlockSize
	for _, d := range fs.Dofs() {
		a[d] = value * fs.NodeCoordinate(d/bs)[offset]
	}
	return nil
}

// LocateDofsGeometrical returns the local dofs of nodes where marker holds.
// Ghost dofs are included so constraints are visible to every rank
// assembling an adjacent cell.
func (fs *FunctionSpace) LocateDofsGeometrical(marker func(x [3]float64) bool) []int {
	var dofs []int
	for n := 0; n < fs.NumLocalNodes(); n++ {
		if marker(fs.NodeCoordinate(n)) {
			dofs = fs.nodeDofs(dofs, n)
		}
	}
	return dofs
}

// CellNodes returns the local node numbers of mesh cell k. The cell must be
// one of the partition's local cells.
func (fs *FunctionSpace) CellNodes(k int) ([4]int, error) {
	var nodes [4]int
	for a, v := range fs.Mesh.EToV[k] {
		n, ok := fs.localNode[v]
		if !ok {
			return nodes, fmt.Errorf("cell %d vertex %d is not local to rank %d", k, v, fs.Map.Comm.Rank())
		}
		nodes[a] = n
	}
	return nodes, nil
}

// CellGeometry returns the affine map of mesh cell k
func (fs *FunctionSpace) CellGeometry(k int) (*element.Geometry, error) {
	var x [4][3]float64
	for a, v := range fs.Mesh.EToV[k] {
		x[a] = fs.Mesh.Vertices[v]
	}
	return element.NewGeometry(x)
}

// Interpolate evaluates f at every local node and writes the values into
// the dofs of this space. f must return NumComponents values.
func (fs *FunctionSpace) Interpolate(x *la.Vector, f func(p [3]float64) []float64) error {
	a := x.Array()
	var dofs []int
	for n := 0; n < fs.NumLocalNodes(); n++ {
		vals := f(fs.NodeCoordinate(n))
		dofs = fs.nodeDofs(dofs[:0], n)
		if len(vals) != len(dofs) {
			return fmt.Errorf("interpolant returned %d values, space has %d components", len(vals), len(dofs))
		}
		for i, d := range dofs {
			a[d] = vals[i]
		}
	}
	return nil
}
