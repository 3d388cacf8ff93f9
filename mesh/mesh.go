package mesh

import (
	"fmt"
	"math"
	"sort"
)

// Dim is the geometric dimension of every mesh
const Dim = 3

// FaceVertices lists the local vertices of each tetrahedron face. Face
// numbering follows the reference element: t=-1, s=-1, r+s+t=-1, r=-1.
var FaceVertices = [4][3]int{
	{0, 1, 2},
	{0, 1, 3},
	{1, 2, 3},
	{0, 2, 3},
}

// Mesh is a conforming tetrahedral mesh. It is built once and then shared
// read-only by every worker.
type Mesh struct {
	Vertices [][3]float64
	EToV     [][4]int // Element to vertex connectivity

	// Face connectivity, filled by Connect. A boundary face points back at its
	// own element: EToE[k][f] == k.
	EToE [][4]int
	EToF [][4]int
}

// NumElements returns the number of tetrahedra.
func (m *Mesh) NumElements() int { return len(m.EToV) }

// NumVertices returns the number of vertices.
func (m *Mesh) NumVertices() int { return len(m.Vertices) }

// Validate checks connectivity indices and rejects flat cells.
func (m *Mesh) Validate() error {
	if len(m.EToV) == 0 {
		return fmt.Errorf("mesh has no elements")
	}
	nv := len(m.Vertices)
	for k, cell := range m.EToV {
		for _, v := range cell {
			if v < 0 || v >= nv {
				return fmt.Errorf("element %d references vertex %d, mesh has %d vertices", k, v, nv)
			}
		}
		if m.Volume(k) <= 0 {
			return fmt.Errorf("element %d has non-positive volume %g", k, m.Volume(k))
		}
	}
	return nil
}

// Volume returns the absolute volume of element k.
func (m *Mesh) Volume(k int) float64 {
	c := m.EToV[k]
	a, b, d, e := m.Vertices[c[0]], m.Vertices[c[1]], m.Vertices[c[2]], m.Vertices[c[3]]
	var u, v, w [3]float64
	for i := 0; i < 3; i++ {
		u[i] = b[i] - a[i]
		v[i] = d[i] - a[i]
		w[i] = e[i] - a[i]
	}
	det := u[0]*(v[1]*w[2]-v[2]*w[1]) - u[1]*(v[0]*w[2]-v[2]*w[0]) + u[2]*(v[0]*w[1]-v[1]*w[0])
	return math.Abs(det) / 6
}

// Centroid returns the vertex average of element k.
func (m *Mesh) Centroid(k int) [3]float64 {
	var c [3]float64
	for _, v := range m.EToV[k] {
		for i := 0; i < 3; i++ {
			c[i] += 0.25 * m.Vertices[v][i]
		}
	}
	return c
}

// BoundingBox returns the componentwise minimum and maximum vertex coordinates.
func (m *Mesh) BoundingBox() (lo, hi [3]float64) {
	for i := 0; i < 3; i++ {
		lo[i] = math.Inf(1)
		hi[i] = math.Inf(-1)
	}
	for _, p := range m.Vertices {
		for i := 0; i < 3; i++ {
			lo[i] = math.Min(lo[i], p[i])
			hi[i] = math.Max(hi[i], p[i])
		}
	}
	return
}

type faceKey [3]int

func makeFaceKey(a, b, c int) faceKey {
	k := []int{a, b, c}
	sort.Ints(k)
	return faceKey{k[0], k[1], k[2]}
}

type faceRef struct {
	elem, face int
}

// Connect builds EToE and EToF by matching sorted face vertex triples.
func (m *Mesh) Connect() error {
	K := len(m.EToV)
	m.EToE = make([][4]int, K)
	m.EToF = make([][4]int, K)
	seen := make(map[faceKey]faceRef, 2*K)
	for k, cell := range m.EToV {
		for f, fv := range FaceVertices {
			m.EToE[k][f] = k
			m.EToF[k][f] = f
			key := makeFaceKey(cell[fv[0]], cell[fv[1]], cell[fv[2]])
			other, ok := seen[key]
			if !ok {
				seen[key] = faceRef{elem: k, face: f}
				continue
			}
			if other.elem < 0 {
				return fmt.Errorf("face %v shared by more than two elements", key)
			}
			m.EToE[k][f] = other.elem
			m.EToF[k][f] = other.face
			m.EToE[other.elem][other.face] = k
			m.EToF[other.elem][other.face] = f
			seen[key] = faceRef{elem: -1}
		}
	}
	return nil
}

// IsBoundaryFace reports whether face f of element k lies on the domain
// boundary. Connect must have been called.
func (m *Mesh) IsBoundaryFace(k, f int) bool {
	return m.EToE[k][f] == k
}

// VertexCells returns, for every vertex, the elements that contain it.
func (m *Mesh) VertexCells() [][]int {
	vc := make([][]int, len(m.Vertices))
	for k, cell := range m.EToV {
		for _, v := range cell {
			vc[v] = append(vc[v], k)
		}
	}
	return vc
}
