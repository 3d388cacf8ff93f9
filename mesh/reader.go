package mesh

import (
	"fmt"

	"github.com/notargets/gocfd/DG3D/mesh/readers"
)

// ReadFile loads a tetrahedral mesh (Gambit neutral, Gmsh, SU2) and builds
// its face connectivity. Meshes containing other element shapes are rejected.
func ReadFile(path string) (*Mesh, error) {
	msh, err := readers.ReadMeshFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mesh file %s: %w", path, err)
	}

	m := &Mesh{
		Vertices: make([][3]float64, len(msh.Vertices)),
		EToV:     make([][4]int, 0, len(msh.EtoV)),
	}
	// Recast verts into fixed-size points
	for i, v := range msh.Vertices {
		m.Vertices[i] = [3]float64{v[0], v[1], v[2]}
	}
	for k, ev := range msh.EtoV {
		if len(ev) != 4 {
			return nil, fmt.Errorf("mesh file %s: element %d has %d vertices, only tetrahedra are supported",
				path, k, len(ev))
		}
		m.EToV = append(m.EToV, [4]int{ev[0], ev[1], ev[2], ev[3]})
	}
	if err = m.Validate(); err != nil {
		return nil, fmt.Errorf("mesh file %s: %w", path, err)
	}
	if err = m.Connect(); err != nil {
		return nil, fmt.Errorf("mesh file %s: %w", path, err)
	}
	return m, nil
}
