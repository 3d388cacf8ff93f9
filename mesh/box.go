package mesh

import (
	"fmt"
	"math"
)

// hexTets splits the hexahedron with corners v0..v7 (bit i of the corner
// index is the offset along axis i) into six tetrahedra around the v0-v7
// diagonal. Neighbouring hexes split shared faces the same way so the result
// is conforming.
var hexTets = [6][4]int{
	{0, 1, 3, 7},
	{0, 1, 7, 5},
	{0, 5, 7, 4},
	{0, 3, 2, 7},
	{0, 6, 4, 7},
	{0, 2, 6, 7},
}

// NewUnitCube meshes [0,1]^3 with nx*ny*nz hexes, six tetrahedra each.
func NewUnitCube(nx, ny, nz int) (*Mesh, error) {
	return NewBox([3]float64{0, 0, 0}, [3]float64{1, 1, 1}, nx, ny, nz)
}

// NewBox meshes the axis-aligned box [p0,p1] with nx*ny*nz hexes.
func NewBox(p0, p1 [3]float64, nx, ny, nz int) (*Mesh, error) {
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("invalid box divisions %dx%dx%d", nx, ny, nz)
	}
	for i := 0; i < 3; i++ {
		if !(p1[i] > p0[i]) {
			return nil, fmt.Errorf("degenerate box extent along axis %d: [%g, %g]", i, p0[i], p1[i])
		}
	}
	n := [3]int{nx, ny, nz}
	vid := func(i, j, k int) int {
		return i + (nx+1)*(j+(ny+1)*k)
	}

	m := &Mesh{
		Vertices: make([][3]float64, (nx+1)*(ny+1)*(nz+1)),
		EToV:     make([][4]int, 0, 6*nx*ny*nz),
	}
	for k := 0; k <= nz; k++ {
		for j := 0; j <= ny; j++ {
			for i := 0; i <= nx; i++ {
				idx := [3]int{i, j, k}
				var p [3]float64
				for d := 0; d < 3; d++ {
					p[d] = p0[d] + (p1[d]-p0[d])*float64(idx[d])/float64(n[d])
				}
				m.Vertices[vid(i, j, k)] = p
			}
		}
	}
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				var corner [8]int
				for c := 0; c < 8; c++ {
					corner[c] = vid(i+(c&1), j+((c>>1)&1), k+((c>>2)&1))
				}
				for _, tet := range hexTets {
					m.EToV = append(m.EToV, [4]int{
						corner[tet[0]], corner[tet[1]], corner[tet[2]], corner[tet[3]],
					})
				}
			}
		}
	}
	if err := m.Connect(); err != nil {
		return nil, err
	}
	return m, nil
}

// DivisionsForDofs picks box divisions whose vertex count best matches the
// requested problem size. For weak scaling ndofs is per worker; for strong
// scaling it is the total.
func DivisionsForDofs(ndofs, workers int, strongScaling bool, dofsPerNode int) (nx, ny, nz int, err error) {
	if ndofs < 1 || workers < 1 || dofsPerNode < 1 {
		return 0, 0, 0, fmt.Errorf("invalid sizing request: ndofs=%d workers=%d dofsPerNode=%d",
			ndofs, workers, dofsPerNode)
	}
	target := ndofs / dofsPerNode
	if !strongScaling {
		target = ndofs * workers / dofsPerNode
	}
	if target < 8 {
		target = 8
	}

	n := int(math.Round(math.Cbrt(float64(target)))) - 1
	if n < 1 {
		n = 1
	}
	// Walk n toward the cube closest to the target
	for n > 1 && cube(n) > target {
		n--
	}
	for cube(n+1) <= target {
		n++
	}
	if target-cube(n) > cube(n+1)-target {
		n++
	}
	nx, ny, nz = n, n, n

	// Stretch one axis to get closer to the target vertex count
	plane := (n + 1) * (n + 1)
	best := abs(cube(n) - target)
	for z := 1; z <= 4*n; z++ {
		if d := abs(plane*(z+1) - target); d < best {
			best = d
			nz = z
		}
	}
	return nx, ny, nz, nil
}

func cube(n int) int { return (n + 1) * (n + 1) * (n + 1) }

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
