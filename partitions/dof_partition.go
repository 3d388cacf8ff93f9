package partitions

import (
	"fmt"
	"sort"
)

// DofPartition is one worker's view of the vertex (node) numbering: a
// contiguous range of owned global indices followed by ghost nodes owned by
// neighbouring partitions.
type DofPartition struct {
	Rank int

	Offset     int // Global index of the first owned node
	NumOwned   int
	GlobalSize int

	// Local node numbering, owned nodes first then ghosts, both ascending in
	// global index
	Nodes       []int // Local node -> mesh vertex
	GlobalIndex []int // Local node -> global index
	GhostOwners []int // Owner partition of each ghost, len(Nodes)-NumOwned

	// Cells assembled locally: every cell owned by this partition plus every
	// cell touching an owned node
	Cells     []int
	CellOwned []bool

	Buffer *PartitionBuffer
}

// NumGhosts returns the number of ghost nodes
func (dp *DofPartition) NumGhosts() int { return len(dp.Nodes) - dp.NumOwned }

// NumLocal returns owned plus ghost node count
func (dp *DofPartition) NumLocal() int { return len(dp.Nodes) }

// DofLayout is the global node renumbering shared by all partitions
type DofLayout struct {
	Partitions     []*DofPartition
	VertexToGlobal []int
	GlobalToVertex []int
}

// BuildDofLayout assigns every mesh vertex to the lowest-numbered partition
// among its cells, renumbers vertices so each partition owns a contiguous
// range, and derives ghost sets and exchange buffers.
func BuildDofLayout(layout *PartitionLayout, eToV [][4]int, numVertices int) (*DofLayout, error) {
	if len(eToV) != layout.TotalElements {
		return nil, fmt.Errorf("layout covers %d elements, connectivity has %d", layout.TotalElements, len(eToV))
	}

	owner := make([]int, numVertices)
	for v := range owner {
		owner[v] = -1
	}
	vertexCells := make([][]int, numVertices)
	for k, cell := range eToV {
		p := layout.EToP[k]
		for _, v := range cell {
			vertexCells[v] = append(vertexCells[v], k)
			if owner[v] < 0 || p < owner[v] {
				owner[v] = p
			}
		}
	}
	for v, p := range owner {
		if p < 0 {
			return nil, fmt.Errorf("vertex %d is not referenced by any element", v)
		}
	}

	// Contiguous renumbering by owner, then by vertex id
	np := layout.NumPartitions
	owned := make([][]int, np)
	for v, p := range owner {
		owned[p] = append(owned[p], v)
	}
	dl := &DofLayout{
		Partitions:     make([]*DofPartition, np),
		VertexToGlobal: make([]int, numVertices),
		GlobalToVertex: make([]int, 0, numVertices),
	}
	offsets := make([]int, np+1)
	for p := 0; p < np; p++ {
		offsets[p+1] = offsets[p] + len(owned[p])
		for _, v := range owned[p] {
			dl.VertexToGlobal[v] = len(dl.GlobalToVertex)
			dl.GlobalToVertex = append(dl.GlobalToVertex, v)
		}
	}

	for p := 0; p < np; p++ {
		dp := &DofPartition{
			Rank:       p,
			Offset:     offsets[p],
			NumOwned:   len(owned[p]),
			GlobalSize: numVertices,
		}

		cellSet := make(map[int]struct{})
		for _, k := range layout.Partitions[p].Elements {
			cellSet[k] = struct{}{}
		}
		for _, v := range owned[p] {
			for _, k := range vertexCells[v] {
				cellSet[k] = struct{}{}
			}
		}
		dp.Cells = make([]int, 0, len(cellSet))
		for k := range cellSet {
			dp.Cells = append(dp.Cells, k)
		}
		sort.Ints(dp.Cells)
		dp.CellOwned = make([]bool, len(dp.Cells))
		for i, k := range dp.Cells {
			dp.CellOwned[i] = layout.EToP[k] == p
		}

		ghostSet := make(map[int]struct{})
		for _, k := range dp.Cells {
			for _, v := range eToV[k] {
				if owner[v] != p {
					ghostSet[dl.VertexToGlobal[v]] = struct{}{}
				}
			}
		}
		ghosts := make([]int, 0, len(ghostSet))
		for g := range ghostSet {
			ghosts = append(ghosts, g)
		}
		sort.Ints(ghosts)

		dp.Nodes = make([]int, 0, dp.NumOwned+len(ghosts))
		dp.GlobalIndex = make([]int, 0, dp.NumOwned+len(ghosts))
		for g := offsets[p]; g < offsets[p+1]; g++ {
			dp.Nodes = append(dp.Nodes, dl.GlobalToVertex[g])
			dp.GlobalIndex = append(dp.GlobalIndex, g)
		}
		dp.GhostOwners = make([]int, len(ghosts))
		for i, g := range ghosts {
			v := dl.GlobalToVertex[g]
			dp.Nodes = append(dp.Nodes, v)
			dp.GlobalIndex = append(dp.GlobalIndex, g)
			dp.GhostOwners[i] = owner[v]
		}
		dl.Partitions[p] = dp
	}

	if err := buildPartitionBuffers(dl); err != nil {
		return nil, err
	}
	return dl, nil
}

// buildPartitionBuffers pairs every ghost with its owner's local index. A
// receiver's gather order and the owner's scatter order are identical, both
// ascending in global index.
func buildPartitionBuffers(dl *DofLayout) error {
	np := len(dl.Partitions)
	gather := make([]map[int]*PartitionMapping, np)
	scatter := make([]map[int]*PartitionMapping, np)
	for p := range dl.Partitions {
		gather[p] = make(map[int]*PartitionMapping)
		scatter[p] = make(map[int]*PartitionMapping)
	}

	for r, dp := range dl.Partitions {
		for i, q := range dp.GhostOwners {
			local := dp.NumOwned + i
			g := dp.GlobalIndex[local]
			owner := dl.Partitions[q]

			gm, ok := gather[r][q]
			if !ok {
				gm = &PartitionMapping{PartitionID: q}
				gather[r][q] = gm
			}
			gm.LocalIndices = append(gm.LocalIndices, local)

			sm, ok := scatter[q][r]
			if !ok {
				sm = &PartitionMapping{PartitionID: r}
				scatter[q][r] = sm
			}
			sm.LocalIndices = append(sm.LocalIndices, g-owner.Offset)
		}
	}

	for p, dp := range dl.Partitions {
		dp.Buffer = assembleBuffer(scatter[p], gather[p])
	}

	return validateCommunicationSymmetry(dl.Partitions)
}

func assembleBuffer(scatter, gather map[int]*PartitionMapping) *PartitionBuffer {
	neighbours := make(map[int]struct{})
	for q := range scatter {
		neighbours[q] = struct{}{}
	}
	for q := range gather {
		neighbours[q] = struct{}{}
	}
	ids := make([]int, 0, len(neighbours))
	for q := range neighbours {
		ids = append(ids, q)
	}
	sort.Ints(ids)

	pb := &PartitionBuffer{}
	for _, q := range ids {
		rp := RemotePartition{
			PartitionID: q,
			SendOffset:  pb.SendBufferSize,
			RecvOffset:  pb.RecvBufferSize,
		}
		if sm, ok := scatter[q]; ok {
			sm.Count = len(sm.LocalIndices)
			sm.BufferIndices = makeRange(pb.SendBufferSize, pb.SendBufferSize+sm.Count)
			pb.ScatterMappings = append(pb.ScatterMappings, *sm)
			pb.SendBufferSize += sm.Count
			rp.SendCount = sm.Count
			if sm.Count > pb.MaxScatterPoints {
				pb.MaxScatterPoints = sm.Count
			}
		}
		if gm, ok := gather[q]; ok {
			gm.Count = len(gm.LocalIndices)
			gm.BufferIndices = makeRange(pb.RecvBufferSize, pb.RecvBufferSize+gm.Count)
			pb.GatherMappings = append(pb.GatherMappings, *gm)
			pb.RecvBufferSize += gm.Count
			rp.RecvCount = gm.Count
			if gm.Count > pb.MaxGatherPoints {
				pb.MaxGatherPoints = gm.Count
			}
		}
		pb.RemotePartitions = append(pb.RemotePartitions, rp)
	}
	return pb
}

func makeRange(start, end int) []int {
	r := make([]int, end-start)
	for i := range r {
		r[i] = start + i
	}
	return r
}

// validateCommunicationSymmetry verifies that whenever partition A sends n
// values to partition B, B expects exactly n values from A
func validateCommunicationSymmetry(parts []*DofPartition) error {
	type pair struct{ from, to int }
	sends := make(map[pair]int)
	for senderID, dp := range parts {
		for _, m := range dp.Buffer.ScatterMappings {
			sends[pair{senderID, m.PartitionID}] = m.Count
		}
	}

	for receiverID, dp := range parts {
		for _, m := range dp.Buffer.GatherMappings {
			key := pair{m.PartitionID, receiverID}
			expected, exists := sends[key]
			if !exists {
				return fmt.Errorf("partition %d expects to receive from %d, but %d doesn't send",
					receiverID, m.PartitionID, m.PartitionID)
			}
			if expected != m.Count {
				return fmt.Errorf("count mismatch: partition %d sends %d to %d, but %d expects %d",
					m.PartitionID, expected, receiverID, receiverID, m.Count)
			}
			delete(sends, key)
		}
	}
	for key := range sends {
		return fmt.Errorf("partition %d sends to %d, which expects nothing", key.from, key.to)
	}

	return nil
}
