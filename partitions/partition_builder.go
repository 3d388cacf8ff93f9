package partitions

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// PartitionBuilder constructs partitions from mesh connectivity
type PartitionBuilder struct {
	Mesh *MeshConnectivity

	NumPartitions int
	Strategy      PartitionStrategy
}

// MeshConnectivity provides the mesh data needed for partitioning
type MeshConnectivity struct {
	NumElements int
	Centroids   [][3]float64 // Required by SpaceFillingCurve
}

// PartitionStrategy defines how elements are grouped
type PartitionStrategy int

const (
	BlockPartition    PartitionStrategy = iota // Consecutive elements
	RoundRobin                                 // Distribute cyclically
	SpaceFillingCurve                          // Morton ordering of centroids, then blocks
)

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "roundrobin"
	case SpaceFillingCurve:
		return "morton"
	}
	return fmt.Sprintf("PartitionStrategy(%d)", int(s))
}

// ParseStrategy maps a configuration name onto a strategy
func ParseStrategy(name string) (PartitionStrategy, error) {
	switch strings.ToLower(name) {
	case "block", "":
		return BlockPartition, nil
	case "roundrobin", "round-robin":
		return RoundRobin, nil
	case "morton", "sfc":
		return SpaceFillingCurve, nil
	}
	return 0, fmt.Errorf("unknown partition strategy %q", name)
}

// BuildPartitions creates a partition layout from mesh connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.Mesh == nil || pb.Mesh.NumElements == 0 {
		return nil, fmt.Errorf("no mesh to partition")
	}
	numPartitions := pb.NumPartitions
	if numPartitions < 1 {
		numPartitions = 1
	}
	if numPartitions > pb.Mesh.NumElements {
		return nil, fmt.Errorf("cannot split %d elements into %d partitions",
			pb.Mesh.NumElements, numPartitions)
	}

	eToP, err := pb.partitionElements(numPartitions)
	if err != nil {
		return nil, err
	}

	layout := &PartitionLayout{
		Partitions:    pb.createPartitions(eToP, numPartitions),
		TotalElements: pb.Mesh.NumElements,
		NumPartitions: numPartitions,
		EToP:          eToP,
	}

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}

	return layout, nil
}

// partitionElements assigns elements to partitions
func (pb *PartitionBuilder) partitionElements(numPartitions int) ([]int, error) {
	K := pb.Mesh.NumElements
	eToP := make([]int, K)

	switch pb.Strategy {
	case BlockPartition:
		blockAssign(eToP, identityOrder(K), numPartitions)

	case RoundRobin:
		for i := 0; i < K; i++ {
			eToP[i] = i % numPartitions
		}

	case SpaceFillingCurve:
		if len(pb.Mesh.Centroids) != K {
			return nil, fmt.Errorf("space filling curve needs %d centroids, have %d",
				K, len(pb.Mesh.Centroids))
		}
		blockAssign(eToP, mortonOrder(pb.Mesh.Centroids), numPartitions)

	default:
		return nil, fmt.Errorf("unsupported partition strategy %v", pb.Strategy)
	}

	return eToP, nil
}

// blockAssign gives consecutive runs of order to each partition, sizes
// differing by at most one
func blockAssign(eToP, order []int, numPartitions int) {
	K := len(order)
	for i, elem := range order {
		eToP[elem] = i * numPartitions / K
	}
}

func identityOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// mortonOrder sorts points along a Z-order curve through their bounding box
func mortonOrder(pts [][3]float64) []int {
	var lo, hi [3]float64
	for i := 0; i < 3; i++ {
		lo[i], hi[i] = math.Inf(1), math.Inf(-1)
	}
	for _, p := range pts {
		for i := 0; i < 3; i++ {
			lo[i] = math.Min(lo[i], p[i])
			hi[i] = math.Max(hi[i], p[i])
		}
	}

	const bits = 21
	scale := float64(uint64(1)<<bits - 1)
	codes := make([]uint64, len(pts))
	for k, p := range pts {
		var q [3]uint64
		for i := 0; i < 3; i++ {
			ext := hi[i] - lo[i]
			if ext > 0 {
				q[i] = uint64((p[i] - lo[i]) / ext * scale)
			}
		}
		codes[k] = spreadBits(q[0]) | spreadBits(q[1])<<1 | spreadBits(q[2])<<2
	}

	order := identityOrder(len(pts))
	sort.SliceStable(order, func(a, b int) bool {
		return codes[order[a]] < codes[order[b]]
	})
	return order
}

// spreadBits inserts two zero bits between each of the low 21 bits of v
func spreadBits(v uint64) uint64 {
	v &= 0x1fffff
	v = (v | v<<32) & 0x1f00000000ffff
	v = (v | v<<16) & 0x1f0000ff0000ff
	v = (v | v<<8) & 0x100f00f00f00f00f
	v = (v | v<<4) & 0x10c30c30c30c30c3
	v = (v | v<<2) & 0x1249249249249249
	return v
}

// createPartitions builds partition structures from element assignments
func (pb *PartitionBuilder) createPartitions(eToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)

	for i := range partitions {
		partitions[i] = Partition{
			ID:       i,
			Elements: make([]int, 0),
		}
	}

	for elem, part := range eToP {
		partitions[part].Elements = append(partitions[part].Elements, elem)
		partitions[part].NumElements++
	}

	return partitions
}

// PartitionStatistics computes load balance metrics
func (layout *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: layout.NumPartitions,
		MinElements:   math.MaxInt32,
		MaxElements:   0,
		AvgElements:   float64(layout.TotalElements) / float64(layout.NumPartitions),
	}

	for _, p := range layout.Partitions {
		if p.NumElements < stats.MinElements {
			stats.MinElements = p.NumElements
		}
		if p.NumElements > stats.MaxElements {
			stats.MaxElements = p.NumElements
		}
	}

	stats.Imbalance = float64(stats.MaxElements) / stats.AvgElements

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinElements   int
	MaxElements   int
	AvgElements   float64
	Imbalance     float64 // MaxElements / AvgElements
}
