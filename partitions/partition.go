package partitions

import (
	"fmt"
)

// Partition is the set of cells a single worker assembles
type Partition struct {
	ID int

	// Element membership
	Elements    []int // Global element indices in this partition
	NumElements int
}

// PartitionLayout manages the complete mesh decomposition
type PartitionLayout struct {
	Partitions []Partition

	TotalElements int
	NumPartitions int

	// Element to partition mapping
	EToP []int // Length TotalElements: element k belongs to partition EToP[k]
}

// PartitionMapping pairs local array positions with positions in a
// communication buffer exchanged with one neighbouring partition
type PartitionMapping struct {
	PartitionID int

	// Indices within the partition's local node numbering
	LocalIndices []int

	// Corresponding positions in send/recv buffer
	BufferIndices []int

	// Number of points to transfer
	Count int
}

// RemotePartition describes communication with a neighbouring partition
type RemotePartition struct {
	PartitionID int

	// Location in communication buffers
	SendOffset int
	SendCount  int
	RecvOffset int
	RecvCount  int
}

// PartitionBuffer is the ghost exchange plan of one partition.
//
// Forward scatter (owner -> ghost): values at ScatterMappings[i].LocalIndices
// are sent to ScatterMappings[i].PartitionID, which writes them into the ghost
// slots listed by its GatherMappings entry for this partition. Reverse
// scatter runs the same mappings backwards and accumulates into owners.
type PartitionBuffer struct {
	// Owned nodes another partition holds as ghosts
	ScatterMappings []PartitionMapping

	// Ghost nodes filled from their owner
	GatherMappings []PartitionMapping

	RemotePartitions []RemotePartition

	MaxScatterPoints int
	MaxGatherPoints  int

	SendBufferSize int
	RecvBufferSize int
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("layout has %d partitions, expected %d", len(pl.Partitions), pl.NumPartitions)
	}
	if len(pl.EToP) != pl.TotalElements {
		return fmt.Errorf("EToP length %d != TotalElements %d", len(pl.EToP), pl.TotalElements)
	}
	total := 0
	for _, p := range pl.Partitions {
		if p.NumElements == 0 {
			return fmt.Errorf("partition %d is empty", p.ID)
		}
		for _, k := range p.Elements {
			if pl.EToP[k] != p.ID {
				return fmt.Errorf("element %d listed in partition %d but EToP says %d", k, p.ID, pl.EToP[k])
			}
		}
		total += p.NumElements
	}
	if total != pl.TotalElements {
		return fmt.Errorf("partitions hold %d elements, mesh has %d", total, pl.TotalElements)
	}
	return nil
}

// RequiresCommunication reports whether this partition exchanges ghost data
func (pb *PartitionBuffer) RequiresCommunication() bool {
	return len(pb.ScatterMappings) > 0 || len(pb.GatherMappings) > 0
}
