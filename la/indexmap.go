package la

import (
	"fmt"

	"github.com/notargets/FEMBench/comm"
	"github.com/notargets/FEMBench/partitions"
)

// IndexMap describes the distributed layout of a blocked dof array on one
// rank. Each node of the dof partition carries BlockSize interleaved entries,
// so local dof i belongs to node i/BlockSize, component i%BlockSize.
type IndexMap struct {
	Comm      *comm.Comm
	Part      *partitions.DofPartition
	BlockSize int
}

// NewIndexMap binds a dof partition to the rank that owns it
func NewIndexMap(c *comm.Comm, dp *partitions.DofPartition, blockSize int) (*IndexMap, error) {
	if blockSize < 1 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	if dp.Rank != c.Rank() {
		return nil, fmt.Errorf("dof partition %d handed to rank %d", dp.Rank, c.Rank())
	}
	return &IndexMap{Comm: c, Part: dp, BlockSize: blockSize}, nil
}

// SizeOwned returns the number of owned dofs
func (im *IndexMap) SizeOwned() int { return im.Part.NumOwned * im.BlockSize }

// SizeGhost returns the number of ghost dofs
func (im *IndexMap) SizeGhost() int { return im.Part.NumGhosts() * im.BlockSize }

// SizeLocal returns owned plus ghost dofs
func (im *IndexMap) SizeLocal() int { return im.Part.NumLocal() * im.BlockSize }

// SizeGlobal returns the number of dofs over all ranks
func (im *IndexMap) SizeGlobal() int { return im.Part.GlobalSize * im.BlockSize }

// LocalRange returns the half-open global dof range owned by this rank
func (im *IndexMap) LocalRange() (start, end int) {
	return im.Part.Offset * im.BlockSize, (im.Part.Offset + im.Part.NumOwned) * im.BlockSize
}

// LocalToGlobal maps a local dof to its global index
func (im *IndexMap) LocalToGlobal(i int) int {
	bs := im.BlockSize
	return im.Part.GlobalIndex[i/bs]*bs + i%bs
}

// IsOwned reports whether local dof i is owned by this rank
func (im *IndexMap) IsOwned(i int) bool { return i < im.SizeOwned() }
