package la

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Vector is a distributed dof array: owned entries first, then ghosts.
type Vector struct {
	Map  *IndexMap
	data []float64
}

// NewVector allocates a zeroed vector over im
func NewVector(im *IndexMap) *Vector {
	return &Vector{Map: im, data: make([]float64, im.SizeLocal())}
}

// Array returns the owned and ghost entries. Writes to ghost entries are
// overwritten by the next ScatterForward.
func (v *Vector) Array() []float64 { return v.data }

// Owned returns the owned entries only
func (v *Vector) Owned() []float64 { return v.data[:v.Map.SizeOwned()] }

// Duplicate returns a new zeroed vector with the same layout
func (v *Vector) Duplicate() *Vector { return NewVector(v.Map) }

// Zero sets every local entry to zero
func (v *Vector) Zero() { v.Set(0) }

// Set assigns alpha to every local entry
func (v *Vector) Set(alpha float64) {
	for i := range v.data {
		v.data[i] = alpha
	}
}

// Copy overwrites v with x
func (v *Vector) Copy(x *Vector) {
	copy(v.data, x.data)
}

// Scale computes v = alpha*v
func (v *Vector) Scale(alpha float64) {
	floats.Scale(alpha, v.data)
}

// Axpy computes v = v + alpha*x
func (v *Vector) Axpy(alpha float64, x *Vector) {
	floats.AddScaled(v.data, alpha, x.data)
}

// Aypx computes v = x + beta*v
func (v *Vector) Aypx(beta float64, x *Vector) {
	for i := range v.data {
		v.data[i] = x.data[i] + beta*v.data[i]
	}
}

// Dot returns the global inner product over owned entries. Collective.
func (v *Vector) Dot(x *Vector) (float64, error) {
	r, err := v.Map.Comm.AllreduceSum([]float64{floats.Dot(v.Owned(), x.Owned())})
	if err != nil {
		return 0, err
	}
	return r[0], nil
}

// Norm returns the global Euclidean norm. Collective.
func (v *Vector) Norm() (float64, error) {
	d, err := v.Dot(v)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(d), nil
}

// InnerProducts returns <vs[i], w> for every i with a single reduction.
// Collective.
func InnerProducts(vs []*Vector, w *Vector) ([]float64, error) {
	local := make([]float64, len(vs))
	for i, v := range vs {
		local[i] = floats.Dot(v.Owned(), w.Owned())
	}
	return w.Map.Comm.AllreduceSum(local)
}

// Update runs fn on the local array and then refreshes ghosts from owners.
// fn must only write owned entries.
func (v *Vector) Update(fn func(a []float64)) error {
	fn(v.data)
	return v.ScatterForward()
}

// ScatterForward copies owned values into the matching ghost entries on
// neighbouring ranks. Collective over neighbours.
func (v *Vector) ScatterForward() error {
	buf := v.Map.Part.Buffer
	if !buf.RequiresCommunication() {
		return nil
	}
	c := v.Map.Comm
	bs := v.Map.BlockSize

	for _, m := range buf.ScatterMappings {
		msg := make([]float64, 0, m.Count*bs)
		for _, li := range m.LocalIndices {
			msg = append(msg, v.data[li*bs:(li+1)*bs]...)
		}
		if err := c.Send(m.PartitionID, msg); err != nil {
			return fmt.Errorf("scatter forward to %d: %w", m.PartitionID, err)
		}
	}
	for _, m := range buf.GatherMappings {
		msg, err := c.Recv(m.PartitionID)
		if err != nil {
			return fmt.Errorf("scatter forward from %d: %w", m.PartitionID, err)
		}
		if len(msg) != m.Count*bs {
			return fmt.Errorf("scatter forward from %d: got %d values, expected %d",
				m.PartitionID, len(msg), m.Count*bs)
		}
		for n, li := range m.LocalIndices {
			copy(v.data[li*bs:(li+1)*bs], msg[n*bs:(n+1)*bs])
		}
	}
	return nil
}

// ScatterReverse adds ghost contributions into their owners. Ghost entries
// keep their values; follow with ScatterForward to make them consistent.
func (v *Vector) ScatterReverse() error {
	buf := v.Map.Part.Buffer
	if !buf.RequiresCommunication() {
		return nil
	}
	c := v.Map.Comm
	bs := v.Map.BlockSize

	for _, m := range buf.GatherMappings {
		msg := make([]float64, 0, m.Count*bs)
		for _, li := range m.LocalIndices {
			msg = append(msg, v.data[li*bs:(li+1)*bs]...)
		}
		if err := c.Send(m.PartitionID, msg); err != nil {
			return fmt.Errorf("scatter reverse to %d: %w", m.PartitionID, err)
		}
	}
	for _, m := range buf.ScatterMappings {
		msg, err := c.Recv(m.PartitionID)
		if err != nil {
			return fmt.Errorf("scatter reverse from %d: %w", m.PartitionID, err)
		}
		if len(msg) != m.Count*bs {
			return fmt.Errorf("scatter reverse from %d: got %d values, expected %d",
				m.PartitionID, len(msg), m.Count*bs)
		}
		for n, li := range m.LocalIndices {
			floats.Add(v.data[li*bs:(li+1)*bs], msg[n*bs:(n+1)*bs])
		}
	}
	return nil
}

// GatherGlobal assembles the full vector in global dof order on root.
// Other ranks receive nil. Collective.
func (v *Vector) GatherGlobal(root int) ([]float64, error) {
	start, _ := v.Map.LocalRange()
	local := append([]float64{float64(start)}, v.Owned()...)
	parts, err := v.Map.Comm.Gather(root, local)
	if err != nil || parts == nil {
		return nil, err
	}
	global := make([]float64, v.Map.SizeGlobal())
	for _, p := range parts {
		copy(global[int(p[0]):], p[1:])
	}
	return global, nil
}
