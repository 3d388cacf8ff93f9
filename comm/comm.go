package comm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrAborted is returned by every collective once any rank in the world has
// failed. Partial completion across ranks is meaningless, so there is no
// recovery path.
var ErrAborted = errors.New("communicator aborted")

// mailboxDepth bounds how far a sender can run ahead of a receiver. Exchanges
// are send-all then receive-all, so a rank is never more than one exchange
// ahead of a neighbour and at most two messages are ever queued per pair.
const mailboxDepth = 2

// World is the shared state of an in-process communicator: one slot per rank
// for reductions, a reusable barrier, and a mailbox per ordered rank pair.
type World struct {
	size  int
	ctx   context.Context
	bar   *barrier
	slots [][]float64
	mail  [][]chan []float64
}

// Comm is one rank's handle on a World.
type Comm struct {
	w    *World
	rank int
}

// Run starts size ranks, each executing fn on its own goroutine. The first
// rank to return an error aborts the others; Run returns that error.
func Run(ctx context.Context, size int, fn func(c *Comm) error) error {
	if size < 1 {
		return fmt.Errorf("invalid communicator size %d", size)
	}
	g, gctx := errgroup.WithContext(ctx)
	w := newWorld(gctx, size)
	for r := 0; r < size; r++ {
		c := &Comm{w: w, rank: r}
		g.Go(func() error {
			if err := fn(c); err != nil {
				return fmt.Errorf("rank %d: %w", c.rank, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func newWorld(ctx context.Context, size int) *World {
	w := &World{
		size:  size,
		ctx:   ctx,
		bar:   newBarrier(size),
		slots: make([][]float64, size),
		mail:  make([][]chan []float64, size),
	}
	for src := range w.mail {
		w.mail[src] = make([]chan []float64, size)
		for dst := range w.mail[src] {
			w.mail[src][dst] = make(chan []float64, mailboxDepth)
		}
	}
	return w
}

// Rank returns this rank's index in [0, Size).
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks.
func (c *Comm) Size() int { return c.w.size }

// Context returns the world context; it is cancelled when any rank fails.
func (c *Comm) Context() context.Context { return c.w.ctx }

func (c *Comm) aborted() error {
	if err := c.w.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, context.Cause(c.w.ctx))
	}
	return nil
}

// Barrier blocks until every rank has entered it.
func (c *Comm) Barrier() error {
	if err := c.w.bar.wait(c.w.ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return nil
}

// AllreduceSum returns the element-wise sum of vals over all ranks. Every rank
// must pass a slice of the same length. Summation runs in rank order so the
// result is bitwise identical on every rank.
func (c *Comm) AllreduceSum(vals []float64) ([]float64, error) {
	return c.allreduce(vals, func(acc, v float64) float64 { return acc + v }, 0)
}

// AllreduceMax returns the element-wise maximum of vals over all ranks.
func (c *Comm) AllreduceMax(vals []float64) ([]float64, error) {
	return c.allreduce(vals, math.Max, math.Inf(-1))
}

func (c *Comm) allreduce(vals []float64, op func(acc, v float64) float64, init float64) ([]float64, error) {
	if err := c.aborted(); err != nil {
		return nil, err
	}
	c.w.slots[c.rank] = vals
	if err := c.Barrier(); err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i := range out {
		out[i] = init
	}
	for r := 0; r < c.w.size; r++ {
		contrib := c.w.slots[r]
		if len(contrib) != len(out) {
			return nil, fmt.Errorf("allreduce length mismatch: rank %d has %d, rank %d has %d",
				r, len(contrib), c.rank, len(out))
		}
		for i, v := range contrib {
			out[i] = op(out[i], v)
		}
	}
	// Slots must stay untouched until every rank has read them.
	if err := c.Barrier(); err != nil {
		return nil, err
	}
	return out, nil
}

// Gather collects vals from every rank on root. Non-root ranks receive nil.
func (c *Comm) Gather(root int, vals []float64) ([][]float64, error) {
	if root < 0 || root >= c.w.size {
		return nil, fmt.Errorf("gather root %d out of range", root)
	}
	if err := c.aborted(); err != nil {
		return nil, err
	}
	c.w.slots[c.rank] = vals
	if err := c.Barrier(); err != nil {
		return nil, err
	}
	var out [][]float64
	if c.rank == root {
		out = make([][]float64, c.w.size)
		for r := range out {
			out[r] = append([]float64(nil), c.w.slots[r]...)
		}
	}
	if err := c.Barrier(); err != nil {
		return nil, err
	}
	return out, nil
}

// Send delivers a copy of buf to rank dst.
func (c *Comm) Send(dst int, buf []float64) error {
	if dst < 0 || dst >= c.w.size {
		return fmt.Errorf("send destination %d out of range", dst)
	}
	msg := append([]float64(nil), buf...)
	select {
	case c.w.mail[c.rank][dst] <- msg:
		return nil
	case <-c.w.ctx.Done():
		return c.aborted()
	}
}

// Recv blocks for the next message from rank src.
func (c *Comm) Recv(src int) ([]float64, error) {
	if src < 0 || src >= c.w.size {
		return nil, fmt.Errorf("receive source %d out of range", src)
	}
	select {
	case msg := <-c.w.mail[src][c.rank]:
		return msg, nil
	case <-c.w.ctx.Done():
		return nil, c.aborted()
	}
}

// barrier is a reusable rendezvous. Each generation gets its own release
// channel so late waiters of one generation never see the next.
type barrier struct {
	mu      sync.Mutex
	n       int
	count   int
	release chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, release: make(chan struct{})}
}

func (b *barrier) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	b.mu.Lock()
	ch := b.release
	b.count++
	if b.count == b.n {
		b.count = 0
		b.release = make(chan struct{})
		close(ch)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
