package comm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAllreduceSumIsIdenticalOnEveryRank(t *testing.T) {
	const size = 5
	results := make([][]float64, size)
	err := Run(context.Background(), size, func(c *Comm) error {
		r := float64(c.Rank())
		out, err := c.AllreduceSum([]float64{r, 1, 0.1 * r})
		if err != nil {
			return err
		}
		results[c.Rank()] = out
		return nil
	})
	require.NoError(t, err)
	for r := 0; r < size; r++ {
		assert.Equal(t, results[0], results[r], "rank %d", r)
	}
	assert.Equal(t, 10.0, results[0][0])
	assert.Equal(t, 5.0, results[0][1])
	assert.InDelta(t, 1.0, results[0][2], 1e-15)
}

func TestAllreduceMax(t *testing.T) {
	var mu sync.Mutex
	var got []float64
	err := Run(context.Background(), 4, func(c *Comm) error {
		out, err := c.AllreduceMax([]float64{float64(c.Rank()), -float64(c.Rank())})
		if err != nil {
			return err
		}
		mu.Lock()
		got = out
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 0}, got)
}

func TestRepeatedReductionsDoNotInterleave(t *testing.T) {
	const size, rounds = 3, 200
	err := Run(context.Background(), size, func(c *Comm) error {
		for i := 0; i < rounds; i++ {
			out, err := c.AllreduceSum([]float64{float64(i)})
			if err != nil {
				return err
			}
			if out[0] != float64(size*i) {
				return errors.New("reduction mixed generations")
			}
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestSendRecvRing(t *testing.T) {
	const size = 4
	got := make([]float64, size)
	err := Run(context.Background(), size, func(c *Comm) error {
		next := (c.Rank() + 1) % size
		prev := (c.Rank() + size - 1) % size
		for round := 0; round < 3; round++ {
			if err := c.Send(next, []float64{float64(c.Rank()*10 + round)}); err != nil {
				return err
			}
			msg, err := c.Recv(prev)
			if err != nil {
				return err
			}
			got[c.Rank()] = msg[0]
		}
		return nil
	})
	require.NoError(t, err)
	for r := 0; r < size; r++ {
		prev := (r + size - 1) % size
		assert.Equal(t, float64(prev*10+2), got[r])
	}
}

func TestGather(t *testing.T) {
	var rows [][]float64
	err := Run(context.Background(), 3, func(c *Comm) error {
		vals := make([]float64, c.Rank()+1)
		for i := range vals {
			vals[i] = float64(c.Rank())
		}
		out, err := c.Gather(0, vals)
		if err != nil {
			return err
		}
		if c.Rank() == 0 {
			rows = out
		} else if out != nil {
			return errors.New("non-root received gather output")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0}, {1, 1}, {2, 2, 2}}, rows)
}

func TestFailureAbortsWaitingRanks(t *testing.T) {
	boom := errors.New("boom")
	var mu sync.Mutex
	var aborted int
	err := Run(context.Background(), 4, func(c *Comm) error {
		if c.Rank() == 2 {
			return boom
		}
		_, err := c.AllreduceSum([]float64{1})
		if errors.Is(err, ErrAborted) {
			mu.Lock()
			aborted++
			mu.Unlock()
		}
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, aborted)
}

func TestRunRejectsEmptyWorld(t *testing.T) {
	err := Run(context.Background(), 0, func(c *Comm) error { return nil })
	assert.Error(t, err)
}
