package orcs

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()
	return addr
}

func TestSingleMemberGroup(t *testing.T) {
	comm, err := InitComm(0, 1, "", time.Second)
	require.NoError(t, err)
	defer comm.Close()

	assert.True(t, comm.Root())
	assert.Equal(t, 1, comm.Size())

	buf := []byte("payload")
	require.NoError(t, comm.BroadcastBytes(&buf))
	assert.Equal(t, []byte("payload"), buf)

	gathered, err := comm.GatherFloat64s([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, gathered)

	max, err := comm.AllreduceMaxInt(7)
	require.NoError(t, err)
	assert.Equal(t, 7, max)
}

func TestInitCommBadArguments(t *testing.T) {
	_, err := InitComm(0, 0, "", time.Second)
	assert.Error(t, err)
	_, err = InitComm(3, 2, "", time.Second)
	assert.Error(t, err)
}

// groupResult carries one member's view of the collective exchanges.
type groupResult struct {
	topoBytes []byte
	gathered  []float64
	max       int
	summed    []int
	congItems map[int]int
	err       error
}

func TestCollectiveGroup(t *testing.T) {
	const size = 3
	addr := freeAddr(t)

	var wg sync.WaitGroup
	results := make([]groupResult, size)

	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			res := &results[rank]

			comm, err := InitComm(rank, size, addr, 10*time.Second)
			if err != nil {
				res.err = err
				return
			}
			defer comm.Close()

			// broadcast: only the root holds the payload
			var buf []byte
			if comm.Root() {
				buf = []byte("digraph g {}")
			}
			if res.err = comm.BroadcastBytes(&buf); res.err != nil {
				return
			}
			res.topoBytes = buf

			// gather: every rank contributes two run results
			local := []float64{float64(rank * 10), float64(rank*10 + 1)}
			res.gathered, res.err = comm.GatherFloat64s(local)
			if res.err != nil {
				return
			}

			// allreduce max
			res.max, res.err = comm.AllreduceMaxInt(rank * 5)
			if res.err != nil {
				return
			}

			// allreduce sum
			res.summed, res.err = comm.AllreduceSumInts([]int{rank, 1, 0})
			if res.err != nil {
				return
			}

			// dense-map allreduce
			ccm := NewCableCongMap()
			ccm.Set(rank, rank+1)
			ccm.Set(4, 1)
			if res.err = comm.AllreduceCongMap(ccm); res.err != nil {
				return
			}
			res.congItems = ccm.Items()
		}(rank)
	}
	wg.Wait()

	for rank := 0; rank < size; rank++ {
		require.NoError(t, results[rank].err, "rank %d", rank)
	}

	// everybody received the root's bytes
	for rank := 0; rank < size; rank++ {
		assert.Equal(t, []byte("digraph g {}"), results[rank].topoBytes)
	}

	// gather produced the rank-major order at the root only
	assert.Equal(t, []float64{0, 1, 10, 11, 20, 21}, results[0].gathered)
	assert.Nil(t, results[1].gathered)
	assert.Nil(t, results[2].gathered)

	// the reductions arrived everywhere
	for rank := 0; rank < size; rank++ {
		assert.Equal(t, 10, results[rank].max, "rank %d", rank)
		assert.Equal(t, []int{3, 3, 0}, results[rank].summed, "rank %d", rank)
		assert.Equal(t, map[int]int{0: 1, 1: 2, 2: 3, 4: 3}, results[rank].congItems, "rank %d", rank)
	}
}

// Splitting a run set across workers and reducing the buckets gives the
// same big bucket a single sequential process produces.
func TestReductionAssociativity(t *testing.T) {
	runWeights := [][]int{{1, 1, 3}, {2, 2}, {3, 1}, {1}}

	sequential := Bucket{}
	for _, run := range runWeights {
		for _, weight := range run {
			sequential.Incr(weight)
		}
	}

	for _, split := range []int{1, 2, 3} {
		workerA := Bucket{}
		for _, run := range runWeights[:split] {
			for _, weight := range run {
				workerA.Incr(weight)
			}
		}
		workerB := Bucket{}
		for _, run := range runWeights[split:] {
			for _, weight := range run {
				workerB.Incr(weight)
			}
		}

		merged := Bucket{}
		merged.Merge(workerA)
		merged.Merge(workerB)

		for weight := range sequential {
			assert.Equal(t, sequential[weight], merged[weight],
				fmt.Sprintf("split %d weight %d", split, weight))
		}
	}
}
