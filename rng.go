package orcs

// rng.go holds the random number plumbing.  Every worker owns one
// independent rngstream generator; all random draws in the simulation
// (namelist sampling, per-run shuffles, random patterns, route-quality
// sampling) pull from that single stream, so a worker's results are
// reproducible from its rank and the user seed alone.

import (
	"fmt"

	"github.com/iti/rngstream"
)

// NewWorkerRNG creates the random stream for a worker.  Streams are named
// by rank and seed, so distinct workers draw from distinct streams and a
// rerun with the same (rank, seed) replays the same draws.
func NewWorkerRNG(rank int, seed int64) *rngstream.RngStream {
	return rngstream.New(fmt.Sprintf("orcs-%d-%d", seed, rank))
}

// randInt draws a uniform integer in [0, n], matching the inclusive-range
// convention the sampling loops are written against.
func randInt(rng *rngstream.RngStream, n int) int {
	if n <= 0 {
		return 0
	}
	draw := int(rng.RandU01() * float64(n+1))
	if draw > n {
		draw = n
	}
	return draw
}
