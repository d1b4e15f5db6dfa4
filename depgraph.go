package orcs

// depgraph.go implements the dependency-graph max-delay analysis.  The
// levels of a multi-phase pattern are composed into a weighted DAG whose
// vertices are (level, rank) occurrences: each pair of a level becomes an
// edge weighted with the pair's maximum route congestion, and a rank that
// receives in one level and sends in the next contributes a zero-weight
// continuity edge.  The metric of a run is the longest weighted distance
// found by relaxing distances along a breadth-first sweep from every
// vertex.

import (
	"io"
	"math"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// RunDepMaxDelay executes one dep_max_delay run over the current namelist
// and returns the run's maximum delay.  Only ranks strictly below
// validUntil take part; the pattern must not communicate across that
// border.
func (sc *SimContext) RunDepMaxDelay(gen *PatternGen, names []string, validUntil int,
	printPtrn bool, w io.Writer) (int, error) {

	depGraph := simple.NewWeightedDirectedGraph(0, math.Inf(1))

	// destination vertices of the previous level, by rank
	prevLevelDests := map[int]graph.Node{}

	level := 0
	for {
		ptrn := gen.Level(level)
		level += 1
		if len(ptrn) == 0 {
			break
		}
		if printPtrn && w != nil {
			PrintPattern(w, ptrn, names)
		}

		thisLevelDests := map[int]graph.Node{}
		thisLevelSources := map[int]graph.Node{}

		// first step: the level's cable congestion map
		ccm := sc.levelCongestion(ptrn, names)

		// second step: one weighted edge per pair
		for _, pair := range ptrn {
			if pair.Src >= validUntil || pair.Dst >= validUntil {
				continue
			}

			route := sc.Router.FindRoute(names[pair.Src], names[pair.Dst])
			weight, err := ccm.MaxCongestion(route)
			if err != nil {
				return 0, err
			}

			srcVertex := depGraph.NewNode()
			depGraph.AddNode(srcVertex)
			dstVertex := depGraph.NewNode()
			depGraph.AddNode(dstVertex)

			thisLevelDests[pair.Dst] = dstVertex
			thisLevelSources[pair.Src] = srcVertex

			depGraph.SetWeightedEdge(depGraph.NewWeightedEdge(srcVertex, dstVertex, float64(weight)))
		}

		// a rank that was a destination in the previous level and is a
		// source now serializes the two levels: zero-weight edge
		for rank, srcVertex := range thisLevelSources {
			if prevDest, present := prevLevelDests[rank]; present {
				depGraph.SetWeightedEdge(depGraph.NewWeightedEdge(prevDest, srcVertex, 0))
			}
		}

		prevLevelDests = thisLevelDests
	}

	return longestDelay(depGraph), nil
}

// longestDelay sweeps the dependency graph from every vertex, relaxing
// distances at edge-examination time, and returns the largest distance
// seen anywhere.
func longestDelay(depGraph *simple.WeightedDirectedGraph) int {
	max := 0

	allNodes := depGraph.Nodes()
	for allNodes.Next() {
		start := allNodes.Node()

		dist := map[int64]int{}
		bfs := traverse.BreadthFirst{
			Traverse: func(e graph.Edge) bool {
				weight, _ := depGraph.Weight(e.From().ID(), e.To().ID())
				dist[e.To().ID()] = dist[e.From().ID()] + int(weight)
				return true
			},
		}
		bfs.Walk(depGraph, start, nil)

		for _, d := range dist {
			if d > max {
				max = d
			}
		}
	}
	return max
}
