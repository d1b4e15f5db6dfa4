package orcs

// route.go implements the deterministic source-routed path oracle.  A
// route is resolved by walking the graph from the source host, at every
// device taking the first out-edge whose comment names the destination
// host, until the destination is reached.  The walk is stateless: the
// same (src,dst) pair always yields the same edge-id sequence for an
// unchanged topology.

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Route is the ordered list of edge ids traversed from a source host to
// a destination host.
type Route []int

// ContainsTarget checks whether target appears in the comma- or
// whitespace-separated destination list of an edge comment.  A comment of
// "*" matches any target.
func ContainsTarget(comment, target string) bool {
	if comment == "*" {
		return true
	}
	for _, token := range strings.FieldsFunc(comment, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}) {
		if token == target {
			return true
		}
	}
	return false
}

// Router resolves routes against a fixed topology.  Routing loops are
// soft errors: the offending pair is appended to a side log and the pair
// contributes an empty route.
type Router struct {
	topo *Topology

	// loop log sink, append-only, one "src -> dst" line per loop
	loopLogName string

	// counters exposed for diagnostics
	Loops        int
	MissingRoute int
}

// NewRouter creates a Router writing loop reports to the named file.  An
// empty name suppresses the side log.
func NewRouter(topo *Topology, loopLogName string) *Router {
	return &Router{topo: topo, loopLogName: loopLogName}
}

func (rtr *Router) logLoop(src, dst string) {
	rtr.Loops += 1
	logrus.Warnf("routing loop on route %s -> %s", src, dst)
	if rtr.loopLogName == "" {
		return
	}
	fd, err := os.OpenFile(rtr.loopLogName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logrus.Errorf("cannot open loop log %s: %v", rtr.loopLogName, err)
		return
	}
	fmt.Fprintf(fd, "%s -> %s\n", src, dst)
	fd.Close()
}

// FindRoute returns the list of edge ids used for communication from the
// host named src to the host named dst.  A routing loop yields an empty
// route; a device with no matching out-edge truncates the route at the
// prefix built so far.  Both are soft errors and the simulation carries on.
func (rtr *Router) FindRoute(src, dst string) Route {
	route := Route{}

	start, okS := rtr.topo.NodeByName(src)
	dest, okD := rtr.topo.NodeByName(dst)
	if !okS || !okD {
		logrus.Warnf("did not find one of the hosts %s and %s", src, dst)
		return route
	}

	visited := map[string]bool{}
	here := start
	for here.ID != dest.ID {
		matched := false
		for _, edge := range rtr.topo.OutEdges(here.ID) {
			if !ContainsTarget(edge.Comment, dst) {
				continue
			}
			head := &rtr.topo.Nodes[edge.To]
			if visited[head.Name] {
				// revisiting a node means the routing
				// tables chase their own tail
				rtr.logLoop(src, dst)
				return Route{}
			}
			visited[head.Name] = true
			route = append(route, edge.ID)
			here = head
			matched = true
			break
		}
		if !matched {
			rtr.MissingRoute += 1
			logrus.Warnf("there seems to be no route from %s to %s", src, dst)
			break
		}
	}
	return route
}

// CableCongMap counts, per edge id, how many of the currently accumulated
// routes traverse that edge.
type CableCongMap struct {
	cong map[int]int
}

// NewCableCongMap creates an empty congestion map.
func NewCableCongMap() *CableCongMap {
	return &CableCongMap{cong: make(map[int]int)}
}

// AddRoute increments the count of every edge the route traverses.
func (ccm *CableCongMap) AddRoute(route Route) {
	for _, edgeID := range route {
		ccm.cong[edgeID] += 1
	}
}

// Incr adds delta to the count of a key.  The route-quality analysis
// reuses the map as a generic dense-keyed integer histogram.
func (ccm *CableCongMap) Incr(key, delta int) {
	ccm.cong[key] += delta
}

// Set overwrites the count of a key.
func (ccm *CableCongMap) Set(key, val int) {
	ccm.cong[key] = val
}

// Items returns the live key to count mapping.
func (ccm *CableCongMap) Items() map[int]int {
	return ccm.cong
}

// Get returns the congestion recorded for an edge id, zero if untouched.
func (ccm *CableCongMap) Get(edgeID int) int {
	return ccm.cong[edgeID]
}

// Len returns the number of touched edges.
func (ccm *CableCongMap) Len() int {
	return len(ccm.cong)
}

// Max returns the highest congestion value in the map.
func (ccm *CableCongMap) Max() int {
	max := 0
	for _, cong := range ccm.cong {
		if cong > max {
			max = cong
		}
	}
	return max
}

// MaxKey returns the largest touched edge id, -1 when the map is empty.
func (ccm *CableCongMap) MaxKey() int {
	maxKey := -1
	for edgeID := range ccm.cong {
		if edgeID > maxKey {
			maxKey = edgeID
		}
	}
	return maxKey
}

// Merge adds the counts of another congestion map into this one.
func (ccm *CableCongMap) Merge(other *CableCongMap) {
	for edgeID, cong := range other.cong {
		ccm.cong[edgeID] += cong
	}
}

// ToDense flattens the map into an integer array of the given length,
// the encoding the collective reduction ships between workers.
func (ccm *CableCongMap) ToDense(size int) []int {
	field := make([]int, size)
	for edgeID, cong := range ccm.cong {
		if edgeID < size {
			field[edgeID] = cong
		}
	}
	return field
}

// SetFromDense reinserts the non-zero entries of a dense array.
func (ccm *CableCongMap) SetFromDense(field []int) {
	for edgeID, cong := range field {
		if cong != 0 {
			ccm.cong[edgeID] = cong
		}
	}
}

// MaxCongestion returns the maximum congestion over the edges of a route.
// Every edge of the route must have been accumulated into the map first.
func (ccm *CableCongMap) MaxCongestion(route Route) (int, error) {
	weight := 0
	for _, edgeID := range route {
		cong, present := ccm.cong[edgeID]
		if !present {
			return 0, fmt.Errorf("route contains edge %d not present in congestion map", edgeID)
		}
		if cong > weight {
			weight = cong
		}
	}
	return weight, nil
}

// InteriorMaxCongestion is MaxCongestion restricted to the interior of the
// route: the first and last edge, the host uplinks, are not evaluated.
func (ccm *CableCongMap) InteriorMaxCongestion(route Route) int {
	weight := 0
	for idx := 1; idx+1 < len(route); idx++ {
		if cong := ccm.cong[route[idx]]; cong > weight {
			weight = cong
		}
	}
	return weight
}
