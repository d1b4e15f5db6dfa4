package orcs

// namelist.go selects the working subset of hosts a simulation runs over
// and maintains its order across runs.  A namelist is an ordered list of
// host names; the index of a name is the logical rank it plays in every
// generated pattern.

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/iti/rngstream"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// subset selection methods
const (
	SubsetRand         = "rand"
	SubsetLinearBFS    = "linear_bfs"
	SubsetGUIDOrderAsc = "guid_order_asc"
	SubsetGUIDOrderDsc = "guid_order_desc"
)

// SubsetMethods lists the recognized subset selection methods.
var SubsetMethods = []string{SubsetRand, SubsetLinearBFS, SubsetGUIDOrderAsc, SubsetGUIDOrderDsc}

// GuidsFromNames converts a namelist into the corresponding numeric GUIDs.
func GuidsFromNames(names []string) []uint64 {
	guids := make([]uint64, len(names))
	for idx, name := range names {
		guids[idx] = NameToGUID(name)
	}
	return guids
}

// NamesFromGuids returns the hosts of the pool matching the GUID list, in
// GUID-list order.  GUIDs with no matching host are silently dropped;
// every pool entry is consumed at most once.
func NamesFromGuids(guids []uint64, pool []string) []string {
	poolGuids := GuidsFromNames(pool)
	used := make([]bool, len(pool))
	names := []string{}
	for _, guid := range guids {
		for idx := range pool {
			if !used[idx] && poolGuids[idx] == guid {
				names = append(names, pool[idx])
				used[idx] = true
				break
			}
		}
	}
	return names
}

// Node and From let a Topology act as a gonum graph so the traversal
// algorithms can run against the edge arena directly.  From iterates the
// out-edge heads in out-edge order, which keeps every traversal
// deterministic for a fixed input file.
func (topo *Topology) Node(id int64) graph.Node {
	if id < 0 || int(id) >= len(topo.Nodes) {
		return nil
	}
	return simple.Node(id)
}

// AllNodes returns all devices in node-iteration order.
func (topo *Topology) AllNodes() graph.Nodes {
	nodes := make([]graph.Node, len(topo.Nodes))
	for idx := range topo.Nodes {
		nodes[idx] = simple.Node(idx)
	}
	return iterator.NewOrderedNodes(nodes)
}

// From returns the heads of a node's out-edges, in out-edge order.
func (topo *Topology) From(id int64) graph.Nodes {
	heads := []graph.Node{}
	for _, edge := range topo.OutEdges(int(id)) {
		heads = append(heads, simple.Node(edge.To))
	}
	return iterator.NewOrderedNodes(heads)
}

// Edge returns an edge from uid to vid if one exists.
func (topo *Topology) Edge(uid, vid int64) graph.Edge {
	for _, edge := range topo.OutEdges(int(uid)) {
		if int64(edge.To) == vid {
			return simple.Edge{F: simple.Node(uid), T: simple.Node(vid)}
		}
	}
	return nil
}

// generateRandomNamelist draws comm_size hosts from the pool uniformly
// without replacement.
func generateRandomNamelist(pool []string, commSize int, rng *rngstream.RngStream) []string {
	namelist := []string{}
	taken := make([]bool, len(pool))

	for counter := 1; counter <= commSize; counter++ {
		draw := randInt(rng, len(pool)-counter)
		pos := 0
		for {
			if !taken[pos] {
				if draw == 0 {
					taken[pos] = true
					if len(namelist) < commSize {
						namelist = append(namelist, pool[pos])
					}
					break
				}
				draw -= 1
			}
			pos += 1
		}
	}
	return namelist
}

// generateLinearNamelistBFS walks the fabric breadth-first from the first
// graph node and emits hosts in discovery order.
func generateLinearNamelistBFS(topo *Topology, commSize int) []string {
	namelist := []string{}
	if topo.NumNodes() == 0 {
		return namelist
	}

	bfs := traverse.BreadthFirst{}
	bfs.Walk(topo, topo.Node(0), func(n graph.Node, _ int) bool {
		node := &topo.Nodes[n.ID()]
		if node.Host && len(namelist) < commSize {
			namelist = append(namelist, node.Name)
		}
		return false
	})
	return namelist
}

// generateGUIDOrderNamelist sorts the pool by numeric GUID and takes the
// first comm_size entries.
func generateGUIDOrderNamelist(pool []string, commSize int, asc bool) []string {
	sorted := make([]string, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool {
		gi, gj := NameToGUID(sorted[i]), NameToGUID(sorted[j])
		if asc {
			return gi < gj
		}
		return gi > gj
	})

	if commSize > len(sorted) {
		commSize = len(sorted)
	}
	return sorted[:commSize]
}

// GenerateNamelistByName builds a namelist of comm_size hosts with the
// named subset method.  The pool defaults to the topology's host list in
// node-iteration order; a non-nil pool restricts and reorders the
// candidates (used for partition sub-selection).
func GenerateNamelistByName(method string, topo *Topology, commSize int,
	pool []string, rng *rngstream.RngStream) ([]string, error) {

	if pool == nil {
		pool = topo.Hostnames()
	}
	if commSize > len(pool) {
		return nil, fmt.Errorf("requested %d hosts but only %d available", commSize, len(pool))
	}

	switch method {
	case SubsetRand:
		return generateRandomNamelist(pool, commSize, rng), nil
	case SubsetLinearBFS:
		inPool := map[string]bool{}
		for _, name := range pool {
			inPool[name] = true
		}
		namelist := []string{}
		for _, name := range generateLinearNamelistBFS(topo, topo.NumHosts()) {
			if inPool[name] && len(namelist) < commSize {
				namelist = append(namelist, name)
			}
		}
		return namelist, nil
	case SubsetGUIDOrderAsc:
		return generateGUIDOrderNamelist(pool, commSize, true), nil
	case SubsetGUIDOrderDsc:
		return generateGUIDOrderNamelist(pool, commSize, false), nil
	}
	return nil, fmt.Errorf("unknown subset selection method %s", method)
}

// NameList is the per-run working set of hosts.  The first Fixed entries,
// the node-order pins and the partitioned sub-communicator, keep their
// position; only the tail takes part in the between-runs shuffle.
type NameList struct {
	Names []string
	Fixed int
}

// Size returns the number of participating hosts.
func (nl *NameList) Size() int {
	return len(nl.Names)
}

// Shuffle permutes the working portion of the namelist in place.
func (nl *NameList) Shuffle(rng *rngstream.RngStream) {
	tail := nl.Names[nl.Fixed:]
	if len(tail) < 2 {
		return
	}

	taken := make([]bool, len(tail))
	shuffled := make([]string, 0, len(tail))
	for counter := 1; counter <= len(tail); counter++ {
		draw := randInt(rng, len(tail)-counter)
		pos := 0
		for {
			if !taken[pos] {
				if draw == 0 {
					taken[pos] = true
					shuffled = append(shuffled, tail[pos])
					break
				}
				draw -= 1
			}
			pos += 1
		}
	}
	copy(tail, shuffled)
}

// ApplyNodeOrder moves the hosts named by the GUID list, in list order, to
// the front of the namelist and pins them there.  GUIDs not present in
// the namelist are dropped.
func (nl *NameList) ApplyNodeOrder(guids []uint64) {
	ordered := NamesFromGuids(guids, nl.Names)
	if len(ordered) == 0 {
		return
	}

	pinned := map[string]bool{}
	for _, name := range ordered {
		pinned[name] = true
	}
	rest := []string{}
	stillFixed := 0
	for idx, name := range nl.Names {
		if !pinned[name] {
			rest = append(rest, name)
			if idx < nl.Fixed {
				stillFixed += 1
			}
		}
	}
	nl.Names = append(ordered, rest...)
	nl.Fixed = len(ordered) + stillFixed
}

// ReadNodeOrdering parses a node-ordering file: one hexadecimal GUID per
// line with an optional 0x prefix, '#' starting a comment, blank lines
// ignored.  A filename of "-" yields an empty list.
func ReadNodeOrdering(filename string) ([]uint64, error) {
	if filename == "" || filename == "-" {
		return nil, nil
	}
	fd, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("could not open node ordering file %s: %w", filename, err)
	}
	defer fd.Close()
	return parseNodeOrdering(fd, filename)
}

func parseNodeOrdering(r io.Reader, filename string) ([]uint64, error) {
	guids := []uint64{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		body := strings.TrimPrefix(strings.TrimPrefix(line, "0x"), "0X")
		guid, err := strconv.ParseUint(body, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("error when reading from file %s: GUID %q is not a valid hex number", filename, line)
		}
		guids = append(guids, guid)
	}
	return guids, scanner.Err()
}

// PrintNamelist dumps the namelist in rank order.
func PrintNamelist(w io.Writer, names []string) {
	fmt.Fprintf(w, "\n\nUsed subset of nodes: \n=================")
	if len(names) == 0 {
		fmt.Fprintf(w, " namelist empty! ============\n")
		return
	}
	for _, name := range names {
		fmt.Fprintf(w, "\n%s", name)
	}
	fmt.Fprintf(w, "\n===============\n\n")
}
