package orcs

// topo.go builds the in-memory representation of a fabric topology from
// its Graphviz dot description.  Nodes whose names start with 'H' are
// host channel adapters, every other node is a switch.  Each directed
// edge carries a 'comment' attribute naming the destination hosts that
// may egress through it; the loader assigns every edge a dense integer
// edge id that keys all congestion accounting.

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gonum.org/v1/gonum/graph/formats/dot"
	"gonum.org/v1/gonum/graph/formats/dot/ast"
)

// TopoNode is one device in the fabric, either a host (HCA) or a switch.
type TopoNode struct {
	ID   int    // dense node id, assigned in order of first appearance
	Name string
	Host bool   // name starts with 'H'
	GUID uint64 // hex suffix of the name, hosts only

	// half-open range into Topology.Edges holding this node's
	// out-edges, in declaration order
	EdgeStart int
	EdgeEnd   int
}

// TopoEdge is one directed cable in the fabric.
type TopoEdge struct {
	ID      int // dense edge id, primary key for congestion accounting
	From    int // tail node id
	To      int // head node id
	Comment string
}

// Topology is the immutable fabric description shared by every
// simulation routine in a process.
type Topology struct {
	GraphName string
	Nodes     []TopoNode
	Edges     []TopoEdge // grouped by tail node, out-edge order within a group

	nodeIDByName map[string]int
}

// NumNodes returns the number of devices in the fabric.
func (topo *Topology) NumNodes() int {
	return len(topo.Nodes)
}

// NumEdges returns the number of directed cables in the fabric.
func (topo *Topology) NumEdges() int {
	return len(topo.Edges)
}

// NumHosts returns the number of HCAs in the fabric.
func (topo *Topology) NumHosts() int {
	hosts := 0
	for _, node := range topo.Nodes {
		if node.Host {
			hosts += 1
		}
	}
	return hosts
}

// NodeByName returns the node with the given name, if present.
func (topo *Topology) NodeByName(name string) (*TopoNode, bool) {
	id, present := topo.nodeIDByName[name]
	if !present {
		return nil, false
	}
	return &topo.Nodes[id], true
}

// OutEdges returns the out-edges of a node, in declaration order.
func (topo *Topology) OutEdges(nodeID int) []TopoEdge {
	node := &topo.Nodes[nodeID]
	return topo.Edges[node.EdgeStart:node.EdgeEnd]
}

// Hostnames returns the names of all HCAs in node-iteration order.  This
// list is deterministic for a given input file and is the base pool every
// namelist is drawn from.
func (topo *Topology) Hostnames() []string {
	names := make([]string, 0, len(topo.Nodes))
	for _, node := range topo.Nodes {
		if node.Host {
			names = append(names, node.Name)
		}
	}
	return names
}

// NameToGUID converts a host name to its numeric GUID.  The leading 'H'
// is removed and the remainder read as hexadecimal; like strtoul, parsing
// stops at the first non-hex character.
func NameToGUID(name string) uint64 {
	if len(name) > 0 && name[0] == 'H' {
		name = name[1:]
	}
	var guid uint64
	for idx := 0; idx < len(name); idx++ {
		c := name[idx]
		var digit uint64
		switch {
		case '0' <= c && c <= '9':
			digit = uint64(c - '0')
		case 'a' <= c && c <= 'f':
			digit = uint64(c-'a') + 10
		case 'A' <= c && c <= 'F':
			digit = uint64(c-'A') + 10
		default:
			return guid
		}
		guid = guid*16 + digit
	}
	return guid
}

// ReadTopology creates a Topology from the named Graphviz dot file.  If the
// dict argument is non-empty the file is not read and dict is parsed
// instead; this is how non-root members of a collective group re-parse the
// broadcast byte buffer.  A filename of "-" reads stdin.
func ReadTopology(filename string, dict []byte) (*Topology, error) {
	var err error
	if len(dict) == 0 {
		if filename == "-" {
			dict, err = io.ReadAll(os.Stdin)
		} else {
			dict, err = os.ReadFile(filename)
		}
		if err != nil {
			return nil, err
		}
	}
	return parseTopology(dict)
}

// dotUnquote strips the double quotes from a quoted dot identifier and
// resolves the \" and \\ escapes the quoted form allows.
func dotUnquote(id string) string {
	if len(id) < 2 || id[0] != '"' || id[len(id)-1] != '"' {
		return id
	}
	body := id[1 : len(id)-1]
	if !strings.Contains(body, "\\") {
		return body
	}
	var bld strings.Builder
	for idx := 0; idx < len(body); idx++ {
		if body[idx] == '\\' && idx+1 < len(body) {
			idx++
		}
		bld.WriteByte(body[idx])
	}
	return bld.String()
}

// topoBuilder accumulates nodes and per-node out-edge lists while walking
// the dot syntax tree, before the edge arena is flattened.
type topoBuilder struct {
	topo     *Topology
	outEdges [][]TopoEdge // indexed by tail node id, edge ids not yet assigned
}

// internNode returns the id for a node name, creating the node on first
// appearance.  Creation order defines the node-iteration order used for
// edge-id assignment, host lists, and graph re-emission.
func (bld *topoBuilder) internNode(name string) int {
	id, present := bld.topo.nodeIDByName[name]
	if present {
		return id
	}
	id = len(bld.topo.Nodes)
	node := TopoNode{ID: id, Name: name}
	if strings.HasPrefix(name, "H") {
		node.Host = true
		node.GUID = NameToGUID(name)
	}
	bld.topo.Nodes = append(bld.topo.Nodes, node)
	bld.topo.nodeIDByName[name] = id
	bld.outEdges = append(bld.outEdges, nil)
	return id
}

func (bld *topoBuilder) addEdge(fromID, toID int, attrs []*ast.Attr) {
	edge := TopoEdge{From: fromID, To: toID}
	for _, attr := range attrs {
		if dotUnquote(attr.Key) == "comment" {
			edge.Comment = dotUnquote(attr.Val)
		}
	}
	bld.outEdges[fromID] = append(bld.outEdges[fromID], edge)
}

func vertexName(vtx ast.Vertex) (string, error) {
	node, ok := vtx.(*ast.Node)
	if !ok {
		return "", fmt.Errorf("unsupported vertex %q in topology", vtx.String())
	}
	return dotUnquote(node.ID), nil
}

// parseTopology parses the dot text and assigns edge ids by the stable
// two-level iteration: nodes in first-appearance order, out-edges of each
// node in declaration order.  Two loads of the same bytes always produce
// the same edge_id -> (src,dst) mapping.
func parseTopology(src []byte) (*Topology, error) {
	file, err := dot.ParseBytes(src)
	if err != nil {
		return nil, fmt.Errorf("topology parse failed: %w", err)
	}
	if len(file.Graphs) != 1 {
		return nil, fmt.Errorf("topology file holds %d graphs, expected exactly 1", len(file.Graphs))
	}
	agraph := file.Graphs[0]
	if !agraph.Directed {
		return nil, errors.New("topology graph must be directed")
	}

	topo := &Topology{
		GraphName:    dotUnquote(agraph.ID),
		nodeIDByName: make(map[string]int),
	}
	bld := &topoBuilder{topo: topo}

	for _, stmt := range agraph.Stmts {
		switch st := stmt.(type) {
		case *ast.NodeStmt:
			bld.internNode(dotUnquote(st.Node.ID))
		case *ast.EdgeStmt:
			// an edge statement may chain a -> b -> c; the
			// statement's attributes apply to every edge on the chain
			fromName, err := vertexName(st.From)
			if err != nil {
				return nil, err
			}
			fromID := bld.internNode(fromName)
			for to := st.To; to != nil; to = to.To {
				toName, err := vertexName(to.Vertex)
				if err != nil {
					return nil, err
				}
				toID := bld.internNode(toName)
				bld.addEdge(fromID, toID, st.Attrs)
				fromID = toID
			}
		case *ast.Attr, *ast.AttrStmt:
			// graph-level defaults carry no routing information
		default:
			return nil, fmt.Errorf("unsupported statement %q in topology", stmt.String())
		}
	}

	tagEdges(topo, bld.outEdges)
	return topo, nil
}

// tagEdges flattens the per-node out-edge lists into the edge arena and
// assigns the dense edge ids.
func tagEdges(topo *Topology, outEdges [][]TopoEdge) {
	idCnt := 0
	topo.Edges = make([]TopoEdge, 0)
	for nodeID := range topo.Nodes {
		topo.Nodes[nodeID].EdgeStart = idCnt
		for _, edge := range outEdges[nodeID] {
			edge.ID = idCnt
			idCnt += 1
			topo.Edges = append(topo.Edges, edge)
		}
		topo.Nodes[nodeID].EdgeEnd = idCnt
	}
}

// dotQuote renders an identifier in the quoted form the dot format uses.
func dotQuote(id string) string {
	var bld strings.Builder
	bld.WriteByte('"')
	for idx := 0; idx < len(id); idx++ {
		if id[idx] == '"' || id[idx] == '\\' {
			bld.WriteByte('\\')
		}
		bld.WriteByte(id[idx])
	}
	bld.WriteByte('"')
	return bld.String()
}

// WriteWithCongestion re-emits the topology in dot form, attaching to every
// edge its dense edge_id plus a congestion attribute normalized to the
// hottest cable and a color attribute holding an HSV triplet derived from
// it.  Nodes and edges appear in load order, so the emitted graph reparses
// to identical edge ids.
func (topo *Topology) WriteWithCongestion(w io.Writer, congestion *CableCongMap) error {
	maxCong := congestion.Max()
	if maxCong == 0 {
		maxCong = 1
	}

	if _, err := fmt.Fprintf(w, "digraph %s {\n", dotQuote(topo.GraphName)); err != nil {
		return err
	}
	for _, node := range topo.Nodes {
		if _, err := fmt.Fprintf(w, "\t%s;\n", dotQuote(node.Name)); err != nil {
			return err
		}
	}
	for _, edge := range topo.Edges {
		cong := float64(congestion.Get(edge.ID)) / float64(maxCong)
		hue := (1.0 - cong) * 0.4
		_, err := fmt.Fprintf(w, "\t%s -> %s [comment=%s, edge_id=\"%d\", congestion=\"%f\", color=\"%f %f %f\"];\n",
			dotQuote(topo.Nodes[edge.From].Name), dotQuote(topo.Nodes[edge.To].Name),
			dotQuote(edge.Comment), edge.ID, cong, hue, 0.9, 0.9)
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
