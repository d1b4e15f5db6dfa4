package orcs

// osm.go converts a fabric topology into the OpenSM topology format.
// InfiniBand cables are bidirectional, so every directed edge must have a
// reverse-direction partner edge; in a multigraph the pairing is not
// unique and is solved by matching each edge with the first unused
// reverse neighbor.  Port numbers are 1-based out-edge positions.

import (
	"fmt"
	"io"
)

// partnerEdges assigns every edge its reverse-direction partner and
// returns the edge-id to partner-edge-id table.
func partnerEdges(topo *Topology) (map[int]int, error) {
	partners := make(map[int]int, topo.NumEdges())

	for _, edge := range topo.Edges {
		if _, assigned := partners[edge.ID]; assigned {
			continue
		}
		partnerID := -1
		for _, candidate := range topo.OutEdges(edge.To) {
			if candidate.To != edge.From {
				continue
			}
			if _, taken := partners[candidate.ID]; !taken {
				partnerID = candidate.ID
				break
			}
		}
		if partnerID == -1 {
			tailName := topo.Nodes[edge.From].Name
			headName := topo.Nodes[edge.To].Name
			return nil, fmt.Errorf(
				"no partner edge for the edge from %s to %s: %d edges run %s -> %s but only %d run %s -> %s; cables are bidirectional, fix the input file",
				tailName, headName,
				countParallel(topo, edge.From, edge.To), tailName, headName,
				countParallel(topo, edge.To, edge.From), headName, tailName)
		}
		partners[edge.ID] = partnerID
		partners[partnerID] = edge.ID
	}
	return partners, nil
}

func countParallel(topo *Topology, from, to int) int {
	count := 0
	for _, edge := range topo.OutEdges(from) {
		if edge.To == to {
			count += 1
		}
	}
	return count
}

// remotePort returns the 1-based position of an edge's partner within the
// head node's out-edge list.
func remotePort(topo *Topology, edge TopoEdge, partners map[int]int) (int, error) {
	partnerID := partners[edge.ID]
	for pos, candidate := range topo.OutEdges(edge.To) {
		if candidate.ID == partnerID {
			return pos + 1, nil
		}
	}
	return 0, fmt.Errorf("partner edge %d not found among out-edges of %s", partnerID, topo.Nodes[edge.To].Name)
}

// WriteOSM writes the topology in the OpenSM format:
//
//	<S>      ::= (<header> <port-line>* <blank>+)+
//	<header> ::= ("Hca"|"Switch") ' ' <port-count> ' ' '"' <id> '"' '\n'
//	<port>   ::= '[' <local-port> ']' ' ' '"' <remote-id> '"' '[' <remote-port> ']' '\n'
//
// Note there is no whitespace between the remote id and the remote port;
// the OpenSM parser rejects it.
func WriteOSM(w io.Writer, topo *Topology) error {
	partners, err := partnerEdges(topo)
	if err != nil {
		return err
	}

	for _, node := range topo.Nodes {
		kind := "Switch"
		if node.Host {
			kind = "Hca"
		}
		outEdges := topo.OutEdges(node.ID)
		if _, err := fmt.Fprintf(w, "%s %d \"%s\"\n", kind, len(outEdges), node.Name); err != nil {
			return err
		}
		for pos, edge := range outEdges {
			port, err := remotePort(topo, edge, partners)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "[%d] \"%s\"[%d]\n", pos+1, topo.Nodes[edge.To].Name, port); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
