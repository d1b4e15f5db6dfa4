package orcs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoHosts is the smallest bidirectional fabric: two hosts on one switch.
const twoHosts = `digraph tiny {
	H1; H2;
	S;
	H1 -> S [comment="*"];
	H2 -> S [comment="*"];
	S -> H1 [comment="H1"];
	S -> H2 [comment="H2"];
}
`

func TestWriteOSMTiny(t *testing.T) {
	topo := loadFabric(t, twoHosts)

	var buf bytes.Buffer
	require.NoError(t, WriteOSM(&buf, topo))

	want := "Hca 1 \"H1\"\n" +
		"[1] \"S\"[1]\n" +
		"\n" +
		"Hca 1 \"H2\"\n" +
		"[1] \"S\"[2]\n" +
		"\n" +
		"Switch 2 \"S\"\n" +
		"[1] \"H1\"[1]\n" +
		"[2] \"H2\"[1]\n" +
		"\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteOSMChain(t *testing.T) {
	topo := loadFabric(t, chainFabric)

	var buf bytes.Buffer
	require.NoError(t, WriteOSM(&buf, topo))
	out := buf.String()

	assert.Contains(t, out, "Hca 1 \"H1\"\n")
	assert.Contains(t, out, "Switch 2 \"S1\"\n")
	assert.Contains(t, out, "Switch 3 \"S2\"\n")

	// S1's port 2 cables to S2, whose reverse edge S2->S1 sits at
	// position 2 of S2's out-edges
	assert.Contains(t, out, "[2] \"S2\"[2]\n")
}

// doubleCable wires two parallel cables between the switches; the partner
// assignment must pair all four directed edges without reuse.
const doubleCable = `digraph dbl {
	H1; H2;
	A; B;
	H1 -> A [comment="*"];
	H2 -> B [comment="*"];
	A -> H1 [comment="H1"];
	A -> B [comment="H2"];
	A -> B [comment="H2"];
	B -> H2 [comment="H2"];
	B -> A [comment="H1"];
	B -> A [comment="H1"];
}
`

func TestPartnerEdgesMultigraph(t *testing.T) {
	topo := loadFabric(t, doubleCable)

	partners, err := partnerEdges(topo)
	require.NoError(t, err)

	// every edge has a partner, no partner serves two edges
	assert.Len(t, partners, topo.NumEdges())
	seen := map[int]bool{}
	for edgeID, partnerID := range partners {
		assert.Equal(t, edgeID, partners[partnerID])
		assert.False(t, seen[partnerID])
		seen[partnerID] = true

		edge := topo.Edges[edgeID]
		partner := topo.Edges[partnerID]
		assert.Equal(t, edge.From, partner.To)
		assert.Equal(t, edge.To, partner.From)
	}
}

const missingReverse = `digraph bad {
	H1; H2;
	A; B;
	H1 -> A [comment="*"];
	A -> B [comment="H2"];
	B -> H2 [comment="H2"];
	H2 -> B [comment="*"];
	B -> A [comment="H1"];
	A -> H1 [comment="H1"];
	A -> B [comment="H2"];
}
`

func TestPartnerEdgesMissingReverse(t *testing.T) {
	topo := loadFabric(t, missingReverse)
	_, err := partnerEdges(topo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bidirectional")
}
