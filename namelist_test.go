package orcs

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuidsFromNames(t *testing.T) {
	guids := GuidsFromNames([]string{"H1", "Hff", "H10"})
	assert.Equal(t, []uint64{0x1, 0xff, 0x10}, guids)
}

func TestNamesFromGuids(t *testing.T) {
	pool := []string{"H1", "H2", "H3", "H4"}
	names := NamesFromGuids([]uint64{0x3, 0x1}, pool)
	assert.Equal(t, []string{"H3", "H1"}, names)

	// unknown GUIDs are silently dropped
	names = NamesFromGuids([]uint64{0x9, 0x2}, pool)
	assert.Equal(t, []string{"H2"}, names)
}

func TestGenerateRandomNamelist(t *testing.T) {
	topo := loadFabric(t, chainFabric)
	rng := NewWorkerRNG(0, 11)

	names, err := GenerateNamelistByName(SubsetRand, topo, 3, nil, rng)
	require.NoError(t, err)
	require.Len(t, names, 3)

	seen := map[string]bool{}
	for _, name := range names {
		assert.True(t, strings.HasPrefix(name, "H"))
		assert.False(t, seen[name])
		seen[name] = true
	}

	// asking for more hosts than exist fails
	_, err = GenerateNamelistByName(SubsetRand, topo, 5, nil, rng)
	assert.Error(t, err)
}

func TestGenerateLinearNamelistBFS(t *testing.T) {
	topo := loadFabric(t, chainFabric)
	rng := NewWorkerRNG(0, 11)

	// breadth-first from H1 discovers the hosts down the chain in order
	names, err := GenerateNamelistByName(SubsetLinearBFS, topo, 4, nil, rng)
	require.NoError(t, err)
	assert.Equal(t, []string{"H1", "H2", "H3", "H4"}, names)

	names, err = GenerateNamelistByName(SubsetLinearBFS, topo, 2, nil, rng)
	require.NoError(t, err)
	assert.Equal(t, []string{"H1", "H2"}, names)
}

func TestGenerateGUIDOrderNamelist(t *testing.T) {
	topo := loadFabric(t, chainFabric)
	rng := NewWorkerRNG(0, 11)

	asc, err := GenerateNamelistByName(SubsetGUIDOrderAsc, topo, 4, nil, rng)
	require.NoError(t, err)
	assert.Equal(t, []string{"H1", "H2", "H3", "H4"}, asc)

	desc, err := GenerateNamelistByName(SubsetGUIDOrderDsc, topo, 3, nil, rng)
	require.NoError(t, err)
	assert.Equal(t, []string{"H4", "H3", "H2"}, desc)

	// a pool restricts the candidates
	fromPool, err := GenerateNamelistByName(SubsetGUIDOrderAsc, topo, 2, []string{"H4", "H2"}, rng)
	require.NoError(t, err)
	assert.Equal(t, []string{"H2", "H4"}, fromPool)
}

func TestUnknownSubsetMethod(t *testing.T) {
	topo := loadFabric(t, chainFabric)
	_, err := GenerateNamelistByName("alphabetical", topo, 4, nil, NewWorkerRNG(0, 1))
	assert.Error(t, err)
}

func TestShufflePreservesFixedPrefix(t *testing.T) {
	rng := NewWorkerRNG(0, 5)
	namelist := &NameList{
		Names: []string{"H1", "H2", "H3", "H4", "H5", "H6", "H7", "H8"},
		Fixed: 3,
	}

	original := append([]string{}, namelist.Names...)
	moved := false
	for trial := 0; trial < 20; trial++ {
		namelist.Shuffle(rng)

		assert.Equal(t, original[:3], namelist.Names[:3])

		gotTail := append([]string{}, namelist.Names[3:]...)
		wantTail := append([]string{}, original[3:]...)
		sort.Strings(gotTail)
		sort.Strings(wantTail)
		assert.Equal(t, wantTail, gotTail)

		for idx := 3; idx < len(original); idx++ {
			if namelist.Names[idx] != original[idx] {
				moved = true
			}
		}
	}
	assert.True(t, moved, "shuffle never changed the working portion")
}

func TestApplyNodeOrder(t *testing.T) {
	namelist := &NameList{Names: []string{"H1", "H2", "H3", "H4"}}
	namelist.ApplyNodeOrder([]uint64{0x3, 0x2, 0x99})

	assert.Equal(t, []string{"H3", "H2", "H1", "H4"}, namelist.Names)
	assert.Equal(t, 2, namelist.Fixed)

	// an empty order changes nothing
	namelist = &NameList{Names: []string{"H1", "H2"}}
	namelist.ApplyNodeOrder(nil)
	assert.Equal(t, []string{"H1", "H2"}, namelist.Names)
	assert.Equal(t, 0, namelist.Fixed)
}

func TestParseNodeOrdering(t *testing.T) {
	input := strings.NewReader(`# pinned hosts
0x1a

2b  # trailing comment
0X3C
`)
	guids, err := parseNodeOrdering(input, "order.txt")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x1a, 0x2b, 0x3c}, guids)

	_, err = parseNodeOrdering(strings.NewReader("notahexnumber\n"), "order.txt")
	assert.Error(t, err)
}

func TestReadNodeOrderingDash(t *testing.T) {
	guids, err := ReadNodeOrdering("-")
	require.NoError(t, err)
	assert.Empty(t, guids)
}

func TestPrintNamelist(t *testing.T) {
	var buf bytes.Buffer
	PrintNamelist(&buf, []string{"H1", "H2"})
	assert.Contains(t, buf.String(), "H1")
	assert.Contains(t, buf.String(), "Used subset of nodes")

	buf.Reset()
	PrintNamelist(&buf, nil)
	assert.Contains(t, buf.String(), "namelist empty!")
}
