package orcs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpCfgYAMLRoundTrip(t *testing.T) {
	cfg := &ExpCfg{
		Input:        "fabric.dot",
		Output:       "-",
		Commsize:     16,
		PartCommsize: 4,
		Ptrn:         "ptrnvsptrn",
		Ptrnarg:      "bisect::gather",
		Subset:       SubsetLinearBFS,
		Metric:       "sum_max_cong",
		NumRuns:      50,
		PtrnLevel:    -1,
		Seed:         42,
	}

	filename := filepath.Join(t.TempDir(), "exp.yaml")
	require.NoError(t, cfg.WriteToFile(filename))

	back, err := ReadExpCfg(filename, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestExpCfgJSONRoundTrip(t *testing.T) {
	cfg := &ExpCfg{Input: "fabric.dot", Ptrn: "rand", NumRuns: 5}

	filename := filepath.Join(t.TempDir(), "exp.json")
	require.NoError(t, cfg.WriteToFile(filename))

	back, err := ReadExpCfg(filename, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestReadExpCfgFromBytes(t *testing.T) {
	cfg, err := ReadExpCfg("inline.yaml", []byte("ptrn: bruck\ncommsize: 8\n"))
	require.NoError(t, err)
	assert.Equal(t, "bruck", cfg.Ptrn)
	assert.Equal(t, 8, cfg.Commsize)
}

func TestReadExpCfgMissingFile(t *testing.T) {
	_, err := ReadExpCfg(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}
