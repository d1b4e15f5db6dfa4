package orcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSim(t *testing.T, fabric string, metric Metric) *SimContext {
	t.Helper()
	topo := loadFabric(t, fabric)
	router := NewRouter(topo, "")
	return NewSimContext(topo, router, NewWorkerRNG(0, 3), metric)
}

func TestMetricByName(t *testing.T) {
	for _, name := range []string{"sum_max_cong", "hist_max_cong", "hist_acc_band",
		"get_cable_cong", "dep_max_delay"} {
		metric, known := MetricByName(name)
		require.True(t, known, name)
		assert.Equal(t, name, metric.String())
	}
	_, known := MetricByName("nosuchmetric")
	assert.False(t, known)

	assert.True(t, MetricSumMaxCong.ScalarPerRun())
	assert.True(t, MetricDepMaxDelay.ScalarPerRun())
	assert.True(t, MetricHistAccBand.ScalarPerRun())
	assert.False(t, MetricHistMaxCong.ScalarPerRun())
	assert.False(t, MetricGetCableCong.ScalarPerRun())
}

// S1: bisect over the 4-host chain drives (0,1) and (2,3); the two routes
// share no edge, so the maximum congestion any pair sees is 1.
func TestSumMaxCongBisectChain(t *testing.T) {
	sc := newTestSim(t, chainFabric, MetricSumMaxCong)
	names := []string{"H1", "H2", "H3", "H4"}

	require.NoError(t, sc.RunLevel(Pattern{{0, 1}, {2, 3}}, names))
	sc.AccountRun()

	assert.Equal(t, []float64{1}, sc.Results)
}

func TestSumMaxCongGatherChain(t *testing.T) {
	sc := newTestSim(t, chainFabric, MetricSumMaxCong)
	names := []string{"H1", "H2", "H3", "H4"}

	// everything funnels into H1: S2->S1 and S1->H1 carry all three
	// routes, so every pair maxes out at 3
	require.NoError(t, sc.RunLevel(Pattern{{1, 0}, {2, 0}, {3, 0}}, names))
	sc.AccountRun()

	assert.Equal(t, []float64{3}, sc.Results)
}

func TestSumMaxCongAccumulatesLevels(t *testing.T) {
	sc := newTestSim(t, chainFabric, MetricSumMaxCong)
	names := []string{"H1", "H2", "H3", "H4"}

	require.NoError(t, sc.RunLevel(Pattern{{0, 1}, {2, 3}}, names))
	require.NoError(t, sc.RunLevel(Pattern{{1, 0}, {2, 0}, {3, 0}}, names))
	sc.AccountRun()
	assert.Equal(t, []float64{4}, sc.Results)

	// without accumulation only the last level counts
	sc = newTestSim(t, chainFabric, MetricSumMaxCong)
	sc.AccumulateLevels = false
	require.NoError(t, sc.RunLevel(Pattern{{0, 1}, {2, 3}}, names))
	require.NoError(t, sc.RunLevel(Pattern{{1, 0}, {2, 0}, {3, 0}}, names))
	sc.AccountRun()
	assert.Equal(t, []float64{3}, sc.Results)
}

func TestHistMaxCongBigBucket(t *testing.T) {
	sc := newTestSim(t, chainFabric, MetricHistMaxCong)
	names := []string{"H1", "H2", "H3", "H4"}

	require.NoError(t, sc.RunLevel(Pattern{{0, 1}, {2, 3}}, names))
	sc.AccountRun()
	require.NoError(t, sc.RunLevel(Pattern{{1, 0}, {2, 0}, {3, 0}}, names))
	sc.AccountRun()

	// two pairs at weight 1 from the first run, three at weight 3 after
	assert.Equal(t, 2, sc.BigBucket[1])
	assert.Equal(t, 3, sc.BigBucket[3])
	assert.Empty(t, sc.Results)
}

func TestHistAccBand(t *testing.T) {
	sc := newTestSim(t, chainFabric, MetricHistAccBand)
	names := []string{"H1", "H2", "H3", "H4"}

	// both pairs run at full bandwidth
	require.NoError(t, sc.RunLevel(Pattern{{0, 1}, {2, 3}}, names))
	sc.AccountRun()
	require.Equal(t, []float64{1}, sc.Results)

	// three pairs at weight 3 progress at a third each
	require.NoError(t, sc.RunLevel(Pattern{{1, 0}, {2, 0}, {3, 0}}, names))
	sc.AccountRun()
	require.Len(t, sc.Results, 2)
	assert.InDelta(t, 1.0/3.0, sc.Results[1], 1e-12)
}

func TestGetCableCong(t *testing.T) {
	sc := newTestSim(t, chainFabric, MetricGetCableCong)
	names := []string{"H1", "H2", "H3", "H4"}

	require.NoError(t, sc.RunLevel(Pattern{{0, 1}}, names))
	require.NoError(t, sc.RunLevel(Pattern{{0, 1}}, names))
	sc.AccountRun()

	// H1 -> H2 is edges 0, 5, 6; two levels accumulate to 2 each
	assert.Equal(t, 2, sc.GlobalCong.Get(0))
	assert.Equal(t, 2, sc.GlobalCong.Get(5))
	assert.Equal(t, 2, sc.GlobalCong.Get(6))
	assert.Equal(t, 0, sc.GlobalCong.Get(1))
}

func TestRunLevelRejectsNonLevelMetric(t *testing.T) {
	sc := newTestSim(t, chainFabric, MetricDepMaxDelay)
	assert.Error(t, sc.RunLevel(Pattern{{0, 1}}, []string{"H1", "H2"}))
}
