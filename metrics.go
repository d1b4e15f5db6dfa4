package orcs

// metrics.go holds the per-run simulation core.  A SimContext owns every
// piece of mutable simulation state for one worker: the per-run
// accumulators of the active metric, the process-global results vector,
// the big-bucket histogram, and the global cable congestion map.  The
// context is passed through the run loop explicitly; nothing in the
// simulation lives at file scope.

import (
	"fmt"

	"github.com/iti/rngstream"
)

// Metric enumerates the supported congestion metrics.
type Metric int

const (
	MetricSumMaxCong Metric = iota
	MetricHistMaxCong
	MetricHistAccBand
	MetricGetCableCong
	MetricDepMaxDelay
)

var metricNames = map[Metric]string{
	MetricSumMaxCong:   "sum_max_cong",
	MetricHistMaxCong:  "hist_max_cong",
	MetricHistAccBand:  "hist_acc_band",
	MetricGetCableCong: "get_cable_cong",
	MetricDepMaxDelay:  "dep_max_delay",
}

func (metric Metric) String() string {
	return metricNames[metric]
}

// MetricByName maps a metric name from the command line to its tag.
func MetricByName(name string) (Metric, bool) {
	for metric, metricName := range metricNames {
		if metricName == name {
			return metric, true
		}
	}
	return 0, false
}

// ScalarPerRun reports whether the metric records one scalar per run,
// which the driver gathers at the root after the runs complete.
func (metric Metric) ScalarPerRun() bool {
	switch metric {
	case MetricSumMaxCong, MetricHistAccBand, MetricDepMaxDelay:
		return true
	}
	return false
}

// SimContext carries all simulation state of one worker.
type SimContext struct {
	Topo   *Topology
	Router *Router
	RNG    *rngstream.RngStream
	Metric Metric

	// when true, sum_max_cong accumulates level contributions across a
	// run; when false only the last level's contribution is recorded
	AccumulateLevels bool

	// per-run accumulators, reset by AccountRun
	sumMaxCong int
	runBucket  Bucket

	// process-global accumulation, reduced after the run loop
	Results    []float64
	BigBucket  Bucket
	GlobalCong *CableCongMap
}

// NewSimContext creates the simulation state for one worker.
func NewSimContext(topo *Topology, router *Router, rng *rngstream.RngStream, metric Metric) *SimContext {
	return &SimContext{
		Topo:             topo,
		Router:           router,
		RNG:              rng,
		Metric:           metric,
		AccumulateLevels: true,
		GlobalCong:       NewCableCongMap(),
	}
}

// levelCongestion routes every pair of a level and accumulates the
// per-edge usage counts.
func (sc *SimContext) levelCongestion(ptrn Pattern, names []string) *CableCongMap {
	ccm := NewCableCongMap()
	for _, pair := range ptrn {
		route := sc.Router.FindRoute(names[pair.Src], names[pair.Dst])
		ccm.AddRoute(route)
	}
	return ccm
}

// bucketMaxCongestion re-resolves every pair's route and counts, per
// max-congestion weight, how many pairs saw that weight.  The counts land
// in the supplied bucket and in the process-global big bucket.
func (sc *SimContext) bucketMaxCongestion(ccm *CableCongMap, ptrn Pattern, names []string, bucket *Bucket) error {
	for _, pair := range ptrn {
		route := sc.Router.FindRoute(names[pair.Src], names[pair.Dst])
		weight, err := ccm.MaxCongestion(route)
		if err != nil {
			return err
		}
		bucket.Incr(weight)
		sc.BigBucket.Incr(weight)
	}
	return nil
}

// RunLevel processes one pattern level of the current run under the
// context's metric.
func (sc *SimContext) RunLevel(ptrn Pattern, names []string) error {
	ccm := sc.levelCongestion(ptrn, names)

	switch sc.Metric {
	case MetricSumMaxCong:
		bucket := Bucket{}
		if err := sc.bucketMaxCongestion(ccm, ptrn, names, &bucket); err != nil {
			return err
		}
		locMax := bucket.MaxWeight()
		if sc.AccumulateLevels {
			sc.sumMaxCong += locMax
		} else {
			sc.sumMaxCong = locMax
		}

	case MetricHistMaxCong:
		bucket := Bucket{}
		if err := sc.bucketMaxCongestion(ccm, ptrn, names, &bucket); err != nil {
			return err
		}

	case MetricHistAccBand:
		if err := sc.bucketMaxCongestion(ccm, ptrn, names, &sc.runBucket); err != nil {
			return err
		}

	case MetricGetCableCong:
		sc.GlobalCong.Merge(ccm)

	default:
		return fmt.Errorf("metric %s is not level-driven", sc.Metric)
	}
	return nil
}

// AccountRun finalizes the current run, pushing the run's scalar onto the
// results vector for the scalar metrics and resetting per-run state.
func (sc *SimContext) AccountRun() {
	switch sc.Metric {
	case MetricSumMaxCong:
		sc.Results = append(sc.Results, float64(sc.sumMaxCong))
		sc.sumMaxCong = 0
	case MetricHistAccBand:
		sc.Results = append(sc.Results, sc.runBucket.AccBandwidth())
		sc.runBucket = Bucket{}
	}
}

// AccountMaxDelay records a dep_max_delay run result.
func (sc *SimContext) AccountMaxDelay(max int) {
	sc.Results = append(sc.Results, float64(max))
}
