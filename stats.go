package orcs

// stats.go accumulates and reports the statistics a simulation produces:
// the per-run scalar results vector, the weight-indexed buckets, and the
// report forms printed at the root after the global reduction.

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Bucket is a dense weight-indexed histogram: the value at index w counts
// the pairs whose maximally congested edge had weight w.
type Bucket []int

// Incr counts one occurrence of a weight, growing the bucket as needed.
func (b *Bucket) Incr(weight int) {
	if len(*b) < weight+1 {
		grown := make(Bucket, weight+10)
		copy(grown, *b)
		*b = grown
	}
	(*b)[weight] += 1
}

// MaxWeight returns the largest weight with a non-zero count.
func (b Bucket) MaxWeight() int {
	max := 0
	for weight, count := range b {
		if count > 0 {
			max = weight
		}
	}
	return max
}

// Merge adds another bucket's counts element-wise, growing as needed.
func (b *Bucket) Merge(other []int) {
	if len(*b) < len(other) {
		grown := make(Bucket, len(other))
		copy(grown, *b)
		*b = grown
	}
	for weight, count := range other {
		(*b)[weight] += count
	}
}

// Sum returns the total number of counted occurrences.
func (b Bucket) Sum() int {
	sum := 0
	for _, count := range b {
		sum += count
	}
	return sum
}

// AccBandwidth derives the accumulated-bandwidth fraction of a bucket:
// a pair whose bottleneck carries weight w progresses at rate 1/w, so the
// aggregate is sum(count[w]/w) normalized by the number of pairs.
func (b Bucket) AccBandwidth() float64 {
	var sum, res float64
	for weight := 1; weight < len(b); weight++ {
		if b[weight] > 0 {
			sum += float64(b[weight])
			res += float64(b[weight]) / float64(weight)
		}
	}
	if sum == 0 {
		return 0
	}
	return res / sum
}

// popVariance is the population variance the report quotes (the results
// vector is the full population of runs, not a sample).
func popVariance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.Variance(xs, nil) * float64(len(xs)-1) / float64(len(xs))
}

func minMax(xs []float64) (float64, float64) {
	min, max := 99999999.0, 0.0
	for _, x := range xs {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return min, max
}

// PrintStatisticsMaxCongestions reports the run vector of the
// sum_max_cong metric.
func PrintStatisticsMaxCongestions(w io.Writer, results []float64) {
	min, max := minMax(results)
	fmt.Fprintf(w, "Statistical Results\n")
	fmt.Fprintf(w, "===================\n\n")
	fmt.Fprintf(w, "Minimal Maximal Congestion: %f\n", min)
	fmt.Fprintf(w, "Maximal Maximal Congestion: %f\n", max)
	fmt.Fprintf(w, "Average Maximal Congestion: %f\n", stat.Mean(results, nil))
	fmt.Fprintf(w, "Maximal Congestion Variance: %f\n", popVariance(results))
	fmt.Fprintf(w, "===================\n\n")
	printRawData(w, results, "Congestion sum of")
}

// PrintStatisticsMaxDelay reports the run vector of the dep_max_delay
// metric.
func PrintStatisticsMaxDelay(w io.Writer, results []float64) {
	min, max := minMax(results)
	fmt.Fprintf(w, "Statistical Results\n")
	fmt.Fprintf(w, "===================\n\n")
	fmt.Fprintf(w, "Minimal Delay: %f\n", min)
	fmt.Fprintf(w, "Maximal Delay: %f\n", max)
	fmt.Fprintf(w, "Average Delay: %f\n", stat.Mean(results, nil))
	fmt.Fprintf(w, "Delay Variance: %f\n", popVariance(results))
	fmt.Fprintf(w, "===================\n\n")
	printRawData(w, results, "Delay of")
}

// printRawData prints, per distinct scalar value, the number of runs that
// produced it.
func printRawData(w io.Writer, results []float64, label string) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No Histogramm, all values are the same...\n")
		return
	}

	counts := map[float64]int{}
	for _, res := range results {
		counts[res] += 1
	}
	values := make([]float64, 0, len(counts))
	for val := range counts {
		values = append(values, val)
	}
	sort.Float64s(values)
	for _, val := range values {
		fmt.Fprintf(w, "%s %.0f occured %d times.\n", label, val, counts[val])
	}
}

// histogramBins is the number of bandwidth-fraction bins in the report.
const histogramBins = 20

// PrintHistogram reports the hist_acc_band results as a fixed histogram
// of bandwidth fractions: twenty equal bins spanning [0, 1.01), each
// 0.0505 wide.  The header line quotes the nominal width 0.05.
func PrintHistogram(w io.Writer, results []float64) {
	fmt.Fprintf(w, "Histogramm bin width: %f\n", 0.05)
	fmt.Fprintf(w, "Fraction of full bandwidt | Number of occurences\n")

	dividers := floats.Span(make([]float64, histogramBins+1), 0, 1.01)
	sorted := make([]float64, len(results))
	copy(sorted, results)
	sort.Float64s(sorted)
	counts := stat.Histogram(nil, dividers, sorted, nil)

	for bin := 0; bin < histogramBins; bin++ {
		fmt.Fprintf(w, "%12.8f %12.8f %5.0f\n", dividers[bin], dividers[bin+1], counts[bin])
	}
	fmt.Fprintf(w, "%d\n", len(results))
}

// PrintBucket prints the non-empty weights of a bucket with their share
// of all connections.
func PrintBucket(w io.Writer, bucket Bucket) {
	sum := bucket.Sum()
	for weight, count := range bucket {
		if count > 0 {
			fmt.Fprintf(w, "weight %d: %d of the %d connections (%.2f%%)\n",
				weight, count, sum, float64(count)/float64(sum)*100)
		}
	}
}

// PrintBigBucket prints the globally reduced bucket followed by its
// accumulated bandwidth.
func PrintBigBucket(w io.Writer, bucket Bucket) {
	PrintBucket(w, bucket)
	fmt.Fprintf(w, "\nBW: %f\n", bucket.AccBandwidth())
}

// PrintCableCong dumps the globally reduced cable congestion table.
func PrintCableCong(w io.Writer, ccm *CableCongMap, numEdges int) {
	fmt.Fprintf(w, "\nCable Congestions:\n\n Edge-ID\tacc. cong\n")
	for edgeID := 0; edgeID < numEdges; edgeID++ {
		if cong := ccm.Get(edgeID); cong > 0 {
			fmt.Fprintf(w, "%d\t%d\n", edgeID, cong)
		}
	}
}
