package orcs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketIncr(t *testing.T) {
	bucket := Bucket{}
	bucket.Incr(3)
	bucket.Incr(3)
	bucket.Incr(1)

	assert.Equal(t, 2, bucket[3])
	assert.Equal(t, 1, bucket[1])
	assert.Equal(t, 0, bucket[0])
	assert.Equal(t, 3, bucket.MaxWeight())
	assert.Equal(t, 3, bucket.Sum())
}

func TestBucketMerge(t *testing.T) {
	bucket := Bucket{0, 1}
	bucket.Merge([]int{1, 0, 0, 5})
	assert.Equal(t, Bucket{1, 1, 0, 5}, bucket)

	// merging a shorter bucket leaves the tail alone
	bucket.Merge([]int{0, 2})
	assert.Equal(t, Bucket{1, 3, 0, 5}, bucket)
}

func TestAccBandwidth(t *testing.T) {
	// two pairs at full rate
	bucket := Bucket{0, 2}
	assert.InDelta(t, 1.0, bucket.AccBandwidth(), 1e-12)

	// three pairs at a third each
	bucket = Bucket{0, 0, 0, 3}
	assert.InDelta(t, 1.0/3.0, bucket.AccBandwidth(), 1e-12)

	// mixed: two at rate 1, two at rate 1/2
	bucket = Bucket{0, 2, 2}
	assert.InDelta(t, 0.75, bucket.AccBandwidth(), 1e-12)

	assert.Equal(t, 0.0, Bucket{}.AccBandwidth())
}

func TestPopVariance(t *testing.T) {
	assert.Equal(t, 0.0, popVariance([]float64{4}))
	// population variance of {1,3} is 1
	assert.InDelta(t, 1.0, popVariance([]float64{1, 3}), 1e-12)
	assert.InDelta(t, 0.0, popVariance([]float64{2, 2, 2}), 1e-12)
}

func TestPrintStatisticsMaxCongestions(t *testing.T) {
	var buf bytes.Buffer
	PrintStatisticsMaxCongestions(&buf, []float64{1, 1, 3})

	out := buf.String()
	assert.Contains(t, out, "Minimal Maximal Congestion: 1.000000")
	assert.Contains(t, out, "Maximal Maximal Congestion: 3.000000")
	assert.Contains(t, out, "Congestion sum of 1 occured 2 times.")
	assert.Contains(t, out, "Congestion sum of 3 occured 1 times.")
}

func TestPrintStatisticsMaxDelay(t *testing.T) {
	var buf bytes.Buffer
	PrintStatisticsMaxDelay(&buf, []float64{2, 4})

	out := buf.String()
	assert.Contains(t, out, "Minimal Delay: 2.000000")
	assert.Contains(t, out, "Maximal Delay: 4.000000")
	assert.Contains(t, out, "Average Delay: 3.000000")
	assert.Contains(t, out, "Delay of 2 occured 1 times.")
}

func TestPrintHistogram(t *testing.T) {
	var buf bytes.Buffer
	PrintHistogram(&buf, []float64{0.11, 0.12, 0.9, 1.0})

	out := buf.String()
	assert.Contains(t, out, "Histogramm bin width: 0.050000")

	// twenty bins plus the two header lines and the count line
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 23)
	assert.Equal(t, "4", lines[len(lines)-1])

	// the two low values land in the same bin
	assert.Contains(t, out, "   2\n")
}

func TestPrintBucket(t *testing.T) {
	var buf bytes.Buffer
	PrintBucket(&buf, Bucket{0, 2, 0, 1})

	out := buf.String()
	assert.Contains(t, out, "weight 1: 2 of the 3 connections (66.67%)")
	assert.Contains(t, out, "weight 3: 1 of the 3 connections (33.33%)")
	assert.NotContains(t, out, "weight 0")
}

func TestPrintBigBucket(t *testing.T) {
	var buf bytes.Buffer
	PrintBigBucket(&buf, Bucket{0, 2})
	assert.Contains(t, buf.String(), "BW: 1.000000")
}

func TestPrintCableCong(t *testing.T) {
	ccm := NewCableCongMap()
	ccm.Set(3, 7)
	ccm.Set(1, 2)

	var buf bytes.Buffer
	PrintCableCong(&buf, ccm, 5)

	out := buf.String()
	assert.Contains(t, out, "Edge-ID")
	// entries appear in edge-id order
	assert.Less(t, strings.Index(out, "1\t2"), strings.Index(out, "3\t7"))
}
