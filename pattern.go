package orcs

// pattern.go generates the communication patterns the simulator drives
// traffic with.  A pattern is a list of (source rank, destination rank)
// pairs over a communicator of comm_size ranks; multi-phase collectives
// are expressed as a sequence of levels, and the generator is called with
// increasing level numbers until it returns the empty pattern.

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
)

// Pair is one communication, source rank to destination rank.
type Pair struct {
	Src int
	Dst int
}

// Pattern is the list of simultaneous communications of one level.
type Pattern []Pair

// PatternKind enumerates the supported pattern families.
type PatternKind int

const (
	PtrnRand PatternKind = iota
	PtrnNull
	PtrnBisect
	PtrnBisectFBSym
	PtrnTree
	PtrnBruck
	PtrnGather
	PtrnScatter
	PtrnNeighbor2D
	PtrnRing
	PtrnRecDbl
	PtrnNeighbor
	PtrnReceivers
	PtrnVsPtrn
)

var ptrnNames = map[PatternKind]string{
	PtrnRand:        "rand",
	PtrnNull:        "null",
	PtrnBisect:      "bisect",
	PtrnBisectFBSym: "bisect_fb_sym",
	PtrnTree:        "tree",
	PtrnBruck:       "bruck",
	PtrnGather:      "gather",
	PtrnScatter:     "scatter",
	PtrnNeighbor2D:  "neighbor2d",
	PtrnRing:        "ring",
	PtrnRecDbl:      "recdbl",
	PtrnNeighbor:    "neighbor",
	PtrnReceivers:   "receivers",
	PtrnVsPtrn:      "ptrnvsptrn",
}

func (kind PatternKind) String() string {
	return ptrnNames[kind]
}

// PatternKindByName maps a pattern name from the command line to its tag.
// The receivers aliases select the sender-multiplicity variants.
func PatternKindByName(name string) (PatternKind, bool) {
	switch name {
	case "recvs_one_src", "recvs_all_src":
		return PtrnReceivers, true
	}
	for kind, kindName := range ptrnNames {
		if kindName == name {
			return kind, true
		}
	}
	return 0, false
}

// NeedsArg reports whether the pattern family has a mandatory argument.
func (kind PatternKind) NeedsArg() bool {
	return kind == PtrnNeighbor || kind == PtrnReceivers || kind == PtrnVsPtrn
}

// ArgUsage is the usage line printed when a pattern argument is missing
// or malformed.
func (kind PatternKind) ArgUsage() string {
	switch kind {
	case PtrnNeighbor:
		return "pattern 'neighbor' requires an integer ptrnarg that is greater than 0"
	case PtrnReceivers:
		return "pattern 'receivers' requires a ptrnarg of the form <num_receivers>[,<p_send:0..1>[,<p_idle:0..1>[,rand|linear]]]"
	case PtrnVsPtrn:
		return "pattern 'ptrnvsptrn' requires a ptrnarg of the form name1[:arg1]::name2[:arg2]; any pattern except ptrnvsptrn may be used as a sub-pattern"
	}
	return fmt.Sprintf("pattern '%s' takes no ptrnarg", kind)
}

// PatternArg carries the argument of an argument-taking pattern family.
// The concrete type is selected by the pattern kind at parse time.
type PatternArg interface {
	patternArg()
}

// IntArg is the plain integer argument of the neighbor pattern.
type IntArg struct {
	Value int
}

func (IntArg) patternArg() {}

// ReceiverOrder selects how senders are matched to receivers.
type ReceiverOrder int

const (
	ReceiverOrderRand ReceiverOrder = iota
	ReceiverOrderLinear
)

// ReceiversArg parameterizes the receivers pattern.
type ReceiversArg struct {
	NumReceivers int
	PSend        float64 // chance a sender targets its assigned receiver
	PIdle        float64 // chance a sender stays silent
	Order        ReceiverOrder
	OneSrc       bool // one sender per receiver instead of all senders
}

func (ReceiversArg) patternArg() {}

// PatternSpec pairs a pattern kind with its parsed argument.
type PatternSpec struct {
	Kind PatternKind
	Arg  PatternArg
}

// PtrnVsPtrnArg composes two sub-patterns over a partitioned communicator.
type PtrnVsPtrnArg struct {
	First  PatternSpec
	Second PatternSpec
}

func (PtrnVsPtrnArg) patternArg() {}

// ParsePatternArg validates and converts the raw pattern argument string
// for the named pattern family.  Families without arguments return nil and
// reject a non-empty string.
func ParsePatternArg(name, raw string) (PatternArg, error) {
	kind, known := PatternKindByName(name)
	if !known {
		return nil, fmt.Errorf("pattern %s not implemented", name)
	}
	if !kind.NeedsArg() {
		if raw != "" {
			return nil, fmt.Errorf("%s", kind.ArgUsage())
		}
		return nil, nil
	}
	if raw == "" {
		return nil, fmt.Errorf("%s", kind.ArgUsage())
	}

	switch kind {
	case PtrnNeighbor:
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 {
			return nil, fmt.Errorf("%s", kind.ArgUsage())
		}
		return IntArg{Value: val}, nil

	case PtrnReceivers:
		arg := ReceiversArg{PSend: 1.0, OneSrc: name == "recvs_one_src"}
		fields := strings.Split(raw, ",")
		if len(fields) > 4 {
			return nil, fmt.Errorf("%s", kind.ArgUsage())
		}
		val, err := strconv.Atoi(fields[0])
		if err != nil || val < 1 {
			return nil, fmt.Errorf("%s", kind.ArgUsage())
		}
		arg.NumReceivers = val
		if len(fields) > 1 {
			arg.PSend, err = strconv.ParseFloat(fields[1], 64)
			if err != nil || arg.PSend < 0 || arg.PSend > 1 {
				return nil, fmt.Errorf("%s", kind.ArgUsage())
			}
		}
		if len(fields) > 2 {
			arg.PIdle, err = strconv.ParseFloat(fields[2], 64)
			if err != nil || arg.PIdle < 0 || arg.PIdle > 1 {
				return nil, fmt.Errorf("%s", kind.ArgUsage())
			}
		}
		if len(fields) > 3 {
			switch fields[3] {
			case "rand":
				arg.Order = ReceiverOrderRand
			case "linear":
				arg.Order = ReceiverOrderLinear
			default:
				return nil, fmt.Errorf("%s", kind.ArgUsage())
			}
		}
		return arg, nil

	case PtrnVsPtrn:
		sep := "::"
		if !strings.Contains(raw, sep) {
			// the older single-comma form is still accepted
			sep = ","
		}
		parts := strings.SplitN(raw, sep, 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("%s", kind.ArgUsage())
		}
		first, err := parseSubPattern(parts[0])
		if err != nil {
			return nil, err
		}
		second, err := parseSubPattern(parts[1])
		if err != nil {
			return nil, err
		}
		return PtrnVsPtrnArg{First: first, Second: second}, nil
	}
	return nil, fmt.Errorf("pattern %s not implemented", name)
}

// parseSubPattern parses one "name[:arg]" half of a ptrnvsptrn argument.
func parseSubPattern(spec string) (PatternSpec, error) {
	name := spec
	raw := ""
	if idx := strings.Index(spec, ":"); idx >= 0 {
		name, raw = spec[:idx], spec[idx+1:]
	}
	kind, known := PatternKindByName(name)
	if !known || kind == PtrnVsPtrn {
		return PatternSpec{}, fmt.Errorf("pattern '%s' cannot be used inside ptrnvsptrn", name)
	}
	arg, err := ParsePatternArg(name, raw)
	if err != nil {
		return PatternSpec{}, err
	}
	return PatternSpec{Kind: kind, Arg: arg}, nil
}

// warned backs the one-shot pattern-construction warnings; execution
// within a worker is strictly sequential so a plain map suffices.
var warned = map[string]bool{}

func warnOnce(key, format string, args ...any) {
	if warned[key] {
		return
	}
	warned[key] = true
	logrus.Warnf(format, args...)
}

// PatternGen produces the level sequence of a pattern for one run.  The
// generator owns all iteration state, in particular the second
// sub-pattern's level counter of ptrnvsptrn, so concurrent runs never
// share pattern state.
type PatternGen struct {
	spec     PatternSpec
	commSize int
	partSize int
	rng      *rngstream.RngStream

	secondLevel int // ptrnvsptrn: level counter of the second sub-pattern
}

// NewPatternGen creates a generator for one run of the given pattern over
// comm_size ranks.  partSize is only read by ptrnvsptrn.
func NewPatternGen(spec PatternSpec, commSize, partSize int, rng *rngstream.RngStream) *PatternGen {
	return &PatternGen{spec: spec, commSize: commSize, partSize: partSize, rng: rng}
}

// Reset rewinds the generator's iteration state for a fresh run.
func (gen *PatternGen) Reset() {
	gen.secondLevel = 0
}

// Level returns the pattern of the given level, empty when the pattern
// has no further levels.
func (gen *PatternGen) Level(level int) Pattern {
	return gen.generate(gen.spec, gen.commSize, gen.partSize, level)
}

// NumLevels runs a fresh iteration of the pattern and counts the levels
// it produces.
func (gen *PatternGen) NumLevels() int {
	gen.Reset()
	level := 0
	for {
		if len(gen.Level(level)) == 0 {
			break
		}
		level += 1
	}
	gen.Reset()
	return level
}

func (gen *PatternGen) generate(spec PatternSpec, commSize, partSize, level int) Pattern {
	switch spec.Kind {
	case PtrnRand:
		return genPtrnRand(commSize, level, gen.rng)
	case PtrnNull:
		return Pattern{}
	case PtrnBisect:
		return genPtrnBisect(commSize, level)
	case PtrnBisectFBSym:
		return genPtrnBisectFBSym(commSize, level)
	case PtrnTree:
		return genPtrnTree(commSize, level)
	case PtrnBruck:
		return genPtrnBruck(commSize, level)
	case PtrnGather:
		return genPtrnGather(commSize, level)
	case PtrnScatter:
		return genPtrnScatter(commSize, level)
	case PtrnNeighbor2D:
		return genPtrnNeighbor2D(commSize, level)
	case PtrnRing:
		return genPtrnRing(commSize, level)
	case PtrnRecDbl:
		return genPtrnRecDbl(commSize, level)
	case PtrnNeighbor:
		return genPtrnNeighbor(commSize, level, spec.Arg.(IntArg).Value)
	case PtrnReceivers:
		return genPtrnReceivers(commSize, level, spec.Arg.(ReceiversArg), gen.rng)
	case PtrnVsPtrn:
		return gen.genPtrnVsPtrn(spec.Arg.(PtrnVsPtrnArg), commSize, partSize, level)
	}
	return Pattern{}
}

// genPtrnVsPtrn runs the two sub-patterns over disjoint rank ranges: the
// first over [0, partSize), the second, shifted, over [partSize, commSize).
// The sub-generators advance independently; when the second one runs out
// of levels while the first still produces, its level counter restarts.
func (gen *PatternGen) genPtrnVsPtrn(arg PtrnVsPtrnArg, commSize, partSize, level int) Pattern {
	first := gen.generate(arg.First, partSize, 0, level)
	second := gen.generate(arg.Second, commSize-partSize, 0, gen.secondLevel)

	if len(second) == 0 && len(first) != 0 {
		gen.secondLevel = 0
		second = gen.generate(arg.Second, commSize-partSize, 0, gen.secondLevel)
	}
	gen.secondLevel += 1

	return MergePatterns(first, second, partSize)
}

// MergePatterns concatenates two patterns over a partitioned communicator,
// shifting the second pattern's ranks past the first communicator's size.
func MergePatterns(first, second Pattern, firstSize int) Pattern {
	merged := make(Pattern, 0, len(first)+len(second))
	merged = append(merged, first...)
	for _, pair := range second {
		merged = append(merged, Pair{Src: pair.Src + firstSize, Dst: pair.Dst + firstSize})
	}
	return merged
}

// genPtrnRand pairs every source with a distinct random destination other
// than itself.  Destinations are drawn from a shrinking bucket; if the
// last source is left with only itself, its pair is resolved by swapping
// with the destination of an earlier random pair.
func genPtrnRand(commSize, level int, rng *rngstream.RngStream) Pattern {
	ptrn := Pattern{}
	if level != 0 {
		return ptrn
	}

	bucket := make([]int, commSize)
	for idx := range bucket {
		bucket[idx] = idx
	}

	for src := 0; src < commSize; src++ {
		for {
			pos := randInt(rng, (commSize-1)-src)
			dst := bucket[pos]
			if src != dst {
				ptrn = append(ptrn, Pair{Src: src, Dst: dst})
				bucket = append(bucket[:pos], bucket[pos+1:]...)
				break
			}
			if src == commSize-1 {
				// only the self-pair is left; steal the
				// destination of an earlier pair and hand it
				// our own rank instead
				pos = randInt(rng, len(ptrn)-1)
				dst = ptrn[pos].Dst
				ptrn[pos].Dst = commSize - 1
				ptrn = append(ptrn, Pair{Src: src, Dst: dst})
				bucket = bucket[1:]
				break
			}
		}
	}
	return ptrn
}

// genPtrnBisect pairs (0,1),(2,3),... for a bisection bandwidth test.
func genPtrnBisect(commSize, level int) Pattern {
	ptrn := Pattern{}
	if level != 0 {
		return ptrn
	}
	for counter := 0; counter < commSize-1; counter += 2 {
		ptrn = append(ptrn, Pair{Src: counter, Dst: counter + 1})
	}
	return ptrn
}

// genPtrnBisectFBSym is the bisection pattern with both directions driven.
func genPtrnBisectFBSym(commSize, level int) Pattern {
	ptrn := Pattern{}
	if level != 0 {
		return ptrn
	}
	for counter := 0; counter < commSize-1; counter += 2 {
		ptrn = append(ptrn, Pair{Src: counter, Dst: counter + 1})
		ptrn = append(ptrn, Pair{Src: counter + 1, Dst: counter})
	}
	return ptrn
}

// genPtrnTree is the binomial tree: at level l, ranks below 2^l send to
// their partner 2^l above.
func genPtrnTree(commSize, level int) Pattern {
	ptrn := Pattern{}
	dist := 1 << level
	for i := 0; i < dist; i++ {
		if i+dist >= commSize {
			break
		}
		ptrn = append(ptrn, Pair{Src: i, Dst: i + dist})
	}
	return ptrn
}

// genPtrnBruck shifts every rank by 2^l with wrap-around.
func genPtrnBruck(commSize, level int) Pattern {
	ptrn := Pattern{}
	dist := 1 << level
	if dist >= commSize {
		return ptrn
	}
	for i := 0; i < commSize; i++ {
		ptrn = append(ptrn, Pair{Src: i, Dst: (i + dist) % commSize})
	}
	return ptrn
}

// genPtrnGather sends every non-root rank to rank 0.
func genPtrnGather(commSize, level int) Pattern {
	ptrn := Pattern{}
	if level != 0 {
		return ptrn
	}
	for i := 1; i < commSize; i++ {
		ptrn = append(ptrn, Pair{Src: i, Dst: 0})
	}
	return ptrn
}

// genPtrnScatter sends rank 0 to every other rank.
func genPtrnScatter(commSize, level int) Pattern {
	ptrn := Pattern{}
	if level != 0 {
		return ptrn
	}
	for i := 1; i < commSize; i++ {
		ptrn = append(ptrn, Pair{Src: 0, Dst: i})
	}
	return ptrn
}

func nodeToCoords(node, xmax int) (int, int) {
	return node % xmax, node / xmax
}

func coordsToNode(xmax, ymax, x, y int) int {
	if x < 0 {
		x = xmax + x
	}
	if x >= xmax {
		x = x % xmax
	}
	if y < 0 {
		y = ymax + y
	}
	if y >= ymax {
		y = y % ymax
	}
	return y*xmax + x
}

// genPtrnNeighbor2D drives the four nearest neighbors of every rank on a
// wrap-around grid of ceil(sqrt(N)) columns.  Grid cells past the last
// rank are skipped by walking further in the same direction.  Duplicate
// pairs and self-loops are removed.
func genPtrnNeighbor2D(commSize, level int) Pattern {
	ptrn := Pattern{}
	if level > 0 {
		return ptrn
	}

	xmax := int(math.Ceil(math.Sqrt(float64(commSize))))
	ymax := int(math.Ceil(float64(commSize) / float64(xmax)))

	for node := 0; node < commSize; node++ {
		x, y := nodeToCoords(node, xmax)
		for _, dir := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
			step := 0
			var peer int
			for {
				step += 1
				peer = coordsToNode(xmax, ymax, x+dir[0]*step, y+dir[1]*step)
				if peer < commSize {
					break
				}
			}
			ptrn = append(ptrn, Pair{Src: node, Dst: peer})
		}
	}

	// erase duplicates, then sends-to-self
	sort.Slice(ptrn, func(i, j int) bool {
		if ptrn[i].Src != ptrn[j].Src {
			return ptrn[i].Src < ptrn[j].Src
		}
		return ptrn[i].Dst < ptrn[j].Dst
	})
	deduped := Pattern{}
	for idx, pair := range ptrn {
		if idx > 0 && pair == ptrn[idx-1] {
			continue
		}
		if pair.Src == pair.Dst {
			continue
		}
		deduped = append(deduped, pair)
	}
	return deduped
}

// genPtrnRing emits one pair per level, closing the ring at the last level.
func genPtrnRing(commSize, level int) Pattern {
	ptrn := Pattern{}
	if level >= commSize {
		return ptrn
	}
	ptrn = append(ptrn, Pair{Src: level, Dst: (level + 1) % commSize})
	return ptrn
}

// genPtrnRecDbl is recursive doubling: bidirectional exchanges at distance
// 2^l inside the largest power-of-two prefix, then a final level pairing
// the remainder ranks against the prefix.
func genPtrnRecDbl(commSize, level int) Pattern {
	ptrn := Pattern{}
	dist := 1 << level

	l := int(math.Floor(math.Log(float64(commSize)) / math.Log(2.0)))
	powerCommSize := 1 << l

	if dist < powerCommSize {
		for i := 0; i < powerCommSize; i += dist << 1 {
			for j := 0; j < dist; j++ {
				k := i + j
				if dist+k < commSize {
					ptrn = append(ptrn, Pair{Src: k, Dst: k + dist})
					ptrn = append(ptrn, Pair{Src: k + dist, Dst: k})
				}
			}
		}
	} else if 1<<(level-1) < powerCommSize {
		for i := 0; i < commSize-powerCommSize; i++ {
			ptrn = append(ptrn, Pair{Src: i, Dst: i + powerCommSize})
		}
	}
	return ptrn
}

// genPtrnNeighbor builds an undirected k-regular connectivity by greedy
// left-to-right peer assignment and emits every adjacency as a directed
// pair.  Slots that cannot be filled stay empty, so low-degree leftovers
// are possible at the right edge of the rank range.
func genPtrnNeighbor(nprocs, level, neighbors int) Pattern {
	ptrn := Pattern{}
	if level > 0 {
		return ptrn
	}

	if neighbors > nprocs-1 {
		neighbors = nprocs - 1
		warnOnce("neighbor-clamp", "correcting neighbor number to %d (commsize: %d)", neighbors, nprocs)
	}

	tmpedges := make([]int, nprocs*neighbors)
	for idx := range tmpedges {
		tmpedges[idx] = -1
	}

	for i := 0; i < nprocs; i++ {
		for nei := 0; nei < neighbors; nei++ {
			ind := i*neighbors + nei
			if tmpedges[ind] != -1 {
				continue
			}
			found := false
			for k := i + 1; k < nprocs && !found; k++ {
				foundme := false
				for l := 0; l < neighbors; l++ {
					if tmpedges[k*neighbors+l] == i {
						foundme = true
					}
				}
				if foundme {
					continue
				}
				for l := 0; l < neighbors; l++ {
					remind := k*neighbors + l
					if tmpedges[remind] == -1 && !found {
						tmpedges[ind] = k
						tmpedges[remind] = i
						found = true
					}
				}
			}
		}
	}

	for i := 0; i < nprocs; i++ {
		for nei := 0; nei < neighbors; nei++ {
			if peer := tmpedges[i*neighbors+nei]; peer != -1 {
				ptrn = append(ptrn, Pair{Src: i, Dst: peer})
			}
		}
	}
	return ptrn
}

// genPtrnReceivers selects the first r ranks as receivers and pairs the
// remaining ranks with them round-robin.  Sender order is random by
// default or ascending with the linear order; the probability knobs let a
// sender divert to a random non-receiver peer or stay idle.
func genPtrnReceivers(commSize, level int, arg ReceiversArg, rng *rngstream.RngStream) Pattern {
	ptrn := Pattern{}
	if level != 0 {
		return ptrn
	}

	numReceivers := arg.NumReceivers
	if numReceivers > commSize/2 {
		numReceivers = commSize / 2
		warnOnce("receivers-clamp",
			"cannot have more than commsize/2 receivers, correcting number of receivers to %d (commsize: %d)",
			numReceivers, commSize)
	}

	receivers := make([]int, numReceivers)
	for idx := range receivers {
		receivers[idx] = idx
	}
	available := make([]int, 0, commSize-numReceivers)
	for rank := numReceivers; rank < commSize; rank++ {
		available = append(available, rank)
	}

	for i := 0; len(available) > 0; i++ {
		if arg.OneSrc && i >= numReceivers {
			break
		}
		pos := 0
		if arg.Order == ReceiverOrderRand {
			pos = randInt(rng, len(available)-1)
		}
		src := available[pos]
		available = append(available[:pos], available[pos+1:]...)

		if arg.PIdle > 0 && rng.RandU01() < arg.PIdle {
			continue
		}

		dst := receivers[i%numReceivers]
		if arg.PSend < 1 && rng.RandU01() >= arg.PSend {
			// divert to a random non-receiver peer other than self
			for {
				dst = numReceivers + randInt(rng, commSize-numReceivers-1)
				if dst != src {
					break
				}
			}
		}
		ptrn = append(ptrn, Pair{Src: src, Dst: dst})
	}
	return ptrn
}

// PrintPattern dumps a pattern with both rank numbers and the host names
// they map to under the current namelist.
func PrintPattern(w io.Writer, ptrn Pattern, namelist []string) {
	if len(ptrn) == 0 {
		fmt.Fprintf(w, "Pattern empty!\n")
		return
	}
	fmt.Fprintf(w, "\nUsed Pattern:\n=================\n")
	for _, pair := range ptrn {
		fmt.Fprintf(w, "% 5d -> %-5d   |   %s -> %s\n",
			pair.Src, pair.Dst, namelist[pair.Src], namelist[pair.Dst])
	}
	fmt.Fprintf(w, "=================\n")
}
