package orcs

// runner.go is the distributed driver.  It forms the collective group,
// distributes the topology and the working namelist, partitions the
// requested runs across the workers, runs the simulation loop, and
// reduces and reports the results on the root.

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Options carries every resolved command line and configuration option
// of a simulation.
type Options struct {
	InputFile  string
	OutputFile string

	CommSize     int
	PartCommSize int

	Ptrn    string // pattern name
	PtrnArg string // raw pattern argument

	Subset     string // subset selection method
	PartSubset string // partition subset selection method

	Metric    string
	NumRuns   int
	PtrnLevel int // -1 runs all levels, >= 0 runs exactly that level

	PrintNamelist  bool
	PrintPtrn      bool
	Verbose        bool
	DoNotShuffle   bool
	CheckInputFile bool
	RouteQual      bool
	GetNumLevels   bool

	NodeOrderingFile string
	LoopLogFile      string

	Seed             int64
	AccumulateLevels bool
	MaxIters         int

	// collective group placement
	Rank      int
	GroupSize int
	GroupAddr string
}

// DefaultOptions returns the option defaults the command line starts from.
func DefaultOptions() Options {
	return Options{
		InputFile:        "-",
		OutputFile:       "-",
		Ptrn:             "rand",
		Subset:           SubsetRand,
		PartSubset:       SubsetRand,
		Metric:           "sum_max_cong",
		NumRuns:          1,
		PtrnLevel:        -1,
		LoopLogFile:      "routing_loops.txt",
		Seed:             1,
		AccumulateLevels: true,
		MaxIters:         math.MaxInt32,
		GroupSize:        1,
		GroupAddr:        "127.0.0.1:9611",
	}
}

// PatternSpec parses the options' pattern name and raw argument into the
// tagged form the generator consumes.
func (opts *Options) PatternSpec() (PatternSpec, error) {
	kind, known := PatternKindByName(opts.Ptrn)
	if !known {
		return PatternSpec{}, fmt.Errorf("pattern %s not implemented", opts.Ptrn)
	}
	arg, err := ParsePatternArg(opts.Ptrn, opts.PtrnArg)
	if err != nil {
		return PatternSpec{}, err
	}
	return PatternSpec{Kind: kind, Arg: arg}, nil
}

// splitPtrnVsPtrnRaw splits the raw ptrnvsptrn argument into the two
// sub-pattern strings for the options echo.
func splitPtrnVsPtrnRaw(raw string) (string, string) {
	sep := "::"
	if !strings.Contains(raw, sep) {
		sep = ","
	}
	parts := strings.SplitN(raw, sep, 2)
	if len(parts) != 2 {
		return raw, ""
	}
	return parts[0], parts[1]
}

// PrintOptions echoes the effective options, the header of every report.
func PrintOptions(w io.Writer, opts *Options) {
	fmt.Fprintf(w, "Input File: %s\n", opts.InputFile)
	fmt.Fprintf(w, "Output File: %s\n", opts.OutputFile)
	fmt.Fprintf(w, "Commsize: %d\n", opts.CommSize)
	if opts.Ptrn == "ptrnvsptrn" {
		first, second := splitPtrnVsPtrnRaw(opts.PtrnArg)
		fmt.Fprintf(w, "Pattern: %s\n", opts.Ptrn)
		fmt.Fprintf(w, "    First Pattern: %s\n", first)
		fmt.Fprintf(w, "   Second Pattern: %s\n", second)
	} else if opts.PtrnArg != "" {
		fmt.Fprintf(w, "Pattern: %s,%s\n", opts.Ptrn, opts.PtrnArg)
	} else {
		fmt.Fprintf(w, "Pattern: %s\n", opts.Ptrn)
	}
	fmt.Fprintf(w, "Level: %d\n", opts.PtrnLevel)
	fmt.Fprintf(w, "Runs: %d\n", opts.NumRuns)
	fmt.Fprintf(w, "Subset: %s\n", opts.Subset)
	fmt.Fprintf(w, "Metric: %s\n", opts.Metric)
	fmt.Fprintf(w, "Part_commsize: %d\n\n", opts.PartCommSize)
}

// readTopologyBytes reads the raw topology file on the root; "-" reads
// stdin.
func readTopologyBytes(filename string) ([]byte, error) {
	if filename == "-" {
		return io.ReadAll(os.Stdin)
	}
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not open input file '%s': %w", filename, err)
	}
	return buf, nil
}

// validateSizes resolves the communicator sizes against the topology's
// host count.
func validateSizes(opts *Options, numHosts int) error {
	if opts.RouteQual {
		opts.CommSize = numHosts
		return nil
	}
	if opts.CommSize == 0 {
		opts.CommSize = numHosts - numHosts%2
	}
	if opts.CommSize < 4 || opts.CommSize > numHosts {
		return fmt.Errorf("commsize %d outside [4, %d]", opts.CommSize, numHosts)
	}
	if opts.Ptrn == "ptrnvsptrn" {
		if opts.PartCommSize < 2 || opts.PartCommSize >= opts.CommSize {
			return fmt.Errorf("part_commsize %d outside [2, %d)", opts.PartCommSize, opts.CommSize)
		}
	}
	return nil
}

// Run executes a full simulation under the given options and returns the
// process exit code.
func Run(opts Options) (int, error) {
	spec, err := opts.PatternSpec()
	if err != nil {
		return 1, err
	}
	metric, known := MetricByName(opts.Metric)
	if !known {
		return 1, fmt.Errorf("unknown metric %s", opts.Metric)
	}
	if !slices.Contains(SubsetMethods, opts.Subset) {
		return 1, fmt.Errorf("unknown subset selection method %s", opts.Subset)
	}
	if !slices.Contains(SubsetMethods, opts.PartSubset) {
		return 1, fmt.Errorf("unknown partition subset selection method %s", opts.PartSubset)
	}

	// level counting needs neither a topology nor a group
	if opts.GetNumLevels {
		rng := NewWorkerRNG(0, opts.Seed)
		gen := NewPatternGen(spec, opts.CommSize, opts.PartCommSize, rng)
		levels := gen.NumLevels()
		fmt.Printf("The given input configuration would result in a %d level simulation.\n", levels)
		return levels, nil
	}

	comm, err := InitComm(opts.Rank, opts.GroupSize, opts.GroupAddr, 30*time.Second)
	if err != nil {
		return 1, err
	}
	defer comm.Close()

	// the root reads the topology, everybody parses the same bytes
	var graphBuf []byte
	if comm.Root() {
		if _, err := CheckReadableFiles([]string{opts.InputFile, opts.NodeOrderingFile}); err != nil {
			comm.Abort(err.Error())
			return 1, err
		}
		if _, err := CheckOutputFiles([]string{opts.OutputFile}); err != nil {
			comm.Abort(err.Error())
			return 1, err
		}
		graphBuf, err = readTopologyBytes(opts.InputFile)
		if err != nil {
			comm.Abort(err.Error())
			return 1, err
		}
	}
	if err := comm.BroadcastBytes(&graphBuf); err != nil {
		return 1, err
	}
	topo, err := ReadTopology(opts.InputFile, graphBuf)
	if err != nil {
		comm.Abort(err.Error())
		return 1, err
	}

	loopLog := opts.LoopLogFile
	if loopLog != "" && comm.Size() > 1 {
		loopLog = fmt.Sprintf("%s.%d", loopLog, comm.Rank())
	}
	router := NewRouter(topo, loopLog)
	rng := NewWorkerRNG(comm.Rank(), opts.Seed)
	sc := NewSimContext(topo, router, rng, metric)
	sc.AccumulateLevels = opts.AccumulateLevels

	if err := validateSizes(&opts, topo.NumHosts()); err != nil {
		comm.Abort(err.Error())
		return 1, err
	}

	if comm.Root() {
		PrintOptions(os.Stdout, &opts)
		fmt.Printf("Number of hosts in the inputfile: %d\n", topo.NumHosts())
		fmt.Printf("Number of nodes in the inputfile: %d\n", topo.NumNodes())
		fmt.Printf("Number of edges in the inputfile: %d\n", topo.NumEdges())
	}

	if opts.CheckInputFile {
		if comm.Root() {
			checkInputFile(topo, router)
		}
		return 0, nil
	}

	// the root draws the working namelist and distributes it
	namelist := &NameList{}
	if comm.Root() {
		names, err := buildWorkingNamelist(&opts, topo, spec, rng)
		if err != nil {
			comm.Abort(err.Error())
			return 1, err
		}
		namelist = names
	}
	if err := comm.BroadcastStrings(&namelist.Names); err != nil {
		return 1, err
	}
	if err := comm.BroadcastInt(&namelist.Fixed); err != nil {
		return 1, err
	}

	// the node-ordering pins travel as a GUID list and are applied by
	// every member to its local copy
	var orderGuids []uint64
	if comm.Root() {
		orderGuids, err = ReadNodeOrdering(opts.NodeOrderingFile)
		if err != nil {
			comm.Abort(err.Error())
			return 1, err
		}
	}
	if err := comm.BroadcastUint64s(&orderGuids); err != nil {
		return 1, err
	}
	namelist.ApplyNodeOrder(orderGuids)

	if opts.RouteQual {
		return runRouteQual(&opts, comm, router, rng, namelist.Names)
	}

	if err := runLoop(&opts, comm, sc, spec, namelist); err != nil {
		comm.Abort(err.Error())
		return 1, err
	}

	if err := exchangeResults(comm, sc); err != nil {
		return 1, err
	}

	if comm.Root() {
		if err := printResults(&opts, sc, topo); err != nil {
			return 1, err
		}
	}
	return 0, nil
}

// checkInputFile exercises a route for every host pair; routing loops and
// missing routes land in the side log.
func checkInputFile(topo *Topology, router *Router) {
	names := topo.Hostnames()
	fmt.Printf("Number of hosts in the inputfile: %d\n", len(names))
	fmt.Printf("Number of nodes in the inputfile: %d\n", topo.NumNodes())
	pairs := len(names) * len(names)
	tested := 0
	for _, src := range names {
		for _, dst := range names {
			tested += 1
			if tested%1000 == 1 {
				logrus.Debugf("testing pair number %d of %d", tested, pairs)
			}
			router.FindRoute(src, dst)
		}
	}
	fmt.Printf("Completed\n")
}

// buildWorkingNamelist draws the primary namelist and, for ptrnvsptrn,
// moves the partition sub-selection to the front.
func buildWorkingNamelist(opts *Options, topo *Topology, spec PatternSpec,
	rng *rngstream.RngStream) (*NameList, error) {

	base, err := GenerateNamelistByName(opts.Subset, topo, opts.CommSize, nil, rng)
	if err != nil {
		return nil, err
	}
	namelist := &NameList{Names: base}

	if spec.Kind == PtrnVsPtrn {
		part, err := GenerateNamelistByName(opts.PartSubset, topo, opts.PartCommSize, base, rng)
		if err != nil {
			return nil, err
		}
		inPart := map[string]bool{}
		for _, name := range part {
			inPart[name] = true
		}
		rest := []string{}
		for _, name := range base {
			if !inPart[name] {
				rest = append(rest, name)
			}
		}
		namelist.Names = append(part, rest...)
		namelist.Fixed = opts.PartCommSize
	}
	return namelist, nil
}

// runLoop executes this worker's share of the requested runs.
func runLoop(opts *Options, comm *Comm, sc *SimContext, spec PatternSpec, namelist *NameList) error {
	myRuns := int(math.Ceil(float64(opts.NumRuns) / float64(comm.Size())))

	validUntil := opts.PartCommSize
	if validUntil <= 0 {
		validUntil = opts.CommSize
	}

	for runCount := 1; runCount <= myRuns; runCount++ {
		if !opts.DoNotShuffle {
			namelist.Shuffle(sc.RNG)
		}
		if opts.PrintNamelist && comm.Root() {
			PrintNamelist(os.Stdout, namelist.Names)
		}

		gen := NewPatternGen(spec, opts.CommSize, opts.PartCommSize, sc.RNG)

		if sc.Metric == MetricDepMaxDelay {
			max, err := sc.RunDepMaxDelay(gen, namelist.Names, validUntil,
				opts.PrintPtrn && comm.Root(), os.Stdout)
			if err != nil {
				return err
			}
			sc.AccountMaxDelay(max)
			if opts.Verbose && comm.Root() {
				logrus.Infof("process %d: simulation run number %d finished", comm.Rank(), runCount)
			}
			continue
		}

		level := 0
		if opts.PtrnLevel >= 0 {
			level = opts.PtrnLevel
		}
		for {
			ptrn := gen.Level(level)
			if opts.PrintPtrn && comm.Root() {
				PrintPattern(os.Stdout, ptrn, namelist.Names)
			}
			if len(ptrn) == 0 || (opts.PtrnLevel > -1 && level > opts.PtrnLevel) {
				break
			}
			if err := sc.RunLevel(ptrn, namelist.Names); err != nil {
				return err
			}
			if opts.Verbose && comm.Root() {
				logrus.Infof("process %d: simulation run number %d, level %d finished", comm.Rank(), runCount, level)
			}
			level += 1
		}
		sc.AccountRun()
	}
	return nil
}

// exchangeResults reduces the workers' run outputs at the root: scalar
// run vectors are gathered rank-major, buckets and congestion maps are
// summed element-wise.
func exchangeResults(comm *Comm, sc *SimContext) error {
	if sc.Metric.ScalarPerRun() {
		gathered, err := comm.GatherFloat64s(sc.Results)
		if err != nil {
			return err
		}
		if comm.Root() {
			sc.Results = gathered
		}
		return nil
	}

	switch sc.Metric {
	case MetricHistMaxCong:
		parts, err := comm.GatherInts(sc.BigBucket)
		if err != nil {
			return err
		}
		if comm.Root() {
			merged := Bucket{}
			for _, part := range parts {
				merged.Merge(part)
			}
			sc.BigBucket = merged
		}
	case MetricGetCableCong:
		return comm.AllreduceCongMap(sc.GlobalCong)
	}
	return nil
}

// printResults writes the metric's native report form.  With "-" as the
// output file the report goes to stdout; a named file additionally
// repeats the options echo.
func printResults(opts *Options, sc *SimContext, topo *Topology) error {
	if opts.OutputFile == "-" {
		printMetric(os.Stdout, opts, sc, topo, true)
		return nil
	}

	fd, err := os.OpenFile(opts.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("could not open output file %s: %w", opts.OutputFile, err)
	}
	defer fd.Close()
	PrintOptions(fd, opts)
	printMetric(fd, opts, sc, topo, false)
	return nil
}

func printMetric(w io.Writer, opts *Options, sc *SimContext, topo *Topology, toStdout bool) {
	switch sc.Metric {
	case MetricSumMaxCong:
		PrintStatisticsMaxCongestions(w, sc.Results)
	case MetricDepMaxDelay:
		PrintStatisticsMaxDelay(w, sc.Results)
	case MetricHistAccBand:
		PrintHistogram(w, sc.Results)
	case MetricHistMaxCong:
		PrintBigBucket(w, sc.BigBucket)
	case MetricGetCableCong:
		if toStdout {
			topo.WriteWithCongestion(w, sc.GlobalCong)
		} else {
			PrintCableCong(w, sc.GlobalCong, topo.NumEdges())
		}
	}
}

// runRouteQual assesses the routing table quality over all hosts: the
// congestion of the all-pairs traffic matrix is accumulated and reduced,
// then up to maxiters source-destination draws are scored by the maximum
// congestion on their route's interior edges.
func runRouteQual(opts *Options, comm *Comm, router *Router,
	rng *rngstream.RngStream, names []string) (int, error) {

	n := len(names)
	myn := n / comm.Size()
	mystart := myn * comm.Rank()
	if comm.Rank() == comm.Size()-1 {
		myn = n - mystart
	}

	// congestion generated by all routes of this worker's source slab
	ccm := NewCableCongMap()
	for i := mystart; i < mystart+myn; i++ {
		for j := 0; j < n; j++ {
			ccm.AddRoute(router.FindRoute(names[i], names[j]))
		}
	}
	if comm.Size() > 1 {
		if err := comm.AllreduceCongMap(ccm); err != nil {
			return 1, err
		}
	}

	nconn := n * n
	bins := NewCableCongMap()
	iter := 0
eval:
	for i := mystart; i < mystart+myn; i++ {
		for j := 0; j < n; j++ {
			if iter >= opts.MaxIters/comm.Size() {
				break eval
			}
			iter += 1

			src, tgt := i, j
			if nconn >= opts.MaxIters {
				// the full cross product is too large, sample it
				src = randInt(rng, n-1)
				tgt = randInt(rng, n-1)
			}
			route := router.FindRoute(names[src], names[tgt])
			bins.Incr(ccm.InteriorMaxCongestion(route), 1)
		}
	}
	if comm.Size() > 1 {
		if err := comm.AllreduceCongMap(bins); err != nil {
			return 1, err
		}
	}

	if comm.Root() {
		// self-routes and empty interiors carry no information
		bins.Set(0, 0)

		gmin, gmax := -1, 0
		var sum float64
		for weight, count := range bins.Items() {
			if count <= 0 {
				continue
			}
			sum += float64(count)
			if weight > gmax {
				gmax = weight
			}
			if weight > 0 && (gmin == -1 || weight < gmin) {
				gmin = weight
			}
		}
		if gmin == -1 {
			gmin = 0
		}

		var mean, sqmean float64
		if sum > 0 {
			for weight, count := range bins.Items() {
				prob := float64(count) / sum
				mean += float64(weight) * prob
				sqmean += float64(weight*weight) * prob
			}
		}
		sigma := math.Sqrt(sqmean - mean*mean)

		fmt.Printf("gmin: %d, gmax: %d\n", gmin, gmax)
		fmt.Printf("E: %.2f, sigma: %.2f\n", mean, sigma)
		fmt.Printf("Completed\n")
	}
	return 0, nil
}
