// orcs evaluates the quality of static routing tables in InfiniBand
// fabrics: it loads a routed topology graph, drives communication
// patterns over a chosen subset of hosts, and reports the distribution
// of the resulting cable congestion across many randomized runs.

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iti/orcs"
)

var (
	opts     = orcs.DefaultOptions()
	logLevel string
	cfgFile  string
)

var rootCmd = &cobra.Command{
	Use:   "orcs",
	Short: "Oblivious routing congestion simulator for InfiniBand fabrics",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the congestion simulation",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		if opts.Verbose && level < logrus.InfoLevel {
			logrus.SetLevel(logrus.InfoLevel)
		}

		if cfgFile != "" {
			applyConfig(cmd, cfgFile)
		}

		// a pattern argument of "help" asks for the pattern's usage
		if opts.PtrnArg == "help" {
			kind, known := orcs.PatternKindByName(opts.Ptrn)
			if !known {
				logrus.Fatalf("pattern %s not implemented", opts.Ptrn)
			}
			fmt.Printf("Usage: %s\n", kind.ArgUsage())
			os.Exit(0)
		}

		code, err := orcs.Run(opts)
		if err != nil {
			logrus.Error(err)
		}
		os.Exit(code)
	},
}

// applyConfig fills every option the user did not set explicitly from the
// experiment configuration file.
func applyConfig(cmd *cobra.Command, filename string) {
	cfg, err := orcs.ReadExpCfg(filename, nil)
	if err != nil {
		logrus.Fatalf("unable to read experiment config: %v", err)
	}

	set := func(flag string) bool { return cmd.Flags().Changed(flag) }
	if !set("input") && cfg.Input != "" {
		opts.InputFile = cfg.Input
	}
	if !set("output") && cfg.Output != "" {
		opts.OutputFile = cfg.Output
	}
	if !set("commsize") && cfg.Commsize != 0 {
		opts.CommSize = cfg.Commsize
	}
	if !set("part-commsize") && cfg.PartCommsize != 0 {
		opts.PartCommSize = cfg.PartCommsize
	}
	if !set("ptrn") && cfg.Ptrn != "" {
		opts.Ptrn = cfg.Ptrn
	}
	if !set("ptrnarg") && cfg.Ptrnarg != "" {
		opts.PtrnArg = cfg.Ptrnarg
	}
	if !set("subset") && cfg.Subset != "" {
		opts.Subset = cfg.Subset
	}
	if !set("part-subset") && cfg.PartSubset != "" {
		opts.PartSubset = cfg.PartSubset
	}
	if !set("metric") && cfg.Metric != "" {
		opts.Metric = cfg.Metric
	}
	if !set("runs") && cfg.NumRuns != 0 {
		opts.NumRuns = cfg.NumRuns
	}
	if !set("ptrn-level") && cfg.PtrnLevel != 0 {
		opts.PtrnLevel = cfg.PtrnLevel
	}
	if !set("seed") && cfg.Seed != 0 {
		opts.Seed = cfg.Seed
	}
	if !set("node-ordering-file") && cfg.NodeOrder != "" {
		opts.NodeOrderingFile = cfg.NodeOrder
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	runCmd.Flags().StringVarP(&opts.InputFile, "input", "i", opts.InputFile, "Topology file in dot format, - for stdin")
	runCmd.Flags().StringVarP(&opts.OutputFile, "output", "o", opts.OutputFile, "Output file, - for stdout")
	runCmd.Flags().IntVarP(&opts.CommSize, "commsize", "c", opts.CommSize, "Communication size, 0 uses all hosts rounded down to even")
	runCmd.Flags().IntVar(&opts.PartCommSize, "part-commsize", opts.PartCommSize, "Size of the first sub-communicator for ptrnvsptrn")
	runCmd.Flags().StringVarP(&opts.Ptrn, "ptrn", "p", opts.Ptrn, "Communication pattern name")
	runCmd.Flags().StringVarP(&opts.PtrnArg, "ptrnarg", "a", opts.PtrnArg, "Pattern argument, 'help' prints the pattern's usage")
	runCmd.Flags().StringVar(&opts.Subset, "subset", opts.Subset, "Subset selection method (rand, linear_bfs, guid_order_asc, guid_order_desc)")
	runCmd.Flags().StringVar(&opts.PartSubset, "part-subset", opts.PartSubset, "Partition subset selection method")
	runCmd.Flags().StringVarP(&opts.Metric, "metric", "m", opts.Metric, "Congestion metric (sum_max_cong, hist_max_cong, hist_acc_band, get_cable_cong, dep_max_delay)")
	runCmd.Flags().IntVarP(&opts.NumRuns, "runs", "r", opts.NumRuns, "Number of simulation runs")
	runCmd.Flags().IntVar(&opts.PtrnLevel, "ptrn-level", opts.PtrnLevel, "Run only this pattern level, -1 runs all levels")
	runCmd.Flags().BoolVar(&opts.PrintNamelist, "printnamelist", false, "Print the namelist of every run")
	runCmd.Flags().BoolVar(&opts.PrintPtrn, "printptrn", false, "Print every generated pattern")
	runCmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Report per-run progress")
	runCmd.Flags().BoolVar(&opts.DoNotShuffle, "do-not-shuffle", false, "Keep the namelist order fixed between runs")
	runCmd.Flags().BoolVar(&opts.CheckInputFile, "checkinputfile", false, "Route every host pair and report routing problems")
	runCmd.Flags().BoolVar(&opts.RouteQual, "routequal", false, "Assess the routing table quality over all hosts")
	runCmd.Flags().BoolVar(&opts.GetNumLevels, "getnumlevels", false, "Report the pattern's level count as the exit code")
	runCmd.Flags().StringVar(&opts.NodeOrderingFile, "node-ordering-file", "", "File with one hex GUID per line pinning the namelist head")
	runCmd.Flags().StringVar(&opts.LoopLogFile, "loop-log", opts.LoopLogFile, "Side log receiving detected routing loops")
	runCmd.Flags().Int64Var(&opts.Seed, "seed", opts.Seed, "Seed for this worker's random stream")
	runCmd.Flags().BoolVar(&opts.AccumulateLevels, "accumulate-levels", opts.AccumulateLevels, "sum_max_cong accumulates level contributions across a run")
	runCmd.Flags().IntVar(&opts.MaxIters, "maxiters", opts.MaxIters, "Evaluation budget of the routequal analysis")
	runCmd.Flags().IntVar(&opts.Rank, "rank", 0, "This worker's rank in the collective group")
	runCmd.Flags().IntVar(&opts.GroupSize, "group-size", opts.GroupSize, "Number of workers in the collective group")
	runCmd.Flags().StringVar(&opts.GroupAddr, "group-addr", opts.GroupAddr, "Address the group root listens on")
	runCmd.Flags().StringVar(&logLevel, "log", "warning", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&cfgFile, "config", "", "Experiment configuration file (yaml or json)")

	rootCmd.AddCommand(runCmd)
}

func main() {
	Execute()
}
