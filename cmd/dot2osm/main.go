// dot2osm converts a routed topology graph in dot format into the
// OpenSM topology file format, pairing every directed edge with its
// reverse-direction partner cable.

package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iti/orcs"
)

var rootCmd = &cobra.Command{
	Use:   "dot2osm <inputfile> <outputfile>",
	Short: "Convert a dot topology into the OpenSM topology format",
	Long: "Convert a dot topology into the OpenSM topology format.\n" +
		"Use - as the input file to read from stdin, and - as the\n" +
		"output file to write to stdout.",
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		topo, err := orcs.ReadTopology(args[0], nil)
		if err != nil {
			logrus.Fatal(err)
		}

		out := os.Stdout
		if args[1] != "-" {
			out, err = os.Create(args[1])
			if err != nil {
				logrus.Fatalf("could not open output file %s: %v", args[1], err)
			}
			defer out.Close()
		}

		if err := orcs.WriteOSM(out, topo); err != nil {
			logrus.Fatal(err)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
