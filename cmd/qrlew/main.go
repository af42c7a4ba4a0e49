// Command qrlew rewrites SQL queries into privacy unit preserving or
// differentially private ones, reflects databases into dataset documents
// and serves the engine over HTTP.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/qrlew/qrlew-go/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// globals are the flags shared by every command.
type globals struct {
	configFile string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "qrlew",
		Short:         "Privacy preserving SQL rewriting",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			g.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "path to a YAML or JSON configuration file")

	root.AddCommand(
		newSchemaCmd(g),
		newRelationCmd(g),
		newRewriteCmd(g),
		newDpCmd(g),
		newTablesPrefixCmd(g),
		newReflectCmd(g),
		newDatasetsCmd(g),
		newServeCmd(g),
	)
	return root
}

func main() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	root := newRootCmd()
	root.PersistentFlags().AddFlagSet(pflag.CommandLine)
	// glog reads its flags from the standard flag set.
	if err := flag.CommandLine.Parse(nil); err != nil {
		glog.Exitf("flags: %v", err)
	}
	defer glog.Flush()

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		glog.Flush()
		os.Exit(1)
	}
}
