// Command dockerizerctl is the operator CLI for the Docker containerizer
// (SPEC_FULL §5): `serve` runs the Lifecycle Engine itself plus a metrics
// server and a local control socket, and the other subcommands dial that
// socket to drive launch/update/usage/wait/destroy/containers/recover by
// hand, the way the teacher's cmd/warren lets an operator drive a cluster
// by hand rather than only through embedded callers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cuemby/dockerizer/pkg/config"
	"github.com/cuemby/dockerizer/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var cfg config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dockerizerctl",
	Short:   "Operator CLI for the Docker containerizer",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("dockerizerctl version %s\nCommit: %s\n", Version, Commit))

	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().String("socket", "/var/run/dockerizerctl.sock", "control socket used to reach a running 'serve' instance")
	rootCmd.PersistentFlags().String("metrics-addr", ":9273", "address serve listens on for /metrics, /healthz, /readyz, /livez")
	rootCmd.PersistentFlags().String("usage-helper", "mesos-usage", "path to the external usage-statistics helper binary")

	cobra.OnInitialize(func() {
		flags := rootCmd.PersistentFlags()
		cfg = config.FromFlags(flags)
		log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	})

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(containersCmd)
	rootCmd.AddCommand(recoverCmd)
}

func socketFlag(flags *pflag.FlagSet) string {
	v, _ := flags.GetString("socket")
	return v
}
