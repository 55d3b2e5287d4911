package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/dockerizer/pkg/rpc"
	"github.com/cuemby/dockerizer/pkg/types"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Tear down a container",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		id, _ := flags.GetString("id")
		killed, _ := flags.GetBool("killed")

		// The termination message is always derived by the engine from
		// the container's state (§4.4): "Container killed"/"Container
		// terminated", or "Container destroyed while fetching/pulling
		// image" if it never reached RUNNING. There is no --reason flag
		// here on purpose — an operator cannot override that message.
		_, err := rpc.Call(socketFlag(flags), rpc.Request{
			Op:     rpc.OpDestroy,
			ID:     types.ContainerID(id),
			Killed: killed,
		})
		return err
	},
}

func init() {
	flags := destroyCmd.Flags()
	flags.String("id", "", "container id to destroy")
	flags.Bool("killed", false, "report the termination as operator-initiated rather than a task failure")
}
