package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/dockerizer/pkg/rpc"
	"github.com/cuemby/dockerizer/pkg/types"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update a container's resource allocation",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		id, _ := flags.GetString("id")
		cpus, _ := flags.GetFloat64("cpus")
		mem, _ := flags.GetInt64("mem-bytes")

		_, err := rpc.Call(socketFlag(flags), rpc.Request{
			Op:        rpc.OpUpdate,
			ID:        types.ContainerID(id),
			Resources: types.Resources{CPUs: cpus, MemBytes: mem},
		})
		return err
	},
}

func init() {
	flags := updateCmd.Flags()
	flags.String("id", "", "container id to update")
	flags.Float64("cpus", 0, "new CPU allocation, fractional cores")
	flags.Int64("mem-bytes", 0, "new memory allocation in bytes")
}
