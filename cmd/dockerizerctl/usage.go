package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/dockerizer/pkg/rpc"
	"github.com/cuemby/dockerizer/pkg/types"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Query a container's resource usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		id, _ := flags.GetString("id")

		resp, err := rpc.Call(socketFlag(flags), rpc.Request{
			Op: rpc.OpUsage,
			ID: types.ContainerID(id),
		})
		if err != nil {
			return err
		}
		return printJSON(resp.Usage)
	},
}

func init() {
	usageCmd.Flags().String("id", "", "container id to query")
}
