package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/dockerizer/pkg/rpc"
)

var containersCmd = &cobra.Command{
	Use:   "containers",
	Short: "List currently registered container ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := rpc.Call(socketFlag(cmd.Flags()), rpc.Request{Op: rpc.OpContainers})
		if err != nil {
			return err
		}
		return printJSON(resp.Containers)
	},
}
