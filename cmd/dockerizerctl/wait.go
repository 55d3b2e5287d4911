package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/dockerizer/pkg/rpc"
	"github.com/cuemby/dockerizer/pkg/types"
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until a container terminates, then print its result",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		id, _ := flags.GetString("id")

		resp, err := rpc.Call(socketFlag(flags), rpc.Request{Op: rpc.OpWait, ID: types.ContainerID(id)})
		if err != nil {
			return err
		}
		return printJSON(resp.Wait)
	},
}

func init() {
	waitCmd.Flags().String("id", "", "container id to wait on")
}
