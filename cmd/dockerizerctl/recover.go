package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/dockerizer/pkg/recoverer"
	"github.com/cuemby/dockerizer/pkg/rpc"
	"github.com/cuemby/dockerizer/pkg/types"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reconcile persisted runs and live docker ps output",
	Long: `Reconcile persisted runs and live docker ps output.

--run accepts "containerID:pid" pairs (repeatable) describing runs the
caller already knows about, on top of whatever serve's own recovery
journal already has checkpointed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		slaveID, _ := flags.GetString("slave-id")
		runFlags, _ := flags.GetStringArray("run")

		state := recoverer.SlaveState{SlaveID: slaveID}
		for _, raw := range runFlags {
			parts := strings.SplitN(raw, ":", 2)
			if len(parts) != 2 {
				return fmt.Errorf("--run must be containerID:pid, got %q", raw)
			}
			pid, err := strconv.Atoi(parts[1])
			if err != nil {
				return fmt.Errorf("--run pid %q: %w", parts[1], err)
			}
			state.Runs = append(state.Runs, recoverer.PersistedRun{
				ContainerID: types.ContainerID(parts[0]),
				ForkedPid:   pid,
			})
		}

		resp, err := rpc.Call(socketFlag(flags), rpc.Request{Op: rpc.OpRecover, Recover: &state})
		if err != nil {
			return err
		}
		return printJSON(resp.Recover)
	},
}

func init() {
	flags := recoverCmd.Flags()
	flags.String("slave-id", "", "agent id to recover; defaults to serve's own --slave-id")
	flags.StringArray("run", nil, "containerID:pid pair describing a persisted run, repeatable")
}
