package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/dockerizer/pkg/containerizer"
	"github.com/cuemby/dockerizer/pkg/rpc"
	"github.com/cuemby/dockerizer/pkg/types"
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch a container against a running 'serve' instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()

		id, _ := flags.GetString("id")
		image, _ := flags.GetString("image")
		command, _ := flags.GetString("command")
		directory, _ := flags.GetString("directory")
		user, _ := flags.GetString("user")
		slaveID, _ := flags.GetString("slave-id")
		slavePID, _ := flags.GetString("slave-pid")
		checkpoint, _ := flags.GetBool("checkpoint")
		privileged, _ := flags.GetBool("privileged")
		frameworkID, _ := flags.GetString("framework-id")
		executorID, _ := flags.GetString("executor-id")
		taskID, _ := flags.GetString("task-id")
		env, _ := flags.GetStringArray("env")
		fetchURIs, _ := flags.GetStringArray("fetch-uri")

		if image == "" {
			return fmt.Errorf("--image is required")
		}
		if id == "" {
			// The containerizer never mints a ContainerID itself; this
			// generates one for the operator's convenience when driving
			// launch by hand rather than through a real Mesos agent.
			id = uuid.New().String()
		}

		envMap := map[string]string{}
		for _, kv := range env {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("--env must be key=value, got %q", kv)
			}
			envMap[parts[0]] = parts[1]
		}

		req := containerizer.LaunchRequest{
			ID:         types.ContainerID(id),
			Directory:  directory,
			User:       user,
			SlaveID:    slaveID,
			SlavePID:   slavePID,
			Checkpoint: checkpoint,
			FetchURIs:  fetchURIs,
			ExecutorInfo: types.ExecutorInfo{
				FrameworkID:  frameworkID,
				ExecutorID:   executorID,
				IsDockerType: true,
				Container: types.ContainerInfo{
					Image:      image,
					Privileged: privileged,
					Env:        envMap,
				},
			},
		}
		if command != "" {
			req.ExecutorInfo.Container.Command = strings.Fields(command)
		}
		if taskID != "" {
			req.TaskInfo = &types.TaskInfo{TaskID: taskID}
		}

		resp, err := rpc.Call(socketFlag(flags), rpc.Request{Op: rpc.OpLaunch, Launch: &req})
		if err != nil {
			return err
		}
		return printJSON(struct {
			ID types.ContainerID `json:"id"`
			*containerizer.LaunchResult
		}{ID: types.ContainerID(id), LaunchResult: resp.Launch})
	},
}

func init() {
	flags := launchCmd.Flags()
	flags.String("id", "", "container id to launch")
	flags.String("image", "", "Docker image to run")
	flags.String("command", "", "command to run inside the container, space-separated")
	flags.String("directory", "", "sandbox directory")
	flags.String("user", "", "run-as user")
	flags.String("slave-id", "", "agent id")
	flags.String("slave-pid", "", "agent PID string")
	flags.Bool("checkpoint", false, "persist the forked pid for recovery")
	flags.Bool("privileged", false, "run the container in privileged mode")
	flags.String("framework-id", "", "framework id")
	flags.String("executor-id", "", "executor id")
	flags.String("task-id", "", "task id, if this container wraps a single task")
	flags.StringArray("env", nil, "environment variable as key=value, repeatable")
	flags.StringArray("fetch-uri", nil, "artifact URI to fetch into the sandbox before pulling, repeatable")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
