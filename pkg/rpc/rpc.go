// Package rpc is the debugging/demo transport for dockerizerctl (SPEC_FULL
// §5): a local Unix socket carrying newline-delimited JSON requests and
// responses, so the operator CLI can drive a running containerizer's
// launch/update/usage/wait/destroy/containers/recover operations by hand
// without standing up a full gRPC service the way the teacher's API does.
package rpc

import (
	"encoding/json"

	"github.com/cuemby/dockerizer/pkg/containerizer"
	"github.com/cuemby/dockerizer/pkg/recoverer"
	"github.com/cuemby/dockerizer/pkg/types"
	"github.com/cuemby/dockerizer/pkg/usage"
)

// Op names every operation dockerizerctl can issue.
type Op string

const (
	OpLaunch     Op = "launch"
	OpUpdate     Op = "update"
	OpUsage      Op = "usage"
	OpWait       Op = "wait"
	OpDestroy    Op = "destroy"
	OpContainers Op = "containers"
	OpRecover    Op = "recover"
)

// Request is one newline-delimited JSON object sent to the server.
type Request struct {
	Op Op `json:"op"`

	Launch    *containerizer.LaunchRequest `json:"launch,omitempty"`
	ID        types.ContainerID            `json:"id,omitempty"`
	Resources types.Resources              `json:"resources,omitempty"`

	Killed bool `json:"killed,omitempty"`

	Recover *recoverer.SlaveState `json:"recover,omitempty"`
}

// Response is the single JSON object returned for every Request. On
// success the operation-specific payload field is populated, except for
// update and destroy, which return an empty Response; Error is set (and
// everything else left zero) on failure.
type Response struct {
	Error string `json:"error,omitempty"`

	Launch     *containerizer.LaunchResult  `json:"launch,omitempty"`
	Containers []types.ContainerID          `json:"containers,omitempty"`
	Usage      *usage.Statistics            `json:"usage,omitempty"`
	Wait       *types.Termination           `json:"wait,omitempty"`
	Recover    *containerizer.RecoverResult `json:"recover,omitempty"`
}

// Encode marshals v followed by a newline, the wire framing both Server
// and a client dialing the socket agree on.
func Encode(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
