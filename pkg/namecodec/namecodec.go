// Package namecodec maps ContainerIDs to Docker container names and back.
//
// Current names look like mesos-<slaveID>.<containerID>, with the legacy
// mesos-<containerID> form (no slave id) accepted for one deprecation
// cycle. Executor-helper containers carry an extra ".executor" token.
package namecodec

import (
	"strings"

	"github.com/cuemby/dockerizer/pkg/types"
)

const (
	namePrefix    = "mesos-"
	executorToken = "executor"
)

// Make builds the current-form container name for a container's own
// Docker container (not its executor helper).
func Make(slaveID string, id types.ContainerID) string {
	return namePrefix + slaveID + "." + string(id)
}

// Prefix returns the `docker ps --filter name=...` prefix matching every
// Mesos container belonging to slaveID, used by recovery to list the
// live candidates before partitioning them by name.
func Prefix(slaveID string) string {
	return namePrefix + slaveID
}

// MakeExecutorHelper builds the name of the nested-in-Docker executor
// helper container that accompanies a container.
func MakeExecutorHelper(slaveID string, id types.ContainerID) string {
	return Make(slaveID, id) + "." + executorToken
}

// MakeLegacy builds the deprecated mesos-<containerID> form, with no
// slave id segment. Only ever produced for backward-compatibility tests;
// new names are always minted via Make.
func MakeLegacy(id types.ContainerID) string {
	return namePrefix + string(id)
}

// Parse extracts the ContainerID from a Docker container name. It accepts
// both the leading-slash form the Docker API sometimes returns and the
// unprefixed form, the current two-segment and three-segment (".executor")
// layouts, and the legacy single-segment-after-prefix form. ok is false
// when name does not look like a Mesos container name at all — such
// containers must be ignored by recovery.
func Parse(name string) (id types.ContainerID, isExecutorHelper bool, ok bool) {
	name = strings.TrimPrefix(name, "/")
	if !strings.HasPrefix(name, namePrefix) {
		return "", false, false
	}
	rest := strings.TrimPrefix(name, namePrefix)
	if rest == "" {
		return "", false, false
	}

	parts := strings.Split(rest, ".")
	switch len(parts) {
	case 1:
		// legacy: mesos-<containerID>
		return types.ContainerID(parts[0]), false, true
	case 2:
		if parts[1] == executorToken {
			// ambiguous legacy-with-executor form: mesos-<containerID>.executor
			return types.ContainerID(parts[0]), true, true
		}
		// current: mesos-<slaveID>.<containerID>
		return types.ContainerID(parts[1]), false, true
	case 3:
		if parts[2] != executorToken {
			return "", false, false
		}
		// current executor helper: mesos-<slaveID>.<containerID>.executor
		return types.ContainerID(parts[1]), true, true
	default:
		return "", false, false
	}
}

// IsExecutorHelper reports whether name names an executor-helper container
// rather than the container's own primary container.
func IsExecutorHelper(name string) bool {
	_, isHelper, ok := Parse(name)
	return ok && isHelper
}
