// Package config assembles a containerizer Config (pkg/containerizer)
// plus logging settings from command-line flags, the way the teacher's
// cmd/warren wires its own persistent and per-command flags through
// spf13/cobra and spf13/pflag rather than a YAML or env layer.
package config

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/cuemby/dockerizer/pkg/containerizer"
	"github.com/cuemby/dockerizer/pkg/log"
)

// Config is every flag named in spec.md §6, plus the logging settings
// every command in this repo carries.
type Config struct {
	Containerizer containerizer.Config
	LogLevel      log.Level
	LogJSON       bool
}

// RegisterFlags adds every recognized flag to flags, with the defaults
// the spec's "Configuration flags" section implies.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("docker", "docker", "path to the docker CLI binary")
	flags.Duration("docker-stop-timeout", 5*time.Second, "grace period passed to docker stop during teardown")
	flags.Duration("docker-remove-delay", 0, "delay before docker rm -f during teardown")
	flags.Bool("docker-kill-orphans", false, "stop unclaimed Mesos-named containers during recovery")
	flags.String("docker-mesos-image", "", "run the executor helper inside a Docker container using this image (nested-in-Docker variant)")
	flags.String("docker-socket", "/var/run/docker.sock", "path to the Docker socket, mounted into the nested-in-Docker helper")
	flags.String("docker-sandbox-directory", "/mnt/mesos/sandbox", "sandbox path as mapped inside the nested-in-Docker helper")
	flags.String("work-dir", "/tmp/mesos", "agent work directory, used for sandbox symlinks")
	flags.String("launcher-dir", "", "directory containing the mesos-docker-executor helper binary")
	flags.Duration("recovery-timeout", 15*time.Minute, "recovery timeout passed through to the executor helper's environment")
	flags.String("slave-id", "", "agent (slave) identity")
	flags.String("slave-pid", "", "agent PID string passed to executors")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "emit logs as JSON instead of console-formatted text")
}

// FromFlags reads every flag RegisterFlags added into a Config. Errors
// are not expected here: RegisterFlags and FromFlags always name the
// same set of flags, so a lookup failure indicates a programming error
// rather than user input to report gracefully.
func FromFlags(flags *pflag.FlagSet) Config {
	get := func(name string) string { v, _ := flags.GetString(name); return v }
	getDur := func(name string) time.Duration { v, _ := flags.GetDuration(name); return v }
	getBool := func(name string) bool { v, _ := flags.GetBool(name); return v }

	return Config{
		Containerizer: containerizer.Config{
			Docker:                 get("docker"),
			DockerStopTimeout:      getDur("docker-stop-timeout"),
			DockerRemoveDelay:      getDur("docker-remove-delay"),
			DockerKillOrphans:      getBool("docker-kill-orphans"),
			DockerMesosImage:       get("docker-mesos-image"),
			DockerSocket:           get("docker-socket"),
			DockerSandboxDirectory: get("docker-sandbox-directory"),
			WorkDir:                get("work-dir"),
			LauncherDir:            get("launcher-dir"),
			RecoveryTimeout:        getDur("recovery-timeout"),
			SlaveID:                get("slave-id"),
			SlavePID:               get("slave-pid"),
		},
		LogLevel: log.Level(get("log-level")),
		LogJSON:  getBool("log-json"),
	}
}
