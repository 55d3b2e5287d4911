// Command mesos-docker-executor is the local executor-helper binary the
// Executor Launcher (§4.5) forks for the non-nested launch path. It
// performs the parent-child handshake described in §4.4 — block on a
// single byte from stdin, written by the engine as soon as it has this
// process's pid (before that pid is checkpointed) — then attaches to the already-running
// Docker container so this process's own lifetime (and exit status)
// stands in for the container's.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("mesos-docker-executor", pflag.ExitOnError)
	docker := flags.String("docker", "docker", "path to the docker CLI binary")
	container := flags.String("container", "", "name of the already-running Docker container to attach to")
	sandboxDirectory := flags.String("sandbox_directory", "", "original (unmapped) sandbox directory, nested-in-Docker variant only")
	mappedDirectory := flags.String("mapped_directory", "", "sandbox directory as mapped inside this process's own container, nested-in-Docker variant only")

	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mesos-docker-executor: %v\n", err)
		os.Exit(1)
	}

	if *container == "" {
		fmt.Fprintln(os.Stderr, "mesos-docker-executor: --container is required")
		os.Exit(1)
	}
	if *mappedDirectory != "" {
		fmt.Fprintf(os.Stderr, "mesos-docker-executor: nested-in-Docker, sandbox %s mapped to %s\n", *sandboxDirectory, *mappedDirectory)
	}

	// §4.4: setsid before the handshake, so a SIGTERM the agent later
	// sends to its own process group during teardown never lands on this
	// process too. EPERM here means the parent already placed us in our
	// own session (the local-launch path sets SysProcAttr.Setsid); either
	// way, by this point we are a session leader.
	if _, err := syscall.Setsid(); err != nil && err != syscall.EPERM {
		fmt.Fprintf(os.Stderr, "mesos-docker-executor: setsid: %v\n", err)
		os.Exit(1)
	}

	if err := handshake(os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "mesos-docker-executor: handshake: %v\n", err)
		os.Exit(1)
	}

	binary, err := exec.LookPath(*docker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mesos-docker-executor: %v\n", err)
		os.Exit(1)
	}

	// Replace this process's image with `docker start --attach
	// <container>` so our own pid's exit status becomes the container's
	// exit status, matching the engine's expectation that the checkpointed
	// pid's death (observed by the reaper) is the authoritative completion
	// signal for the executor.
	args := []string{binary, "start", "--attach", *container}
	if err := syscall.Exec(binary, args, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "mesos-docker-executor: exec docker start: %v\n", err)
		os.Exit(1)
	}
}

// handshake blocks until the engine writes exactly one byte to stdin,
// which it does once it has observed this process's pid, before this
// process takes over as the executor.
func handshake(stdin *os.File) error {
	buf := make([]byte, 1)
	n, err := stdin.Read(buf)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("expected 1 handshake byte, got %d", n)
	}
	return nil
}
