package containerizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/cuemby/dockerizer/pkg/dockerclient"
	"github.com/cuemby/dockerizer/pkg/log"
	"github.com/cuemby/dockerizer/pkg/namecodec"
	"github.com/cuemby/dockerizer/pkg/reaper"
	"github.com/cuemby/dockerizer/pkg/types"
)

// Launcher implements §4.5's Executor Launcher: start the executor
// helper and return the pid to checkpoint and reap (the local helper
// pid, or the docker-wait stand-in pid), plus the executor-helper
// container name when the nested-in-Docker variant was used. It is a
// small interface, like the Docker client, so engine tests can supply a
// deterministic double instead of actually forking processes.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest, container *types.Container, primaryName string) (pid int, helperName string, err error)
}

// execLauncher is the real Launcher: local subprocess or
// nested-in-Docker, chosen by whether docker_mesos_image is configured.
type execLauncher struct {
	cfg    Config
	docker dockerclient.Client
	reaper reaper.Reaper
}

func newExecLauncher(cfg Config, docker dockerclient.Client, r reaper.Reaper) *execLauncher {
	return &execLauncher{cfg: cfg, docker: docker, reaper: r}
}

// notifyExit reports pid's real exit status to the reaper, when the
// configured reaper is able to accept one directly (the production
// ProcessReaper always is; test doubles usually aren't, and simply miss
// out on a precise status).
func (l *execLauncher) notifyExit(pid int, status int) {
	if n, ok := l.reaper.(reaper.Notifier); ok {
		n.Notify(pid, status)
	}
}

// exitCodeFromWait derives a process's real exit status from the error
// (*os/exec.Cmd).Wait() returned, following the POSIX/Docker convention
// of 128+signal for a signalled exit (e.g. 137 for SIGKILL).
func exitCodeFromWait(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return 128 + int(status.Signal())
		}
		return status.ExitStatus()
	}
	return exitErr.ExitCode()
}

func (l *execLauncher) Launch(ctx context.Context, req LaunchRequest, container *types.Container, primaryName string) (int, string, error) {
	if l.cfg.nestedInDocker() {
		return l.launchNested(ctx, req, container, primaryName)
	}
	return l.launchLocal(req, container)
}

// launchLocal spawns the helper binary with a piped stdin and performs
// the parent-child handshake described in §4.4: write exactly one byte
// as soon as the pid is known, so the child (which reads one byte before
// exec'ing the real executor) proceeds only once the parent has observed
// its pid. The engine checkpoints that pid to the recovery journal only
// after Launch returns, so the byte does not mean the pid is checkpointed.
func (l *execLauncher) launchLocal(req LaunchRequest, container *types.Container) (int, string, error) {
	logger := log.WithContainerID(string(req.ID))

	helperPath := filepath.Join(l.cfg.LauncherDir, "mesos-docker-executor")
	args := []string{
		"--docker=" + l.cfg.Docker,
		"--container=" + namecodec.Make(req.SlaveID, req.ID),
	}

	cmd := exec.Command(helperPath, args...)
	cmd.Dir = container.Directory
	cmd.Env = buildExecutorEnv(req, l.cfg)
	// §4.4: the helper does setsid, chdir, then the handshake read. The
	// helper itself calls syscall.Setsid before reading; starting it in
	// its own process group here too means a SIGTERM this process later
	// sends to its own group during shutdown can't also hit the helper.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdoutFile, err := os.OpenFile(filepath.Join(container.Directory, "stdout"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, "", fmt.Errorf("open stdout: %w", err)
	}
	defer stdoutFile.Close()
	stderrFile, err := os.OpenFile(filepath.Join(container.Directory, "stderr"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, "", fmt.Errorf("open stderr: %w", err)
	}
	defer stderrFile.Close()
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 0, "", fmt.Errorf("create handshake pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, "", fmt.Errorf("start executor helper: %w", err)
	}

	pid := cmd.Process.Pid
	logger.Debug().Int("pid", pid).Msg("executor helper forked, performing handshake")

	if _, err := stdin.Write([]byte{0}); err != nil {
		stdin.Close()
		_ = cmd.Process.Kill()
		return 0, "", fmt.Errorf("handshake write: %w", err)
	}
	stdin.Close()

	go func() {
		waitErr := cmd.Wait()
		l.notifyExit(pid, exitCodeFromWait(waitErr))
	}()

	return pid, "", nil
}

// launchNested starts the helper inside its own Docker container (the
// "nested-in-Docker" variant), then tracks its liveness by spawning
// `docker wait <helper>` as a subprocess and reaping that process, since
// pids forked by a containerized agent do not survive the agent's own
// restart.
func (l *execLauncher) launchNested(ctx context.Context, req LaunchRequest, container *types.Container, primaryName string) (int, string, error) {
	helperName := namecodec.MakeExecutorHelper(req.SlaveID, req.ID)

	mounts := []dockerclient.Mount{
		{Source: l.cfg.DockerSocket, Destination: "/var/run/docker.sock", Options: []string{"ro"}},
		{Source: container.Directory, Destination: l.cfg.DockerSandboxDirectory},
	}

	opts := dockerclient.RunOptions{
		Name:  helperName,
		Image: l.cfg.DockerMesosImage,
		Command: []string{
			"--docker=" + l.cfg.Docker,
			"--container=" + primaryName,
			"--sandbox_directory=" + container.Directory,
			"--mapped_directory=" + l.cfg.DockerSandboxDirectory,
		},
		Mounts: mounts,
		Detach: true,
	}

	if err := l.docker.Run(ctx, opts); err != nil {
		return 0, "", fmt.Errorf("run executor-helper container: %w", err)
	}

	cmd := exec.CommandContext(context.Background(), l.cfg.Docker, "wait", helperName)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Start(); err != nil {
		return 0, "", fmt.Errorf("spawn docker wait %s: %w", helperName, err)
	}

	pid := cmd.Process.Pid
	go func() {
		waitErr := cmd.Wait()
		// `docker wait`'s own exit status is 0 as long as it could
		// observe the container (it prints the container's real exit
		// code to stdout); only fall back to the process-exit heuristic
		// if the command itself failed or printed something unparsable.
		status := -1
		if waitErr == nil {
			if code, err := strconv.Atoi(strings.TrimSpace(stdout.String())); err == nil {
				status = code
			}
		} else {
			status = exitCodeFromWait(waitErr)
		}
		l.notifyExit(pid, status)
	}()

	return pid, helperName, nil
}

// buildExecutorEnv assembles the helper's environment: the framework's
// executor env, then agent-provided identity and recovery settings, per
// §4.5.
func buildExecutorEnv(req LaunchRequest, cfg Config) []string {
	env := os.Environ()
	for k, v := range req.ExecutorInfo.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"MESOS_SLAVE_ID="+req.SlaveID,
		"MESOS_SLAVE_PID="+req.SlavePID,
		fmt.Sprintf("MESOS_CHECKPOINT=%t", req.Checkpoint),
		fmt.Sprintf("MESOS_RECOVERY_TIMEOUT=%s", cfg.RecoveryTimeout),
	)
	return env
}
