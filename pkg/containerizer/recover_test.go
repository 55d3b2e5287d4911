package containerizer

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/cuemby/dockerizer/pkg/dockerclient"
	"github.com/cuemby/dockerizer/pkg/dockerclient/dockerclienttest"
	"github.com/cuemby/dockerizer/pkg/recoverer"
)

func TestRecoverReattachesAndArmsTeardown(t *testing.T) {
	docker := dockerclienttest.New()
	docker.PsEntries = []dockerclient.PsEntry{{Name: "mesos-s1.A"}}
	c, _, reaperFake := newTestEngine(t, docker, &fakeLauncher{})

	// Teardown sends SIGTERM to the reattached pid, so it belongs to a
	// disposable child process rather than to the test binary itself.
	helper := exec.Command("sleep", "60")
	if err := helper.Start(); err != nil {
		t.Fatalf("start stand-in executor: %v", err)
	}
	t.Cleanup(func() {
		_ = helper.Process.Kill()
		_ = helper.Wait()
	})
	pid := helper.Process.Pid

	state := recoverer.SlaveState{
		SlaveID: "s1",
		Runs:    []recoverer.PersistedRun{{ContainerID: "A", ForkedPid: pid}},
	}

	result, err := c.Recover(context.Background(), state)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(result.Reattached) != 1 || result.Reattached[0] != "A" {
		t.Fatalf("expected A reattached, got %+v", result)
	}

	ids, err := c.Containers(context.Background())
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}
	if len(ids) != 1 || ids[0] != "A" {
		t.Errorf("Containers() = %v, want [A]", ids)
	}

	waitCh, err := c.Wait(context.Background(), "A")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	reaperFake.Notify(pid, 9)

	select {
	case term := <-waitCh:
		if term.Status == nil || *term.Status != 9 {
			t.Errorf("expected exit status 9, got %+v", term)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reattached container's termination")
	}

	ids, err = c.Containers(context.Background())
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected reattached container removed after teardown, got %v", ids)
	}
}

func TestRecoverSkipsAlreadyRegisteredContainer(t *testing.T) {
	docker := dockerclienttest.New()
	docker.PsEntries = []dockerclient.PsEntry{{Name: "mesos-s1.A"}}
	c, _, _ := newTestEngine(t, docker, &fakeLauncher{pid: 4711})

	req := LaunchRequest{
		ID:           "A",
		ExecutorInfo: dockerExecutorInfo("busybox"),
		Directory:    t.TempDir(),
		SlaveID:      "s1",
	}
	if res := <-c.Launch(context.Background(), req); res.Err != nil {
		t.Fatalf("launch: %v", res.Err)
	}

	state := recoverer.SlaveState{
		SlaveID: "s1",
		Runs:    []recoverer.PersistedRun{{ContainerID: "A", ForkedPid: os.Getpid()}},
	}
	result, err := c.Recover(context.Background(), state)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(result.Reattached) != 0 {
		t.Errorf("expected already-registered container to be skipped, got %+v", result)
	}
}
