package containerizer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cuemby/dockerizer/pkg/dockerclient/dockerclienttest"
	"github.com/cuemby/dockerizer/pkg/fetcher/fetchertest"
	"github.com/cuemby/dockerizer/pkg/metrics"
	"github.com/cuemby/dockerizer/pkg/reaper/reapertest"
	"github.com/cuemby/dockerizer/pkg/types"
)

// fakeLauncher is a deterministic Launcher double: it never forks a
// process, just hands back a caller-supplied pid.
type fakeLauncher struct {
	pid        int
	helperName string
	err        error

	lastReq  LaunchRequest
	launched bool
}

func (f *fakeLauncher) Launch(_ context.Context, req LaunchRequest, _ *types.Container, _ string) (int, string, error) {
	f.lastReq = req
	f.launched = true
	if f.err != nil {
		return 0, "", f.err
	}
	return f.pid, f.helperName, nil
}

func newTestEngine(t *testing.T, docker *dockerclienttest.Fake, launcher *fakeLauncher) (*Containerizer, *fetchertest.Fake, *reapertest.Fake) {
	t.Helper()
	f := fetchertest.New()
	r := reapertest.New()
	cfg := Config{
		WorkDir:           t.TempDir(),
		SlaveID:           "s1",
		DockerStopTimeout: time.Second,
		DockerRemoveDelay: 0,
	}
	c := NewWithLauncher(cfg, docker, f, r, nil, launcher)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)

	return c, f, r
}

func dockerExecutorInfo(image string) types.ExecutorInfo {
	return types.ExecutorInfo{
		IsDockerType: true,
		Container:    types.ContainerInfo{Image: image, Command: []string{"/bin/true"}},
	}
}

func TestLaunchNonDockerTypeReturnsFalse(t *testing.T) {
	docker := dockerclienttest.New()
	c, _, _ := newTestEngine(t, docker, &fakeLauncher{})

	req := LaunchRequest{
		ID:           "A",
		ExecutorInfo: types.ExecutorInfo{IsDockerType: false},
		Directory:    t.TempDir(),
		SlaveID:      "s1",
	}

	res := <-c.Launch(context.Background(), req)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.OK {
		t.Error("expected OK=false for a non-Docker container type")
	}

	ids, err := c.Containers(context.Background())
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("registry should be empty, got %v", ids)
	}
}

func TestLaunchSuccessReachesRunning(t *testing.T) {
	docker := dockerclienttest.New()
	launcher := &fakeLauncher{pid: 4711}
	c, _, _ := newTestEngine(t, docker, launcher)

	dir := t.TempDir()
	req := LaunchRequest{
		ID:           "A",
		ExecutorInfo: dockerExecutorInfo("busybox"),
		Directory:    dir,
		SlaveID:      "s1",
		Checkpoint:   true,
	}

	res := <-c.Launch(context.Background(), req)
	if res.Err != nil {
		t.Fatalf("launch failed: %v", res.Err)
	}
	if !res.OK {
		t.Fatal("expected OK=true")
	}
	if !launcher.launched {
		t.Error("expected the executor launcher to have been invoked")
	}

	ids, err := c.Containers(context.Background())
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}
	if len(ids) != 1 || ids[0] != "A" {
		t.Errorf("Containers() = %v, want [A]", ids)
	}

	if len(docker.Pulled) != 1 || docker.Pulled[0] != "busybox" {
		t.Errorf("Pulled = %v, want [busybox]", docker.Pulled)
	}
	if len(docker.Ran) != 1 || docker.Ran[0].Name != "mesos-s1.A" {
		t.Errorf("Ran = %+v, want a single run named mesos-s1.A", docker.Ran)
	}
}

func TestLaunchDuplicateContainerIDFails(t *testing.T) {
	docker := dockerclienttest.New()
	c, _, _ := newTestEngine(t, docker, &fakeLauncher{pid: 1})

	req := LaunchRequest{
		ID:           "A",
		ExecutorInfo: dockerExecutorInfo("busybox"),
		Directory:    t.TempDir(),
		SlaveID:      "s1",
	}

	first := <-c.Launch(context.Background(), req)
	if first.Err != nil || !first.OK {
		t.Fatalf("first launch should succeed, got %+v", first)
	}

	second := <-c.Launch(context.Background(), req)
	if second.Err == nil {
		t.Fatal("expected duplicate launch to fail")
	}
	if _, ok := second.Err.(*DuplicateContainerError); !ok {
		t.Errorf("expected *DuplicateContainerError, got %T: %v", second.Err, second.Err)
	}
}

func TestLaunchPullFailureDestroysContainer(t *testing.T) {
	docker := dockerclienttest.New()
	docker.PullErr = &pullError{}
	c, _, _ := newTestEngine(t, docker, &fakeLauncher{pid: 1})

	req := LaunchRequest{
		ID:           "A",
		ExecutorInfo: dockerExecutorInfo("busybox"),
		Directory:    t.TempDir(),
		SlaveID:      "s1",
	}

	res := <-c.Launch(context.Background(), req)
	if res.Err == nil {
		t.Fatal("expected launch to fail when pull fails")
	}
	if !strings.Contains(res.Err.Error(), "pull failed") {
		t.Errorf("expected the originating pull error to surface, got %v", res.Err)
	}

	ids, err := c.Containers(context.Background())
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected container to be removed after destroy, got %v", ids)
	}
}

type pullError struct{}

func (*pullError) Error() string { return "pull failed" }

// TestDestroyDuringFetchingKillsFetcherAndSetsCanonicalMessage proves §5's
// "cancellation of the fetcher goes through the fetcher's kill(containerId)"
// and that an operator-initiated destroy during FETCHING cannot override
// the canonical Termination message with an arbitrary string — there is no
// longer a reason parameter for it to come from.
func TestDestroyDuringFetchingKillsFetcherAndSetsCanonicalMessage(t *testing.T) {
	docker := dockerclienttest.New()
	c, fetcherFake, _ := newTestEngine(t, docker, &fakeLauncher{pid: 1})
	fetcherFake.Block = make(chan struct{})

	req := LaunchRequest{
		ID:           "A",
		ExecutorInfo: dockerExecutorInfo("busybox"),
		Directory:    t.TempDir(),
		SlaveID:      "s1",
		FetchURIs:    []string{"http://example.invalid/artifact.tar"},
	}

	launchCh := c.Launch(context.Background(), req)

	// Give the launch goroutine a chance to reach the blocking Fetch call
	// before destroy races it.
	deadline := time.After(2 * time.Second)
	for {
		var registered bool
		c.dispatch(context.Background(), func() { registered = c.registry.Contains("A") })
		if registered {
			break
		}
		select {
		case <-deadline:
			t.Fatal("container never registered")
		case <-time.After(time.Millisecond):
		}
	}

	waitCh, err := c.Wait(context.Background(), "A")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	<-c.Destroy(context.Background(), "A", true)

	if len(fetcherFake.Killed) != 1 || fetcherFake.Killed[0] != "A" {
		t.Errorf("expected fetcher.Kill(\"A\"), got %v", fetcherFake.Killed)
	}

	select {
	case term := <-waitCh:
		if term.Message != "Container destroyed while fetching" {
			t.Errorf("termination message = %q, want %q", term.Message, "Container destroyed while fetching")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for termination")
	}

	select {
	case res := <-launchCh:
		if res.Err == nil {
			t.Fatal("expected launch to report failure after destroy raced fetching")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for launch to unblock")
	}
}

func TestDestroyAfterReapSetsTermination(t *testing.T) {
	docker := dockerclienttest.New()
	launcher := &fakeLauncher{pid: 4711}
	c, _, reaperFake := newTestEngine(t, docker, launcher)

	req := LaunchRequest{
		ID:           "A",
		ExecutorInfo: dockerExecutorInfo("busybox"),
		Directory:    t.TempDir(),
		SlaveID:      "s1",
	}
	launchRes := <-c.Launch(context.Background(), req)
	if launchRes.Err != nil || !launchRes.OK {
		t.Fatalf("launch failed: %+v", launchRes)
	}

	waitCh, err := c.Wait(context.Background(), "A")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	reaperFake.Notify(4711, 137)

	select {
	case term := <-waitCh:
		// A reaper-driven teardown (the process exited on its own) is
		// reported as killed=false, per destroy(containerId, killed=false).
		if term.Killed {
			t.Errorf("expected Killed=false for a reaper-driven destroy, got %+v", term)
		}
		if term.Status == nil || *term.Status != 137 {
			t.Errorf("expected exit status 137, got %+v", term.Status)
		}
		if term.Message != "Container terminated" {
			t.Errorf("message = %q, want the canonical state-derived message", term.Message)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for termination")
	}

	ids, err := c.Containers(context.Background())
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected container removed after reap-driven destroy, got %v", ids)
	}
	if len(docker.Stopped) == 0 {
		t.Error("expected docker stop to have been called during teardown")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	docker := dockerclienttest.New()
	launcher := &fakeLauncher{pid: 99}
	c, _, reaperFake := newTestEngine(t, docker, launcher)

	req := LaunchRequest{
		ID:           "A",
		ExecutorInfo: dockerExecutorInfo("busybox"),
		Directory:    t.TempDir(),
		SlaveID:      "s1",
	}
	if res := <-c.Launch(context.Background(), req); res.Err != nil {
		t.Fatalf("launch failed: %v", res.Err)
	}

	// Deliver the reap notification so that whichever destroy call ends
	// up performing the real teardown can observe a fulfilled status
	// promise rather than blocking forever.
	reaperFake.Notify(99, 0)

	<-c.Destroy(context.Background(), "A", true)
	<-c.Destroy(context.Background(), "A", true)

	ids, err := c.Containers(context.Background())
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no containers after destroy, got %v", ids)
	}
}

func TestReconcileMetricsMatchesRegistrySnapshot(t *testing.T) {
	docker := dockerclienttest.New()
	c, _, _ := newTestEngine(t, docker, &fakeLauncher{})

	c.dispatch(context.Background(), func() {
		c.registry.Insert(types.NewContainer("A", dockerExecutorInfo("img"), t.TempDir()))
		running := types.NewContainer("B", dockerExecutorInfo("img"), t.TempDir())
		running.State = types.StateRunning
		c.registry.Insert(running)
	})

	c.reconcileMetrics()

	if got := testutil.ToFloat64(metrics.ContainersActive.WithLabelValues(string(types.StateFetching))); got != 1 {
		t.Errorf("expected 1 fetching container, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ContainersActive.WithLabelValues(string(types.StateRunning))); got != 1 {
		t.Errorf("expected 1 running container, got %v", got)
	}
}

func TestWaitUnknownContainerFails(t *testing.T) {
	docker := dockerclienttest.New()
	c, _, _ := newTestEngine(t, docker, &fakeLauncher{})

	_, err := c.Wait(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("expected error for unknown container")
	}
	if _, ok := err.(*UnknownContainerError); !ok {
		t.Errorf("expected *UnknownContainerError, got %T", err)
	}
}
