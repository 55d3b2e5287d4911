package recoverjournal

import (
	"testing"

	"github.com/cuemby/dockerizer/pkg/types"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestCheckpointAndGet(t *testing.T) {
	j := openTestJournal(t)

	run := Run{ContainerID: "c1", ForkedPid: 1234, ExecutorHelperName: "mesos-s1.c1.executor"}
	if err := j.Checkpoint(run); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	got, found, err := j.Get("c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected run to be found")
	}
	if got.ForkedPid != 1234 || got.ExecutorHelperName != "mesos-s1.c1.executor" {
		t.Errorf("got %+v, want forked pid 1234 and helper name mesos-s1.c1.executor", got)
	}
	if got.CheckpointedAt.IsZero() {
		t.Error("expected CheckpointedAt to be stamped")
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	j := openTestJournal(t)

	_, found, err := j.Get("missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("expected found=false for missing container id")
	}
}

func TestMarkCompleted(t *testing.T) {
	j := openTestJournal(t)

	if err := j.Checkpoint(Run{ContainerID: "c1", ForkedPid: 1}); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := j.MarkCompleted("c1"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	got, found, err := j.Get("c1")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if !got.Completed {
		t.Error("expected Completed=true after MarkCompleted")
	}
}

func TestMarkCompletedMissingIsNoop(t *testing.T) {
	j := openTestJournal(t)
	if err := j.MarkCompleted("nonexistent"); err != nil {
		t.Fatalf("MarkCompleted on missing id should be a no-op, got error: %v", err)
	}
}

func TestAllAndDelete(t *testing.T) {
	j := openTestJournal(t)

	for _, id := range []types.ContainerID{"c1", "c2", "c3"} {
		if err := j.Checkpoint(Run{ContainerID: id, ForkedPid: 1}); err != nil {
			t.Fatalf("Checkpoint(%s): %v", id, err)
		}
	}

	all, err := j.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(All()) = %d, want 3", len(all))
	}

	if err := j.Delete("c2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	all, err = j.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(All()) after delete = %d, want 2", len(all))
	}
	if _, ok := all["c2"]; ok {
		t.Error("c2 should have been deleted")
	}
}
