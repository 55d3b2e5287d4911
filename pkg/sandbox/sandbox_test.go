package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/dockerizer/pkg/types"
)

func TestPrepareNoColonNoSymlink(t *testing.T) {
	dir := t.TempDir()
	workDir := t.TempDir()

	res, err := Prepare(workDir, "slave-1", types.ContainerID("c1"), dir, "")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if res.Symlinked {
		t.Error("expected Symlinked = false")
	}
	if res.Directory != dir {
		t.Errorf("Directory = %q, want %q", res.Directory, dir)
	}

	for _, name := range []string{"stdout", "stderr"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}

func TestPrepareColonCreatesSymlink(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "weird:path")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	workDir := t.TempDir()

	res, err := Prepare(workDir, "slave-1", types.ContainerID("c2"), dir, "")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !res.Symlinked {
		t.Fatal("expected Symlinked = true")
	}

	want := filepath.Join(workDir, "slave-1", "docker", "links", "c2")
	if res.Directory != want {
		t.Errorf("Directory = %q, want %q", res.Directory, want)
	}

	target, err := os.Readlink(want)
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if target != dir {
		t.Errorf("symlink target = %q, want %q", target, dir)
	}
}

func TestPrepareIdempotentSymlink(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "a:b")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	workDir := t.TempDir()

	if _, err := Prepare(workDir, "s", types.ContainerID("c3"), dir, ""); err != nil {
		t.Fatalf("first Prepare() error = %v", err)
	}
	if _, err := Prepare(workDir, "s", types.ContainerID("c3"), dir, ""); err != nil {
		t.Fatalf("second Prepare() error = %v", err)
	}
}
