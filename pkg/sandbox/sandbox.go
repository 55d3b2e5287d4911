// Package sandbox prepares a container's sandbox directory before launch:
// touching stdout/stderr, chowning to the run-as user, and symlinking
// colon-containing paths so the Docker CLI (which treats ':' as its
// volume-spec separator) can accept them.
package sandbox

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/dockerizer/pkg/log"
	"github.com/cuemby/dockerizer/pkg/types"
)

// Result is the effective sandbox layout computed by Prepare.
type Result struct {
	// Directory is the path launch() should actually use: either the
	// caller's directory, or, when it contained a colon, the symlink under
	// the links directory that points at it.
	Directory string
	Symlinked bool
}

// Prepare ensures stdout/stderr exist in directory, chowns it to user (if
// set), and symlinks it under <workDir>/<slaveID>/docker/links/<id> when
// directory contains a colon. It is the first thing launch() does; any
// failure here aborts launch before the container is registered.
func Prepare(workDir, slaveID string, id types.ContainerID, directory, runAsUser string) (Result, error) {
	logger := log.WithContainerID(string(id))

	if err := touchStdoutStderr(directory); err != nil {
		return Result{}, fmt.Errorf("failed to prepare stdout/stderr: %w", err)
	}

	if runAsUser != "" {
		if err := chownRecursive(directory, runAsUser); err != nil {
			return Result{}, fmt.Errorf("failed to chown sandbox to %s: %w", runAsUser, err)
		}
	}

	linksDir := filepath.Join(workDir, slaveID, "docker", "links")
	if err := os.MkdirAll(linksDir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create links directory: %w", err)
	}

	if !strings.Contains(directory, ":") {
		return Result{Directory: directory, Symlinked: false}, nil
	}

	link := filepath.Join(linksDir, string(id))
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return Result{}, fmt.Errorf("failed to clear stale sandbox link: %w", err)
	}
	if err := os.Symlink(directory, link); err != nil {
		return Result{}, fmt.Errorf("failed to symlink sandbox %s -> %s: %w", link, directory, err)
	}

	logger.Debug().Str("directory", directory).Str("link", link).
		Msg("sandbox directory contains ':', using symlink")

	return Result{Directory: link, Symlinked: true}, nil
}

func touchStdoutStderr(directory string) error {
	for _, name := range []string{"stdout", "stderr"} {
		path := filepath.Join(directory, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("touch %s: %w", path, err)
		}
		f.Close()
	}
	return nil
}

func chownRecursive(directory, username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("parse uid %s: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("parse gid %s: %w", u.Gid, err)
	}

	return filepath.Walk(directory, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(path, uid, gid)
	})
}
