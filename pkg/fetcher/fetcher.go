// Package fetcher is the artifact-fetcher contract the lifecycle engine
// depends on during FETCHING: download a URI into the sandbox directory,
// with the ability to cancel an in-flight fetch when destroy races it.
//
// The real fetcher (URI schemes, archive extraction, caching) is an
// external collaborator out of scope for the containerizer; this package
// fixes its contract and ships one concrete implementation — plain
// http(s)/file URI download — good enough to exercise the engine end to
// end without a fully-featured fetch cache.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cuemby/dockerizer/pkg/types"
)

// Fetcher downloads artifacts into a container's sandbox. Fetch must
// observe ctx cancellation promptly; Kill cancels any fetch in flight for
// containerID, used when destroy() races FETCHING.
type Fetcher interface {
	Fetch(ctx context.Context, containerID types.ContainerID, uris []string, directory string) error
	Kill(containerID types.ContainerID)
}

// URIFetcher fetches http(s):// and file:// URIs into the sandbox
// directory, naming each artifact after the URI's base name.
type URIFetcher struct {
	client *http.Client

	mu      sync.Mutex
	cancels map[types.ContainerID]context.CancelFunc
}

// New returns a URIFetcher using http.DefaultClient.
func New() *URIFetcher {
	return &URIFetcher{
		client:  http.DefaultClient,
		cancels: make(map[types.ContainerID]context.CancelFunc),
	}
}

// Fetch downloads each URI in order into directory. It registers a
// cancel func for containerID so a concurrent Kill can abort.
func (f *URIFetcher) Fetch(ctx context.Context, containerID types.ContainerID, uris []string, directory string) error {
	fetchCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancels[containerID] = cancel
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.cancels, containerID)
		f.mu.Unlock()
		cancel()
	}()

	for _, uri := range uris {
		if err := f.fetchOne(fetchCtx, uri, directory); err != nil {
			return fmt.Errorf("fetch %s: %w", uri, err)
		}
	}
	return nil
}

// Kill cancels the in-flight fetch for containerID, if any. It is a no-op
// if nothing is in flight for that ID.
func (f *URIFetcher) Kill(containerID types.ContainerID) {
	f.mu.Lock()
	cancel, ok := f.cancels[containerID]
	f.mu.Unlock()
	if ok {
		cancel()
	}
}

func (f *URIFetcher) fetchOne(ctx context.Context, uri, directory string) error {
	dest := filepath.Join(directory, filepath.Base(uri))

	if strings.HasPrefix(uri, "file://") {
		return copyFile(strings.TrimPrefix(uri, "file://"), dest)
	}
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		// Treat as an already-local path relative to nothing in particular.
		return copyFile(uri, dest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
