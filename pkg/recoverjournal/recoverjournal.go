// Package recoverjournal is a local, bbolt-backed checkpoint store
// supplementing the Recoverer (§4.9): one record per executor run,
// recording the forked pid and executor-helper name the Recoverer needs
// to reattach even when the containerizer process itself (not just the
// agent) was restarted and never repopulated its in-memory registry.
package recoverjournal

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/dockerizer/pkg/types"
)

var bucketRuns = []byte("runs")

// Run is one checkpointed executor run.
type Run struct {
	ContainerID        types.ContainerID `json:"container_id"`
	ForkedPid          int               `json:"forked_pid"`
	ExecutorHelperName string            `json:"executor_helper_name,omitempty"`
	Completed          bool              `json:"completed"`
	CheckpointedAt     time.Time         `json:"checkpointed_at"`
}

// Journal is a bbolt-backed store of Run records keyed by ContainerID.
type Journal struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the journal database under dataDir.
func Open(dataDir string) (*Journal, error) {
	dbPath := filepath.Join(dataDir, "recovery.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open recovery journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Checkpoint upserts run, stamping CheckpointedAt if it is zero.
func (j *Journal) Checkpoint(run Run) error {
	if run.CheckpointedAt.IsZero() {
		run.CheckpointedAt = time.Now()
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ContainerID), data)
	})
}

// MarkCompleted flags id's run as completed, so a future recover() skips
// it per the Recoverer's "skip completed runs" rule. It is a no-op if no
// run is recorded for id.
func (j *Journal) MarkCompleted(id types.ContainerID) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		var run Run
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}
		run.Completed = true
		out, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

// Get returns the latest recorded run for id.
func (j *Journal) Get(id types.ContainerID) (Run, bool, error) {
	var run Run
	var found bool
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &run)
	})
	return run, found, err
}

// All returns every recorded run, keyed by ContainerID. This is what the
// Recoverer iterates over in the absence of (or in addition to) a
// caller-supplied agent state snapshot.
func (j *Journal) All() (map[types.ContainerID]Run, error) {
	runs := make(map[types.ContainerID]Run)
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs[types.ContainerID(k)] = run
			return nil
		})
	})
	return runs, err
}

// Delete removes id's run record. The engine does not call it: teardown
// keeps the record and marks it completed via MarkCompleted.
func (j *Journal) Delete(id types.ContainerID) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.Delete([]byte(id))
	})
}
