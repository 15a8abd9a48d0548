package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"
)

// Bucket names in bbolt
var (
	bucketWorkers = []byte("workers")
)

// WorkerState is the durable record of one provisioned worker.
type WorkerState struct {
	InstanceID string    `json:"instance_id"`
	Worker     string    `json:"worker"`
	ImageID    string    `json:"image_id"`
	Spot       bool      `json:"spot"`
	ElasticIP  string    `json:"elastic_ip,omitempty"`
	LaunchedAt time.Time `json:"launched_at"`
	LastBusyAt time.Time `json:"last_busy_at"`
}

// IdleFor reports how long the worker has been without work.
func (w *WorkerState) IdleFor(now time.Time) time.Duration {
	since := w.LastBusyAt
	if since.IsZero() {
		since = w.LaunchedAt
	}
	return now.Sub(since)
}

// Registry tracks live latent workers across process restarts. The
// bbolt file is the source of truth; a btree index ordered by instance
// id serves reads without touching disk.
type Registry struct {
	mu    sync.RWMutex
	index *btree.BTreeG[*WorkerState]
	db    *bbolt.DB
}

// Open opens or creates the registry database in dir.
func Open(dir string) (*Registry, error) {
	dbPath := filepath.Join(dir, "latentpool.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWorkers)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	r := &Registry{
		index: btree.NewG[*WorkerState](32, func(a, b *WorkerState) bool {
			return a.InstanceID < b.InstanceID
		}),
		db: db,
	}

	if err := r.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return r, nil
}

// Close closes the registry
func (r *Registry) Close() error {
	return r.db.Close()
}

// Record stores or replaces a worker record.
func (r *Registry) Record(state WorkerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkers)
		value, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(state.InstanceID), value)
	})
	if err != nil {
		return fmt.Errorf("failed to record worker %s: %w", state.InstanceID, err)
	}

	r.index.ReplaceOrInsert(&state)
	return nil
}

// Remove drops a worker record, typically after termination.
func (r *Registry) Remove(instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkers).Delete([]byte(instanceID))
	})
	if err != nil {
		return fmt.Errorf("failed to remove worker %s: %w", instanceID, err)
	}

	r.index.Delete(&WorkerState{InstanceID: instanceID})
	return nil
}

// Get returns one worker record by instance id.
func (r *Registry) Get(instanceID string) (*WorkerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.index.Get(&WorkerState{InstanceID: instanceID})
	if !ok {
		return nil, false
	}
	copied := *state
	return &copied, true
}

// List returns all worker records ordered by instance id.
func (r *Registry) List() []WorkerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WorkerState, 0, r.index.Len())
	r.index.Ascend(func(state *WorkerState) bool {
		out = append(out, *state)
		return true
	})
	return out
}

// ListIdle returns workers idle for at least the grace period.
func (r *Registry) ListIdle(now time.Time, grace time.Duration) []WorkerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []WorkerState
	r.index.Ascend(func(state *WorkerState) bool {
		if state.IdleFor(now) >= grace {
			out = append(out, *state)
		}
		return true
	})
	return out
}

// MarkBusy records work arriving at a worker, resetting its idle clock.
func (r *Registry) MarkBusy(instanceID string, at time.Time) error {
	r.mu.Lock()
	state, ok := r.index.Get(&WorkerState{InstanceID: instanceID})
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("worker %s not in registry", instanceID)
	}
	updated := *state
	updated.LastBusyAt = at
	r.mu.Unlock()

	return r.Record(updated)
}

// rebuildIndex loads all records from disk into the btree.
func (r *Registry) rebuildIndex() error {
	return r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var state WorkerState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("corrupt worker record %s: %w", k, err)
			}
			r.index.ReplaceOrInsert(&state)
			return nil
		})
	})
}
