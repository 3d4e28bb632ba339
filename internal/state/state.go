// Package state persists everything the sync engine must remember
// between runs: the sync status machine, the delta continuation token,
// the cloud metadata index, pending-delete tombstones, and the device
// key. One bbolt database, single writer at a time by virtue of the
// sync gate.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/avbaker/shelfsync/internal/crypto"
	"github.com/avbaker/shelfsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	// The database holds the device key, so owner-only.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt
	// database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket       = []byte("app")
	indexBucket     = []byte("cloud_index")
	tombstoneBucket = []byte("tombstones")

	deviceKeyKey  = []byte("device_key")
	syncStatusKey = []byte("sync_status")
	deltaTokenKey = []byte("delta_token")
)

// SyncStatus is the persisted sync state machine. IsSyncing is the
// mutual-exclusion flag for pull cycles; persisting it (rather than an
// in-memory boolean) makes a crash mid-sync observably recoverable
// instead of silently hanging.
type SyncStatus struct {
	LastSyncTime int64  `json:"lastSyncTime"`
	IsSyncing    bool   `json:"isSyncing"`
	LastError    string `json:"lastError"`
}

// Tombstone records a local delete so a lagging pull cannot resurrect
// the document. DeletedAt is epoch milliseconds.
type Tombstone struct {
	ID        string `json:"id"`
	DeletedAt int64  `json:"deletedAt"`
}

// State wraps the bbolt database holding all persistent engine state.
type State struct {
	db *bolt.DB
}

// Open opens the state database at the given path, creating it and all
// buckets if needed.
func Open(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{appBucket, indexBucket, tombstoneBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// EnsureDeviceKey returns the installation's device key, generating and
// persisting it on first call. The key never leaves this database.
func (s *State) EnsureDeviceKey() ([]byte, error) {
	var key []byte

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)

		if v := b.Get(deviceKeyKey); v != nil {
			key = append([]byte(nil), v...)
			return nil
		}

		fresh, err := crypto.NewDeviceKey()
		if err != nil {
			return err
		}

		if err := b.Put(deviceKeyKey, fresh); err != nil {
			return err
		}

		key = fresh

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring device key: %w", err)
	}

	return key, nil
}

// SyncStatus returns the persisted sync status, zero-valued if never set.
func (s *State) SyncStatus() (SyncStatus, error) {
	var st SyncStatus

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(syncStatusKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &st)
	})
	if err != nil {
		return SyncStatus{}, fmt.Errorf("reading sync status: %w", err)
	}

	return st, nil
}

// BeginSync atomically flips the status to syncing and clears the
// previous error. Returns false without modifying anything if a sync is
// already marked in flight.
func (s *State) BeginSync() (bool, error) {
	acquired := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)

		var st SyncStatus
		if v := b.Get(syncStatusKey); v != nil {
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
		}

		if st.IsSyncing {
			return nil
		}

		st.IsSyncing = true
		st.LastError = ""

		data, err := json.Marshal(st)
		if err != nil {
			return err
		}

		if err := b.Put(syncStatusKey, data); err != nil {
			return err
		}

		acquired = true

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("acquiring sync gate: %w", err)
	}

	return acquired, nil
}

// EndSync releases the sync gate. On success the last-sync timestamp is
// set to now; on failure the human-readable error is recorded. Called
// on every exit path of a pull, including panics unwound by the
// coordinator's defer.
func (s *State) EndSync(syncErr string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)

		var st SyncStatus
		if v := b.Get(syncStatusKey); v != nil {
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
		}

		st.IsSyncing = false
		st.LastError = syncErr
		if syncErr == "" {
			st.LastSyncTime = time.Now().UnixMilli()
		}

		data, err := json.Marshal(st)
		if err != nil {
			return err
		}

		return b.Put(syncStatusKey, data)
	})
	if err != nil {
		return fmt.Errorf("releasing sync gate: %w", err)
	}

	return nil
}

// RecoverStaleSync clears an IsSyncing flag left behind by a crash or
// process suspension mid-pull. Returns true if a stale flag was
// cleared. Call once on startup before the first pull.
func (s *State) RecoverStaleSync() (bool, error) {
	st, err := s.SyncStatus()
	if err != nil {
		return false, err
	}

	if !st.IsSyncing {
		return false, nil
	}

	if err := s.EndSync("recovered from interrupted sync"); err != nil {
		return false, err
	}

	return true, nil
}

// DeltaToken returns the persisted continuation token, or empty string
// if no sync has completed yet.
func (s *State) DeltaToken() (string, error) {
	var token string

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(appBucket).Get(deltaTokenKey); v != nil {
			token = string(v)
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading delta token: %w", err)
	}

	return token, nil
}

// SetDeltaToken persists the continuation token. Callers must not
// persist a token from a cycle that had metadata-fetch failures, or the
// failed items drop out of the feed permanently.
func (s *State) SetDeltaToken(token string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(deltaTokenKey, []byte(token))
	})
	if err != nil {
		return fmt.Errorf("persisting delta token: %w", err)
	}

	return nil
}

// UpsertIndexEntry stores or replaces a cloud index entry.
func (s *State) UpsertIndexEntry(meta models.DocumentMetadata) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		return tx.Bucket(indexBucket).Put([]byte(meta.ID), data)
	})
	if err != nil {
		return fmt.Errorf("upserting index entry %s: %w", meta.ID, err)
	}

	return nil
}

// RemoveIndexEntry deletes a cloud index entry if present.
func (s *State) RemoveIndexEntry(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(indexBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("removing index entry %s: %w", id, err)
	}

	return nil
}

// IndexEntry returns one cloud index entry, or nil if absent.
func (s *State) IndexEntry(id string) (*models.DocumentMetadata, error) {
	var meta *models.DocumentMetadata

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(indexBucket).Get([]byte(id))
		if v == nil {
			return nil
		}

		meta = &models.DocumentMetadata{}

		return json.Unmarshal(v, meta)
	})
	if err != nil {
		return nil, fmt.Errorf("reading index entry %s: %w", id, err)
	}

	return meta, nil
}

// AllIndexEntries returns the whole cloud index keyed by document ID.
func (s *State) AllIndexEntries() (map[string]models.DocumentMetadata, error) {
	result := make(map[string]models.DocumentMetadata)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(indexBucket).ForEach(func(k, v []byte) error {
			var meta models.DocumentMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}

			result[string(k)] = meta

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading cloud index: %w", err)
	}

	return result, nil
}

// ReplaceIndex rebuilds the cloud index from scratch. Used after a
// clean full resync, where the listing is ground truth and stale
// entries must not survive.
func (s *State) ReplaceIndex(entries []models.DocumentMetadata) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(indexBucket); err != nil {
			return err
		}

		b, err := tx.CreateBucket(indexBucket)
		if err != nil {
			return err
		}

		for _, meta := range entries {
			data, err := json.Marshal(meta)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(meta.ID), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing cloud index: %w", err)
	}

	return nil
}

// MergeIndex upserts the given entries without touching the rest of
// the index. Used after a full resync that had partial-download
// failures: the incomplete listing cannot be trusted as ground truth,
// and dropping an entry here would later make the reconciler delete a
// still-extant local document.
func (s *State) MergeIndex(entries []models.DocumentMetadata) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket)

		for _, meta := range entries {
			data, err := json.Marshal(meta)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(meta.ID), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("merging cloud index: %w", err)
	}

	return nil
}

// AddTombstone records a local delete. Must be durably visible before
// the network delete call is issued and before any merged-list read.
func (s *State) AddTombstone(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(Tombstone{ID: id, DeletedAt: time.Now().UnixMilli()})
		if err != nil {
			return err
		}

		return tx.Bucket(tombstoneBucket).Put([]byte(id), data)
	})
	if err != nil {
		return fmt.Errorf("adding tombstone %s: %w", id, err)
	}

	return nil
}

// HasTombstone reports whether an unexpired tombstone exists for id.
func (s *State) HasTombstone(id string) (bool, error) {
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(tombstoneBucket).Get([]byte(id)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking tombstone %s: %w", id, err)
	}

	return found, nil
}

// Tombstones returns all pending-delete tombstones keyed by ID.
func (s *State) Tombstones() (map[string]Tombstone, error) {
	result := make(map[string]Tombstone)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tombstoneBucket).ForEach(func(k, v []byte) error {
			var ts Tombstone
			if err := json.Unmarshal(v, &ts); err != nil {
				return err
			}

			result[string(k)] = ts

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading tombstones: %w", err)
	}

	return result, nil
}

// RemoveTombstones drops tombstones whose deletes the remote feed has
// confirmed.
func (s *State) RemoveTombstones(ids []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tombstoneBucket)

		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("removing tombstones: %w", err)
	}

	return nil
}

// PruneTombstones drops tombstones older than ttl regardless of
// confirmation, bounding storage growth from permanently-failed
// deletes. Returns the number pruned.
func (s *State) PruneTombstones(ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl).UnixMilli()
	pruned := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tombstoneBucket)

		var expired [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var ts Tombstone
			if err := json.Unmarshal(v, &ts); err != nil {
				return err
			}

			if ts.DeletedAt < cutoff {
				expired = append(expired, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		pruned = len(expired)

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pruning tombstones: %w", err)
	}

	return pruned, nil
}
