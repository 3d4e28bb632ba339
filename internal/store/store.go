// Package store implements the local document store: a keyed bbolt
// database holding full DocumentRecords, with content encrypted at rest
// under the device key. Metadata and content live in separate buckets
// so summary reads never touch (or decrypt) content.
package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/avbaker/shelfsync/internal/crypto"
	"github.com/avbaker/shelfsync/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	// storeDirPerm is the permission mode for the store directory.
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the document database.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt
	// database lock.
	storeOpenTimeout = 5 * time.Second
)

var (
	metaBucket     = []byte("doc_meta")
	contentBucket  = []byte("doc_content")
	settingsBucket = []byte("settings")

	settingsKey = []byte("app_settings")
)

// Store is the local persistent document store. Safe for concurrent
// reads and per-record writes; it does not implement cross-record
// transactions.
type Store struct {
	db  *bolt.DB
	box *crypto.Box
}

// settingsBlob is the persisted form of the encrypted settings record.
type settingsBlob struct {
	Envelope  crypto.Envelope `json:"envelope"`
	UpdatedAt int64           `json:"updatedAt"`
}

// Open opens the document database at path, creating it if needed.
// box must be a device-key box; every content payload is sealed with it
// before touching disk.
func Open(path string, box *crypto.Box) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening document db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{metaBucket, contentBucket, settingsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing document db: %w", err)
	}

	return &Store{db: db, box: box}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a document through the local mutation path: a missing ID
// is assigned, timestamps are stamped, and UpdatedAt is forced strictly
// monotonic per record so concurrent-device comparisons stay ordered.
// Returns the record as persisted.
func (s *Store) Save(rec models.DocumentRecord) (models.DocumentRecord, error) {
	now := time.Now().UnixMilli()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}

	rec.SizeBytes = int64(len(rec.Content))

	err := s.db.Update(func(tx *bolt.Tx) error {
		rec.UpdatedAt = now
		if prev := readMeta(tx, rec.ID); prev != nil && rec.UpdatedAt <= prev.UpdatedAt {
			rec.UpdatedAt = prev.UpdatedAt + 1
		}

		return s.writeRecord(tx, rec)
	})
	if err != nil {
		return models.DocumentRecord{}, fmt.Errorf("saving document %s: %w", rec.ID, err)
	}

	return rec, nil
}

// Overwrite writes a document verbatim, preserving the caller's
// timestamps. Used by the pull path when the remote copy wins.
func (s *Store) Overwrite(rec models.DocumentRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("overwrite requires a document ID")
	}

	rec.SizeBytes = int64(len(rec.Content))

	err := s.db.Update(func(tx *bolt.Tx) error {
		return s.writeRecord(tx, rec)
	})
	if err != nil {
		return fmt.Errorf("overwriting document %s: %w", rec.ID, err)
	}

	return nil
}

func (s *Store) writeRecord(tx *bolt.Tx, rec models.DocumentRecord) error {
	env, err := s.box.Seal(rec.Content)
	if err != nil {
		return err
	}

	sealed, err := env.Marshal()
	if err != nil {
		return err
	}

	meta := rec.Metadata()

	metaData, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	if err := tx.Bucket(metaBucket).Put([]byte(rec.ID), metaData); err != nil {
		return err
	}

	return tx.Bucket(contentBucket).Put([]byte(rec.ID), sealed)
}

// Get returns the full document including decrypted content, or nil if
// absent. A content payload that fails authentication is an error, not
// an empty document.
func (s *Store) Get(id string) (*models.DocumentRecord, error) {
	var (
		meta   *models.DocumentMetadata
		sealed []byte
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		meta = readMeta(tx, id)
		if meta == nil {
			return nil
		}

		if v := tx.Bucket(contentBucket).Get([]byte(id)); v != nil {
			sealed = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", id, err)
	}

	if meta == nil {
		return nil, nil
	}

	var content []byte

	if sealed != nil {
		env, err := crypto.ParseEnvelope(sealed)
		if err != nil {
			return nil, fmt.Errorf("document %s content: %w", id, err)
		}

		content, err = s.box.Open(env)
		if err != nil {
			return nil, fmt.Errorf("document %s content: %w", id, err)
		}
	}

	rec := meta.Record(content)

	return &rec, nil
}

// Summary returns a document without its content, or nil if absent.
func (s *Store) Summary(id string) (*models.DocumentMetadata, error) {
	var meta *models.DocumentMetadata

	err := s.db.View(func(tx *bolt.Tx) error {
		meta = readMeta(tx, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading summary %s: %w", id, err)
	}

	return meta, nil
}

// Summaries returns all documents without content, keyed by ID.
func (s *Store) Summaries() (map[string]models.DocumentMetadata, error) {
	result := make(map[string]models.DocumentMetadata)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).ForEach(func(k, v []byte) error {
			var meta models.DocumentMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}

			result[string(k)] = meta

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading summaries: %w", err)
	}

	return result, nil
}

// SetFavorite flips the favorite flag through the local mutation path
// and returns the updated record metadata.
func (s *Store) SetFavorite(id string, favorite bool) (*models.DocumentMetadata, error) {
	var updated *models.DocumentMetadata

	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := readMeta(tx, id)
		if meta == nil {
			return fmt.Errorf("document not found")
		}

		meta.IsFavorite = favorite

		now := time.Now().UnixMilli()
		if now <= meta.UpdatedAt {
			now = meta.UpdatedAt + 1
		}

		meta.UpdatedAt = now

		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		if err := tx.Bucket(metaBucket).Put([]byte(id), data); err != nil {
			return err
		}

		updated = meta

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("setting favorite on %s: %w", id, err)
	}

	return updated, nil
}

// Touch bumps a document's UpdatedAt through the local mutation path
// without changing anything else, marking it as freshly modified for
// conflict comparisons. Returns the updated metadata.
func (s *Store) Touch(id string) (*models.DocumentMetadata, error) {
	var updated *models.DocumentMetadata

	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := readMeta(tx, id)
		if meta == nil {
			return fmt.Errorf("document not found")
		}

		now := time.Now().UnixMilli()
		if now <= meta.UpdatedAt {
			now = meta.UpdatedAt + 1
		}

		meta.UpdatedAt = now

		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		if err := tx.Bucket(metaBucket).Put([]byte(id), data); err != nil {
			return err
		}

		updated = meta

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("touching %s: %w", id, err)
	}

	return updated, nil
}

// Delete removes a document and its content. Removing an absent ID is
// not an error.
func (s *Store) Delete(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(metaBucket).Delete([]byte(id)); err != nil {
			return err
		}

		return tx.Bucket(contentBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}

	return nil
}

// Clear removes every document. Settings are untouched.
func (s *Store) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, contentBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}

			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing document db: %w", err)
	}

	return nil
}

// SaveSettings seals the settings payload under the device key and
// stores it with an updated timestamp under the well-known key.
func (s *Store) SaveSettings(plaintext []byte) error {
	env, err := s.box.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("sealing settings: %w", err)
	}

	blob := settingsBlob{Envelope: env, UpdatedAt: time.Now().UnixMilli()}

	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encoding settings blob: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Put(settingsKey, data)
	})
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}

	return nil
}

// Settings returns the decrypted settings payload and its update
// timestamp. Absent settings return (nil, 0, nil); a blob that fails
// decryption is an error, never treated as "no settings".
func (s *Store) Settings() ([]byte, int64, error) {
	var raw []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(settingsBucket).Get(settingsKey); v != nil {
			raw = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("reading settings: %w", err)
	}

	if raw == nil {
		return nil, 0, nil
	}

	var blob settingsBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, 0, fmt.Errorf("decoding settings blob: %w", err)
	}

	plain, err := s.box.Open(blob.Envelope)
	if err != nil {
		return nil, 0, fmt.Errorf("decrypting settings: %w", err)
	}

	return plain, blob.UpdatedAt, nil
}

func readMeta(tx *bolt.Tx, id string) *models.DocumentMetadata {
	v := tx.Bucket(metaBucket).Get([]byte(id))
	if v == nil {
		return nil
	}

	meta := &models.DocumentMetadata{}
	if err := json.Unmarshal(v, meta); err != nil {
		return nil
	}

	return meta
}
