// Package history keeps a log of scan summaries in BoltDB.
package history

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ivoronin/duscan/internal/session"
)

const bucketName = "scans"

// Entry is one recorded scan.
type Entry struct {
	Session     string        `json:"session"`
	Root        string        `json:"root"`
	State       string        `json:"state"`
	Status      string        `json:"status"`
	Started     time.Time     `json:"started"`
	Elapsed     time.Duration `json:"elapsed"`
	Size        int64         `json:"size"`
	Files       int64         `json:"files"`
	Folders     int64         `json:"folders"`
	Largest     string        `json:"largest,omitempty"`
	LargestSize int64         `json:"largest_size,omitempty"`
}

// Store is a scan history database.
// A Store opened with an empty path is disabled: Record is a no-op and
// queries return nothing.
type Store struct {
	db      *bolt.DB
	enabled bool
}

// Open opens or creates the history database at path.
// BoltDB's file lock keeps concurrent instances from sharing it.
func Open(path string) (*Store, error) {
	if path == "" {
		return &Store{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history (locked by another instance?): %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, enabled: true}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const keyVersion byte = 1 // Increment when key format changes

// makeKey orders entries chronologically.
// Key = ver(1) + started(8) + session(16)
func makeKey(e *Entry, id [16]byte) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(keyVersion)
	_ = binary.Write(buf, binary.BigEndian, e.Started.UnixNano())
	buf.Write(id[:])
	return buf.Bytes()
}

// Record stores the summary of a finished scan.
func (s *Store) Record(sum session.Summary) error {
	if !s.enabled {
		return nil
	}

	root := sum.Root
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	e := Entry{
		Session:     sum.Session.String(),
		Root:        root,
		State:       sum.State.String(),
		Status:      sum.Status(),
		Started:     sum.Started,
		Elapsed:     sum.Elapsed,
		Size:        sum.Size,
		Files:       sum.Files,
		Folders:     sum.Folders,
		Largest:     sum.Largest,
		LargestSize: sum.LargestSize,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history record: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put(makeKey(&e, sum.Session), data)
	})
	if err != nil {
		return fmt.Errorf("history record: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first. A non-empty root keeps
// only scans of that directory; limit <= 0 means no limit.
func (s *Store) List(root string, limit int) ([]Entry, error) {
	if !s.enabled {
		return nil, nil
	}
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}

	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if len(k) == 0 || k[0] != keyVersion {
				continue
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			if root != "" && e.Root != root {
				continue
			}
			entries = append(entries, e)
			if limit > 0 && len(entries) == limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}
	return entries, nil
}

// Since returns entries started at or after t, newest first.
func (s *Store) Since(t time.Time) ([]Entry, error) {
	if !s.enabled {
		return nil, nil
	}

	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		from := []byte{keyVersion}
		from = binary.BigEndian.AppendUint64(from, uint64(t.UnixNano()))
		for k, v := c.Last(); k != nil && bytes.Compare(k, from) >= 0; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history since: %w", err)
	}
	return entries, nil
}
