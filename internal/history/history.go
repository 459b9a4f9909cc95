// Package history keeps a record of finished capture sessions in a bbolt
// database.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"EnigmaNetz/Enigma-Go-Capture/internal/capture"
)

// ErrNotFound is returned by Get for an unknown session ID
var ErrNotFound = errors.New("session not found")

var (
	sessionsBucket = []byte("sessions")
	byTimeBucket   = []byte("sessions_by_time")
)

// Entry is one finished capture session
type Entry struct {
	ID             string    `json:"id"`
	Interface      string    `json:"interface"`
	OutputPath     string    `json:"output_path"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	State          string    `json:"state"`
	Trigger        string    `json:"trigger"`
	PacketCount    int64     `json:"packet_count"`
	ByteCount      int64     `json:"byte_count"`
	PersistedCount int       `json:"persisted_count"`
	FileSize       int64     `json:"file_size"`
	Error          string    `json:"error,omitempty"`
	DriverError    bool      `json:"driver_error,omitempty"`
}

// FromResult builds an entry from a finalized session
func FromResult(r capture.CaptureResult) Entry {
	e := Entry{
		ID:             r.SessionID,
		Interface:      r.Interface,
		OutputPath:     r.PCAPFile,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		State:          r.State.String(),
		Trigger:        r.Trigger,
		PacketCount:    r.PacketCount,
		ByteCount:      r.ByteCount,
		PersistedCount: r.PersistedCount,
		FileSize:       r.FileSize,
	}
	if r.Error != nil {
		e.Error = r.Error.Error()
		e.DriverError = errors.Is(r.Error, capture.ErrAttachFailure)
	}
	return e
}

// Store is a wrapper around a bbolt database
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the history database at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, byTimeBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	return &Store{db: db}, nil
}

// Record stores e, replacing any entry with the same ID
func (s *Store) Record(e Entry) error {
	if e.ID == "" {
		return errors.New("history entry has no session ID")
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		byTime := tx.Bucket(byTimeBucket)

		if old := sessions.Get([]byte(e.ID)); old != nil {
			var prev Entry
			if err := json.Unmarshal(old, &prev); err == nil {
				if err := byTime.Delete(timeKey(prev)); err != nil {
					return err
				}
			}
		}
		if err := sessions.Put([]byte(e.ID), value); err != nil {
			return err
		}
		return byTime.Put(timeKey(e), []byte(e.ID))
	})
}

// Get returns the entry for id
func (s *Store) Get(id string) (Entry, error) {
	var e Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &e)
	})
	return e, err
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns every entry.
func (s *Store) List(limit int) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		c := tx.Bucket(byTimeBucket).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			v := sessions.Get(id)
			if v == nil {
				continue
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to decode history entry %s: %w", id, err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Close closes the database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// timeKey orders entries by start time; the ID suffix keeps keys unique
func timeKey(e Entry) []byte {
	key := make([]byte, 8, 8+len(e.ID))
	binary.BigEndian.PutUint64(key, uint64(e.StartTime.UnixNano()))
	return append(key, e.ID...)
}
