// Package history records completed and failed download attempts, keyed by
// playlist id, in a local bbolt file.
package history

import (
	"encoding/json"
	"sync"

	"go.etcd.io/bbolt"

	yd "github.com/Firdaussi/youtube-downloader"
	"github.com/Firdaussi/youtube-downloader/generic"
)

var Buckets = struct {
	Metadata []byte
	History  []byte
}{
	Metadata: []byte("__metadata__"),
	History:  []byte("history"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

// Store is a bbolt-backed HistoryRepository. Known ids are cached in memory
// so IsDuplicate stays an O(1) set lookup on the orchestrator's hot path.
type Store struct {
	db *bbolt.DB

	mu       sync.RWMutex
	knownIDs *generic.Set[string]
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, knownIDs: generic.NewSet[string]()}

	err = db.Update(func(tx *bbolt.Tx) error {
		metadata, err := tx.CreateBucketIfNotExists(Buckets.Metadata)
		if err != nil {
			return err
		}
		bucket, err := tx.CreateBucketIfNotExists(Buckets.History)
		if err != nil {
			return err
		}

		var version int
		if versionBytes := metadata.Get(MetadataKeys.Version); versionBytes != nil {
			if err = json.Unmarshal(versionBytes, &version); err != nil {
				return err
			}
		}
		if versionBytes, err := json.Marshal(currentVersion); err != nil {
			return err
		} else if err = metadata.Put(MetadataKeys.Version, versionBytes); err != nil {
			return err
		}

		// Warm the duplicate-check cache.
		return bucket.ForEach(func(k, v []byte) error {
			s.knownIDs.Add(string(k))
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// IsDuplicate reports whether any attempt with status "completed" exists for
// the id. Failed attempts do not count: the point of the check is to skip
// downloads that already succeeded.
func (s *Store) IsDuplicate(playlistID string) bool {
	s.mu.RLock()
	known := s.knownIDs.Contains(playlistID)
	s.mu.RUnlock()
	if !known {
		return false
	}
	entry, err := s.Find(playlistID)
	if err != nil || entry == nil {
		return false
	}
	return entry.Status == string(yd.DownloadStatusCompleted)
}

// Save writes the entry, replacing any previous attempt for the same id.
func (s *Store) Save(entry yd.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.History).Put([]byte(entry.PlaylistID), data)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.knownIDs.Add(entry.PlaylistID)
	s.mu.Unlock()
	return nil
}

// Find returns the stored entry for an id, or nil if none exists.
func (s *Store) Find(playlistID string) (*yd.HistoryEntry, error) {
	var entry *yd.HistoryEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(Buckets.History).Get([]byte(playlistID))
		if data == nil {
			return nil
		}
		entry = &yd.HistoryEntry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns all stored entries, in no particular order.
func (s *Store) List() ([]yd.HistoryEntry, error) {
	var entries []yd.HistoryEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.History).ForEach(func(k, v []byte) error {
			var entry yd.HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete removes the entry for an id, if present.
func (s *Store) Delete(playlistID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.History).Delete([]byte(playlistID))
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.knownIDs.Remove(playlistID)
	s.mu.Unlock()
	return nil
}

// NilHistory is a HistoryRepository that remembers nothing.
type NilHistory struct{}

func (NilHistory) IsDuplicate(string) bool    { return false }
func (NilHistory) Save(yd.HistoryEntry) error { return nil }
