package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/mitchellh/go-homedir"
)

// Entry records one completed transfer into a destination album.
type Entry struct {
	AssetID     string    `json:"assetId"`
	UploadedID  string    `json:"uploadedId"`
	FileName    string    `json:"fileName"`
	LocalDigest string    `json:"localDigest"`
	SyncedAt    time.Time `json:"syncedAt"`
}

// Journal is a bolt-backed audit log of transfers, one bucket per
// destination peer, keyed by asset checksum. It never influences the diff
// itself; the missing set is always computed against live album listings.
// A nil *Journal is valid and records nothing.
type Journal struct {
	db *bolt.DB
}

func Open(path string) (*Journal, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("journal: expanding %q: %w", path, err)
	}

	db, err := bolt.Open(expanded, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: opening %q: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// Record stores the entry under the destination peer's bucket, overwriting
// any previous entry for the same checksum.
func (j *Journal) Record(dest, checksum string, e Entry) error {
	if j == nil {
		return nil
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(dest))
		if err != nil {
			return err
		}

		marshalled, err := json.Marshal(&e)
		if err != nil {
			return err
		}

		return bucket.Put([]byte(checksum), marshalled)
	})
}

// Seen reports whether a transfer of the given checksum into dest has been
// recorded before, returning the entry if so.
func (j *Journal) Seen(dest, checksum string) (Entry, bool, error) {
	if j == nil {
		return Entry{}, false, nil
	}

	var e Entry
	var found bool

	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(dest))
		if bucket == nil {
			return nil
		}

		bytes := bucket.Get([]byte(checksum))
		if bytes == nil {
			return nil
		}

		if err := json.Unmarshal(bytes, &e); err != nil {
			return err
		}

		found = true
		return nil
	})

	return e, found, err
}
