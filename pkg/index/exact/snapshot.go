package exact

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agenttown/recall/pkg/index"
	"github.com/agenttown/recall/pkg/log"
)

// rootBucket holds one nested bucket per namespace.
const rootBucket = "namespaces"

// snapshot is the write-through bbolt persistence behind the exact index.
// Every mutation lands in bbolt before it becomes visible in memory, so a
// restart reconstructs exactly the committed state.
type snapshot struct {
	db *bolt.DB
}

// persistedEntry is the on-disk encoding of one index entry.
type persistedEntry struct {
	ID        string                 `json:"id"`
	Vector    []float32              `json:"vector"`
	Text      string                 `json:"text"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func openSnapshot(path string) (*snapshot, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create root bucket: %w", err)
	}

	log.Debug("Opened index snapshot", "db_path", db.Path())
	return &snapshot{db: db}, nil
}

func (s *snapshot) put(ns string, entry index.Entry) error {
	data, err := json.Marshal(persistedEntry{
		ID:        entry.ID,
		Vector:    entry.Vector,
		Text:      entry.Payload.Text,
		Metadata:  entry.Payload.Metadata,
		CreatedAt: entry.Payload.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket([]byte(rootBucket)).CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return fmt.Errorf("failed to create namespace bucket %s: %w", ns, err)
		}
		return bucket.Put([]byte(entry.ID), data)
	})
}

func (s *snapshot) delete(ns, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket)).Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
}

func (s *snapshot) clear(ns string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(rootBucket))
		if root.Bucket([]byte(ns)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(ns))
	})
}

// loadAll reads every persisted entry, grouped by namespace.
func (s *snapshot) loadAll() (map[string][]index.Entry, error) {
	out := make(map[string][]index.Entry)

	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(rootBucket))
		return root.ForEachBucket(func(name []byte) error {
			ns := string(name)
			bucket := root.Bucket(name)
			return bucket.ForEach(func(_, v []byte) error {
				var pe persistedEntry
				if err := json.Unmarshal(v, &pe); err != nil {
					return fmt.Errorf("failed to decode entry in namespace %s: %w", ns, err)
				}
				out[ns] = append(out[ns], index.Entry{
					ID:     pe.ID,
					Vector: pe.Vector,
					Payload: index.Payload{
						Text:      pe.Text,
						Metadata:  pe.Metadata,
						CreatedAt: pe.CreatedAt,
					},
				})
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (s *snapshot) close() error {
	return s.db.Close()
}
