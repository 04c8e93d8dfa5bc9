package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"collabstore/internal/protocol"
)

var (
	bucketLog = []byte("log")
	bucketIDs = []byte("ids")
)

// BoltLog persists one store key's transactions in a shared bbolt database.
// Each key owns a root bucket with a "log" sub-bucket ordered by the bucket
// sequence and an "ids" sub-bucket mapping transaction id to sequence.
type BoltLog struct {
	db  *bolt.DB
	key []byte
}

func NewBoltLog(db *bolt.DB, storeKey string) *BoltLog {
	return &BoltLog{db: db, key: []byte(storeKey)}
}

func (l *BoltLog) Append(txns []protocol.Transaction) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(l.key)
		if err != nil {
			return fmt.Errorf("creating store bucket: %w", err)
		}
		logB, err := root.CreateBucketIfNotExists(bucketLog)
		if err != nil {
			return fmt.Errorf("creating log bucket: %w", err)
		}
		idsB, err := root.CreateBucketIfNotExists(bucketIDs)
		if err != nil {
			return fmt.Errorf("creating ids bucket: %w", err)
		}
		for _, t := range txns {
			seq, err := logB.NextSequence()
			if err != nil {
				return err
			}
			k := make([]byte, 8)
			binary.BigEndian.PutUint64(k, seq)
			body, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := logB.Put(k, body); err != nil {
				return err
			}
			if err := idsB.Put([]byte(t.ID), k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BoltLog) History() ([]protocol.Transaction, error) {
	var out []protocol.Transaction
	err := l.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(l.key)
		if root == nil {
			return nil
		}
		logB := root.Bucket(bucketLog)
		if logB == nil {
			return nil
		}
		return logB.ForEach(func(_, v []byte) error {
			var t protocol.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decoding stored transaction: %w", err)
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *BoltLog) GetByIDs(ids []string) ([]protocol.Transaction, error) {
	out := make([]protocol.Transaction, 0, len(ids))
	err := l.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(l.key)
		if root == nil {
			return nil
		}
		logB := root.Bucket(bucketLog)
		idsB := root.Bucket(bucketIDs)
		if logB == nil || idsB == nil {
			return nil
		}
		for _, id := range ids {
			seqKey := idsB.Get([]byte(id))
			if seqKey == nil {
				continue
			}
			v := logB.Get(seqKey)
			if v == nil {
				continue
			}
			var t protocol.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decoding stored transaction: %w", err)
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close is a no-op: the underlying database file is shared across store
// keys and closed by its owner at shutdown.
func (l *BoltLog) Close() error { return nil }
