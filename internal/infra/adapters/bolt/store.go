// Package bolt is the embedded document update log, used for single-node
// deployments and local development where postgres is overkill.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var rootBucket = []byte("documents")

type Store struct {
	db *bbolt.DB
}

func New(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create root bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadUpdates(_ context.Context, roomID string) ([][]byte, error) {
	var updates [][]byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(rootBucket).Bucket([]byte(roomID))
		if rb == nil {
			return nil
		}
		return rb.ForEach(func(_, v []byte) error {
			cp := make([]byte, len(v))
			copy(cp, v)
			updates = append(updates, cp)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load updates: %w", err)
	}

	return updates, nil
}

func (s *Store) AppendUpdate(_ context.Context, roomID string, update []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		rb, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(roomID))
		if err != nil {
			return err
		}
		seq, err := rb.NextSequence()
		if err != nil {
			return err
		}
		return rb.Put(seqKey(seq), update)
	})
	if err != nil {
		return fmt.Errorf("append update: %w", err)
	}

	return nil
}

func (s *Store) Compact(_ context.Context, roomID string, snapshot []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(rootBucket)
		if root.Bucket([]byte(roomID)) != nil {
			if err := root.DeleteBucket([]byte(roomID)); err != nil {
				return err
			}
		}
		rb, err := root.CreateBucket([]byte(roomID))
		if err != nil {
			return err
		}
		seq, err := rb.NextSequence()
		if err != nil {
			return err
		}
		return rb.Put(seqKey(seq), snapshot)
	})
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	return nil
}

// seqKey keeps updates ordered under a byte-wise cursor walk.
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
