package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/zerverless/coordinator/internal/events"
)

const keyPrefix = "jobs/"

// ErrNotFound is returned by Get for jobs that were never archived.
var ErrNotFound = errors.New("archived job not found")

// BadgerStore keeps one JSON record per settled job.
type BadgerStore struct {
	db *badger.DB
}

func OpenBadger(dataDir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, "archive"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Name() string { return "badger" }

func (s *BadgerStore) Handle(_ context.Context, ev events.Event) error {
	rec, ok := FromEvent(ev)
	if !ok {
		return nil
	}
	return s.Put(rec)
}

func (s *BadgerStore) Put(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+rec.JobID), data)
	})
}

func (s *BadgerStore) Get(jobID string) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + jobID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return rec, err
}

// List returns archived job ids in key order, at most limit when limit > 0.
func (s *BadgerStore) List(limit int) ([]string, error) {
	var ids []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && (limit <= 0 || len(ids) < limit); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})

	return ids, err
}
