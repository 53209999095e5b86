package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/dgraph-io/badger/v4"
)

const defaultBadgerDir = "./data"

type badgerStorage struct {
	db *badger.DB
}

func NewBadgerStorage(dataDir string) (Storage, error) {
	if dataDir == "" {
		dataDir = defaultBadgerDir
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, "badger.db"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open Badger database: %w", err)
	}

	return &badgerStorage{db: db}, nil
}

func (s *badgerStorage) Create(_ context.Context, key string, value []byte) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return pkgerrors.ErrEntityExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check key existence: %w", err)
		}

		return txn.Set([]byte(key), value)
	})
}

func (s *badgerStorage) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, pkgerrors.ErrEmptyKey
	}

	var result []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return pkgerrors.ErrNotFound
			}

			return fmt.Errorf("failed to get key: %w", err)
		}
		result, err = item.ValueCopy(nil)

		return err
	})

	return result, err
}

func (s *badgerStorage) Update(_ context.Context, key string, value []byte) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return pkgerrors.ErrNotFound
			}

			return fmt.Errorf("failed to check key existence: %w", err)
		}

		return txn.Set([]byte(key), value)
	})
}

func (s *badgerStorage) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *badgerStorage) List(_ context.Context, prefix string, offset, limit uint64) ([]Entry, uint64, error) {
	result := []Entry{}
	var total uint64

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Badger iterates in key order, so the page is read in one pass.
		for it.Rewind(); it.Valid(); it.Next() {
			idx := total
			total++
			if idx < offset || idx-offset >= limit {
				continue
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}
			result = append(result, Entry{Key: string(item.KeyCopy(nil)), Value: val})
		}

		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list keys: %w", err)
	}

	return result, total, nil
}

func (s *badgerStorage) Delete(_ context.Context, key string) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return pkgerrors.ErrNotFound
			}

			return fmt.Errorf("failed to check key existence: %w", err)
		}

		return txn.Delete([]byte(key))
	})
}

func (s *badgerStorage) Close() error {
	return s.db.Close()
}
