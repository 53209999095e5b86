package storage

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/absmach/fedmob/pkg/errors"
)

type inMemoryStorage struct {
	sync.RWMutex

	data map[string][]byte
}

func NewInMemoryStorage() Storage {
	return &inMemoryStorage{
		data: make(map[string][]byte),
	}
}

func (s *inMemoryStorage) Create(_ context.Context, key string, value []byte) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.data[key]; ok {
		return errors.ErrEntityExists
	}
	s.data[key] = slices.Clone(value)

	return nil
}

func (s *inMemoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.ErrEmptyKey
	}

	s.RLock()
	defer s.RUnlock()

	if val, ok := s.data[key]; ok {
		return slices.Clone(val), nil
	}

	return nil, errors.ErrNotFound
}

func (s *inMemoryStorage) Update(_ context.Context, key string, value []byte) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.data[key]; !ok {
		return errors.ErrNotFound
	}
	s.data[key] = slices.Clone(value)

	return nil
}

func (s *inMemoryStorage) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	s.data[key] = slices.Clone(value)

	return nil
}

func (s *inMemoryStorage) List(_ context.Context, prefix string, offset, limit uint64) ([]Entry, uint64, error) {
	s.RLock()
	defer s.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	total := uint64(len(keys))
	if offset >= total {
		return []Entry{}, total, nil
	}
	end := pageEnd(offset, limit, total)

	result := make([]Entry, 0, end-offset)
	for _, k := range keys[offset:end] {
		result = append(result, Entry{Key: k, Value: slices.Clone(s.data[k])})
	}

	return result, total, nil
}

func (s *inMemoryStorage) Delete(_ context.Context, key string) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.data[key]; !ok {
		return errors.ErrNotFound
	}
	delete(s.data, key)

	return nil
}

func (s *inMemoryStorage) Close() error {
	return nil
}

// pageEnd returns the exclusive end index of the page starting at offset.
func pageEnd(offset, limit, total uint64) uint64 {
	if limit < total-offset {
		return offset + limit
	}

	return total
}
