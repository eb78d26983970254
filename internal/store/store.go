// Package store persists proof-carrying ciphertext material keyed by
// the handle the engine assigned to it, so an auction's durable state
// can be rebuilt by re-parsing the stored material.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Common errors.
var (
	ErrNotFound    = errors.New("material not found")
	ErrStoreClosed = errors.New("store closed")
)

// Store defines the interface for ciphertext material persistence.
// Keys are handle strings; values are the opaque material bytes that
// were admitted under that handle.
type Store interface {
	// Put saves material under key, overwriting any previous value.
	Put(ctx context.Context, key string, data []byte) error
	// Get retrieves material by key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists checks whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Close closes the store.
	Close() error
}

// Memory implements an in-memory store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (s *Memory) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return ErrStoreClosed
	}
	s.data[key] = append([]byte(nil), data...)
	return nil
}

func (s *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.data[key]
	if !exists {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Memory) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.data[key]
	return exists, nil
}

func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = nil
	return nil
}

// File implements a file-based store.
type File struct {
	baseDir string
}

// NewFile creates a file-based store rooted at baseDir.
func NewFile(baseDir string) (*File, error) {
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &File{baseDir: baseDir}, nil
}

func (s *File) path(key string) string {
	if len(key) < 4 {
		return filepath.Join(s.baseDir, key)
	}
	// Shard by first 2 chars to avoid too many files in one directory.
	return filepath.Join(s.baseDir, key[:2], key)
}

func (s *File) Put(ctx context.Context, key string, data []byte) error {
	path := s.path(key)

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}

	// Write atomically via temp file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *File) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (s *File) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat file: %w", err)
}

func (s *File) Close() error {
	return nil
}
