package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

// FileStore keeps a CredentialCache in memory and writes it back to a JSON file after every Put.
type FileStore struct {
	filename string
	cache    *CredentialCache
	mu       sync.Mutex
	now      func() time.Time
}

// OpenFileStore loads filename, or starts an empty cache if the file does not exist yet.
func OpenFileStore(filename string, maxEntries int) (*FileStore, error) {
	cache, err := ImportFromFile(filename)
	if errors.Is(err, fs.ErrNotExist) {
		cache = New(maxEntries)
	} else if err != nil {
		return nil, protocol.StorageError(fmt.Errorf("failed to load credential cache %s: %w", filename, err))
	}
	cache.MaxEntries = maxEntries
	return &FileStore{filename: filename, cache: cache, now: time.Now}, nil
}

func (s *FileStore) Get(_ context.Context, identity lock.Identity) (*lock.Credential, error) {
	entry, ok := s.cache.GetEntry(identity)
	if !ok {
		return nil, nil
	}
	credential := entry.Credential
	return &credential, nil
}

func (s *FileStore) Put(_ context.Context, identity lock.Identity, credential *lock.Credential) error {
	if credential == nil {
		return protocol.StorageError(errors.New("refusing to store nil credential"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	change := s.cache.Update(identity, *credential, s.now())
	if err := s.cache.ExportToFile(s.filename); err != nil {
		s.cache.Restore(change)
		return protocol.StorageError(fmt.Errorf("failed to write credential cache %s: %w", s.filename, err))
	}
	log.Debug("Stored credential for %s in %s", identity, s.filename)
	return nil
}

// Cache returns the underlying CredentialCache.
func (s *FileStore) Cache() *CredentialCache {
	return s.cache
}
