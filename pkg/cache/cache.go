package cache

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tedee/lock-command/pkg/lock"
)

// Store is implemented by every credential backend. Get returns (nil, nil) when no credential is
// cached for identity.
type Store interface {
	Get(ctx context.Context, identity lock.Identity) (*lock.Credential, error)
	Put(ctx context.Context, identity lock.Identity, credential *lock.Credential) error
}

// Entry is one cached credential.
type Entry struct {
	Identity      lock.Identity   `json:"identity"`
	Credential    lock.Credential `json:"credential"`
	ProvisionedAt time.Time       `json:"provisionedAt"`
}

type CredentialCache struct {
	MaxEntries int
	Locks      map[string]Entry `json:"locks"`
	lock       sync.Mutex
}

// New returns a CredentialCache that holds credentials for up to maxEntries locks. When full,
// the entry that was provisioned longest ago is evicted.
//
// Set maxEntries to zero for an unbounded cache.
func New(maxEntries int) *CredentialCache {
	return &CredentialCache{
		MaxEntries: maxEntries,
		Locks:      make(map[string]Entry),
	}
}

// Import a CredentialCache using data in r.
// The data should previously have been generated using [CredentialCache.Export].
func Import(r io.Reader) (*CredentialCache, error) {
	var cache CredentialCache
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cache); err != nil {
		return nil, err
	}
	if cache.Locks == nil {
		cache.Locks = make(map[string]Entry)
	}
	return &cache, nil
}

// ImportFromFile reads a CredentialCache from disk.
func ImportFromFile(filename string) (*CredentialCache, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Import(file)
}

// Export writes a serialized CredentialCache to w.
func (c *CredentialCache) Export(w io.Writer) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return json.NewEncoder(w).Encode(c)
}

// ExportToFile writes a CredentialCache to disk. The file is replaced atomically: readers see
// either the previous contents or the new contents, never a mix.
func (c *CredentialCache) ExportToFile(filename string) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := c.Export(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filename)
}

// Change records what Update did so it can be undone with Restore.
type Change struct {
	Identity lock.Identity
	Previous Entry
	Existed  bool
	// Evicted is the entry removed to make room, if any.
	Evicted *Entry
}

// Update the CredentialCache's entry for identity. If the cache is full, the entry provisioned
// longest ago is evicted; the entry being written is never the victim.
func (c *CredentialCache) Update(identity lock.Identity, credential lock.Credential, provisionedAt time.Time) Change {
	c.lock.Lock()
	defer c.lock.Unlock()

	key := identity.Key()
	change := Change{Identity: identity}
	change.Previous, change.Existed = c.Locks[key]
	c.Locks[key] = Entry{Identity: identity, Credential: credential, ProvisionedAt: provisionedAt}
	if c.MaxEntries > 0 && len(c.Locks) > c.MaxEntries {
		var oldestKey string
		var oldest Entry
		for k, entry := range c.Locks {
			if k == key {
				continue
			}
			if oldestKey == "" || entry.ProvisionedAt.Before(oldest.ProvisionedAt) {
				oldestKey = k
				oldest = entry
			}
		}
		if oldestKey != "" {
			delete(c.Locks, oldestKey)
			change.Evicted = &oldest
		}
	}
	return change
}

// Restore undoes an Update: the previous entry for the identity comes back (or the identity is
// removed if it had none), and any evicted entry is reinstated.
func (c *CredentialCache) Restore(change Change) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if change.Existed {
		c.Locks[change.Identity.Key()] = change.Previous
	} else {
		delete(c.Locks, change.Identity.Key())
	}
	if change.Evicted != nil {
		c.Locks[change.Evicted.Identity.Key()] = *change.Evicted
	}
}

// GetEntry returns the credential cached for identity.
func (c *CredentialCache) GetEntry(identity lock.Identity) (Entry, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	entry, ok := c.Locks[identity.Key()]
	return entry, ok
}

// Len returns the number of cached credentials.
func (c *CredentialCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.Locks)
}
