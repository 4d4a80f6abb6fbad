package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

const keyringPrefix = "lockCertificate."

// KeyringStore keeps each credential as a single JSON item in a system keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func keyringKey(identity lock.Identity) string {
	return fmt.Sprintf("%s%s.%s", keyringPrefix, identity.SerialNumber, identity.DeviceID)
}

func (s *KeyringStore) Get(_ context.Context, identity lock.Identity) (*lock.Credential, error) {
	item, err := s.ring.Get(keyringKey(identity))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, protocol.StorageError(err)
	}
	var credential lock.Credential
	if err := json.Unmarshal(item.Data, &credential); err != nil {
		return nil, protocol.StorageError(fmt.Errorf("corrupt keyring item %s: %w", item.Key, err))
	}
	return &credential, nil
}

func (s *KeyringStore) Put(_ context.Context, identity lock.Identity, credential *lock.Credential) error {
	data, err := json.Marshal(credential)
	if err != nil {
		return protocol.StorageError(err)
	}
	item := keyring.Item{
		Key:         keyringKey(identity),
		Data:        data,
		Label:       "Lock certificate",
		Description: fmt.Sprintf("Certificate for lock %s", identity),
	}
	if err := s.ring.Set(item); err != nil {
		return protocol.StorageError(err)
	}
	return nil
}
