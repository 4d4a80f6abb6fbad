package keys

import (
	"context"
	"crypto/ecdh"
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/protocol"
)

const keyringKeyService = "mobileKey"

// KeyringProvider stores the private key scalar in a system keyring.
type KeyringProvider struct {
	ring keyring.Keyring
	name string
	mu   sync.Mutex
}

// NewKeyringProvider returns a provider for the key called name. The name is an arbitrary string
// that identifies the key within the keyring.
func NewKeyringProvider(ring keyring.Keyring, name string) *KeyringProvider {
	return &KeyringProvider{ring: ring, name: name}
}

func (p *KeyringProvider) fullKeyName() string {
	return keyringKeyService + "." + p.name
}

func (p *KeyringProvider) load() (*ecdh.PrivateKey, error) {
	item, err := p.ring.Get(p.fullKeyName())
	if err != nil {
		return nil, err
	}
	return UnmarshalScalar(item.Data)
}

// PrivateKey returns the stored key, generating and saving a new one if none exists.
func (p *KeyringProvider) PrivateKey() (*ecdh.PrivateKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	skey, err := p.load()
	if err == nil {
		return skey, nil
	}
	if !errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, protocol.StorageError(fmt.Errorf("could not load key: %w", err))
	}

	if skey, err = Generate(); err != nil {
		return nil, err
	}
	if err := p.save(skey); err != nil {
		return nil, err
	}
	log.Info("Generated new mobile key %s", p.fullKeyName())
	return skey, nil
}

func (p *KeyringProvider) save(skey *ecdh.PrivateKey) error {
	if err := p.ring.Set(keyring.Item{
		Key:   p.fullKeyName(),
		Data:  skey.Bytes(),
		Label: "Lock mobile key",
	}); err != nil {
		return protocol.StorageError(fmt.Errorf("failed to enroll key in keyring: %w", err))
	}
	return nil
}

// Save replaces the stored key with skey.
func (p *KeyringProvider) Save(skey *ecdh.PrivateKey) error {
	if skey.Curve() != ecdh.P256() {
		return ErrInvalidPrivateKey
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.save(skey)
}

func (p *KeyringProvider) MobilePublicKey(_ context.Context) ([]byte, error) {
	skey, err := p.PrivateKey()
	if err != nil {
		return nil, err
	}
	return PublicKeyDER(skey)
}

// PrivateKeyPEM exports the key, generating one first if necessary.
func (p *KeyringProvider) PrivateKeyPEM() ([]byte, error) {
	skey, err := p.PrivateKey()
	if err != nil {
		return nil, err
	}
	return EncodePEM(skey)
}

// Delete removes the key from the keyring.
func (p *KeyringProvider) Delete() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.Remove(p.fullKeyName())
}
