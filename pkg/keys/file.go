package keys

import (
	"context"
	"crypto/ecdh"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/protocol"
)

// FileProvider stores the private key in a PEM file.
type FileProvider struct {
	filename string
	mu       sync.Mutex
}

func NewFileProvider(filename string) *FileProvider {
	return &FileProvider{filename: filename}
}

// PrivateKey loads the key from disk, generating and saving a new one if the file does not exist.
func (p *FileProvider) PrivateKey() (*ecdh.PrivateKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.filename)
	if err == nil {
		return DecodePEM(data)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, protocol.StorageError(err)
	}

	skey, err := Generate()
	if err != nil {
		return nil, err
	}
	encoded, err := EncodePEM(skey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(p.filename, encoded, 0600); err != nil {
		return nil, protocol.StorageError(fmt.Errorf("failed to save key: %w", err))
	}
	log.Info("Generated new mobile key %s", p.filename)
	return skey, nil
}

func (p *FileProvider) MobilePublicKey(_ context.Context) ([]byte, error) {
	skey, err := p.PrivateKey()
	if err != nil {
		return nil, err
	}
	return PublicKeyDER(skey)
}

func (p *FileProvider) PrivateKeyPEM() ([]byte, error) {
	if _, err := p.PrivateKey(); err != nil {
		return nil, err
	}
	return os.ReadFile(p.filename)
}

func (p *FileProvider) Delete() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return os.Remove(p.filename)
}
