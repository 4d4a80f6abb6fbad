// Package provisioning obtains the credential needed to open a secure session with a lock.
//
// Credentials are served from a cache whenever possible. On a cache miss the service registers
// the local mobile key with the remote API, fetches a certificate for the lock and stores it
// before handing it out, so a reconnect never touches the network.
package provisioning

//go:generate mockgen -source=provisioning.go -destination=mock_provisioning_test.go -package=provisioning

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

// CredentialStore persists credentials keyed by lock identity. Get returns (nil, nil) on a miss.
type CredentialStore interface {
	Get(ctx context.Context, identity lock.Identity) (*lock.Credential, error)
	Put(ctx context.Context, identity lock.Identity, credential *lock.Credential) error
}

// KeyProvider supplies the public half of the local mobile key pair, creating the pair if needed.
type KeyProvider interface {
	MobilePublicKey(ctx context.Context) ([]byte, error)
}

// RegistrationClient is the subset of the remote API used for provisioning.
type RegistrationClient interface {
	// RegisterMobile is not idempotent; every call creates a remote registration.
	RegisterMobile(ctx context.Context, name string, publicKey []byte) (string, error)
	FetchCertificate(ctx context.Context, registrationID, deviceID string) (*lock.Credential, error)
}

// Service implements cache-first credential provisioning.
type Service struct {
	store  CredentialStore
	keys   KeyProvider
	client RegistrationClient
	group  singleflight.Group

	// RenewExpired treats a cached credential past its expiration as a miss. By default cached
	// credentials are used until removed from the store.
	RenewExpired bool

	// Timeout bounds a provisioning attempt. The attempt is shared by every concurrent caller
	// for the same lock, so it does not stop when one of them gives up.
	Timeout time.Duration

	now func() time.Time
}

// DefaultTimeout is the default Service.Timeout.
const DefaultTimeout = time.Minute

func NewService(store CredentialStore, keys KeyProvider, client RegistrationClient) *Service {
	return &Service{store: store, keys: keys, client: client, Timeout: DefaultTimeout, now: time.Now}
}

// ObtainCredential returns a complete credential for identity.
//
// Failures to read or write the store are returned as storage errors. Failures while talking to
// the key provider or remote API are returned as *protocol.ProvisioningError; nothing is stored
// in that case. Concurrent calls for the same identity share a single provisioning attempt.
func (s *Service) ObtainCredential(ctx context.Context, identity lock.Identity) (*lock.Credential, error) {
	if err := identity.Validate(); err != nil {
		return nil, protocol.InvalidArgument("%w", err)
	}
	results := s.group.DoChan(identity.Key(), func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Timeout)
		defer cancel()
		return s.obtain(shared, identity)
	})
	select {
	case <-ctx.Done():
		return nil, protocol.Timeout(ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		if result.Shared {
			log.Debug("Shared provisioning result for %s", identity)
		}
		return result.Val.(*lock.Credential), nil
	}
}

func (s *Service) obtain(ctx context.Context, identity lock.Identity) (*lock.Credential, error) {
	cached, err := s.store.Get(ctx, identity)
	if err != nil {
		return nil, protocol.StorageError(err)
	}
	if cached.Complete() {
		if !s.RenewExpired || !cached.Expired(s.now()) {
			log.Debug("Using cached certificate for %s", identity)
			return cached, nil
		}
		log.Info("Cached certificate for %s expired at %s; renewing", identity, cached.Expiration)
	}

	log.Info("Provisioning certificate for %s", identity)
	credential, err := s.provision(ctx, identity)
	if err != nil {
		log.Warning("Provisioning failed for %s: %s", identity, err)
		return nil, &protocol.ProvisioningError{Serial: identity.SerialNumber, Err: err}
	}
	if err := s.store.Put(ctx, identity, credential); err != nil {
		return nil, protocol.StorageError(err)
	}
	return credential, nil
}

func (s *Service) provision(ctx context.Context, identity lock.Identity) (*lock.Credential, error) {
	publicKey, err := s.keys.MobilePublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("mobile key unavailable: %w", err)
	}
	registrationID, err := s.client.RegisterMobile(ctx, identity.Name, publicKey)
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	credential, err := s.client.FetchCertificate(ctx, registrationID, identity.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("certificate request failed: %w", err)
	}
	if !credential.Complete() {
		return nil, protocol.ServerError(fmt.Errorf("server returned incomplete certificate for device %s", identity.DeviceID), false)
	}
	return credential, nil
}
