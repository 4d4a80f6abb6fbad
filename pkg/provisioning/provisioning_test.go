package provisioning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

var (
	testIdentity  = lock.Identity{SerialNumber: "10530206-030484", DeviceID: "273450", Name: "Lock-40C5"}
	testPublicKey = []byte{0x04, 0xAA, 0xBB}
)

func completeCredential() *lock.Credential {
	return &lock.Credential{Certificate: []byte("cert"), DevicePublicKey: []byte("device"), MobilePublicKey: testPublicKey}
}

type mocks struct {
	store  *MockCredentialStore
	keys   *MockKeyProvider
	client *MockRegistrationClient
}

func newTestService(t *testing.T) (*Service, mocks) {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := mocks{
		store:  NewMockCredentialStore(ctrl),
		keys:   NewMockKeyProvider(ctrl),
		client: NewMockRegistrationClient(ctrl),
	}
	return NewService(m.store, m.keys, m.client), m
}

func TestCacheHitMakesNoNetworkCalls(t *testing.T) {
	s, m := newTestService(t)
	cached := completeCredential()
	m.store.EXPECT().Get(gomock.Any(), testIdentity).Return(cached, nil)
	// No expectations on keys or client: any call fails the test.

	cred, err := s.ObtainCredential(context.Background(), testIdentity)
	if err != nil {
		t.Fatal(err)
	}
	if cred != cached {
		t.Error("cached credential was not returned unchanged")
	}
}

func TestCacheMissProvisionsOnce(t *testing.T) {
	s, m := newTestService(t)
	fetched := completeCredential()
	gomock.InOrder(
		m.store.EXPECT().Get(gomock.Any(), testIdentity).Return(nil, nil),
		m.keys.EXPECT().MobilePublicKey(gomock.Any()).Return(testPublicKey, nil),
		m.client.EXPECT().RegisterMobile(gomock.Any(), "Lock-40C5", testPublicKey).Return("reg-1", nil).Times(1),
		m.client.EXPECT().FetchCertificate(gomock.Any(), "reg-1", "273450").Return(fetched, nil).Times(1),
		m.store.EXPECT().Put(gomock.Any(), testIdentity, fetched).Return(nil).Times(1),
	)

	cred, err := s.ObtainCredential(context.Background(), testIdentity)
	if err != nil {
		t.Fatal(err)
	}
	if cred != fetched {
		t.Error("fetched credential was not returned")
	}
}

func TestIncompleteCachedCredentialIsMiss(t *testing.T) {
	s, m := newTestService(t)
	partial := &lock.Credential{Certificate: []byte("cert")}
	m.store.EXPECT().Get(gomock.Any(), testIdentity).Return(partial, nil)
	m.keys.EXPECT().MobilePublicKey(gomock.Any()).Return(testPublicKey, nil)
	m.client.EXPECT().RegisterMobile(gomock.Any(), gomock.Any(), gomock.Any()).Return("reg-2", nil)
	m.client.EXPECT().FetchCertificate(gomock.Any(), "reg-2", "273450").Return(completeCredential(), nil)
	m.store.EXPECT().Put(gomock.Any(), testIdentity, gomock.Any()).Return(nil)

	if _, err := s.ObtainCredential(context.Background(), testIdentity); err != nil {
		t.Fatal(err)
	}
}

func TestFailuresAreWrappedAndNotPersisted(t *testing.T) {
	networkErr := protocol.NetworkError(errors.New("no route to host"))
	notFound := protocol.NotFoundError(errors.New("unknown device"))

	cases := []struct {
		name     string
		setup    func(m mocks)
		expected error
	}{
		{
			name: "key provider",
			setup: func(m mocks) {
				m.keys.EXPECT().MobilePublicKey(gomock.Any()).Return(nil, protocol.StorageError(errors.New("keyring locked")))
			},
			expected: protocol.ErrStorage,
		},
		{
			name: "registration",
			setup: func(m mocks) {
				m.keys.EXPECT().MobilePublicKey(gomock.Any()).Return(testPublicKey, nil)
				m.client.EXPECT().RegisterMobile(gomock.Any(), gomock.Any(), gomock.Any()).Return("", networkErr)
			},
			expected: protocol.ErrNetwork,
		},
		{
			name: "certificate",
			setup: func(m mocks) {
				m.keys.EXPECT().MobilePublicKey(gomock.Any()).Return(testPublicKey, nil)
				m.client.EXPECT().RegisterMobile(gomock.Any(), gomock.Any(), gomock.Any()).Return("reg", nil)
				m.client.EXPECT().FetchCertificate(gomock.Any(), "reg", "273450").Return(nil, notFound)
			},
			expected: protocol.ErrNotFound,
		},
		{
			name: "incomplete certificate",
			setup: func(m mocks) {
				m.keys.EXPECT().MobilePublicKey(gomock.Any()).Return(testPublicKey, nil)
				m.client.EXPECT().RegisterMobile(gomock.Any(), gomock.Any(), gomock.Any()).Return("reg", nil)
				m.client.EXPECT().FetchCertificate(gomock.Any(), "reg", "273450").Return(&lock.Credential{Certificate: []byte("c")}, nil)
			},
			expected: protocol.ErrServer,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s, m := newTestService(t)
			m.store.EXPECT().Get(gomock.Any(), testIdentity).Return(nil, nil)
			c.setup(m)
			// Put is never expected.

			_, err := s.ObtainCredential(context.Background(), testIdentity)
			var provErr *protocol.ProvisioningError
			if !errors.As(err, &provErr) {
				t.Fatalf("expected ProvisioningError, got %v", err)
			}
			if !errors.Is(err, c.expected) {
				t.Errorf("expected cause %v, got %v", c.expected, err)
			}
		})
	}
}

func TestStoreFailures(t *testing.T) {
	t.Run("read", func(t *testing.T) {
		s, m := newTestService(t)
		m.store.EXPECT().Get(gomock.Any(), testIdentity).Return(nil, errors.New("disk error"))
		_, err := s.ObtainCredential(context.Background(), testIdentity)
		if !errors.Is(err, protocol.ErrStorage) {
			t.Errorf("expected storage error, got %v", err)
		}
	})
	t.Run("write", func(t *testing.T) {
		s, m := newTestService(t)
		m.store.EXPECT().Get(gomock.Any(), testIdentity).Return(nil, nil)
		m.keys.EXPECT().MobilePublicKey(gomock.Any()).Return(testPublicKey, nil)
		m.client.EXPECT().RegisterMobile(gomock.Any(), gomock.Any(), gomock.Any()).Return("reg", nil)
		m.client.EXPECT().FetchCertificate(gomock.Any(), "reg", "273450").Return(completeCredential(), nil)
		m.store.EXPECT().Put(gomock.Any(), testIdentity, gomock.Any()).Return(protocol.StorageError(errors.New("read-only")))
		_, err := s.ObtainCredential(context.Background(), testIdentity)
		if !errors.Is(err, protocol.ErrStorage) {
			t.Errorf("expected storage error, got %v", err)
		}
		var provErr *protocol.ProvisioningError
		if errors.As(err, &provErr) {
			t.Error("storage failures should not be reported as provisioning failures")
		}
	})
}

func TestInvalidIdentity(t *testing.T) {
	s, _ := newTestService(t)
	for _, identity := range []lock.Identity{
		{SerialNumber: "1", DeviceID: "2"},
		{SerialNumber: "1", DeviceID: "front-door", Name: "x"},
	} {
		_, err := s.ObtainCredential(context.Background(), identity)
		if !errors.Is(err, protocol.ErrInvalidArgument) {
			t.Errorf("expected invalid argument for %+v, got %v", identity, err)
		}
	}
}

func TestRenewExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	expired := completeCredential()
	expired.Expiration = &past

	t.Run("default keeps expired credential", func(t *testing.T) {
		s, m := newTestService(t)
		m.store.EXPECT().Get(gomock.Any(), testIdentity).Return(expired, nil)
		cred, err := s.ObtainCredential(context.Background(), testIdentity)
		if err != nil || cred != expired {
			t.Errorf("expected cached credential, got %v, %v", cred, err)
		}
	})
	t.Run("renew", func(t *testing.T) {
		s, m := newTestService(t)
		s.RenewExpired = true
		fresh := completeCredential()
		m.store.EXPECT().Get(gomock.Any(), testIdentity).Return(expired, nil)
		m.keys.EXPECT().MobilePublicKey(gomock.Any()).Return(testPublicKey, nil)
		m.client.EXPECT().RegisterMobile(gomock.Any(), gomock.Any(), gomock.Any()).Return("reg", nil)
		m.client.EXPECT().FetchCertificate(gomock.Any(), "reg", "273450").Return(fresh, nil)
		m.store.EXPECT().Put(gomock.Any(), testIdentity, fresh).Return(nil)
		cred, err := s.ObtainCredential(context.Background(), testIdentity)
		if err != nil || cred != fresh {
			t.Errorf("expected fresh credential, got %v, %v", cred, err)
		}
	})
}

func TestConcurrentMissesShareRegistration(t *testing.T) {
	s, m := newTestService(t)
	release := make(chan struct{})
	fetched := completeCredential()
	m.store.EXPECT().Get(gomock.Any(), testIdentity).Return(nil, nil).MaxTimes(1)
	m.keys.EXPECT().MobilePublicKey(gomock.Any()).Return(testPublicKey, nil).MaxTimes(1)
	m.client.EXPECT().RegisterMobile(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, name string, publicKey []byte) (string, error) {
			<-release
			return "reg", nil
		}).Times(1)
	m.client.EXPECT().FetchCertificate(gomock.Any(), "reg", "273450").Return(fetched, nil).Times(1)
	m.store.EXPECT().Put(gomock.Any(), testIdentity, fetched).Return(nil).Times(1)

	const callers = 4
	var wg sync.WaitGroup
	results := make(chan *lock.Credential, callers)
	started := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			cred, err := s.ObtainCredential(context.Background(), testIdentity)
			if err != nil {
				t.Error(err)
			}
			results <- cred
		}()
	}
	for i := 0; i < callers; i++ {
		<-started
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)
	for cred := range results {
		if cred != fetched {
			t.Error("caller received a different credential")
		}
	}
}

func TestCancelledCallerDoesNotAbortSharedAttempt(t *testing.T) {
	s, m := newTestService(t)
	registering := make(chan struct{})
	release := make(chan struct{})
	fetched := completeCredential()
	m.store.EXPECT().Get(gomock.Any(), testIdentity).Return(nil, nil).Times(1)
	m.keys.EXPECT().MobilePublicKey(gomock.Any()).Return(testPublicKey, nil).Times(1)
	m.client.EXPECT().RegisterMobile(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, name string, publicKey []byte) (string, error) {
			close(registering)
			<-release
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "reg", nil
		}).Times(1)
	m.client.EXPECT().FetchCertificate(gomock.Any(), "reg", "273450").Return(fetched, nil).Times(1)
	m.store.EXPECT().Put(gomock.Any(), testIdentity, fetched).Return(nil).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.ObtainCredential(ctx, testIdentity)
		firstErr <- err
	}()
	<-registering

	second := make(chan *lock.Credential, 1)
	go func() {
		cred, err := s.ObtainCredential(context.Background(), testIdentity)
		if err != nil {
			t.Error(err)
		}
		second <- cred
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled caller to see context.Canceled, got %v", err)
	}
	close(release)
	if cred := <-second; cred != fetched {
		t.Errorf("waiting caller did not receive the credential: %v", cred)
	}
}
