package bridge_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/99designs/keyring"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tedee/lock-command/pkg/bridge"
	"github.com/tedee/lock-command/pkg/cache"
	"github.com/tedee/lock-command/pkg/connector/sim"
	"github.com/tedee/lock-command/pkg/keys"
	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
	"github.com/tedee/lock-command/pkg/provisioning"
)

const registrationID = "reg-7781"

var testIdentity = lock.Identity{SerialNumber: "10530206-030484", DeviceID: "273450", Name: "Lock-40C5"}

// countingClient is a RegistrationClient that records every remote call.
type countingClient struct {
	mu         sync.Mutex
	registered []string
	fetched    [][2]string
	err        error
}

func (c *countingClient) RegisterMobile(_ context.Context, name string, publicKey []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	if len(publicKey) == 0 {
		return "", errors.New("empty public key")
	}
	c.registered = append(c.registered, name)
	return registrationID, nil
}

func (c *countingClient) FetchCertificate(_ context.Context, registrationID, deviceID string) (*lock.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = append(c.fetched, [2]string{registrationID, deviceID})
	expiration := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	return &lock.Credential{
		Certificate:     []byte("certificate"),
		DevicePublicKey: []byte("device-key"),
		MobilePublicKey: []byte("mobile-key"),
		Expiration:      &expiration,
	}, nil
}

func (c *countingClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.registered) + len(c.fetched)
}

type recordingSink struct {
	mu     sync.Mutex
	events []bridge.HostEvent
}

func (r *recordingSink) HandleEvent(event bridge.HostEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) descriptions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Description)
	}
	return out
}

func (r *recordingSink) kinds() []bridge.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bridge.EventKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

var _ = Describe("Bridge", func() {
	var (
		ring    keyring.Keyring
		store   *cache.KeyringStore
		client  *countingClient
		device  *sim.Lock
		sink    *recordingSink
		b       *bridge.Bridge
		options []sim.Option
	)

	connectArgs := func() bridge.Arguments {
		return bridge.Arguments{
			"serialNumber": testIdentity.SerialNumber,
			"deviceId":     testIdentity.DeviceID,
			"name":         testIdentity.Name,
		}
	}

	run := func(command string, args bridge.Arguments) (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return b.Dispatch(ctx, command, args).Wait(ctx)
	}

	BeforeEach(func() {
		ring = keyring.NewArrayKeyring(nil)
		store = cache.NewKeyringStore(ring)
		client = &countingClient{}
		sink = &recordingSink{}
		options = nil
	})

	JustBeforeEach(func() {
		device = sim.New(options...)
		service := provisioning.NewService(store, keys.NewKeyringProvider(ring, "scenario"), client)
		b = bridge.New(device, service, bridge.WithSink(sink))
		DeferCleanup(b.Close)
	})

	Context("with an empty credential cache", func() {
		It("provisions, persists and connects", func() {
			result, err := run(bridge.CommandConnect, connectArgs())
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(true))

			Expect(client.registered).To(Equal([]string{"Lock-40C5"}))
			Expect(client.fetched).To(Equal([][2]string{{registrationID, "273450"}}))

			stored, err := store.Get(context.Background(), testIdentity)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Complete()).To(BeTrue())

			Eventually(sink.descriptions).Should(Equal([]string{
				bridge.DescriptionConnecting,
				bridge.DescriptionConnected,
			}))
			Expect(b.State()).To(Equal(lock.Connected))
		})

		It("reports provisioning failures without connecting", func() {
			client.err = protocol.NetworkError(errors.New("connection refused"))
			_, err := run(bridge.CommandConnect, connectArgs())
			var failure *protocol.Failure
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Code).To(Equal(protocol.CodeProvisioning))
			Expect(device.Connects()).To(BeZero())
			Expect(b.State()).To(Equal(lock.Disconnected))
		})
	})

	Context("with a cached credential", func() {
		BeforeEach(func() {
			expiration := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
			Expect(store.Put(context.Background(), testIdentity, &lock.Credential{
				Certificate:     []byte("cached-certificate"),
				DevicePublicKey: []byte("device-key"),
				MobilePublicKey: []byte("mobile-key"),
				Expiration:      &expiration,
			})).To(Succeed())
		})

		It("connects without touching the network", func() {
			_, err := run(bridge.CommandConnect, connectArgs())
			Expect(err).NotTo(HaveOccurred())
			Eventually(b.State).Should(Equal(lock.Connected))
			Expect(client.calls()).To(BeZero())
		})

		It("sends custom commands once connected", func() {
			_, err := run(bridge.CommandConnect, connectArgs())
			Expect(err).NotTo(HaveOccurred())
			Eventually(b.State).Should(Equal(lock.Connected))

			result, err := run(bridge.CommandSendCustomCommand, bridge.Arguments{"hexCommand": "0x52"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(lock.CommandResult{
				Raw:         []byte{protocol.OpcodePullSpring, 0x00},
				Description: "pull spring: SUCCESS",
			}))
			Expect(device.Sent()).To(Equal([]byte{protocol.OpcodePullSpring}))
			Eventually(sink.kinds).Should(ContainElement(bridge.KindStatus))
		})

		It("rejects a second connect while connected", func() {
			_, err := run(bridge.CommandConnect, connectArgs())
			Expect(err).NotTo(HaveOccurred())
			Eventually(b.State).Should(Equal(lock.Connected))

			_, err = run(bridge.CommandConnect, connectArgs())
			var failure *protocol.Failure
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Code).To(Equal(protocol.CodeAlreadyConnected))
			Expect(device.Connects()).To(Equal(1))
		})

		It("reconnects after disconnecting", func() {
			_, err := run(bridge.CommandConnect, connectArgs())
			Expect(err).NotTo(HaveOccurred())
			Eventually(b.State).Should(Equal(lock.Connected))

			_, err = run(bridge.CommandDisconnect, nil)
			Expect(err).NotTo(HaveOccurred())
			Eventually(b.State).Should(Equal(lock.Disconnected))

			_, err = run(bridge.CommandConnect, connectArgs())
			Expect(err).NotTo(HaveOccurred())
			Eventually(b.State).Should(Equal(lock.Connected))
			Expect(client.calls()).To(BeZero())
		})

		Context("when the lock requires a factory reset", func() {
			BeforeEach(func() {
				options = append(options, sim.WithResetRequired())
			})

			It("reports the reset and returns to disconnected", func() {
				_, err := run(bridge.CommandConnect, connectArgs())
				Expect(err).NotTo(HaveOccurred())

				Eventually(sink.kinds).Should(Equal([]bridge.EventKind{
					bridge.KindConnection,
					bridge.KindResetRequired,
				}))
				Expect(b.State()).To(Equal(lock.Disconnected))
				Expect(sink.descriptions()[1]).To(Equal(bridge.DescriptionResetRequired))

				// The failed attempt does not block the next one.
				Eventually(func() error {
					_, err := run(bridge.CommandConnect, connectArgs())
					return err
				}).Should(Succeed())
			})
		})
	})
})
