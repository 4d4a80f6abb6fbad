package proxy_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tedee/lock-command/pkg/bridge"
	"github.com/tedee/lock-command/pkg/connector/sim"
	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/proxy"
)

const connectBody = `{"serialNumber": "10530206-030484", "deviceId": "273450", "name": "Lock-40C5"}`

type staticProvisioner struct{}

func (staticProvisioner) ObtainCredential(_ context.Context, _ lock.Identity) (*lock.Credential, error) {
	return &lock.Credential{
		Certificate:     []byte("certificate"),
		DevicePublicKey: []byte("device-key"),
		MobilePublicKey: []byte("mobile-key"),
	}, nil
}

var _ = Describe("Proxy", func() {
	var (
		b *bridge.Bridge
		p *proxy.Proxy
	)

	sendRequest := func(method, path string, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
		rr := httptest.NewRecorder()
		p.ServeHTTP(rr, req)
		return rr
	}

	state := func() string {
		return sendRequest(http.MethodGet, "/api/1/lock/state", "").Body.String()
	}

	BeforeEach(func() {
		b = bridge.New(sim.New(), staticProvisioner{})
		p = proxy.New(b)
		DeferCleanup(func() {
			p.Close()
			b.Close()
		})
	})

	Context("lock commands", func() {
		It("connects", func() {
			rr := sendRequest(http.MethodPost, "/api/1/lock/command/connect", connectBody)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":true}`))
			Eventually(state).Should(MatchJSON(`{"state":"Connected"}`))
		})

		It("rejects a second connect", func() {
			Expect(sendRequest(http.MethodPost, "/api/1/lock/command/connect", connectBody).Code).To(Equal(http.StatusOK))
			Eventually(state).Should(MatchJSON(`{"state":"Connected"}`))

			rr := sendRequest(http.MethodPost, "/api/1/lock/command/connect", connectBody)
			Expect(rr.Code).To(Equal(http.StatusConflict))
			Expect(rr.Body.String()).To(ContainSubstring(`"error":"ALREADY_CONNECTED"`))
		})

		It("returns decoded results", func() {
			Expect(sendRequest(http.MethodPost, "/api/1/lock/command/connect", connectBody).Code).To(Equal(http.StatusOK))
			Eventually(state).Should(MatchJSON(`{"state":"Connected"}`))

			rr := sendRequest(http.MethodPost, "/api/1/lock/command/sendCustomCommand", `{"hexCommand": "52"}`)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(ContainSubstring(`"description":"pull spring: SUCCESS"`))
		})

		It("reports command failures with the command's code", func() {
			rr := sendRequest(http.MethodPost, "/api/1/lock/command/openLock", "")
			Expect(rr.Code).To(Equal(http.StatusInternalServerError))
			Expect(rr.Body.String()).To(ContainSubstring(`"error":"OPEN_FAILED"`))
			Expect(state()).To(MatchJSON(`{"state":"Disconnected"}`))
		})

		It("rejects invalid hex", func() {
			rr := sendRequest(http.MethodPost, "/api/1/lock/command/sendCustomCommand", `{"hexCommand": "zz"}`)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(rr.Body.String()).To(ContainSubstring(`"error":"INVALID_HEX"`))
		})

		It("rejects missing arguments", func() {
			rr := sendRequest(http.MethodPost, "/api/1/lock/command/connect", `{"serialNumber": "10530206-030484"}`)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(rr.Body.String()).To(ContainSubstring(`"error":"INVALID_ARGS"`))
		})

		It("rejects malformed bodies", func() {
			rr := sendRequest(http.MethodPost, "/api/1/lock/command/connect", `{"serialNumber": `)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("fails for unknown command", func() {
			rr := sendRequest(http.MethodPost, "/api/1/lock/command/honk", "")
			Expect(rr.Code).To(Equal(http.StatusNotFound))
			Expect(rr.Body.String()).To(ContainSubstring(`"error":"NOT_IMPLEMENTED"`))
		})

		It("requires POST", func() {
			rr := sendRequest(http.MethodGet, "/api/1/lock/command/openLock", "")
			Expect(rr.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	It("reports the connection state", func() {
		Expect(state()).To(MatchJSON(`{"state":"Disconnected"}`))
	})

	It("returns 404 for unknown paths", func() {
		rr := sendRequest(http.MethodGet, "/unknown", "")
		Expect(rr.Code).To(Equal(http.StatusNotFound))
	})

	Context("event stream", func() {
		It("streams connection events", func() {
			server := httptest.NewServer(p)
			DeferCleanup(server.Close)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/api/1/lock/events", nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close(websocket.StatusNormalClosure, "")

			rsp, err := http.Post(server.URL+"/api/1/lock/command/connect", "application/json", strings.NewReader(connectBody))
			Expect(err).NotTo(HaveOccurred())
			rsp.Body.Close()
			Expect(rsp.StatusCode).To(Equal(http.StatusOK))

			var descriptions []string
			for len(descriptions) < 2 {
				var event bridge.HostEvent
				Expect(wsjson.Read(ctx, conn, &event)).To(Succeed())
				Expect(event.Kind).To(Equal(bridge.KindConnection))
				descriptions = append(descriptions, event.Description)
			}
			Expect(descriptions).To(Equal([]string{bridge.DescriptionConnecting, bridge.DescriptionConnected}))
		})
	})

	Context("shutdown", func() {
		It("stops receiving bridge events after Close", func() {
			Expect(func() { p.Close() }).NotTo(Panic())
			Expect(func() { p.Close() }).NotTo(Panic())
			Expect(sendRequest(http.MethodPost, "/api/1/lock/command/connect", connectBody).Code).To(Equal(http.StatusOK))
			Eventually(state).Should(MatchJSON(`{"state":"Connected"}`))
		})
	})
})
