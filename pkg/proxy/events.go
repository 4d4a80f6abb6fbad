package proxy

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/bridge"
)

const (
	eventQueueSize    = 64
	eventWriteTimeout = 5 * time.Second
)

// eventClient is a single websocket subscriber.
type eventClient struct {
	conn      *websocket.Conn
	sendCh    chan bridge.HostEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (c *eventClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// broadcast runs on the bridge's host loop, so it must not block. Slow clients lose events.
func (p *Proxy) broadcast(event bridge.HostEvent) {
	p.clientsLock.Lock()
	defer p.clientsLock.Unlock()
	for c := range p.clients {
		select {
		case c.sendCh <- event:
		default:
			log.Warning("Dropped %s event for slow websocket client", event.Kind)
		}
	}
}

func (p *Proxy) handleEvents(w http.ResponseWriter, req *http.Request) {
	// Subscribe before completing the handshake so no event after it is missed.
	c := &eventClient{
		sendCh: make(chan bridge.HostEvent, eventQueueSize),
		done:   make(chan struct{}),
	}
	p.clientsLock.Lock()
	p.clients[c] = struct{}{}
	p.clientsLock.Unlock()
	defer func() {
		p.clientsLock.Lock()
		delete(p.clients, c)
		p.clientsLock.Unlock()
		c.close()
	}()

	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"},
	})
	if err != nil {
		log.Warning("Websocket accept failed: %s", err)
		return
	}
	c.conn = conn
	log.Info("Event stream client connected from %s", req.RemoteAddr)

	// The stream is one-way; reading only detects the client going away.
	ctx := conn.CloseRead(req.Context())
	p.writeLoop(ctx, c)

	conn.Close(websocket.StatusNormalClosure, "")
	log.Info("Event stream client disconnected from %s", req.RemoteAddr)
}

func (p *Proxy) writeLoop(ctx context.Context, c *eventClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case event := <-c.sendCh:
			writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, c.conn, event)
			cancel()
			if err != nil {
				log.Debug("Websocket write failed: %s", err)
				return
			}
		}
	}
}
