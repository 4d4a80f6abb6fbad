package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/bridge"
	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

const (
	DefaultTimeout = 45 * time.Second
	// Lock commands take a handful of short arguments.
	maxRequestBodyBytes = 1024
	codeTimeout         = "TIMEOUT"
)

// Commander is the subset of *bridge.Bridge used by the proxy.
type Commander interface {
	Dispatch(ctx context.Context, command string, args bridge.Arguments) *bridge.Future
	State() lock.ConnectionState
	AddSink(sink bridge.Sink) (remove func())
}

// Proxy exposes an HTTP API for sending lock commands.
type Proxy struct {
	// Timeout bounds how long a request waits for its command to resolve. The command itself is
	// bounded by the bridge's own timeout.
	Timeout time.Duration

	commander Commander
	router    chi.Router

	clientsLock sync.Mutex
	clients     map[*eventClient]struct{}
	removeSink  func()
}

// New creates an http proxy for commander. Call Close to stop event streaming.
func New(commander Commander) *Proxy {
	p := &Proxy{
		Timeout:   DefaultTimeout,
		commander: commander,
		clients:   make(map[*eventClient]struct{}),
	}
	p.removeSink = commander.AddSink(bridge.SinkFunc(p.broadcast))

	r := chi.NewRouter()
	r.Post("/api/1/lock/command/{name}", p.handleCommand)
	r.Get("/api/1/lock/state", p.handleState)
	r.Get("/api/1/lock/events", p.handleEvents)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeJSONError(w, http.StatusNotFound, protocol.NewFailure(protocol.CodeNotImplemented, "no route for %s", req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, nil)
	})
	p.router = r
	return p
}

// Close detaches the proxy from the bridge and disconnects event stream clients.
func (p *Proxy) Close() {
	p.removeSink()
	p.clientsLock.Lock()
	defer p.clientsLock.Unlock()
	for c := range p.clients {
		c.close()
		delete(p.clients, c)
	}
}

// Response contains the result of a successful command.
type Response struct {
	Response interface{} `json:"response"`
}

// ErrorResponse describes a failed request.
type ErrorResponse struct {
	Error      string `json:"error"`
	ErrDetails string `json:"error_description"`
}

// StateResponse is returned by the state endpoint.
type StateResponse struct {
	State string `json:"state"`
}

func writeJSON(w http.ResponseWriter, code int, reply interface{}) {
	jsonBytes, err := json.Marshal(reply)
	if err != nil {
		log.Error("Error serializing reply %+v: %s", reply, err)
		code = http.StatusInternalServerError
		jsonBytes = []byte("{\"error\": \"INTERNAL\", \"error_description\": \"internal server error\"}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsonBytes = append(jsonBytes, '\n')
	w.Write(jsonBytes)
}

func writeJSONError(w http.ResponseWriter, code int, failure *protocol.Failure) {
	reply := ErrorResponse{}
	if failure == nil {
		reply.Error = http.StatusText(code)
	} else {
		reply.Error = failure.Code
		reply.ErrDetails = failure.Message
	}
	if code >= http.StatusInternalServerError {
		log.Error("Returning error %s: %s", http.StatusText(code), reply.ErrDetails)
	} else {
		log.Debug("Returning error %s: %s", http.StatusText(code), reply.ErrDetails)
	}
	writeJSON(w, code, &reply)
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	log.Info("Received %s request for %s", req.Method, req.URL.Path)
	p.router.ServeHTTP(w, req)
}

func (p *Proxy) handleCommand(w http.ResponseWriter, req *http.Request) {
	command := chi.URLParam(req, "name")
	args, err := readArguments(req)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, protocol.ToFailure(err, protocol.CodeInvalidArgs))
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), p.Timeout)
	defer cancel()

	future := p.commander.Dispatch(ctx, command, args)
	value, err := future.Wait(ctx)
	if err != nil {
		var failure *protocol.Failure
		if !errors.As(err, &failure) {
			// The request gave up before the command resolved; the command may still run.
			failure = protocol.NewFailure(codeTimeout, "%s did not complete: %s", command, err)
			writeJSONError(w, http.StatusGatewayTimeout, failure)
			return
		}
		writeJSONError(w, statusForFailure(failure), failure)
		return
	}
	log.Debug("[%s] %s succeeded", future.ID, command)
	writeJSON(w, http.StatusOK, &Response{Response: value})
}

func (p *Proxy) handleState(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, &StateResponse{State: p.commander.State().String()})
}
