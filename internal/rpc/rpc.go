// Package rpc is the transport-agnostic method registry the engine
// registers history/get_values under, and that transport adapters
// (mqttbus, wsrpc) dispatch inbound requests through.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler answers one RPC request's params and returns its result, or
// an error whose message is surfaced to the caller verbatim.
type Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Dispatcher routes RPC calls by (service, namespace, method) to a
// registered Handler. It satisfies the registration shape the engine
// expects of a transport in its second-phase Engine.Start call, and transport
// adapters hold one to route inbound wire requests.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]Handler
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{methods: make(map[string]Handler)}
}

func key(service, namespace, method string) string {
	return service + "/" + namespace + "/" + method
}

// RegisterMethod installs handler for (service, namespace, method),
// replacing any previous registration.
func (d *Dispatcher) RegisterMethod(service, namespace, method string, handler func(ctx context.Context, request json.RawMessage) (json.RawMessage, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.methods[key(service, namespace, method)] = handler
}

// ErrMethodNotFound is returned by Dispatch when no handler is
// registered for the requested (service, namespace, method).
type ErrMethodNotFound struct {
	Service, Namespace, Method string
}

func (e ErrMethodNotFound) Error() string {
	return fmt.Sprintf("no handler registered for %s/%s/%s", e.Service, e.Namespace, e.Method)
}

// Dispatch looks up and invokes the handler for (service, namespace,
// method), returning ErrMethodNotFound if none is registered.
func (d *Dispatcher) Dispatch(ctx context.Context, service, namespace, method string, params json.RawMessage) (json.RawMessage, error) {
	d.mu.RLock()
	handler, ok := d.methods[key(service, namespace, method)]
	d.mu.RUnlock()
	if !ok {
		return nil, ErrMethodNotFound{Service: service, Namespace: namespace, Method: method}
	}
	return handler(ctx, params)
}

// Envelope is the reply wire shape transport adapters send back: it
// carries exactly one of Result or Error. Requests are not Envelopes;
// each adapter reads the method and params in its own form (topic
// segments and raw payload for mqttbus, explicit fields for wsrpc).
type Envelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// EncodeResult builds the success envelope for result.
func EncodeResult(result json.RawMessage) ([]byte, error) {
	return json.Marshal(Envelope{Result: result})
}

// EncodeError builds the failure envelope for err.
func EncodeError(err error) ([]byte, error) {
	return json.Marshal(Envelope{Error: err.Error()})
}
