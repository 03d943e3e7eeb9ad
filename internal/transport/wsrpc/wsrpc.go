// Package wsrpc serves the same RPC methods as mqttbus over a websocket
// connection. cmd/wb-mqtt-db runs it alongside the MQTT broker
// connection, sharing that bus's dispatcher.
package wsrpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wirenboard/wb-mqtt-db/internal/rpc"
)

// call is the wire request a client sends: id is echoed back unchanged
// so callers can match concurrent in-flight requests to their replies.
type call struct {
	ID        json.RawMessage `json:"id,omitempty"`
	Service   string          `json:"service"`
	Namespace string          `json:"namespace"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
}

type reply struct {
	ID json.RawMessage `json:"id,omitempty"`
	rpc.Envelope
}

// Server accepts websocket connections and dispatches every call
// received on them through Dispatch.
type Server struct {
	Dispatch *rpc.Dispatcher
	Logger   *slog.Logger

	upgrader websocket.Upgrader
}

// New constructs a Server around dispatch.
func New(dispatch *rpc.Dispatcher, logger *slog.Logger) *Server {
	return &Server{Dispatch: dispatch, Logger: logger}
}

// ServeHTTP upgrades the connection and serves calls until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	for {
		var c call
		if err := conn.ReadJSON(&c); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		go s.handle(conn, &writeMu, c)
	}
}

// handle answers one call concurrently with other in-flight calls on
// the same connection; writeMu serializes the writes, since a
// websocket.Conn permits only one writer at a time.
func (s *Server) handle(conn *websocket.Conn, writeMu *sync.Mutex, c call) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := s.Dispatch.Dispatch(ctx, c.Service, c.Namespace, c.Method, c.Params)

	r := reply{ID: c.ID}
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Result = result
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if writeErr := conn.WriteJSON(r); writeErr != nil {
		s.Logger.Warn("websocket write failed", "error", writeErr)
	}
}
