// Package mqttbus bridges an MQTT broker connection to the engine: it
// delivers matching data topics to an ingest.Engine and answers RPC
// requests published under the standard wb-mqtt RPC topic tree.
package mqttbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/wirenboard/wb-mqtt-db/internal/rpc"
)

// Deliverer is the engine entry point for inbound data messages.
type Deliverer interface {
	Deliver(ctx context.Context, topic string, payload []byte)
}

// Bus owns one MQTT client connection, subscribing to the configured
// data topics and to the RPC request topic tree for the registered
// service.
type Bus struct {
	client    mqtt.Client
	engine    Deliverer
	dispatch  *rpc.Dispatcher
	logger    *slog.Logger
	dataTopic string
}

// Config holds the connection parameters the CLI surface pins (-H, -p).
type Config struct {
	Host string
	Port int
}

const rpcRequestTopic = "/rpc/+/+/+/+"

// New connects to the broker at cfg.Host:cfg.Port, subscribes engine to
// every data message under dataTopic (typically "/devices/#"), and
// wires RPC requests to dispatch. It satisfies ingest.Transport via
// dispatch, so callers pass Bus.Dispatcher() to Engine.Start.
func New(ctx context.Context, cfg Config, dataTopic string, engine Deliverer, logger *slog.Logger) (*Bus, error) {
	// A random suffix keeps multiple wb-mqtt-db instances (or repeated
	// reconnects from the same one) from colliding on the broker's
	// client-id uniqueness requirement.
	clientID := fmt.Sprintf("wb-mqtt-db-%s", uuid.NewString())
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	b := &Bus{
		engine:    engine,
		dispatch:  rpc.NewDispatcher(),
		logger:    logger,
		dataTopic: dataTopic,
	}

	opts.SetDefaultPublishHandler(b.onMessage)
	b.client = mqtt.NewClient(opts)

	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connecting to mqtt broker: timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker: %w", err)
	}

	if token := b.client.Subscribe(dataTopic, 1, b.onMessage); token.Wait() && token.Error() != nil {
		b.client.Disconnect(250)
		return nil, fmt.Errorf("subscribing to %s: %w", dataTopic, token.Error())
	}
	if token := b.client.Subscribe(rpcRequestTopic, 1, b.onRPCRequest); token.Wait() && token.Error() != nil {
		b.client.Disconnect(250)
		return nil, fmt.Errorf("subscribing to %s: %w", rpcRequestTopic, token.Error())
	}

	return b, nil
}

// Dispatcher returns the RPC dispatcher an Engine's Start method should
// register its methods against.
func (b *Bus) Dispatcher() *rpc.Dispatcher { return b.dispatch }

// Close disconnects from the broker.
func (b *Bus) Close() {
	b.client.Disconnect(250)
}

func (b *Bus) onMessage(_ mqtt.Client, msg mqtt.Message) {
	b.engine.Deliver(context.Background(), msg.Topic(), msg.Payload())
}

// parseRPCTopic extracts the service, namespace and method from a
// request topic of the form /rpc/<service>/<namespace>/<method>/<client-id>.
// The client id itself isn't needed by the dispatcher: the reply is
// published back to the same topic plus "/reply", which already
// carries it.
func parseRPCTopic(topic string) (service, namespace, method string, ok bool) {
	segments := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	if len(segments) != 5 || segments[0] != "rpc" {
		return "", "", "", false
	}
	return segments[1], segments[2], segments[3], true
}

// onRPCRequest handles a request published on
// /rpc/<service>/<namespace>/<method>/<client-id>, replying on the
// same path with a trailing "/reply" segment.
func (b *Bus) onRPCRequest(client mqtt.Client, msg mqtt.Message) {
	service, namespace, method, ok := parseRPCTopic(msg.Topic())
	if !ok {
		b.logger.Warn("discarding malformed rpc request topic", "topic", msg.Topic())
		return
	}
	replyTopic := msg.Topic() + "/reply"

	result, err := b.dispatch.Dispatch(context.Background(), service, namespace, method, json.RawMessage(msg.Payload()))

	var encoded []byte
	if err != nil {
		encoded, err = rpc.EncodeError(err)
	} else {
		encoded, err = rpc.EncodeResult(result)
	}
	if err != nil {
		b.logger.Warn("encoding rpc reply failed", "topic", msg.Topic(), "error", err)
		return
	}

	if token := client.Publish(replyTopic, 1, false, encoded); token.Wait() && token.Error() != nil {
		b.logger.Warn("publishing rpc reply failed", "topic", replyTopic, "error", token.Error())
	}
}
