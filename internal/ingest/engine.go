package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Message is one inbound (topic, payload) delivery queued for the
// Engine's run loop.
type Message struct {
	Topic   string
	Payload []byte
}

// QueryHandler answers one history/get_values RPC request. Defined
// here rather than depending on the query package's concrete type so
// the Engine composes with any request handler, and so this package
// never needs to import internal/query.
type QueryHandler interface {
	HandleGetValues(ctx context.Context, request json.RawMessage) (json.RawMessage, error)
}

// Transport is the second-phase collaborator the Engine hands its RPC
// entry point to once it is itself fully constructed. A transport
// implementation calls the registered handler for every inbound
// history/get_values request.
type Transport interface {
	RegisterMethod(service, namespace, method string, handler func(ctx context.Context, request json.RawMessage) (json.RawMessage, error))
}

type queryCall struct {
	request json.RawMessage
	result  chan<- queryResult
}

type queryResult struct {
	response json.RawMessage
	err      error
}

// Engine is the single-threaded cooperative core: one goroutine runs
// Run and interleaves message deliveries and RPC request callbacks over
// a select loop. No other goroutine touches the Registry, Rate Gate,
// Retention Counters or Store; Deliver and Query are the only
// thread-safe entry points, and they merely hand work to that loop.
type Engine struct {
	ingestor *Ingestor
	queries  QueryHandler
	messages chan Message
	calls    chan queryCall
	logger   *slog.Logger
}

// NewEngine constructs an Engine around an Ingestor and the handler for
// history/get_values requests.
func NewEngine(ingestor *Ingestor, queries QueryHandler, logger *slog.Logger) *Engine {
	return &Engine{
		ingestor: ingestor,
		queries:  queries,
		messages: make(chan Message, 64),
		calls:    make(chan queryCall),
		logger:   logger,
	}
}

// Start registers the Engine's query entry point with transport. This
// is the explicit second-phase initialization step: the Engine must
// already exist before its RPC handler can be handed out.
func (e *Engine) Start(transport Transport) {
	transport.RegisterMethod("db_logger", "history", "get_values", e.Query)
}

// Deliver queues one inbound message for processing on the run loop. It
// returns as soon as the message is queued; only when the 64-message
// queue is full does it wait, until the run loop takes a message or ctx
// is done. Delivery order among callers is preserved by the channel.
func (e *Engine) Deliver(ctx context.Context, topic string, payload []byte) {
	select {
	case e.messages <- Message{Topic: topic, Payload: payload}:
	case <-ctx.Done():
	}
}

// Query submits one history/get_values request to the run loop and
// blocks until it has been handled.
func (e *Engine) Query(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	result := make(chan queryResult, 1)
	select {
	case e.calls <- queryCall{request: request, result: result}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-result:
		return r.response, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run is the cooperative core loop. It owns every suspension point
// (Store calls made by the Ingestor and the query handler) and never
// returns until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-e.messages:
			if err := e.ingestor.Ingest(ctx, msg.Topic, msg.Payload); err != nil {
				e.logger.Warn("ingest failed", "topic", msg.Topic, "error", err)
			}

		case call := <-e.calls:
			response, err := e.queries.HandleGetValues(ctx, call.request)
			call.result <- queryResult{response: response, err: err}
		}
	}
}
