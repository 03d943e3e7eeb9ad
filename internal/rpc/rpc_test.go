package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirenboard/wb-mqtt-db/internal/rpc"
)

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	d := rpc.NewDispatcher()
	d.RegisterMethod("db_logger", "history", "get_values", func(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"values":[]}`), nil
	})

	result, err := d.Dispatch(context.Background(), "db_logger", "history", "get_values", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"values":[]}`, string(result))
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := rpc.NewDispatcher()
	_, err := d.Dispatch(context.Background(), "db_logger", "history", "get_values", nil)
	var notFound rpc.ErrMethodNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestEncodeResultAndError(t *testing.T) {
	encoded, err := rpc.EncodeResult(json.RawMessage(`{"values":[]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":{"values":[]}}`, string(encoded))

	encoded, err = rpc.EncodeError(errors.New("no channels specified"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"no channels specified"}`, string(encoded))
}
