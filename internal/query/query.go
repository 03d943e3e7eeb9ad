// Package query implements the history/get_values RPC method: it
// parses and validates a request, resolves requested channels through
// the Identifier Registry, and turns the result into the documented
// ver=0 or ver=1 response envelope.
package query

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/wirenboard/wb-mqtt-db/internal/registry"
	"github.com/wirenboard/wb-mqtt-db/internal/store"
)

// Registry is the subset of *registry.Registry the Query Service needs.
// A query is allowed to create channel ids for device/control pairs it
// has never seen, the same as ingestion does.
type Registry interface {
	ResolveChannel(ctx context.Context, device, control string) (int64, error)
}

// Store is the subset of *store.Store the Query Service needs.
type Store interface {
	QueryRange(ctx context.Context, q store.RangeQuery) ([]store.SampleRow, error)
}

var (
	_ Registry = (*registry.Registry)(nil)
	_ Store    = (*store.Store)(nil)
)

// Service answers history/get_values requests.
type Service struct {
	registry Registry
	store    Store
	logger   *slog.Logger
}

// New constructs a Service.
func New(reg Registry, st Store, logger *slog.Logger) *Service {
	return &Service{registry: reg, store: st, logger: logger}
}

type response struct {
	Values  []map[string]any `json:"values"`
	HasMore bool             `json:"has_more,omitempty"`
}

// HandleGetValues implements ingest.QueryHandler.
func (s *Service) HandleGetValues(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	req, err := ParseRequest(raw)
	if err != nil {
		return nil, err
	}

	channelIDs := make([]int64, len(req.Channels))
	indexByChannelID := make(map[int64]int, len(req.Channels))
	refByChannelID := make(map[int64]ChannelRef, len(req.Channels))
	for i, c := range req.Channels {
		id, err := s.registry.ResolveChannel(ctx, c.Device, c.Control)
		if err != nil {
			return nil, err
		}
		channelIDs[i] = id
		indexByChannelID[id] = i
		refByChannelID[id] = c
	}

	var bucketsPerDay float64
	if req.MinInterval > 0 {
		bucketsPerDay = 86400000.0 / float64(req.MinInterval)
	}

	rows, err := s.store.QueryRange(ctx, store.RangeQuery{
		ChannelIDs:    channelIDs,
		TimestampGT:   store.JulianFromUnixSeconds(req.TimestampGT),
		TimestampLT:   store.JulianFromUnixSeconds(req.TimestampLT),
		UidGT:         req.UidGT,
		Limit:         req.Limit,
		BucketsPerDay: bucketsPerDay,
	})
	if err != nil {
		return nil, err
	}

	hasMore := false
	if req.Limit >= 0 && len(rows) > req.Limit {
		hasMore = true
		rows = rows[:req.Limit]
	}

	values := make([]map[string]any, len(rows))
	for i, r := range rows {
		if req.Ver == 1 {
			values[i] = map[string]any{
				"i": r.Uid,
				"c": indexByChannelID[r.ChannelID],
				"v": r.Value,
				"t": r.TimestampUnix,
			}
			continue
		}
		ref := refByChannelID[r.ChannelID]
		values[i] = map[string]any{
			"uid":       r.Uid,
			"device":    ref.Device,
			"control":   ref.Control,
			"value":     r.Value,
			"timestamp": r.TimestampUnix,
		}
	}

	return json.Marshal(response{Values: values, HasMore: hasMore})
}
