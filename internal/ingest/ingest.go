// Package ingest turns inbound (topic, payload) messages into Samples
// and enforces the ring-buffer retention policy after every insertion.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/wirenboard/wb-mqtt-db/internal/model"
	"github.com/wirenboard/wb-mqtt-db/internal/rategate"
	"github.com/wirenboard/wb-mqtt-db/internal/registry"
	"github.com/wirenboard/wb-mqtt-db/internal/retention"
	"github.com/wirenboard/wb-mqtt-db/internal/store"
	"github.com/wirenboard/wb-mqtt-db/internal/topicmatch"
)

// Store is the subset of *store.Store the Ingestor needs to persist
// samples and evict stale ones.
type Store interface {
	InsertSample(ctx context.Context, deviceID, channelID, groupID int64, value string, now time.Time) (int64, error)
	DeleteOldestByChannel(ctx context.Context, channelID int64, n int) (int64, error)
	DeleteOldestByGroup(ctx context.Context, groupID int64, n int) (int64, error)
}

// Registry is the subset of *registry.Registry the Ingestor needs to
// turn topic tokens into stable ids.
type Registry interface {
	ResolveDevice(ctx context.Context, name string) (int64, error)
	ResolveChannel(ctx context.Context, device, control string) (int64, error)
}

var (
	_ Store    = (*store.Store)(nil)
	_ Registry = (*registry.Registry)(nil)
)

// Ingestor applies the Topic Matcher, Identifier Registry, Rate Gate and
// ring-buffer retention to every delivered message, in that order.
type Ingestor struct {
	groups   []model.Group
	registry Registry
	store    Store
	counters *retention.Counters
	gate     *rategate.Gate
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Ingestor beyond its required collaborators.
type Option func(*Ingestor)

// WithClock overrides the source of the current time, for tests that
// need to control message delivery instants precisely.
func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) { in.now = now }
}

// New constructs an Ingestor for the configured groups, in the order
// groups are iterated for pattern matching.
func New(groups []model.Group, reg Registry, st Store, counters *retention.Counters, gate *rategate.Gate, logger *slog.Logger, opts ...Option) *Ingestor {
	in := &Ingestor{
		groups:   groups,
		registry: reg,
		store:    st,
		counters: counters,
		gate:     gate,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest processes one (topic, payload) delivery. A discarded or
// suppressed message returns a nil error; only a Store failure is
// reported to the caller.
func (in *Ingestor) Ingest(ctx context.Context, topic string, payload []byte) error {
	group := in.selectGroup(topic)
	if group == nil {
		return nil
	}

	device, control, ok := parseTopic(topic)
	if !ok {
		in.logger.Debug("discarding message with too few topic segments", "topic", topic)
		return nil
	}

	channelID, err := in.registry.ResolveChannel(ctx, device, control)
	if err != nil {
		return err
	}
	deviceID, err := in.registry.ResolveDevice(ctx, device)
	if err != nil {
		return err
	}

	now := in.now()
	value := string(payload)
	limits := rategate.Limits{
		MinInterval:          time.Duration(group.Limits.MinInterval) * time.Second,
		MinUnchangedInterval: time.Duration(group.Limits.MinUnchangedInterval) * time.Second,
	}
	if !in.gate.Check(channelID, now, value, limits) {
		return nil
	}

	if _, err := in.store.InsertSample(ctx, deviceID, channelID, group.ID, value, now); err != nil {
		in.logger.Warn("inserting sample failed", "topic", topic, "error", err)
		return err
	}
	in.gate.Commit(channelID, now, value)
	in.counters.IncrementChannel(channelID)
	in.counters.IncrementGroup(group.ID)

	in.evict(ctx, channelID, group)
	return nil
}

// selectGroup returns the first configured group with a pattern
// matching topic, scanning groups in configuration order and, within a
// group, its patterns in the order given. Returns nil if none matches.
func (in *Ingestor) selectGroup(topic string) *model.Group {
	for i := range in.groups {
		if topicmatch.FirstMatch(in.groups[i].Patterns, topic) >= 0 {
			return &in.groups[i]
		}
	}
	return nil
}

// parseTopic extracts the device and control names from a topic: the
// device is the 3rd slash-separated token (tokens[2]), the control is
// the 5th (tokens[4]). A topic with fewer tokens is unparseable.
func parseTopic(topic string) (device, control string, ok bool) {
	tokens := strings.Split(topic, "/")
	if len(tokens) < 5 {
		return "", "", false
	}
	return tokens[2], tokens[4], true
}

// evict applies ring-buffer enforcement for the channel and group a
// just-persisted sample belongs to: if a configured limit's eviction
// threshold is crossed, the oldest excess rows are deleted and the
// counter is pinned back to the limit.
func (in *Ingestor) evict(ctx context.Context, channelID int64, group *model.Group) {
	if limit := group.Limits.Values; limit > 0 {
		count := in.counters.Channel(channelID)
		if float64(count) > model.EvictionThreshold(limit) {
			if _, err := in.store.DeleteOldestByChannel(ctx, channelID, count-limit); err != nil {
				in.logger.Warn("channel retention eviction failed", "channel", channelID, "error", err)
			} else {
				in.counters.SetChannel(channelID, limit)
			}
		}
	}
	if limit := group.Limits.ValuesTotal; limit > 0 {
		count := in.counters.Group(group.ID)
		if float64(count) > model.EvictionThreshold(limit) {
			if _, err := in.store.DeleteOldestByGroup(ctx, group.ID, count-limit); err != nil {
				in.logger.Warn("group retention eviction failed", "group", group.ID, "error", err)
			} else {
				in.counters.SetGroup(group.ID, limit)
			}
		}
	}
}
