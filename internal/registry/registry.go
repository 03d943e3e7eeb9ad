// Package registry maps textual device names and (device, control)
// pairs to stable small integer identifiers, creating rows in the Store
// on first sighting and caching the mapping in memory thereafter. Group
// ids are not handled here; they come from the Store's EnsureGroup.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/wirenboard/wb-mqtt-db/internal/model"
)

// Backend is the subset of the Store the Registry needs. Defined here
// (rather than depending on the store package's concrete type) so the
// Registry can be tested against a fake.
type Backend interface {
	EnsureDevice(ctx context.Context, name string) (int64, error)
	EnsureChannel(ctx context.Context, device, control string) (int64, error)
	ListDevices(ctx context.Context) ([]model.Device, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
}

type channelKey struct {
	device, control string
}

// Registry is the Identifier Registry: a get-or-insert
// cache in front of the Store's devices/channels tables.
type Registry struct {
	backend Backend

	mu sync.Mutex
	devices map[string]int64
	channels map[channelKey]int64
}

// New constructs a Registry backed by store, seeding both in-memory
// maps from a full scan of devices and channels.
func New(ctx context.Context, backend Backend) (*Registry, error) {
	r := &Registry{
		backend: backend,
		devices: make(map[string]int64),
		channels: make(map[channelKey]int64),
	}

	devices, err := backend.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("seeding device registry: %w", err)
	}
	for _, d := range devices {
		r.devices[d.Name] = d.ID
	}

	chans, err := backend.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("seeding channel registry: %w", err)
	}
	for _, c := range chans {
		r.channels[channelKey{c.Device, c.Control}] = c.ID
	}

	return r, nil
}

// ResolveDevice returns the stable integer id for name, inserting a row
// in the Store on first sighting.
func (r *Registry) ResolveDevice(ctx context.Context, name string) (int64, error) {
	r.mu.Lock()
	if id, ok := r.devices[name]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	id, err := r.backend.EnsureDevice(ctx, name)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.devices[name] = id
	r.mu.Unlock()
	return id, nil
}

// ResolveChannel returns the stable integer id for the (device, control)
// pair, inserting a row in the Store on first sighting.
func (r *Registry) ResolveChannel(ctx context.Context, device, control string) (int64, error) {
	key := channelKey{device, control}

	r.mu.Lock()
	if id, ok := r.channels[key]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	id, err := r.backend.EnsureChannel(ctx, device, control)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.channels[key] = id
	r.mu.Unlock()
	return id, nil
}
