package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wirenboard/wb-mqtt-db/internal/model"
	"github.com/wirenboard/wb-mqtt-db/internal/registry"
)

type fakeBackend struct {
	devices     map[string]int64
	channels    map[[2]string]int64
	nextDevice  int64
	nextChannel int64
	ensureCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{devices: map[string]int64{}, channels: map[[2]string]int64{}}
}

func (f *fakeBackend) EnsureDevice(_ context.Context, name string) (int64, error) {
	f.ensureCalls++
	if id, ok := f.devices[name]; ok {
		return id, nil
	}
	f.nextDevice++
	f.devices[name] = f.nextDevice
	return f.nextDevice, nil
}

func (f *fakeBackend) EnsureChannel(_ context.Context, device, control string) (int64, error) {
	f.ensureCalls++
	key := [2]string{device, control}
	if id, ok := f.channels[key]; ok {
		return id, nil
	}
	f.nextChannel++
	f.channels[key] = f.nextChannel
	return f.nextChannel, nil
}

func (f *fakeBackend) ListDevices(context.Context) ([]model.Device, error) {
	var out []model.Device
	for name, id := range f.devices {
		out = append(out, model.Device{ID: id, Name: name})
	}
	return out, nil
}

func (f *fakeBackend) ListChannels(context.Context) ([]model.Channel, error) {
	var out []model.Channel
	for k, id := range f.channels {
		out = append(out, model.Channel{ID: id, Device: k[0], Control: k[1]})
	}
	return out, nil
}

func TestResolveDeviceCachesAfterFirstInsert(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	r, err := registry.New(ctx, backend)
	require.NoError(t, err)

	id1, err := r.ResolveDevice(ctx, "wb-adc")
	require.NoError(t, err)
	id2, err := r.ResolveDevice(ctx, "wb-adc")
	require.NoError(t, err)

	require.Equal(t, id1, id2)
	require.Equal(t, 1, backend.ensureCalls, "second resolve must hit the cache, not the backend")
}

func TestResolveChannelStableAcrossRestart(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.devices["wb-adc"] = 7
	backend.channels[[2]string{"wb-adc", "A1"}] = 42

	r, err := registry.New(ctx, backend)
	require.NoError(t, err)

	id, err := r.ResolveChannel(ctx, "wb-adc", "A1")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.Equal(t, 0, backend.ensureCalls, "seeded channel must not call EnsureChannel")
}
