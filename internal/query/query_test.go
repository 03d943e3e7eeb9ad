package query_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirenboard/wb-mqtt-db/internal/query"
	"github.com/wirenboard/wb-mqtt-db/internal/store"
)

// fakeRegistry assigns sequential channel ids on first sighting, like
// the real Registry.
type fakeRegistry struct {
	ids map[string]int64
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{ids: map[string]int64{}} }

func (r *fakeRegistry) ResolveChannel(ctx context.Context, device, control string) (int64, error) {
	key := device + "/" + control
	if id, ok := r.ids[key]; ok {
		return id, nil
	}
	id := int64(len(r.ids) + 1)
	r.ids[key] = id
	return id, nil
}

// fakeStore reimplements store.QueryRange's documented semantics over
// an in-memory slice, so the Query Service can be tested without a
// real database.
type fakeStore struct {
	rows []store.SampleRow
}

func (f *fakeStore) QueryRange(ctx context.Context, q store.RangeQuery) ([]store.SampleRow, error) {
	wanted := map[int64]bool{}
	for _, id := range q.ChannelIDs {
		wanted[id] = true
	}

	var matched []store.SampleRow
	for _, r := range f.rows {
		if !wanted[r.ChannelID] {
			continue
		}
		ts := store.JulianFromUnixSeconds(r.TimestampUnix)
		if !(ts > q.TimestampGT && ts < q.TimestampLT) {
			continue
		}
		if r.Uid <= q.UidGT {
			continue
		}
		matched = append(matched, r)
	}

	if q.BucketsPerDay > 0 {
		seen := map[float64]bool{}
		var bucketed []store.SampleRow
		for _, r := range matched {
			jd := store.JulianFromUnixSeconds(r.TimestampUnix)
			bucket := math.Round(jd * q.BucketsPerDay)
			if seen[bucket] {
				continue
			}
			seen[bucket] = true
			bucketed = append(bucketed, r)
		}
		matched = bucketed
	}

	if q.Limit >= 0 && len(matched) > q.Limit+1 {
		matched = matched[:q.Limit+1]
	}
	return matched, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// TestQueryPagingV1 reproduces scenario S4. Samples start at Unix time 1,
// since the default timestamp.gt of 0 is an exclusive bound.
func TestQueryPagingV1(t *testing.T) {
	st := &fakeStore{}
	for i := 0; i < 50; i++ {
		st.rows = append(st.rows, store.SampleRow{
			Uid: int64(i + 1), DeviceID: 1, ChannelID: 1,
			Value: fmt.Sprintf("v%d", i), TimestampUnix: float64(i + 1),
		})
	}
	reg := newFakeRegistry()
	svc := query.New(reg, st, discardLogger())
	ctx := context.Background()

	req1 := []byte(`{"ver":1,"channels":[["d","c"]],"limit":20,"uid":{"gt":-1}}`)
	resp1, err := svc.HandleGetValues(ctx, req1)
	require.NoError(t, err)

	var decoded1 struct {
		Values []map[string]any `json:"values"`
		HasMore bool `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(resp1, &decoded1))
	assert.Len(t, decoded1.Values, 20)
	assert.True(t, decoded1.HasMore)
	assert.Equal(t, float64(0), decoded1.Values[0]["c"])
	lastUID := int64(decoded1.Values[19]["i"].(float64))

	req2 := []byte(fmt.Sprintf(`{"ver":1,"channels":[["d","c"]],"limit":20,"uid":{"gt":%d}}`, lastUID))
	resp2, err := svc.HandleGetValues(ctx, req2)
	require.NoError(t, err)
	var decoded2 struct {
		Values []map[string]any `json:"values"`
		HasMore bool `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(resp2, &decoded2))
	assert.Len(t, decoded2.Values, 20)
	assert.True(t, decoded2.HasMore)
	lastUID2 := int64(decoded2.Values[19]["i"].(float64))

	req3 := []byte(fmt.Sprintf(`{"ver":1,"channels":[["d","c"]],"limit":20,"uid":{"gt":%d}}`, lastUID2))
	resp3, err := svc.HandleGetValues(ctx, req3)
	require.NoError(t, err)
	var decoded3 struct {
		Values []map[string]any `json:"values"`
		HasMore bool `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(resp3, &decoded3))
	assert.Len(t, decoded3.Values, 10)
	assert.False(t, decoded3.HasMore)
}

// TestDownSampling reproduces scenario S5: 10 samples at 100ms spacing,
// queried with min_interval=500 collapses to 2 rows. The samples run
// from 0.3s to 1.2s so that they fall into exactly two ROUND-ed 500ms
// buckets (centred on 0.5s and 1.0s) and stay above the exclusive
// default timestamp.gt of 0.
func TestDownSampling(t *testing.T) {
	st := &fakeStore{}
	for i := 0; i < 10; i++ {
		st.rows = append(st.rows, store.SampleRow{
			Uid: int64(i + 1), DeviceID: 1, ChannelID: 1,
			Value: fmt.Sprintf("v%d", i), TimestampUnix: 0.3 + float64(i)*0.1,
		})
	}
	reg := newFakeRegistry()
	svc := query.New(reg, st, discardLogger())

	req := []byte(`{"channels":[["d","c"]],"min_interval":500}`)
	resp, err := svc.HandleGetValues(context.Background(), req)
	require.NoError(t, err)

	var decoded struct {
		Values []map[string]any `json:"values"`
	}
	require.NoError(t, json.Unmarshal(resp, &decoded))
	assert.Len(t, decoded.Values, 2)
}

func TestMissingChannelsIsAnError(t *testing.T) {
	svc := query.New(newFakeRegistry(), &fakeStore{}, discardLogger())
	_, err := svc.HandleGetValues(context.Background(), []byte(`{}`))
	assert.EqualError(t, err, "no channels specified")
}

func TestMalformedChannelPairIsAnError(t *testing.T) {
	svc := query.New(newFakeRegistry(), &fakeStore{}, discardLogger())
	_, err := svc.HandleGetValues(context.Background(), []byte(`{"channels":[["d"]]}`))
	assert.EqualError(t, err, "'channels' items must be an arrays of size two")
}

func TestUnsupportedVersionIsAnError(t *testing.T) {
	svc := query.New(newFakeRegistry(), &fakeStore{}, discardLogger())
	_, err := svc.HandleGetValues(context.Background(), []byte(`{"ver":2,"channels":[["d","c"]]}`))
	assert.EqualError(t, err, "unsupported request version")
}

func TestVer0ResponseShape(t *testing.T) {
	st := &fakeStore{rows: []store.SampleRow{
		{Uid: 1, DeviceID: 1, ChannelID: 1, Value: "42", TimestampUnix: 100},
	}}
	reg := newFakeRegistry()
	svc := query.New(reg, st, discardLogger())

	resp, err := svc.HandleGetValues(context.Background(), []byte(`{"channels":[["d","c"]]}`))
	require.NoError(t, err)

	var decoded struct {
		Values []map[string]any `json:"values"`
	}
	require.NoError(t, json.Unmarshal(resp, &decoded))
	require.Len(t, decoded.Values, 1)
	assert.Equal(t, "d", decoded.Values[0]["device"])
	assert.Equal(t, "c", decoded.Values[0]["control"])
	assert.Equal(t, "42", decoded.Values[0]["value"])
}
