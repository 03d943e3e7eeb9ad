package store

import (
	"context"
	"fmt"
	"strings"
)

// RangeQuery is the store-level shape of a history range request.
// TimestampGT/TimestampLT are Julian days. BucketsPerDay
// is zero when no down-sampling is requested, else 86400000/min_interval_ms.
// Limit is -1 for "no cap", else the store fetches Limit+1 rows so the
// caller can detect has_more without a second round trip.
type RangeQuery struct {
	ChannelIDs []int64
	TimestampGT float64
	TimestampLT float64
	UidGT int64
	Limit int
	BucketsPerDay float64
}

// SampleRow is one row returned by QueryRange, with its timestamp
// already converted to fractional Unix seconds.
type SampleRow struct {
	Uid int64
	DeviceID int64
	ChannelID int64
	Value string
	TimestampUnix float64
}

// QueryRange executes one query selecting samples for the requested
// channels within the requested bounds, ordered by ascending uid, with
// optional temporal down-sampling.
func (s *Store) QueryRange(ctx context.Context, q RangeQuery) ([]SampleRow, error) {
	if len(q.ChannelIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(q.ChannelIDs))
	args := make([]any, 0, len(q.ChannelIDs)+4)
	for i, id := range q.ChannelIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT uid, device, channel, value, (timestamp - %v) * 86400.0 AS ts FROM data", julianUnixEpoch)
	fmt.Fprintf(&b, " WHERE channel IN (%s) AND timestamp > ? AND timestamp < ? AND uid > ?",
		strings.Join(placeholders, ","))
	args = append(args, q.TimestampGT, q.TimestampLT, q.UidGT)

	if q.BucketsPerDay > 0 {
		fmt.Fprintf(&b, " GROUP BY ROUND(timestamp * %v)", q.BucketsPerDay)
	}

	b.WriteString(" ORDER BY uid ASC")

	if q.Limit >= 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit+1)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var out []SampleRow
	for rows.Next() {
		var r SampleRow
		if err := rows.Scan(&r.Uid, &r.DeviceID, &r.ChannelID, &r.Value, &r.TimestampUnix); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
