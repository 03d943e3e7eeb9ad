package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wirenboard/wb-mqtt-db/internal/model"
)

// EnsureDevice returns the stable integer id for name, inserting a row
// on first sighting.
func (s *Store) EnsureDevice(ctx context.Context, name string) (int64, error) {
	if id, err := s.lookupDevice(ctx, name); err == nil {
		return id, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	stmt, err := s.prepare(ctx, "INSERT OR IGNORE INTO devices (device) VALUES (?)")
	if err != nil {
		return 0, err
	}
	if _, err := stmt.ExecContext(ctx, name); err != nil {
		return 0, fmt.Errorf("inserting device %q: %w", name, err)
	}
	return s.lookupDevice(ctx, name)
}

func (s *Store) lookupDevice(ctx context.Context, name string) (int64, error) {
	stmt, err := s.prepare(ctx, "SELECT int_id FROM devices WHERE device = ?")
	if err != nil {
		return 0, err
	}
	var id int64
	err = stmt.QueryRowContext(ctx, name).Scan(&id)
	return id, err
}

// EnsureChannel returns the stable integer id for the (device, control)
// pair, inserting a row on first sighting.
func (s *Store) EnsureChannel(ctx context.Context, device, control string) (int64, error) {
	if id, err := s.lookupChannel(ctx, device, control); err == nil {
		return id, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	stmt, err := s.prepare(ctx, "INSERT INTO channels (device, control) VALUES (?, ?)")
	if err != nil {
		return 0, err
	}
	if _, err := stmt.ExecContext(ctx, device, control); err != nil {
		return 0, fmt.Errorf("inserting channel %s/%s: %w", device, control, err)
	}
	return s.lookupChannel(ctx, device, control)
}

func (s *Store) lookupChannel(ctx context.Context, device, control string) (int64, error) {
	stmt, err := s.prepare(ctx, "SELECT int_id FROM channels WHERE device = ? AND control = ?")
	if err != nil {
		return 0, err
	}
	var id int64
	err = stmt.QueryRowContext(ctx, device, control).Scan(&id)
	return id, err
}

// EnsureGroup returns the stable integer id for a configured group
// name, creating the row if this is the first time the group has been
// seen.
func (s *Store) EnsureGroup(ctx context.Context, name string) (int64, error) {
	stmt, err := s.prepare(ctx, "SELECT int_id FROM groups WHERE group_id = ?")
	if err != nil {
		return 0, err
	}
	var id int64
	err = stmt.QueryRowContext(ctx, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	insert, err := s.prepare(ctx, "INSERT INTO groups (group_id) VALUES (?)")
	if err != nil {
		return 0, err
	}
	res, err := insert.ExecContext(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("inserting group %q: %w", name, err)
	}
	return res.LastInsertId()
}

// ListDevices returns every device row, for Registry seeding.
func (s *Store) ListDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT int_id, device FROM devices")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Device
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListChannels returns every channel row, for Registry seeding.
func (s *Store) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT int_id, device, control FROM channels")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		var c model.Channel
		if err := rows.Scan(&c.ID, &c.Device, &c.Control); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountByChannel returns, for every channel id that has at least one
// row in data, the number of live samples for it.
func (s *Store) CountByChannel(ctx context.Context) (map[int64]int, error) {
	return s.countBy(ctx, "channel")
}

// CountByGroup returns, for every group id that has at least one row in
// data, the number of live samples for it.
func (s *Store) CountByGroup(ctx context.Context) (map[int64]int, error) {
	return s.countBy(ctx, "group_id")
}

func (s *Store) countBy(ctx context.Context, column string) (map[int64]int, error) {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM data GROUP BY %s", column, column)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var id int64
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

// InsertSample appends one sample timestamped at now and returns its
// assigned uid.
func (s *Store) InsertSample(ctx context.Context, deviceID, channelID, groupID int64, value string, now time.Time) (int64, error) {
	stmt, err := s.prepare(ctx, "INSERT INTO data (device, channel, value, timestamp, group_id) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, deviceID, channelID, value, ToJulian(now), groupID)
	if err != nil {
		return 0, fmt.Errorf("inserting sample: %w", err)
	}
	return res.LastInsertId()
}

// DeleteOldestByChannel deletes the oldest n rows for channelID,
// ordered by ascending uid, and reports how many rows were actually
// removed.
func (s *Store) DeleteOldestByChannel(ctx context.Context, channelID int64, n int) (int64, error) {
	return s.deleteOldest(ctx, "channel", channelID, n)
}

// DeleteOldestByGroup deletes the oldest n rows for groupID, ordered by
// ascending uid.
func (s *Store) DeleteOldestByGroup(ctx context.Context, groupID int64, n int) (int64, error) {
	return s.deleteOldest(ctx, "group_id", groupID, n)
}

func (s *Store) deleteOldest(ctx context.Context, column string, id int64, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	query := fmt.Sprintf(
		"DELETE FROM data WHERE uid IN (SELECT uid FROM data WHERE %s = ? ORDER BY uid ASC LIMIT ?)",
		column)
	stmt, err := s.prepare(ctx, query)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, id, n)
	if err != nil {
		return 0, fmt.Errorf("evicting oldest rows: %w", err)
	}
	return res.RowsAffected()
}
