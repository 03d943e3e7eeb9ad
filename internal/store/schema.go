package store

// schemaVersion is the current on-disk layout version.
const schemaVersion = 1

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS devices (
	int_id INTEGER PRIMARY KEY AUTOINCREMENT,
	device TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS channels (
	int_id INTEGER PRIMARY KEY AUTOINCREMENT,
	device TEXT,
	control TEXT
);

CREATE TABLE IF NOT EXISTS groups (
	int_id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS data (
	uid INTEGER PRIMARY KEY AUTOINCREMENT,
	device INTEGER,
	channel INTEGER,
	value TEXT,
	timestamp REAL DEFAULT(julianday('now')),
	group_id INTEGER
);

CREATE TABLE IF NOT EXISTS variables (
	name TEXT PRIMARY KEY,
	value TEXT
);

CREATE INDEX IF NOT EXISTS data_channel ON data (channel);
CREATE INDEX IF NOT EXISTS data_channel_timestamp ON data (channel, timestamp);
CREATE INDEX IF NOT EXISTS data_group ON data (group_id);
CREATE INDEX IF NOT EXISTS data_group_timestamp ON data (group_id, timestamp);
`

const upgradeFromV0SQL = `
ALTER TABLE data RENAME TO tmp;
DROP INDEX IF EXISTS data_channel;
DROP INDEX IF EXISTS data_channel_timestamp;
DROP INDEX IF EXISTS data_group;
DROP INDEX IF EXISTS data_group_timestamp;
`
