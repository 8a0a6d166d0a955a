package store

// SchemaVersion is the current dataset database schema version
const SchemaVersion = 1

const schema = `
-- Field definitions, in display order
CREATE TABLE IF NOT EXISTS fields (
    name TEXT PRIMARY KEY,
    kind TEXT NOT NULL DEFAULT '' CHECK(kind IN ('', 'text', 'number', 'bool', 'time')),
    transform TEXT NOT NULL DEFAULT '',
    seq INTEGER NOT NULL
);

-- Records, ordered by pos
CREATE TABLE IF NOT EXISTS records (
    id TEXT PRIMARY KEY,
    pos INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_records_pos ON records(pos);

-- Field values as JSON
CREATE TABLE IF NOT EXISTS record_values (
    record_id TEXT NOT NULL,
    field TEXT NOT NULL,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (record_id, field),
    FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
