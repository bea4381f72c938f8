package sqlite

// Timestamps are stored as integer Unix nanoseconds (UTC) so that range
// scans and expiry comparisons never depend on string formatting.
const schema = `
-- Service registry: assigns each recorder its collection name
CREATE TABLE IF NOT EXISTS services (
    uuid TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    version TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT '',
    collection TEXT NOT NULL UNIQUE,
    registered_at INTEGER NOT NULL
);

-- Tier records: one row per activity (hot) or summary (warm/cold).
-- The full activity document rides along as JSON; the extracted columns
-- exist for indexing and statistics only.
CREATE TABLE IF NOT EXISTS tier_records (
    collection TEXT NOT NULL,
    activity_id TEXT NOT NULL,
    tier TEXT NOT NULL CHECK(tier IN ('hot','warm','cold')),
    entity_id TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,
    timestamp INTEGER NOT NULL,
    inserted_at INTEGER NOT NULL,
    expires_at INTEGER,
    importance REAL NOT NULL CHECK(importance >= 0.0 AND importance <= 1.0),
    activity_type TEXT NOT NULL,
    file_path TEXT NOT NULL DEFAULT '',
    volume TEXT NOT NULL DEFAULT '',
    access_count INTEGER NOT NULL DEFAULT 0,
    activity TEXT NOT NULL,
    back_refs TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (collection, activity_id)
);

CREATE INDEX IF NOT EXISTS idx_tier_records_expires
    ON tier_records(collection, tier, expires_at);
CREATE INDEX IF NOT EXISTS idx_tier_records_timestamp
    ON tier_records(collection, tier, timestamp);
CREATE INDEX IF NOT EXISTS idx_tier_records_entity
    ON tier_records(collection, tier, entity_id);

-- Entities: stable file identity across renames. Never deleted.
CREATE TABLE IF NOT EXISTS entities (
    entity_id TEXT PRIMARY KEY,
    volume TEXT NOT NULL,
    file_reference INTEGER NOT NULL,
    path TEXT NOT NULL,
    prior_paths TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (volume, file_reference)
);

CREATE INDEX IF NOT EXISTS idx_entities_path ON entities(path);
`
