package protocol

// SchemaDDL defines the SQLite schema for the validator's runtime database.
// Tables: events (round/lifecycle audit trail) and emissions (weight
// submissions to the ledger). Execute with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Runtime event log: dispatch rounds, completions, resyncs, emission outcomes
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    request_id TEXT,
    miner_uid INTEGER,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Weight emissions: one row per submitWeights attempt
CREATE TABLE IF NOT EXISTS emissions (
    id INTEGER PRIMARY KEY,
    uids TEXT NOT NULL,    -- JSON array of miner uids
    weights TEXT NOT NULL, -- JSON array of quantized weights
    ok INTEGER NOT NULL,
    message TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`
