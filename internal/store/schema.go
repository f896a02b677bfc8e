package store

// Schema is the complete veridex schema. Timestamps are milliseconds since
// epoch. Checks own claims; claims own evidence; no cycles.
const Schema = `
CREATE TABLE IF NOT EXISTS checks (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    input_kind   TEXT NOT NULL,
    input        TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending',
    reason       TEXT NOT NULL DEFAULT '',
    message      TEXT NOT NULL DEFAULT '',
    credit_cost  INTEGER NOT NULL DEFAULT 1,
    created_at   INTEGER NOT NULL,
    completed_at INTEGER,
    duration_ms  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_checks_user ON checks(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_checks_status ON checks(status);

CREATE TABLE IF NOT EXISTS claims (
    id          TEXT PRIMARY KEY,
    check_id    TEXT NOT NULL REFERENCES checks(id) ON DELETE CASCADE,
    ordinal     INTEGER NOT NULL,
    text        TEXT NOT NULL,
    verdict     TEXT NOT NULL DEFAULT '',
    confidence  INTEGER NOT NULL DEFAULT 0,
    rationale   TEXT NOT NULL DEFAULT '',
    degraded    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_claims_check ON claims(check_id, ordinal);

CREATE TABLE IF NOT EXISTS evidence (
    id           TEXT PRIMARY KEY,
    claim_id     TEXT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
    source       TEXT NOT NULL DEFAULT '',
    url          TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    snippet      TEXT NOT NULL DEFAULT '',
    published_at INTEGER,
    relevance    REAL NOT NULL DEFAULT 0,
    credibility  REAL NOT NULL DEFAULT 0,
    provider     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_evidence_claim ON evidence(claim_id);
`
