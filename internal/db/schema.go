package db

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    wallet          TEXT DEFAULT '',
    mode            TEXT NOT NULL CHECK(mode IN ('verified','guest','bot_suspected')),
    world_id        TEXT DEFAULT '',
    schema_version  INTEGER NOT NULL,
    seed_commitment TEXT NOT NULL,
    status          TEXT DEFAULT 'active' CHECK(status IN ('active','finalized')),
    dignity         INTEGER DEFAULT 0,
    relation        INTEGER DEFAULT 0,
    pollution       INTEGER DEFAULT 0,
    truth_unlocked  INTEGER DEFAULT 0 CHECK(truth_unlocked IN (0, 1)),
    ending          INTEGER DEFAULT 0,
    body            TEXT NOT NULL DEFAULT '{}',
    started_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_wallet ON sessions(wallet) WHERE wallet != '';
CREATE INDEX IF NOT EXISTS idx_sessions_world ON sessions(world_id) WHERE world_id != '';
CREATE INDEX IF NOT EXISTS idx_sessions_mode ON sessions(mode);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

CREATE TABLE IF NOT EXISTS turns (
    session_id  TEXT NOT NULL REFERENCES sessions(id),
    turn_index  INTEGER NOT NULL,
    node_id     INTEGER NOT NULL,
    choice_id   INTEGER,
    drawn_id    INTEGER,
    first_clear INTEGER CHECK(first_clear IN (0, 1)),
    body        TEXT NOT NULL DEFAULT '{}',
    updated_at  DATETIME NOT NULL,
    PRIMARY KEY (session_id, turn_index)
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);

CREATE TABLE IF NOT EXISTS worlds (
    id           TEXT PRIMARY KEY,
    theme        TEXT NOT NULL,
    tags         TEXT DEFAULT '[]',
    member_count INTEGER DEFAULT 0,
    finalized    INTEGER DEFAULT 0 CHECK(finalized IN (0, 1)),
    body         TEXT NOT NULL DEFAULT '{}',
    created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_worlds_finalized ON worlds(finalized);
`
