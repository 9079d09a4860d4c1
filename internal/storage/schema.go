package storage

const schema = `
-- Reserved metadata rows: schema_version, projection_version, path_policy,
-- initialized_at. The schema_version row is the startup compatibility gate.
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at TEXT NOT NULL
);

-- Append-only event log. Rows are never updated or deleted; global_seq is
-- the monotonic insertion counter that breaks recorded_at ties. The unique
-- constraint on (stream_type, stream_id, sequence_number) is the
-- authoritative guard for per-stream sequencing.
CREATE TABLE IF NOT EXISTS events (
    global_seq INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL UNIQUE,
    event_type TEXT NOT NULL,
    stream_type TEXT NOT NULL,
    stream_id TEXT NOT NULL,
    sequence_number INTEGER NOT NULL CHECK(sequence_number >= 1),
    data TEXT NOT NULL DEFAULT '{}',
    causation_id TEXT,
    correlation_id TEXT NOT NULL,
    occurred_at TEXT NOT NULL,
    recorded_at TEXT NOT NULL,
    schema_version INTEGER NOT NULL DEFAULT 1,
    UNIQUE (stream_type, stream_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_causation ON events(causation_id);
CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id);
CREATE INDEX IF NOT EXISTS idx_events_recorded ON events(recorded_at, global_seq);

-- Projections. Populated only by event handlers running inside the same
-- transaction as the append; rebuildable from the event log at any time.
CREATE TABLE IF NOT EXISTS missions (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    priority TEXT NOT NULL DEFAULT 'medium',
    created_at TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT,
    total_sorties INTEGER NOT NULL DEFAULT 0,
    completed_sorties INTEGER NOT NULL DEFAULT 0,
    result TEXT,
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);
CREATE INDEX IF NOT EXISTS idx_missions_priority ON missions(priority);

CREATE TABLE IF NOT EXISTS sorties (
    id TEXT PRIMARY KEY,
    mission_id TEXT REFERENCES missions(id),
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    priority TEXT NOT NULL DEFAULT 'medium',
    assigned_to TEXT,
    created_at TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT,
    progress INTEGER NOT NULL DEFAULT 0 CHECK(progress >= 0 AND progress <= 100),
    progress_notes TEXT,
    blocked_by TEXT,
    blocked_reason TEXT,
    files TEXT NOT NULL DEFAULT '[]',
    result TEXT,
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_sorties_mission ON sorties(mission_id);
CREATE INDEX IF NOT EXISTS idx_sorties_status ON sorties(status);
CREATE INDEX IF NOT EXISTS idx_sorties_assigned ON sorties(assigned_to);

-- Specialist ids are externally owned; no generated-id constraint here.
CREATE TABLE IF NOT EXISTS specialists (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    capabilities TEXT NOT NULL DEFAULT '[]',
    registered_at TEXT NOT NULL,
    last_seen TEXT NOT NULL,
    current_sortie TEXT,
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_specialists_status ON specialists(status);
CREATE INDEX IF NOT EXISTS idx_specialists_last_seen ON specialists(last_seen);

-- The partial unique index is the invariant: one active lock per path.
CREATE TABLE IF NOT EXISTS locks (
    id TEXT PRIMARY KEY,
    file TEXT NOT NULL,
    normalized_path TEXT NOT NULL,
    reserved_by TEXT NOT NULL,
    reserved_at TEXT NOT NULL,
    released_at TEXT,
    expires_at TEXT NOT NULL,
    purpose TEXT NOT NULL DEFAULT 'edit',
    checksum TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    release_reason TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_locks_active_path ON locks(normalized_path) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_locks_specialist ON locks(reserved_by);
CREATE INDEX IF NOT EXISTS idx_locks_status_expires ON locks(status, expires_at);

CREATE TABLE IF NOT EXISTS mailboxes (
    mailbox_id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    created_at TEXT NOT NULL
);

-- insertion_seq carries the appending event's global_seq so mailbox order
-- has a stable tiebreak when sent_at collides at millisecond precision.
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    mailbox_id TEXT NOT NULL REFERENCES mailboxes(mailbox_id),
    sender_id TEXT,
    thread_id TEXT,
    message_type TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending',
    priority TEXT NOT NULL DEFAULT 'normal',
    sent_at TEXT NOT NULL,
    read_at TEXT,
    acked_at TEXT,
    causation_id TEXT,
    insertion_seq INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_mailbox_order ON messages(mailbox_id, sent_at, insertion_seq);
CREATE INDEX IF NOT EXISTS idx_messages_mailbox_status ON messages(mailbox_id, status);

CREATE TABLE IF NOT EXISTS cursors (
    id TEXT PRIMARY KEY,
    stream_type TEXT NOT NULL,
    stream_id TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0 CHECK(position >= 0),
    consumer_id TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- trigger_kind instead of trigger: TRIGGER is reserved in SQLite.
-- snapshot holds the full checkpoint JSON; the row columns exist for
-- querying and retention. The partial unique index makes progress
-- checkpoints at-most-once per (mission, threshold).
CREATE TABLE IF NOT EXISTS checkpoints (
    id TEXT PRIMARY KEY,
    mission_id TEXT NOT NULL REFERENCES missions(id),
    created_at TEXT NOT NULL,
    trigger_kind TEXT NOT NULL,
    trigger_details TEXT,
    progress_percent INTEGER NOT NULL DEFAULT 0 CHECK(progress_percent >= 0 AND progress_percent <= 100),
    snapshot TEXT NOT NULL,
    created_by TEXT NOT NULL,
    event_global_seq INTEGER NOT NULL DEFAULT 0,
    expires_at TEXT,
    consumed_at TEXT,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_mission ON checkpoints(mission_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoints_progress_once ON checkpoints(mission_id, trigger_kind, progress_percent) WHERE trigger_kind = 'progress';
`
