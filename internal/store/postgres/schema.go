package postgres

// Schema is the full DDL for a fresh database. cmd/hubd runs it with a
// single Exec on startup whenever DATABASE_URL is set; there is no
// incremental migration tool here, matching the rest of this pack's
// preference for a single idempotent bootstrap script over a migration
// framework.
const Schema = `
CREATE TABLE IF NOT EXISTS identities (
	address     TEXT PRIMARY KEY,
	public_key  BYTEA NOT NULL,
	plan        TEXT NOT NULL DEFAULT 'free',
	plan_status TEXT NOT NULL DEFAULT 'active',
	role        TEXT NOT NULL DEFAULT 'user',
	trial_state TEXT NOT NULL DEFAULT '',
	suspended_state TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contacts (
	owner_address   TEXT NOT NULL,
	contact_address TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	always_allowed  BOOLEAN NOT NULL DEFAULT false,
	override        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (owner_address, contact_address)
);

CREATE TABLE IF NOT EXISTS policies (
	user_address             TEXT PRIMARY KEY,
	allow_calls_from         TEXT NOT NULL DEFAULT 'contacts',
	unknown_caller_behavior  TEXT NOT NULL DEFAULT 'request',
	max_rings_per_sender     INT NOT NULL DEFAULT 5,
	ring_window_minutes      INT NOT NULL DEFAULT 10,
	auto_block_after_rejects INT NOT NULL DEFAULT 3,
	voicemail_enabled        BOOLEAN NOT NULL DEFAULT true,
	requires_payment         BOOLEAN NOT NULL DEFAULT false,
	business_hours_start     INT NOT NULL DEFAULT 9,
	business_hours_end       INT NOT NULL DEFAULT 18
);

CREATE TABLE IF NOT EXISTS policy_blocks (
	owner_address TEXT NOT NULL,
	blocked_address TEXT NOT NULL,
	until TIMESTAMPTZ,
	PRIMARY KEY (owner_address, blocked_address)
);

CREATE TABLE IF NOT EXISTS policy_rejections (
	callee_address TEXT NOT NULL,
	caller_address TEXT NOT NULL,
	count INT NOT NULL DEFAULT 0,
	PRIMARY KEY (callee_address, caller_address)
);

CREATE TABLE IF NOT EXISTS usage_counters (
	user_address        TEXT PRIMARY KEY,
	day_key             TEXT NOT NULL DEFAULT '',
	month_key           TEXT NOT NULL DEFAULT '',
	calls_started_today INT NOT NULL DEFAULT 0,
	failed_starts_today INT NOT NULL DEFAULT 0,
	call_attempts_hour  INT NOT NULL DEFAULT 0,
	hour_key            TEXT NOT NULL DEFAULT '',
	seconds_used_month  BIGINT NOT NULL DEFAULT 0,
	relay_penalty_until TIMESTAMPTZ
);

-- One row per TURN-relay call, so the 24h relay-penalty window (§4.3,
-- Open Question 3) is a true rolling window rather than a bucket count.
CREATE TABLE IF NOT EXISTS usage_relay_calls (
	user_address TEXT NOT NULL,
	at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_relay_calls_addr_idx ON usage_relay_calls (user_address, at);

CREATE TABLE IF NOT EXISTS active_calls (
	call_session_id       TEXT PRIMARY KEY,
	caller_address         TEXT NOT NULL,
	callee_address         TEXT NOT NULL,
	caller_tier            TEXT NOT NULL,
	callee_tier            TEXT NOT NULL,
	started_at             TIMESTAMPTZ NOT NULL,
	last_heartbeat_caller  TIMESTAMPTZ NOT NULL,
	last_heartbeat_callee  TIMESTAMPTZ NOT NULL,
	max_duration_seconds   INT,
	relay_used             BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS active_calls_caller_idx ON active_calls (caller_address);
CREATE INDEX IF NOT EXISTS active_calls_callee_idx ON active_calls (callee_address);

CREATE TABLE IF NOT EXISTS conversations (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	participants     TEXT[] NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_message_seq BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS conversations_participants_idx ON conversations USING GIN (participants);

CREATE TABLE IF NOT EXISTS messages (
	id               TEXT PRIMARY KEY,
	convo_id         TEXT NOT NULL REFERENCES conversations(id),
	from_address     TEXT NOT NULL,
	to_address       TEXT NOT NULL,
	content          BYTEA NOT NULL,
	media_type       TEXT NOT NULL DEFAULT '',
	seq              BIGINT NOT NULL,
	server_timestamp TIMESTAMPTZ NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	UNIQUE (convo_id, seq)
);
CREATE INDEX IF NOT EXISTS messages_pending_idx ON messages (to_address) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS messages_convo_seq_idx ON messages (convo_id, seq);

CREATE TABLE IF NOT EXISTS call_tokens (
	token          TEXT PRIMARY KEY,
	nonce_hash     BYTEA NOT NULL,
	user_address   TEXT NOT NULL,
	target_address TEXT NOT NULL,
	plan           TEXT NOT NULL,
	allow_turn     BOOLEAN NOT NULL DEFAULT false,
	allow_video    BOOLEAN NOT NULL DEFAULT true,
	issued_at      TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL,
	used_at        TIMESTAMPTZ,
	used_by_ip     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS call_tokens_expires_idx ON call_tokens (expires_at);

CREATE TABLE IF NOT EXISTS passes (
	id            TEXT PRIMARY KEY,
	owner_address TEXT NOT NULL,
	kind          TEXT NOT NULL,
	uses_left     INT NOT NULL DEFAULT 0,
	price_cents   NUMERIC NOT NULL DEFAULT 0,
	expires_at    TIMESTAMPTZ
);
`
