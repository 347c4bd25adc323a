package migrate

import (
	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
)

// ledgerTable records applied migrations; time_taken is milliseconds. SQLite
// tables holding timestamps are not STRICT, which only allows the five storage
// class names as column types.
const ledgerTable = "fastn_migration"

var sqliteBootstrap = `
CREATE TABLE IF NOT EXISTS fastn_migration
(
    id               INTEGER PRIMARY KEY,
    app_name         TEXT NOT NULL,
    migration_number INTEGER NOT NULL,
    migration_name   TEXT NOT NULL,
    applied_on       TIMESTAMP NOT NULL,
    time_taken       INTEGER NOT NULL,
    UNIQUE (app_name, migration_number)
);

CREATE TABLE IF NOT EXISTS fastn_user
(
    id       INTEGER PRIMARY KEY,
    name     TEXT NULL,
    username TEXT NULL,
    data     TEXT
) STRICT;

CREATE TABLE IF NOT EXISTS fastn_session
(
    id   INTEGER PRIMARY KEY,
    uid  INTEGER NULL,
    data TEXT,

    CONSTRAINT fk_fastn_user
        FOREIGN KEY (uid)
            REFERENCES fastn_user (id)
) STRICT;

CREATE TABLE IF NOT EXISTS fastn_email_queue
(
    id           INTEGER PRIMARY KEY,
    from_address TEXT NOT NULL,
    reply_to     TEXT NOT NULL,
    -- comma separated, "Alice <alice@example.com>, Bob <bob@example.com>"
    to_address   TEXT NOT NULL,
    cc_address   TEXT NULL,
    bcc_address  TEXT NULL,
    subject      TEXT NOT NULL,
    body_text    TEXT NOT NULL,
    body_html    TEXT NOT NULL,
    retry_count  INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMP NOT NULL,
    sent_at      TIMESTAMP NOT NULL,
    mkind        TEXT NOT NULL,
    -- pending, sent or failed
    status       TEXT NOT NULL
);
`

var postgresBootstrap = `
CREATE TABLE IF NOT EXISTS fastn_migration
(
    id               BIGSERIAL PRIMARY KEY,
    app_name         TEXT NOT NULL,
    migration_number INTEGER NOT NULL,
    migration_name   TEXT NOT NULL,
    applied_on       TIMESTAMPTZ NOT NULL,
    time_taken       BIGINT NOT NULL,
    UNIQUE (app_name, migration_number)
);

CREATE TABLE IF NOT EXISTS fastn_user
(
    id       BIGSERIAL PRIMARY KEY,
    name     TEXT NULL,
    username TEXT NULL,
    data     JSONB
);

CREATE TABLE IF NOT EXISTS fastn_session
(
    id   TEXT PRIMARY KEY,
    uid  BIGINT NULL REFERENCES fastn_user (id),
    data JSONB
);

CREATE TABLE IF NOT EXISTS fastn_email_queue
(
    id           BIGSERIAL PRIMARY KEY,
    from_address TEXT NOT NULL,
    reply_to     TEXT NOT NULL,
    to_address   TEXT NOT NULL,
    cc_address   TEXT NULL,
    bcc_address  TEXT NULL,
    subject      TEXT NOT NULL,
    body_text    TEXT NOT NULL,
    body_html    TEXT NOT NULL,
    retry_count  INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL,
    sent_at      TIMESTAMPTZ NOT NULL,
    mkind        TEXT NOT NULL,
    status       TEXT NOT NULL
);
`

func bootstrapSQL(d dialect.Dialect) string {
	if d == dialect.Postgres {
		return postgresBootstrap
	}
	return sqliteBootstrap
}
