package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate applies the idempotent DDL for the platform. Safe to call on
// every startup; every statement is IF NOT EXISTS.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT UNIQUE,
	password_hash TEXT NOT NULL,
	full_name     TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'student',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	token      TEXT PRIMARY KEY,
	user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	ip_address TEXT,
	user_agent TEXT,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS categories (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tests (
	id               BIGSERIAL PRIMARY KEY,
	category_id      BIGINT REFERENCES categories(id) ON DELETE SET NULL,
	title            TEXT NOT NULL,
	duration_minutes INT NOT NULL DEFAULT 30,
	scoring_policy   TEXT NOT NULL DEFAULT 'percentage',
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS questions (
	id          BIGSERIAL PRIMARY KEY,
	test_id     BIGINT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	seq_no      INT NOT NULL,
	prompt      TEXT NOT NULL,
	option_a    TEXT NOT NULL,
	option_b    TEXT NOT NULL,
	option_c    TEXT NOT NULL,
	option_d    TEXT NOT NULL,
	correct_option CHAR(1) NOT NULL,
	explanation TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (test_id, seq_no)
);

CREATE TABLE IF NOT EXISTS materials (
	id          BIGSERIAL PRIMARY KEY,
	category_id BIGINT REFERENCES categories(id) ON DELETE SET NULL,
	title       TEXT NOT NULL,
	body        TEXT NOT NULL DEFAULT '',
	url         TEXT,
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS attempts (
	id              BIGSERIAL PRIMARY KEY,
	test_id         BIGINT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	user_id         BIGINT REFERENCES users(id) ON DELETE SET NULL,
	client_token    TEXT,
	status          TEXT NOT NULL DEFAULT 'in_progress',
	time_taken_secs INT,
	started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_in_progress
	ON attempts (test_id, user_id)
	WHERE status = 'in_progress' AND user_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS attempt_answers (
	attempt_id      BIGINT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
	question_id     BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	selected_option CHAR(1),
	is_correct      BOOLEAN,
	time_spent_secs INT NOT NULL DEFAULT 0,
	PRIMARY KEY (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS results (
	id              BIGSERIAL PRIMARY KEY,
	attempt_id      BIGINT NOT NULL UNIQUE REFERENCES attempts(id) ON DELETE CASCADE,
	test_id         BIGINT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	user_id         BIGINT REFERENCES users(id) ON DELETE SET NULL,
	total_questions INT NOT NULL,
	correct_count   INT NOT NULL,
	wrong_count     INT NOT NULL,
	unanswered_count INT NOT NULL,
	score           INT NOT NULL,
	percentage      INT NOT NULL,
	rank            INT NOT NULL,
	time_taken_secs INT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS results_test_score ON results (test_id, score DESC);

CREATE TABLE IF NOT EXISTS progress_snapshots (
	user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	test_id    BIGINT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, test_id)
);
`
