package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps a PostgreSQL connection pool for campaign auditing.
type DB struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id          TEXT PRIMARY KEY,
	target      TEXT NOT NULL,
	work_dir    TEXT NOT NULL,
	model_name  TEXT NOT NULL,
	time_budget INTEGER NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	attempts    INTEGER,
	valid       INTEGER,
	finished_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS compile_outcomes (
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	batch_index INTEGER NOT NULL,
	artifact    TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	timed_out   BOOLEAN NOT NULL,
	stdout      TEXT NOT NULL,
	stderr      TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS coverage_samples (
	campaign_id   TEXT NOT NULL REFERENCES campaigns(id),
	batch_index   INTEGER NOT NULL,
	elapsed_label TEXT NOT NULL,
	value         TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);`

// Campaign is the audit row describing one run.
type Campaign struct {
	ID         string
	Target     string
	WorkDir    string
	ModelName  string
	TimeBudget int
	StartedAt  time.Time
}

// New creates a new database connection pool and ensures the schema exists.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// StartCampaign inserts the campaign row.
func (db *DB) StartCampaign(ctx context.Context, c *Campaign) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO campaigns (id, target, work_dir, model_name, time_budget, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Target, c.WorkDir, c.ModelName, c.TimeBudget, c.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting campaign: %w", err)
	}
	return nil
}

// FinishCampaign records the generation totals and completion time.
func (db *DB) FinishCampaign(ctx context.Context, id string, attempts, valid int, finishedAt time.Time) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE campaigns SET attempts = $2, valid = $3, finished_at = $4 WHERE id = $1`,
		id, attempts, valid, finishedAt,
	)
	if err != nil {
		return fmt.Errorf("updating campaign %s: %w", id, err)
	}
	return nil
}

// LogCompileOutcome inserts one compile outcome.
func (db *DB) LogCompileOutcome(ctx context.Context, campaignID string, o *CompileOutcome) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO compile_outcomes (campaign_id, batch_index, artifact, exit_code, timed_out,
			stdout, stderr, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		campaignID, o.BatchIndex, truncateForDB(o.Artifact, 1024), o.ExitCode, o.TimedOut,
		truncateForDB(o.Stdout, 65535),
		truncateForDB(o.Stderr, 65535),
		o.Duration.Milliseconds(), o.At,
	)
	if err != nil {
		return fmt.Errorf("inserting compile outcome: %w", err)
	}
	return nil
}

// LogCoverageSample inserts one coverage sample.
func (db *DB) LogCoverageSample(ctx context.Context, campaignID string, s *CoverageSample) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO coverage_samples (campaign_id, batch_index, elapsed_label, value, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		campaignID, s.BatchIndex, s.ElapsedLabel, truncateForDB(s.Value, 1024), s.At,
	)
	if err != nil {
		return fmt.Errorf("inserting coverage sample: %w", err)
	}
	return nil
}

// truncateForDB makes s storable in a UTF-8 TEXT column: NUL bytes are
// dropped, invalid sequences become U+FFFD, and the result is cut to at most
// maxLen bytes on a rune boundary.
func truncateForDB(s string, maxLen int) string {
	s = strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
