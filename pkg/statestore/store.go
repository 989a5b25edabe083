// Package statestore persists point-in-time snapshots of the entity graph
// to SQLite, so a restart can warm-start from the last snapshot instead of
// waiting for a full resync. Voice-gateway credentials are sealed before
// they touch disk and are silently dropped when no sealer is configured.
package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jhgg/discordstate/pkg/crypto"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// Store provides snapshot persistence for the entity graph.
type Store struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statestore: open db: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statestore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statestore: set busy_timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statestore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UseSealer configures credential sealing. Without one, session ids and
// tokens are not written at all.
func (s *Store) UseSealer(sealer *crypto.Sealer) {
	s.sealer = sealer
}

// Snapshot describes one stored snapshot.
type Snapshot struct {
	ID        string
	CreatedAt time.Time
	Servers   int
	Users     int
	Channels  int
	Roles     int
}

// Latest returns the most recent snapshot's metadata, or nil when the
// store is empty.
func (s *Store) Latest(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, created_at, servers, users, channels, roles FROM snapshots ORDER BY created_at DESC, id DESC LIMIT 1").
		Scan(&snap.ID, &createdAt, &snap.Servers, &snap.Users, &snap.Channels, &snap.Roles)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: latest snapshot: %w", err)
	}
	snap.CreatedAt, err = parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("statestore: latest snapshot: %w", err)
	}
	return snap, nil
}

// List returns all snapshot metadata, newest first.
func (s *Store) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, created_at, servers, users, channels, roles FROM snapshots ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("statestore: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var createdAt string
		if err := rows.Scan(&snap.ID, &createdAt, &snap.Servers, &snap.Users, &snap.Channels, &snap.Roles); err != nil {
			return nil, fmt.Errorf("statestore: list snapshots: %w", err)
		}
		if snap.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("statestore: list snapshots: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statestore: list snapshots: %w", err)
	}
	return out, nil
}

// Prune deletes all but the newest keep snapshots and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("statestore: prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM snapshots ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?", keep)
	if err != nil {
		return 0, fmt.Errorf("statestore: prune: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("statestore: prune: %w", err)
		}
		stale = append(stale, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("statestore: prune: %w", err)
	}
	_ = rows.Close()

	for _, id := range stale {
		if err := deleteSnapshot(ctx, tx, id); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("statestore: prune: %w", err)
	}
	return len(stale), nil
}

func deleteSnapshot(ctx context.Context, tx *sql.Tx, id string) error {
	for _, table := range []string{"user_roles", "users", "overwrites", "channels", "roles", "servers", "snapshots"} {
		column := "snapshot_id"
		if table == "snapshots" {
			column = "id"
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+column+" = ?", id); err != nil {
			return fmt.Errorf("statestore: delete snapshot %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS snapshots (
		id         TEXT PRIMARY KEY,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		servers    INTEGER NOT NULL DEFAULT 0,
		users      INTEGER NOT NULL DEFAULT 0,
		channels   INTEGER NOT NULL DEFAULT 0,
		roles      INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS servers (
		snapshot_id    TEXT    NOT NULL,
		id             INTEGER NOT NULL,
		name           TEXT    NOT NULL DEFAULT '',
		owner_id       INTEGER NOT NULL DEFAULT 0,
		region         TEXT    NOT NULL DEFAULT '',
		icon           TEXT    NOT NULL DEFAULT '',
		afk_channel_id INTEGER NOT NULL DEFAULT 0,
		afk_timeout    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (snapshot_id, id)
	);

	CREATE TABLE IF NOT EXISTS roles (
		snapshot_id TEXT    NOT NULL,
		id          INTEGER NOT NULL,
		server_id   INTEGER NOT NULL,
		name        TEXT    NOT NULL DEFAULT '',
		permissions INTEGER NOT NULL DEFAULT 0,
		hoist       INTEGER NOT NULL DEFAULT 0,
		color       INTEGER NOT NULL DEFAULT 0,
		position    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (snapshot_id, id)
	);

	CREATE TABLE IF NOT EXISTS channels (
		snapshot_id  TEXT    NOT NULL,
		id           INTEGER NOT NULL,
		server_id    INTEGER NOT NULL DEFAULT 0,
		kind         TEXT    NOT NULL DEFAULT '',
		name         TEXT    NOT NULL DEFAULT '',
		topic        TEXT    NOT NULL DEFAULT '',
		position     INTEGER NOT NULL DEFAULT 0,
		recipient_id INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (snapshot_id, id)
	);

	CREATE TABLE IF NOT EXISTS overwrites (
		snapshot_id TEXT    NOT NULL,
		channel_id  INTEGER NOT NULL,
		position    INTEGER NOT NULL,
		target_id   INTEGER NOT NULL,
		type        TEXT    NOT NULL,
		allow       INTEGER NOT NULL DEFAULT 0,
		deny        INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (snapshot_id, channel_id, position)
	);

	CREATE TABLE IF NOT EXISTS users (
		snapshot_id      TEXT    NOT NULL,
		server_id        INTEGER NOT NULL DEFAULT 0,
		user_id          INTEGER NOT NULL,
		name             TEXT    NOT NULL DEFAULT '',
		discriminator    INTEGER NOT NULL DEFAULT 0,
		avatar           TEXT    NOT NULL DEFAULT '',
		joined_at        TEXT,
		status           TEXT    NOT NULL DEFAULT '',
		game_id          INTEGER,
		last_activity    TEXT,
		last_online      TEXT,
		voice_channel_id INTEGER NOT NULL DEFAULT 0,
		session_sealed   BLOB,
		token_sealed     BLOB,
		self_mute        INTEGER NOT NULL DEFAULT 0,
		self_deaf        INTEGER NOT NULL DEFAULT 0,
		server_mute      INTEGER NOT NULL DEFAULT 0,
		server_deaf      INTEGER NOT NULL DEFAULT 0,
		suppress         INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (snapshot_id, server_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS user_roles (
		snapshot_id TEXT    NOT NULL,
		server_id   INTEGER NOT NULL,
		user_id     INTEGER NOT NULL,
		role_id     INTEGER NOT NULL,
		PRIMARY KEY (snapshot_id, server_id, user_id, role_id)
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statestore: migrate to v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("statestore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("statestore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("statestore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("statestore: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("statestore: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

func formatDBTimePtr(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatDBTime(t)
}

func parseDBTimePtr(value sql.NullString) (time.Time, error) {
	if !value.Valid || value.String == "" {
		return time.Time{}, nil
	}
	return parseDBTime(value.String)
}
