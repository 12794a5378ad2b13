package repos

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// Schema versions (PRAGMA user_version):
// 1 - initial tables
// 2 - per-rental penalty audit columns
const currentSchemaVersion = 2

// OpenDB opens the shared store. Every pooled connection gets WAL, foreign
// keys and the busy timeout through the DSN, since PRAGMAs are per-connection.
func OpenDB(dsn string, busy time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", withPragmas(dsn, busy))
	if err != nil {
		return nil, err
	}
	if isMemory(dsn) {
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func withPragmas(dsn string, busy time.Duration) string {
	if busy <= 0 {
		busy = 10 * time.Second
	}
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if !isMemory(dsn) {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
-- Items (catalog rows; read-only to the rental core)
CREATE TABLE IF NOT EXISTS items(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 0),
  fees_json TEXT NOT NULL DEFAULT '{}',
  created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

-- Rentals
CREATE TABLE IF NOT EXISTS rentals(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ref TEXT NOT NULL UNIQUE,
  item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE RESTRICT,
  requester_id INTEGER NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('requested','approved','rejected','returned')),
  duration_days INTEGER NOT NULL CHECK (duration_days > 0),
  fee_total INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  start_ts TEXT,
  due_ts TEXT,
  returned_at TEXT,
  decided_by INTEGER,
  closed_by INTEGER,
  penalty_per_day INTEGER,
  penalty_fixed INTEGER,
  penalty_waived INTEGER NOT NULL DEFAULT 0,
  penalty_note TEXT,
  penalty_amount INTEGER
);
CREATE INDEX IF NOT EXISTS idx_rentals_item_status ON rentals(item_id, status);
CREATE INDEX IF NOT EXISTS idx_rentals_status_due  ON rentals(status, due_ts);
CREATE INDEX IF NOT EXISTS idx_rentals_requester   ON rentals(requester_id);

-- Reminder dedup ledger: one row per (rental, kind), date overwritten
CREATE TABLE IF NOT EXISTS rental_notifications(
  rental_id INTEGER NOT NULL,
  kind TEXT NOT NULL,
  last_sent_date TEXT NOT NULL,
  PRIMARY KEY (rental_id, kind)
);

-- Settings (penalty policy etc.)
CREATE TABLE IF NOT EXISTS settings(
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

-- Authorities & console sessions
CREATE TABLE IF NOT EXISTS authorities(
  id INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  key_hash TEXT NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,
  authority_id INTEGER NULL REFERENCES authorities(id) ON DELETE SET NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  last_seen  TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_authority ON sessions(authority_id);
`
	_, err := db.Exec(schema)
	return err
}

func runMigrations(db *sqlx.DB) error {
	var version int
	if err := db.Get(&version, `PRAGMA user_version`); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 2 {
		if err := ensureColumns(db, "rentals", map[string]string{
			"penalty_updated_at": "ALTER TABLE rentals ADD COLUMN penalty_updated_at TEXT NULL",
			"penalty_updated_by": "ALTER TABLE rentals ADD COLUMN penalty_updated_by INTEGER NULL",
		}); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// ensureColumns adds the columns a table is missing.
func ensureColumns(db *sqlx.DB, table string, stmts map[string]string) error {
	rows, err := db.Queryx(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for rows.Next() {
		col, err := rows.SliceScan()
		if err != nil {
			rows.Close()
			return err
		}
		if name, ok := col[1].(string); ok {
			have[name] = true
		}
	}
	rows.Close()
	for col, stmt := range stmts {
		if have[col] {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type AuthoritySeed struct {
	ID   int64
	Name string
	Key  string
}

type SeedOptions struct {
	PenaltyPerDay int64
	Authorities   []AuthoritySeed
	Demo          bool
}

// Seed is idempotent; safe to run every start.
func Seed(db *sqlx.DB, opts SeedOptions) error {
	if _, err := db.Exec(`
		INSERT INTO settings(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`, settingPenaltyPerDay, fmt.Sprint(opts.PenaltyPerDay)); err != nil {
		return err
	}
	if err := seedAuthorities(db, opts.Authorities); err != nil {
		return err
	}
	if opts.Demo {
		return seedIfEmpty(db)
	}
	return nil
}

func seedAuthorities(db *sqlx.DB, list []AuthoritySeed) error {
	if len(list) == 0 {
		return nil
	}
	tx := db.MustBegin()
	defer func() { _ = tx.Rollback() }()

	for _, a := range list {
		h, err := bcrypt.GenerateFromPassword([]byte(a.Key), 12)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO authorities(id, name, key_hash)
			VALUES(?,?,?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, key_hash = excluded.key_hash
		`, a.ID, a.Name, string(h)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func seedIfEmpty(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM items`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	log.Println("[seed] inserting demo items")

	items := NewItemRepo(db)
	demo := []struct {
		title string
		qty   int
		fees  map[int]int64
	}{
		{"The Pragmatic Programmer", 3, map[int]int64{7: 5000, 14: 9000, 30: 15000}},
		{"Structure and Interpretation of Computer Programs", 1, map[int]int64{7: 6000, 14: 11000}},
		{"The Go Programming Language", 2, map[int]int64{7: 4000, 14: 7000, 30: 12000}},
	}
	for _, d := range demo {
		if _, err := items.Insert(context.Background(), d.title, d.qty, d.fees); err != nil {
			return err
		}
	}
	return nil
}
