package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			cred_store TEXT NOT NULL DEFAULT 'env'
		)`,
		`CREATE TABLE IF NOT EXISTS vault_blob (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS daily_usage (
			day TEXT NOT NULL,
			tier TEXT NOT NULL,
			calls INTEGER NOT NULL DEFAULT 0,
			tokens INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (day, tier)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Providers

func (s *SQLiteStore) ListProviders(ctx context.Context) ([]ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, tier, enabled, cred_store FROM providers`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var providers []ProviderRecord
	for rows.Next() {
		var p ProviderRecord
		if err := rows.Scan(&p.ID, &p.Tier, &p.Enabled, &p.CredStore); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (s *SQLiteStore) UpsertProvider(ctx context.Context, p ProviderRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (id, tier, enabled, cred_store)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   tier=excluded.tier,
		   enabled=excluded.enabled,
		   cred_store=excluded.cred_store`,
		p.ID, p.Tier, p.Enabled, p.CredStore)
	return err
}

func (s *SQLiteStore) DeleteProvider(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	return err
}

// Vault persistence

func (s *SQLiteStore) SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal vault blob: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_blob (id, salt, data) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET salt=excluded.salt, data=excluded.data`,
		salt, string(encoded))
	return err
}

func (s *SQLiteStore) LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error) {
	var salt []byte
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT salt, data FROM vault_blob WHERE id = 1`).Scan(&salt, &raw)
	if err == sql.ErrNoRows {
		return nil, map[string]string{}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	data := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal vault blob: %w", err)
	}
	return salt, data, nil
}

// Daily usage (Usage Accountant per-day quota, §6: treated as per-host).

func (s *SQLiteStore) IncrDailyUsage(ctx context.Context, day, tier string, calls, tokens int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_usage (day, tier, calls, tokens) VALUES (?, ?, ?, ?)
		 ON CONFLICT(day, tier) DO UPDATE SET
		   calls=calls+excluded.calls,
		   tokens=tokens+excluded.tokens`,
		day, tier, calls, tokens)
	return err
}

func (s *SQLiteStore) GetDailyUsage(ctx context.Context, day, tier string) (DailyUsage, error) {
	u := DailyUsage{Day: day, Tier: tier}
	err := s.db.QueryRowContext(ctx,
		`SELECT calls, tokens FROM daily_usage WHERE day = ? AND tier = ?`, day, tier).
		Scan(&u.Calls, &u.Tokens)
	if err == sql.ErrNoRows {
		return u, nil
	}
	if err != nil {
		return DailyUsage{}, err
	}
	return u, nil
}
