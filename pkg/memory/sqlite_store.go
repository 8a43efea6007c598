package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bond_profiles (
	user_id    TEXT    NOT NULL,
	persona_id TEXT    NOT NULL,
	profile    TEXT    NOT NULL,
	bond       TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, persona_id)
);`

// SQLiteStore keeps records in a single local database file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One shared connection: SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, key Key) (*Record, error) {
	var profileJSON, bondJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile, bond FROM bond_profiles WHERE user_id = ? AND persona_id = ?`,
		key.UserID, key.PersonaID,
	).Scan(&profileJSON, &bondJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return decodeColumns(key, profileJSON, bondJSON)
}

func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	profileJSON, bondJSON, err := encodeColumns(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bond_profiles (user_id, persona_id, profile, bond, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, persona_id) DO UPDATE SET
			profile = excluded.profile,
			bond = excluded.bond,
			updated_at = excluded.updated_at`,
		rec.Key.UserID, rec.Key.PersonaID, profileJSON, bondJSON, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", rec.Key, err)
	}
	return nil
}

func (s *SQLiteStore) Pairs(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, persona_id FROM bond_profiles ORDER BY user_id, persona_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.UserID, &k.PersonaID); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
