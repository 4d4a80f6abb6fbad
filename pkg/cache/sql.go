package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

// SQLStore keeps credentials in an SQLite database, one row per lock.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (or creates) an SQLite database at dbPath and runs the schema migration.
func OpenSQLStore(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, protocol.StorageError(fmt.Errorf("open credential db: %w", err))
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, protocol.StorageError(fmt.Errorf("set WAL mode: %w", err))
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, protocol.StorageError(fmt.Errorf("migrate credential db: %w", err))
	}
	return &SQLStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			serial_number  TEXT NOT NULL,
			device_id      TEXT NOT NULL,
			name           TEXT NOT NULL,
			record         TEXT NOT NULL,
			provisioned_at TEXT NOT NULL,
			PRIMARY KEY (serial_number, device_id)
		)
	`)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Get(ctx context.Context, identity lock.Identity) (*lock.Credential, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		"SELECT record FROM credentials WHERE serial_number = ? AND device_id = ?",
		identity.SerialNumber, identity.DeviceID,
	).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, protocol.StorageError(err)
	}
	var credential lock.Credential
	if err := json.Unmarshal([]byte(record), &credential); err != nil {
		return nil, protocol.StorageError(fmt.Errorf("corrupt credential record for %s: %w", identity.Key(), err))
	}
	return &credential, nil
}

func (s *SQLStore) Put(ctx context.Context, identity lock.Identity, credential *lock.Credential) error {
	record, err := json.Marshal(credential)
	if err != nil {
		return protocol.StorageError(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (serial_number, device_id, name, record, provisioned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (serial_number, device_id) DO UPDATE SET
			name = excluded.name,
			record = excluded.record,
			provisioned_at = excluded.provisioned_at`,
		identity.SerialNumber, identity.DeviceID, identity.Name, string(record),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return protocol.StorageError(err)
	}
	return nil
}
