package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/olegkotsar/ncbi-sync/config"
	"github.com/olegkotsar/ncbi-sync/model"

	"modernc.org/sqlite" // pure go sqlite driver
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteBackend stores each group's records as one JSON payload row
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(cfg *config.SQLiteConfig) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS group_records (
		scope TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, sqliteError("create group_records table", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Load() (Document, error) {
	rows, err := s.db.Query(`SELECT scope, payload FROM group_records`)
	if err != nil {
		return nil, sqliteError("select group_records", err)
	}
	defer func() { _ = rows.Close() }()

	doc := Document{}
	for rows.Next() {
		var (
			key     string
			payload []byte
		)
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, sqliteError("scan", err)
		}
		records := map[string]model.LocalRecord{}
		if err := json.Unmarshal(payload, &records); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrMetadataCorrupt, key, err)
		}
		doc[key] = records
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteError("read group_records", err)
	}
	return doc, nil
}

// sqliteError marks errors caused by an unreadable database file as
// ErrMetadataCorrupt
func sqliteError(op string, err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
			return fmt.Errorf("%w: %s: %v", ErrMetadataCorrupt, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *SQLiteBackend) Save(doc Document) (retErr error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Exec(`DELETE FROM group_records`); err != nil {
		return fmt.Errorf("clear group_records: %w", err)
	}
	for key, records := range doc {
		data, err := json.Marshal(records)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO group_records(scope, payload) VALUES(?, ?)`, key, data); err != nil {
			return fmt.Errorf("insert %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
