package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DocumentStore keeps one JSON document per key, the server-side stand-in
// for the browser storage the agenda was first written against.
type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Load(key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM documents WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load document %q: %w", key, err)
	}
	return []byte(value), true, nil
}

func (s *DocumentStore) Save(key string, doc []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO documents (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save document %q: %w", key, err)
	}
	return nil
}

func (s *DocumentStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM documents WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete document %q: %w", key, err)
	}
	return nil
}

// Keys lists stored document keys in order.
func (s *DocumentStore) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM documents ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list document keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan document key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
