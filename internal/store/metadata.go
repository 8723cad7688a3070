package store

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/pavelanni/mockexam/internal/model"
)

// SetMetadata upserts a key-value pair in the exam_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO exam_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM exam_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetBankInfo records where the current bank came from.
func (s *Store) SetBankInfo(info model.BankInfo) error {
	pairs := []struct{ k, v string }{
		{"bank_source", info.Source},
		{"bank_count", strconv.Itoa(info.Count)},
		{"bank_imported_at", info.ImportedAt.UTC().Format(time.RFC3339)},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetBankInfo reads the last import record. Zero value if nothing was imported.
func (s *Store) GetBankInfo() (model.BankInfo, error) {
	var info model.BankInfo
	var err error

	if info.Source, err = s.GetMetadata("bank_source"); err != nil {
		return info, err
	}
	n, err := s.GetMetadata("bank_count")
	if err != nil {
		return info, err
	}
	if n != "" {
		if info.Count, err = strconv.Atoi(n); err != nil {
			return info, err
		}
	}
	at, err := s.GetMetadata("bank_imported_at")
	if err != nil {
		return info, err
	}
	if at != "" {
		if info.ImportedAt, err = time.Parse(time.RFC3339, at); err != nil {
			return info, err
		}
	}
	return info, nil
}
