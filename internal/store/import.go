package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/mockexam/internal/model"
)

// ImportBank stores questions parsed from data, keyed by source. It returns
// false without touching the database when source was already imported with
// identical content. A changed file replaces the questions it contributed.
func (s *Store) ImportBank(source string, data []byte, questions []model.Question) (bool, error) {
	hash := sha256sum(data)
	stored, err := s.GetImportedFileHash(source)
	if err != nil {
		return false, fmt.Errorf("check import status for %s: %w", source, err)
	}
	if stored == hash {
		slog.Info("bank file unchanged, skipping", "source", source)
		return false, nil
	}
	if stored != "" {
		slog.Warn("bank file changed since last import, updating questions", "source", source)
	}

	removed, err := s.ReplaceSourceQuestions(source, questions)
	if err != nil {
		return false, fmt.Errorf("store questions from %s: %w", source, err)
	}
	if removed > 0 {
		slog.Warn("removed questions no longer in bank file", "source", source, "count", removed)
	}
	if err := s.SetImportedFileHash(source, hash); err != nil {
		return false, fmt.Errorf("record import for %s: %w", source, err)
	}
	count, err := s.QuestionCount()
	if err != nil {
		return false, err
	}
	if err := s.SetBankInfo(model.BankInfo{Source: source, Count: count, ImportedAt: time.Now()}); err != nil {
		return false, fmt.Errorf("record bank info: %w", err)
	}
	slog.Info("imported questions", "source", source, "count", len(questions))
	return true, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
