package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/mockexam/internal/bank"
	"github.com/pavelanni/mockexam/internal/model"
)

// ExportBank builds an export-ready dump of every stored question.
func (s *Store) ExportBank() (model.BankExport, error) {
	questions, err := s.ListQuestions()
	if err != nil {
		return model.BankExport{}, fmt.Errorf("list questions: %w", err)
	}

	return model.BankExport{
		ExportedAt: time.Now().UTC(),
		Count:      len(questions),
		ByType:     bank.CountByType(questions),
		Questions:  questions,
	}, nil
}

// PoolReport counts eligible questions for every quota of bp.
func (s *Store) PoolReport(bp model.Blueprint) ([]model.PoolReport, error) {
	questions, err := s.ListQuestions()
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	return bp.Pools(questions), nil
}
