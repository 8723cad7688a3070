// Package bank reads question banks from CSV and derives each question's type.
package bank

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/pavelanni/mockexam/internal/model"
)

// Column names expected in the header row.
const (
	colID       = "id"
	colQuestion = "question"
	colMultiple = "is_multiple"
	colCorrect  = "correct"
)

var optionColumns = []string{"option_a", "option_b", "option_c", "option_d"}

var (
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("missing column")
	// ErrDuplicateID is returned when two rows share an id.
	ErrDuplicateID = errors.New("duplicate question id")
)

// RowError locates a malformed value in the input.
type RowError struct {
	Line   int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d, column %s: %v", e.Line, e.Column, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// LoadFile parses the CSV bank at path.
func LoadFile(path string) ([]model.Question, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bank: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a CSV bank. Either every row is valid and returned, or an
// error is returned with no questions.
func Parse(r io.Reader) ([]model.Question, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range []string{colID, colQuestion, colMultiple, colCorrect} {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}

	var questions []model.Question
	seen := make(map[int]bool)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if isBlank(rec) {
			continue
		}
		q, err := parseRow(rec, cols, line)
		if err != nil {
			return nil, err
		}
		if seen[q.ID] {
			return nil, &RowError{Line: line, Column: colID, Err: fmt.Errorf("%w: %d", ErrDuplicateID, q.ID)}
		}
		seen[q.ID] = true
		questions = append(questions, q)
	}
	return questions, nil
}

func parseRow(rec []string, cols map[string]int, line int) (model.Question, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	id, err := strconv.Atoi(field(colID))
	if err != nil {
		return model.Question{}, &RowError{Line: line, Column: colID, Err: err}
	}
	if id <= 0 {
		return model.Question{}, &RowError{Line: line, Column: colID, Err: fmt.Errorf("id must be positive, got %d", id)}
	}

	multiple, err := parseMultiple(field(colMultiple))
	if err != nil {
		return model.Question{}, &RowError{Line: line, Column: colMultiple, Err: err}
	}

	var options []model.Option
	for i, c := range optionColumns {
		if text := field(c); text != "" {
			options = append(options, model.Option{Label: model.Labels[i], Text: text})
		}
	}

	q := model.Question{
		ID:      id,
		Text:    field(colQuestion),
		Options: options,
	}
	correct, err := parseCorrect(field(colCorrect), q)
	if err != nil {
		return model.Question{}, &RowError{Line: line, Column: colCorrect, Err: err}
	}
	q.Correct = correct
	q.Type = Classify(multiple, options)
	return q, nil
}

// parseMultiple accepts "true" and "false" in any case; blank means false.
func parseMultiple(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true":
		return true, nil
	case "false", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

// parseCorrect splits a ';'-separated label list. Blank yields no labels.
func parseCorrect(v string, q model.Question) ([]model.Label, error) {
	if v == "" {
		return nil, nil
	}
	var labels []model.Label
	for _, part := range strings.Split(v, ";") {
		l := model.Label(strings.ToUpper(strings.TrimSpace(part)))
		if l == "" || slices.Contains(labels, l) {
			continue
		}
		if _, ok := q.OptionText(l); !ok {
			return nil, fmt.Errorf("correct label %q has no option", l)
		}
		labels = append(labels, l)
	}
	slices.Sort(labels)
	return labels, nil
}

// Classify derives a question's type. A multi-select flag always means MC;
// otherwise a question whose options are exactly true and false is TF.
func Classify(multiple bool, options []model.Option) model.QuestionType {
	if multiple {
		return model.TypeMultipleChoice
	}
	if len(options) == 2 {
		a := strings.ToLower(strings.TrimSpace(options[0].Text))
		b := strings.ToLower(strings.TrimSpace(options[1].Text))
		if (a == "true" && b == "false") || (a == "false" && b == "true") {
			return model.TypeTrueFalse
		}
	}
	return model.TypeSingleChoice
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// CountByType tallies questions per type.
func CountByType(questions []model.Question) map[string]int {
	counts := make(map[string]int)
	for _, q := range questions {
		counts[string(q.Type)]++
	}
	return counts
}
