package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/pavelanni/mockexam/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY,
		text TEXT NOT NULL,
		option_a TEXT NOT NULL DEFAULT '',
		option_b TEXT NOT NULL DEFAULT '',
		option_c TEXT NOT NULL DEFAULT '',
		option_d TEXT NOT NULL DEFAULT '',
		correct TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_questions (
		path TEXT NOT NULL,
		question_id INTEGER NOT NULL,
		PRIMARY KEY (path, question_id)
	);

	CREATE TABLE IF NOT EXISTS exam_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const questionColumns = `id, text, option_a, option_b, option_c, option_d, correct, type`

// optionColumns flattens a question's options into the four label columns.
func optionColumns(q model.Question) [4]string {
	var cols [4]string
	for _, o := range q.Options {
		for i, l := range model.Labels {
			if o.Label == l {
				cols[i] = o.Text
			}
		}
	}
	return cols
}

func joinLabels(labels []model.Label) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = string(l)
	}
	return strings.Join(parts, ";")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row scanner) (model.Question, error) {
	var (
		q       model.Question
		opts    [4]string
		correct string
	)
	if err := row.Scan(&q.ID, &q.Text, &opts[0], &opts[1], &opts[2], &opts[3], &correct, &q.Type); err != nil {
		return q, err
	}
	for i, text := range opts {
		if text != "" {
			q.Options = append(q.Options, model.Option{Label: model.Labels[i], Text: text})
		}
	}
	if correct != "" {
		for _, l := range strings.Split(correct, ";") {
			q.Correct = append(q.Correct, model.Label(l))
		}
	}
	return q, nil
}

// UpsertQuestions stores questions in one transaction, replacing rows with the same ID.
func (s *Store) UpsertQuestions(questions []model.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertQuestions(tx, questions); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertQuestions(tx *sql.Tx, questions []model.Question) error {
	stmt, err := tx.Prepare(
		`INSERT INTO questions (` + questionColumns + `)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   text = excluded.text,
		   option_a = excluded.option_a,
		   option_b = excluded.option_b,
		   option_c = excluded.option_c,
		   option_d = excluded.option_d,
		   correct = excluded.correct,
		   type = excluded.type`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, q := range questions {
		opts := optionColumns(q)
		if _, err := stmt.Exec(q.ID, q.Text, opts[0], opts[1], opts[2], opts[3], joinLabels(q.Correct), q.Type); err != nil {
			return fmt.Errorf("question %d: %w", q.ID, err)
		}
	}
	return nil
}

// ReplaceSourceQuestions makes questions the full set contributed by source.
// Questions the source contributed before but no longer contains are deleted
// unless another source still provides them. It returns the number deleted.
func (s *Store) ReplaceSourceQuestions(source string, questions []model.Question) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := upsertQuestions(tx, questions); err != nil {
		return 0, err
	}

	previous, err := sourceQuestionIDs(tx, source)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM imported_questions WHERE path = ?`, source); err != nil {
		return 0, err
	}
	current := make(map[int]bool, len(questions))
	for _, q := range questions {
		current[q.ID] = true
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO imported_questions (path, question_id) VALUES (?, ?)`,
			source, q.ID,
		); err != nil {
			return 0, fmt.Errorf("track question %d: %w", q.ID, err)
		}
	}

	removed := 0
	for _, id := range previous {
		if current[id] {
			continue
		}
		res, err := tx.Exec(
			`DELETE FROM questions WHERE id = ?
			 AND id NOT IN (SELECT question_id FROM imported_questions)`,
			id,
		)
		if err != nil {
			return 0, fmt.Errorf("delete question %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		removed += int(n)
	}
	return removed, tx.Commit()
}

func sourceQuestionIDs(tx *sql.Tx, source string) ([]int, error) {
	rows, err := tx.Query(`SELECT question_id FROM imported_questions WHERE path = ? ORDER BY question_id`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListQuestions returns all questions ordered by ID.
func (s *Store) ListQuestions() ([]model.Question, error) {
	rows, err := s.db.Query(`SELECT ` + questionColumns + ` FROM questions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(id int) (model.Question, error) {
	return scanQuestion(s.db.QueryRow(`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// GetImportedFileHash returns the hash recorded for path, or "" if it was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT sha256 FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the hash of an imported file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, sha256, imported_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(path) DO UPDATE SET sha256 = excluded.sha256, imported_at = excluded.imported_at`,
		path, hash,
	)
	return err
}
