package store

import (
	"database/sql"
	"testing"

	"github.com/pavelanni/mockexam/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testQuestion(id int, typ model.QuestionType) model.Question {
	q := model.Question{ID: id, Text: "question", Type: typ}
	switch typ {
	case model.TypeTrueFalse:
		q.Options = []model.Option{{Label: "A", Text: "True"}, {Label: "B", Text: "False"}}
		q.Correct = []model.Label{"B"}
	default:
		q.Options = []model.Option{{Label: "A", Text: "one"}, {Label: "C", Text: "three"}, {Label: "D", Text: "four"}}
		q.Correct = []model.Label{"A", "D"}
	}
	return q
}

func TestQuestionCRUD(t *testing.T) {
	s := newTestStore(t)

	// Empty DB should return zero count and empty list.
	count, err := s.QuestionCount()
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 questions, got %d", count)
	}

	list, err := s.ListQuestions()
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	if err := s.UpsertQuestions([]model.Question{
		testQuestion(2, model.TypeMultipleChoice),
		testQuestion(1, model.TypeTrueFalse),
	}); err != nil {
		t.Fatalf("UpsertQuestions: %v", err)
	}

	q, err := s.GetQuestion(2)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Type != model.TypeMultipleChoice {
		t.Errorf("expected type MC, got %q", q.Type)
	}
	labels := q.OptionLabels()
	if len(labels) != 3 || labels[0] != "A" || labels[1] != "C" || labels[2] != "D" {
		t.Errorf("expected labels [A C D], got %v", labels)
	}
	if len(q.Correct) != 2 || q.Correct[0] != "A" || q.Correct[1] != "D" {
		t.Errorf("expected correct [A D], got %v", q.Correct)
	}

	// Not found.
	_, err = s.GetQuestion(9999)
	if err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}

	list, err = s.ListQuestions()
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
		t.Fatalf("expected questions ordered by id, got %+v", list)
	}
}

func TestUpsertReplacesQuestion(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertQuestions([]model.Question{testQuestion(1, model.TypeTrueFalse)}); err != nil {
		t.Fatalf("UpsertQuestions: %v", err)
	}

	updated := testQuestion(1, model.TypeSingleChoice)
	updated.Text = "changed"
	updated.Correct = nil
	if err := s.UpsertQuestions([]model.Question{updated}); err != nil {
		t.Fatalf("UpsertQuestions: %v", err)
	}

	q, err := s.GetQuestion(1)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Text != "changed" || q.Type != model.TypeSingleChoice {
		t.Errorf("question not replaced: %+v", q)
	}
	if len(q.Correct) != 0 {
		t.Errorf("expected no correct labels, got %v", q.Correct)
	}
	if count, _ := s.QuestionCount(); count != 1 {
		t.Errorf("expected 1 question, got %d", count)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.GetImportedFileHash("/some/bank.csv")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash("/some/bank.csv", "abc"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if err := s.SetImportedFileHash("/some/bank.csv", "def"); err != nil {
		t.Fatalf("SetImportedFileHash overwrite: %v", err)
	}
	hash, _ = s.GetImportedFileHash("/some/bank.csv")
	if hash != "def" {
		t.Errorf("expected hash def, got %q", hash)
	}
}

func TestImportBank(t *testing.T) {
	s := newTestStore(t)
	data := []byte("id,question\n1,Q\n")
	qs := []model.Question{testQuestion(1, model.TypeTrueFalse), testQuestion(2, model.TypeMultipleChoice)}

	imported, err := s.ImportBank("bank.csv", data, qs)
	if err != nil {
		t.Fatalf("ImportBank: %v", err)
	}
	if !imported {
		t.Fatal("expected first import to store questions")
	}

	imported, err = s.ImportBank("bank.csv", data, qs)
	if err != nil {
		t.Fatalf("ImportBank again: %v", err)
	}
	if imported {
		t.Error("expected unchanged file to be skipped")
	}

	info, err := s.GetBankInfo()
	if err != nil {
		t.Fatalf("GetBankInfo: %v", err)
	}
	if info.Source != "bank.csv" || info.Count != 2 || info.ImportedAt.IsZero() {
		t.Errorf("unexpected bank info %+v", info)
	}
}

func TestImportBankChangedFileDropsRemovedQuestions(t *testing.T) {
	s := newTestStore(t)
	first := []model.Question{
		testQuestion(1, model.TypeTrueFalse),
		testQuestion(2, model.TypeMultipleChoice),
		testQuestion(3, model.TypeTrueFalse),
	}
	if _, err := s.ImportBank("a.csv", []byte("v1"), first); err != nil {
		t.Fatalf("ImportBank a.csv: %v", err)
	}
	// b.csv also provides question 3, so dropping it from a.csv must keep it.
	if _, err := s.ImportBank("b.csv", []byte("b"), []model.Question{testQuestion(3, model.TypeTrueFalse)}); err != nil {
		t.Fatalf("ImportBank b.csv: %v", err)
	}

	changed := []model.Question{testQuestion(1, model.TypeMultipleChoice)}
	imported, err := s.ImportBank("a.csv", []byte("v2"), changed)
	if err != nil {
		t.Fatalf("ImportBank changed: %v", err)
	}
	if !imported {
		t.Fatal("expected changed file to be imported")
	}

	qs, err := s.ListQuestions()
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	var ids []int
	for _, q := range qs {
		ids = append(ids, q.ID)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("expected questions [1 3], got %v", ids)
	}
	if qs[0].Type != model.TypeMultipleChoice {
		t.Errorf("expected question 1 to be updated, got type %s", qs[0].Type)
	}

	info, err := s.GetBankInfo()
	if err != nil {
		t.Fatalf("GetBankInfo: %v", err)
	}
	if info.Count != 2 {
		t.Errorf("expected bank count 2, got %d", info.Count)
	}
}

func TestReplaceSourceQuestionsKeepsUntrackedRows(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertQuestions([]model.Question{testQuestion(9, model.TypeTrueFalse)}); err != nil {
		t.Fatalf("UpsertQuestions: %v", err)
	}
	removed, err := s.ReplaceSourceQuestions("bank.csv", []model.Question{testQuestion(1, model.TypeTrueFalse)})
	if err != nil {
		t.Fatalf("ReplaceSourceQuestions: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected nothing removed, got %d", removed)
	}
	count, err := s.QuestionCount()
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 questions, got %d", count)
	}
}

func TestGetBankInfoEmpty(t *testing.T) {
	s := newTestStore(t)
	info, err := s.GetBankInfo()
	if err != nil {
		t.Fatalf("GetBankInfo: %v", err)
	}
	if info.Source != "" || info.Count != 0 || !info.ImportedAt.IsZero() {
		t.Errorf("expected zero info, got %+v", info)
	}
}

func TestExportAndPoolReport(t *testing.T) {
	s := newTestStore(t)
	var qs []model.Question
	for id := 1; id <= 10; id++ {
		typ := model.TypeTrueFalse
		if id%2 == 0 {
			typ = model.TypeMultipleChoice
		}
		qs = append(qs, testQuestion(id, typ))
	}
	if err := s.UpsertQuestions(qs); err != nil {
		t.Fatalf("UpsertQuestions: %v", err)
	}

	export, err := s.ExportBank()
	if err != nil {
		t.Fatalf("ExportBank: %v", err)
	}
	if export.Count != 10 || export.ByType["TF"] != 5 || export.ByType["MC"] != 5 {
		t.Errorf("unexpected export summary: count=%d by_type=%v", export.Count, export.ByType)
	}

	sec := model.Section{Label: "first half", FirstID: 1, LastID: 5}
	bp := model.Blueprint{Quotas: []model.Quota{
		{Section: sec, Type: model.TypeTrueFalse, Count: 3},
		{Section: sec, Type: model.TypeMultipleChoice, Count: 3},
	}}
	reports, err := s.PoolReport(bp)
	if err != nil {
		t.Fatalf("PoolReport: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].Available != 3 || !reports[0].OK {
		t.Errorf("TF report = %+v, want 3 available and ok", reports[0])
	}
	if reports[1].Available != 2 || reports[1].OK {
		t.Errorf("MC report = %+v, want 2 available and not ok", reports[1])
	}
}
