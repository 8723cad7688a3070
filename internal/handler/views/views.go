// Package views renders the HTML pages as templ components.
package views

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pavelanni/mockexam/internal/exam"
	appI18n "github.com/pavelanni/mockexam/internal/i18n"
	"github.com/pavelanni/mockexam/internal/model"
)

// IndexData feeds the start page.
type IndexData struct {
	Bank       model.BankInfo
	Available  int
	Blueprint  model.Blueprint
	InProgress bool
	Error      string
}

// ExamData feeds the exam page.
type ExamData struct {
	View         exam.View
	Explain      bool           // offer explanations after submission
	Explanations map[int]string // by slot position
	Error        string
}

// AdminData feeds the bank administration page.
type AdminData struct {
	Bank    model.BankInfo
	Count   int
	Reports []model.PoolReport
	Message string
	Error   string
}

// FieldName is the form field carrying the selection for a slot.
func FieldName(position int) string {
	return "q_" + strconv.Itoa(position)
}

// path prefixes p with the base path from ctx.
func path(ctx context.Context, p string) string {
	return model.BasePathFromContext(ctx) + p
}

func examSummary(ctx context.Context, bp model.Blueprint) string {
	return appI18n.Td(ctx, "ExamSummary", map[string]any{
		"Count":   bp.QuestionCount(),
		"Minutes": int(bp.TimeLimit / time.Minute),
	})
}

// bankStatus describes how many questions are loaded and where from.
func bankStatus(ctx context.Context, count int, bank model.BankInfo, layout string) string {
	if count == 0 {
		return appI18n.T(ctx, "BankEmpty")
	}
	s := appI18n.Tp(ctx, "QuestionsAvailable", count)
	if bank.Source != "" {
		s += " " + appI18n.Td(ctx, "BankSource", map[string]any{
			"Source": bank.Source,
			"Date":   bank.ImportedAt.Format(layout),
		})
	}
	return s
}

func remainingSeconds(v exam.View) string {
	return strconv.Itoa(int(v.Remaining.Seconds()))
}

func slotID(position int) string {
	return "slot-" + strconv.Itoa(position)
}

func explainID(position int) string {
	return "explain-" + strconv.Itoa(position)
}

// result is "correct" or "incorrect" once a slot is graded.
func result(sv exam.SlotView) string {
	if sv.Correct == nil {
		return ""
	}
	if *sv.Correct {
		return "correct"
	}
	return "incorrect"
}

func mark(correct bool) string {
	if correct {
		return "✓"
	}
	return "✗"
}

func markTitle(correct bool) string {
	if correct {
		return "Correct"
	}
	return "Incorrect"
}

func inputType(t model.QuestionType) string {
	if t == model.TypeMultipleChoice {
		return "checkbox"
	}
	return "radio"
}

func hint(t model.QuestionType) string {
	if t == model.TypeMultipleChoice {
		return "SelectAll"
	}
	return "SelectOne"
}

func optionText(o model.Option) string {
	return fmt.Sprintf("%s. %s", o.Label, o.Text)
}

func questionTitle(ctx context.Context, position int) string {
	return appI18n.Td(ctx, "QuestionN", map[string]any{"N": position + 1})
}

func pointsLine(ctx context.Context, sv exam.SlotView) string {
	return appI18n.Td(ctx, "QuestionPoints", map[string]any{"Points": *sv.Points, "Max": sv.MaxPoints})
}

func finalScore(ctx context.Context, s *exam.Summary) string {
	return appI18n.Td(ctx, "FinalScore", map[string]any{"Total": s.Total, "Max": s.TotalMax})
}

func explainPath(ctx context.Context, position int) string {
	return path(ctx, "/exam/explain/"+strconv.Itoa(position))
}

func coverage(r model.PoolReport) string {
	return strconv.Itoa(r.Available) + " / " + strconv.Itoa(r.Quota.Count)
}
