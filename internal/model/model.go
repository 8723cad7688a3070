package model

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// QuestionType classifies how a question is answered and scored.
type QuestionType string

const (
	TypeSingleChoice   QuestionType = "SC"
	TypeTrueFalse      QuestionType = "TF"
	TypeMultipleChoice QuestionType = "MC"
)

// ParseQuestionType accepts the short codes (SC, TF, MC) in any case.
func ParseQuestionType(s string) (QuestionType, error) {
	switch t := QuestionType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeSingleChoice, TypeTrueFalse, TypeMultipleChoice:
		return t, nil
	}
	return "", fmt.Errorf("unknown question type %q", s)
}

// MaxPoints is the score for a fully correct answer of this type.
func (t QuestionType) MaxPoints() int {
	if t == TypeMultipleChoice {
		return 4
	}
	return 2
}

// Label is an option letter, A through D.
type Label string

// Labels lists every label a bank row can carry, in display order.
var Labels = []Label{"A", "B", "C", "D"}

// Option is one answer choice of a question.
type Option struct {
	Label Label  `json:"label"`
	Text  string `json:"text"`
}

// Question is a single bank entry. It is never modified after loading.
type Question struct {
	ID      int          `json:"id"`
	Text    string       `json:"text"`
	Options []Option     `json:"options"`
	Correct []Label      `json:"correct"`
	Type    QuestionType `json:"type"`
}

// OptionLabels returns the labels of the non-blank options in order.
func (q Question) OptionLabels() []Label {
	labels := make([]Label, 0, len(q.Options))
	for _, o := range q.Options {
		labels = append(labels, o.Label)
	}
	return labels
}

// OptionText returns the text of the option with the given label.
func (q Question) OptionText(l Label) (string, bool) {
	for _, o := range q.Options {
		if o.Label == l {
			return o.Text, true
		}
	}
	return "", false
}

// IsCorrect reports whether l is one of the correct labels.
func (q Question) IsCorrect(l Label) bool {
	return slices.Contains(q.Correct, l)
}

// Section is an inclusive range of question IDs with a display label.
type Section struct {
	Label   string `json:"label"`
	FirstID int    `json:"first_id"`
	LastID  int    `json:"last_id"`
}

// Contains reports whether id falls inside the section.
func (s Section) Contains(id int) bool {
	return id >= s.FirstID && id <= s.LastID
}

// Quota requires Count questions of Type drawn from Section.
type Quota struct {
	Section Section      `json:"section"`
	Type    QuestionType `json:"type"`
	Count   int          `json:"count"`
}

// Matches reports whether q is eligible for this quota.
func (qt Quota) Matches(q Question) bool {
	return qt.Section.Contains(q.ID) && q.Type == qt.Type
}

func (qt Quota) String() string {
	return fmt.Sprintf("%s (%d-%d) %s x%d", qt.Section.Label, qt.Section.FirstID, qt.Section.LastID, qt.Type, qt.Count)
}

// Blueprint defines the shape of an exam: what to draw and how long it runs.
type Blueprint struct {
	Quotas    []Quota       `json:"quotas"`
	TimeLimit time.Duration `json:"time_limit"`
}

// QuestionCount is the number of slots every session built from b has.
func (b Blueprint) QuestionCount() int {
	n := 0
	for _, q := range b.Quotas {
		n += q.Count
	}
	return n
}

// DefaultBlueprint returns the reference exam: 35 questions in 20 minutes.
func DefaultBlueprint() Blueprint {
	rules := Section{Label: "Rules & Regs", FirstID: 1, LastID: 45}
	funcs := Section{Label: "Functionality", FirstID: 46, LastID: 105}
	return Blueprint{
		Quotas: []Quota{
			{Section: rules, Type: TypeTrueFalse, Count: 5},
			{Section: rules, Type: TypeMultipleChoice, Count: 4},
			{Section: rules, Type: TypeSingleChoice, Count: 6},
			{Section: funcs, Type: TypeTrueFalse, Count: 4},
			{Section: funcs, Type: TypeMultipleChoice, Count: 8},
			{Section: funcs, Type: TypeSingleChoice, Count: 8},
		},
		TimeLimit: 20 * time.Minute,
	}
}

// Slot is one occurrence of a question inside a session.
type Slot struct {
	Position   int `json:"position"`
	QuestionID int `json:"question_id"`
}

// Selection is a normalized set of chosen labels: upper-case, unique, sorted.
type Selection []Label

// NewSelection normalizes raw label strings. Blank entries are dropped.
func NewSelection(raw ...string) Selection {
	sel := make(Selection, 0, len(raw))
	for _, r := range raw {
		l := Label(strings.ToUpper(strings.TrimSpace(r)))
		if l == "" || slices.Contains(sel, l) {
			continue
		}
		sel = append(sel, l)
	}
	slices.Sort(sel)
	return sel
}

// Contains reports whether l was selected.
func (s Selection) Contains(l Label) bool {
	return slices.Contains(s, l)
}

// Equal reports whether s and labels hold the same set of labels.
func (s Selection) Equal(labels []Label) bool {
	other := make([]string, len(labels))
	for i, l := range labels {
		other[i] = string(l)
	}
	return slices.Equal(s, NewSelection(other...))
}

// SessionState is the lifecycle state of an exam session.
type SessionState string

const (
	StateNotStarted SessionState = "not_started"
	StateInProgress SessionState = "in_progress"
	StateSubmitted  SessionState = "submitted"
)

// SubmitReason records what ended a session.
type SubmitReason string

const (
	SubmitByUser    SubmitReason = "user"
	SubmitByTimeout SubmitReason = "timeout"
)

// ExamConfig holds runtime exam parameters set via CLI flags and config.
type ExamConfig struct {
	Blueprint     Blueprint
	BasePath      string // URL prefix for sub-path deployments (e.g. "/de")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	AdminHash     string // bcrypt hash guarding bank uploads; empty disables them
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}
