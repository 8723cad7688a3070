package exam

import (
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/mockexam/internal/model"
)

// SlotView is what a renderer needs to show one slot.
type SlotView struct {
	Position   int                `json:"position"`
	QuestionID int                `json:"question_id"`
	Text       string             `json:"text"`
	Type       model.QuestionType `json:"type"`
	Options    []model.Option     `json:"options"`
	Selection  model.Selection    `json:"selection"`

	// Set only after submission.
	Points        *int   `json:"points,omitempty"`
	MaxPoints     int    `json:"max_points"`
	Correct       *bool  `json:"correct,omitempty"`
	CorrectAnswer string `json:"correct_answer,omitempty"`
}

// Selected reports whether label l is part of the slot's selection.
func (v SlotView) Selected(l model.Label) bool {
	return v.Selection.Contains(l)
}

// Summary is the post-submission score line.
type Summary struct {
	Total    int                `json:"total"`
	TotalMax int                `json:"total_max"`
	Reason   model.SubmitReason `json:"reason"`
}

// View is a snapshot of a session for rendering.
type View struct {
	State     model.SessionState `json:"state"`
	Submitted bool               `json:"submitted"`
	Remaining time.Duration      `json:"remaining_ns"`
	Clock     string             `json:"remaining"`
	Slots     []SlotView         `json:"slots"`
	Summary   *Summary           `json:"summary,omitempty"`
}

// View builds a snapshot. Scores and correct answers are included only once
// the session is submitted.
func (s *Session) View() View {
	state := s.State()
	v := View{
		State:     state,
		Submitted: state == model.StateSubmitted,
		Remaining: s.Remaining(),
		Clock:     FormatClock(s.Remaining()),
		Slots:     make([]SlotView, len(s.questions)),
	}
	for i, slot := range s.Slots() {
		q := s.questions[i]
		v.Slots[i] = SlotView{
			Position:   slot.Position,
			QuestionID: q.ID,
			Text:       q.Text,
			Type:       q.Type,
			Options:    q.Options,
			Selection:  s.answers[slot],
			MaxPoints:  q.Type.MaxPoints(),
		}
	}
	if !v.Submitted {
		return v
	}

	res, err := s.Result()
	if err != nil {
		return v
	}
	for i, r := range res.Slots {
		points, perfect := r.Points, r.Perfect()
		v.Slots[i].Points = &points
		v.Slots[i].Correct = &perfect
		v.Slots[i].CorrectAnswer = CorrectAnswerText(r.Question)
	}
	v.Summary = &Summary{Total: res.Total, TotalMax: res.TotalMax, Reason: s.reason}
	return v
}

// CorrectAnswerText renders the correct options as "A. Foo | C. Baz".
func CorrectAnswerText(q model.Question) string {
	parts := make([]string, 0, len(q.Correct))
	for _, l := range q.Correct {
		text, ok := q.OptionText(l)
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s. %s", l, text))
	}
	return strings.Join(parts, " | ")
}

// FormatClock renders d as MM:SS, truncating to whole seconds.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
