// Package exam runs timed exam sessions: it draws questions according to a
// blueprint, records answers, and freezes the session on submit or timeout.
//
// A Session is owned by a single user and is not safe for concurrent use.
// Timeouts are detected by polling: every method that observes the session
// first checks whether the time limit has passed.
package exam

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/scoring"
)

var (
	// ErrInsufficientPool matches every *InsufficientPoolError.
	ErrInsufficientPool = errors.New("insufficient question pool")
	// ErrUnknownSlot is returned for a slot that is not part of the session.
	ErrUnknownSlot = errors.New("unknown slot")
	// ErrTooManyLabels is returned when a single-answer slot gets several labels.
	ErrTooManyLabels = errors.New("single-answer question accepts one label")
	// ErrNotSubmitted is returned when results are requested too early.
	ErrNotSubmitted = errors.New("session not submitted")
)

// InsufficientPoolError reports a quota the bank cannot fill.
type InsufficientPoolError struct {
	Quota     model.Quota
	Available int
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf("quota %s: only %d eligible questions", e.Quota, e.Available)
}

func (e *InsufficientPoolError) Is(target error) bool {
	return target == ErrInsufficientPool
}

// Option configures Start.
type Option func(*options)

type options struct {
	rng *rand.Rand
	now func() time.Time
}

// WithRand sets the random source used for drawing and shuffling.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithClock sets the time source for the session.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Session is one exam attempt.
type Session struct {
	questions []model.Question
	answers   map[model.Slot]model.Selection
	timeLimit time.Duration
	now       func() time.Time

	state       model.SessionState
	startedAt   time.Time
	submittedAt time.Time
	reason      model.SubmitReason
}

// Start draws a new session from bank according to bp. No session is
// created if any quota cannot be filled.
func Start(bank []model.Question, bp model.Blueprint, opts ...Option) (*Session, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	shuffle := rand.Shuffle
	if o.rng != nil {
		shuffle = o.rng.Shuffle
	}

	selected, err := draw(bank, bp.Quotas, shuffle)
	if err != nil {
		return nil, err
	}
	shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})

	s := &Session{
		questions: selected,
		answers:   make(map[model.Slot]model.Selection),
		timeLimit: bp.TimeLimit,
		now:       o.now,
		state:     model.StateNotStarted,
	}
	s.begin()
	return s, nil
}

// draw picks Count distinct questions for every quota, in quota order.
func draw(bank []model.Question, quotas []model.Quota, shuffle func(int, func(int, int))) ([]model.Question, error) {
	var selected []model.Question
	for _, qt := range quotas {
		var pool []model.Question
		for _, q := range bank {
			if qt.Matches(q) {
				pool = append(pool, q)
			}
		}
		if len(pool) < qt.Count {
			return nil, &InsufficientPoolError{Quota: qt, Available: len(pool)}
		}
		shuffle(len(pool), func(i, j int) {
			pool[i], pool[j] = pool[j], pool[i]
		})
		selected = append(selected, pool[:qt.Count]...)
	}
	return selected, nil
}

func (s *Session) begin() {
	if s.state != model.StateNotStarted {
		return
	}
	s.startedAt = s.now()
	s.state = model.StateInProgress
}

// Slots lists every slot in presentation order.
func (s *Session) Slots() []model.Slot {
	slots := make([]model.Slot, len(s.questions))
	for i, q := range s.questions {
		slots[i] = model.Slot{Position: i, QuestionID: q.ID}
	}
	return slots
}

// Questions returns the selected questions in presentation order.
func (s *Session) Questions() []model.Question {
	out := make([]model.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// SlotAt returns the slot at position.
func (s *Session) SlotAt(position int) (model.Slot, error) {
	if position < 0 || position >= len(s.questions) {
		return model.Slot{}, fmt.Errorf("%w: position %d", ErrUnknownSlot, position)
	}
	return model.Slot{Position: position, QuestionID: s.questions[position].ID}, nil
}

func (s *Session) question(slot model.Slot) (model.Question, error) {
	if slot.Position < 0 || slot.Position >= len(s.questions) || s.questions[slot.Position].ID != slot.QuestionID {
		return model.Question{}, fmt.Errorf("%w: %+v", ErrUnknownSlot, slot)
	}
	return s.questions[slot.Position], nil
}

// RecordAnswer stores sel for slot, replacing any earlier selection. Once
// the session is submitted it does nothing.
func (s *Session) RecordAnswer(slot model.Slot, sel model.Selection) error {
	q, err := s.question(slot)
	if err != nil {
		return err
	}
	if s.CheckTimeout(); s.state != model.StateInProgress {
		return nil
	}
	if q.Type != model.TypeMultipleChoice && len(sel) > 1 {
		return fmt.Errorf("%w: question %d", ErrTooManyLabels, q.ID)
	}
	s.answers[slot] = sel
	return nil
}

// Answer returns the current selection for slot.
func (s *Session) Answer(slot model.Slot) model.Selection {
	return s.answers[slot]
}

// State reports the lifecycle state after applying any pending timeout.
func (s *Session) State() model.SessionState {
	s.CheckTimeout()
	return s.state
}

// Submitted reports whether the session is closed for answers.
func (s *Session) Submitted() bool {
	return s.State() == model.StateSubmitted
}

// StartedAt is when the session entered InProgress.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// SubmittedAt is when the session was closed, or zero.
func (s *Session) SubmittedAt() time.Time { return s.submittedAt }

// SubmitReason tells whether the user or the clock closed the session.
func (s *Session) SubmitReason() model.SubmitReason { return s.reason }

// TimeLimit is the total time budget.
func (s *Session) TimeLimit() time.Duration { return s.timeLimit }

// Elapsed is the time spent so far. It stops growing once submitted.
func (s *Session) Elapsed() time.Duration {
	switch s.state {
	case model.StateNotStarted:
		return 0
	case model.StateSubmitted:
		return s.submittedAt.Sub(s.startedAt)
	}
	return s.now().Sub(s.startedAt)
}

// Remaining is the time left, never below zero.
func (s *Session) Remaining() time.Duration {
	return max(s.timeLimit-s.Elapsed(), 0)
}

// CheckTimeout submits the session if its time is up. It reports whether
// this call performed the transition.
func (s *Session) CheckTimeout() bool {
	if s.state != model.StateInProgress || s.Remaining() > 0 {
		return false
	}
	s.close(model.SubmitByTimeout)
	return true
}

// Submit closes the session at the user's request. Calling it again has no
// effect.
func (s *Session) Submit() {
	if s.CheckTimeout() || s.state != model.StateInProgress {
		return
	}
	s.close(model.SubmitByUser)
}

func (s *Session) close(reason model.SubmitReason) {
	now := s.now()
	if deadline := s.startedAt.Add(s.timeLimit); reason == model.SubmitByTimeout && now.After(deadline) {
		now = deadline
	}
	s.submittedAt = now
	s.reason = reason
	s.state = model.StateSubmitted
}

// SlotResult is the score for one slot.
type SlotResult struct {
	Slot      model.Slot
	Question  model.Question
	Selection model.Selection
	Points    int
	MaxPoints int
}

// Perfect reports whether the slot earned full marks.
func (r SlotResult) Perfect() bool { return r.Points == r.MaxPoints }

// Result is the scored outcome of a submitted session.
type Result struct {
	Slots    []SlotResult
	Total    int
	TotalMax int
}

// Result scores every slot. It fails until the session is submitted.
func (s *Session) Result() (Result, error) {
	if s.State() != model.StateSubmitted {
		return Result{}, ErrNotSubmitted
	}
	items := make([]scoring.Item, len(s.questions))
	res := Result{Slots: make([]SlotResult, len(s.questions))}
	for i, slot := range s.Slots() {
		q := s.questions[i]
		sel := s.answers[slot]
		items[i] = scoring.Item{Question: q, Selection: sel}
		p, m := scoring.Score(q, sel)
		res.Slots[i] = SlotResult{Slot: slot, Question: q, Selection: sel, Points: p, MaxPoints: m}
	}
	res.Total, res.TotalMax = scoring.Total(items)
	return res, nil
}
