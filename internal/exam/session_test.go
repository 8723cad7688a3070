package exam

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/pavelanni/mockexam/internal/model"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func question(id int, typ model.QuestionType) model.Question {
	q := model.Question{ID: id, Text: "question", Type: typ}
	switch typ {
	case model.TypeTrueFalse:
		q.Options = []model.Option{{Label: "A", Text: "True"}, {Label: "B", Text: "False"}}
		q.Correct = []model.Label{"A"}
	case model.TypeMultipleChoice:
		q.Options = []model.Option{{Label: "A", Text: "w"}, {Label: "B", Text: "x"}, {Label: "C", Text: "y"}, {Label: "D", Text: "z"}}
		q.Correct = []model.Label{"A", "C"}
	default:
		q.Options = []model.Option{{Label: "A", Text: "w"}, {Label: "B", Text: "x"}, {Label: "C", Text: "y"}}
		q.Correct = []model.Label{"B"}
	}
	return q
}

// referenceBank cycles TF, MC, SC over ids 1..105, giving 15 of each type
// in 1..45 and 20 of each in 46..105.
func referenceBank() []model.Question {
	types := []model.QuestionType{model.TypeTrueFalse, model.TypeMultipleChoice, model.TypeSingleChoice}
	var bank []model.Question
	for id := 1; id <= 105; id++ {
		bank = append(bank, question(id, types[(id-1)%3]))
	}
	return bank
}

func startTestSession(t *testing.T, clock *fakeClock) *Session {
	t.Helper()
	s, err := Start(referenceBank(), model.DefaultBlueprint(),
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func TestStartHonorsQuotas(t *testing.T) {
	bp := model.DefaultBlueprint()
	s := startTestSession(t, newFakeClock())

	qs := s.Questions()
	if len(qs) != bp.QuestionCount() || len(qs) != 35 {
		t.Fatalf("expected 35 questions, got %d", len(qs))
	}
	if s.State() != model.StateInProgress {
		t.Errorf("expected in_progress, got %s", s.State())
	}

	// Every drawn question is eligible for some quota, and per-quota counts match.
	counts := make(map[model.Quota]int)
	seen := make(map[int]bool)
	for _, q := range qs {
		if seen[q.ID] {
			t.Errorf("question %d drawn twice", q.ID)
		}
		seen[q.ID] = true
		matched := false
		for _, qt := range bp.Quotas {
			if qt.Matches(q) {
				counts[qt]++
				matched = true
			}
		}
		if !matched {
			t.Errorf("question %d (%s) matches no quota", q.ID, q.Type)
		}
	}
	for _, qt := range bp.Quotas {
		if counts[qt] != qt.Count {
			t.Errorf("quota %s: got %d questions", qt, counts[qt])
		}
	}
}

func TestStartShuffles(t *testing.T) {
	// Without shuffling the first five slots would all be Rules & Regs TF.
	for seed := uint64(0); seed < 5; seed++ {
		s, err := Start(referenceBank(), model.DefaultBlueprint(), WithRand(rand.New(rand.NewPCG(seed, seed))))
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		qs := s.Questions()
		for i := 0; i < 5; i++ {
			if qs[i].Type != model.TypeTrueFalse || qs[i].ID > 45 {
				return
			}
		}
	}
	t.Error("expected combined draw to be shuffled")
}

func TestStartInsufficientPool(t *testing.T) {
	var bank []model.Question
	for _, q := range referenceBank() {
		// Keep only two MC questions in Rules & Regs; the quota asks for four.
		if q.ID <= 45 && q.Type == model.TypeMultipleChoice && q.ID > 5 {
			continue
		}
		bank = append(bank, q)
	}

	s, err := Start(bank, model.DefaultBlueprint())
	if s != nil {
		t.Error("expected no session on error")
	}
	if !errors.Is(err, ErrInsufficientPool) {
		t.Fatalf("expected ErrInsufficientPool, got %v", err)
	}
	var poolErr *InsufficientPoolError
	if !errors.As(err, &poolErr) {
		t.Fatalf("expected *InsufficientPoolError, got %T", err)
	}
	if poolErr.Available != 2 || poolErr.Quota.Count != 4 || poolErr.Quota.Type != model.TypeMultipleChoice {
		t.Errorf("unexpected error details: %+v", poolErr)
	}
}

func TestStartExactPool(t *testing.T) {
	bp := model.Blueprint{
		Quotas:    []model.Quota{{Section: model.Section{Label: "all", FirstID: 1, LastID: 3}, Type: model.TypeSingleChoice, Count: 3}},
		TimeLimit: time.Minute,
	}
	bank := []model.Question{question(1, model.TypeSingleChoice), question(2, model.TypeSingleChoice), question(3, model.TypeSingleChoice)}
	s, err := Start(bank, bp)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(s.Slots()) != 3 {
		t.Errorf("expected 3 slots, got %d", len(s.Slots()))
	}
}

func TestRecordAnswer(t *testing.T) {
	s := startTestSession(t, newFakeClock())
	slots := s.Slots()
	qs := s.Questions()

	var mcSlot, scSlot model.Slot
	for i, q := range qs {
		switch q.Type {
		case model.TypeMultipleChoice:
			mcSlot = slots[i]
		case model.TypeSingleChoice:
			scSlot = slots[i]
		}
	}

	if err := s.RecordAnswer(mcSlot, model.NewSelection("A", "B")); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if err := s.RecordAnswer(mcSlot, model.NewSelection("A", "C")); err != nil {
		t.Fatalf("RecordAnswer overwrite: %v", err)
	}
	if got := s.Answer(mcSlot); !got.Equal([]model.Label{"A", "C"}) {
		t.Errorf("Answer = %v, want [A C]", got)
	}

	if err := s.RecordAnswer(scSlot, model.NewSelection("A", "B")); !errors.Is(err, ErrTooManyLabels) {
		t.Errorf("expected ErrTooManyLabels, got %v", err)
	}
	if err := s.RecordAnswer(scSlot, model.NewSelection("Z")); err != nil {
		t.Errorf("unknown labels should be accepted, got %v", err)
	}

	bogus := model.Slot{Position: 0, QuestionID: -1}
	if err := s.RecordAnswer(bogus, model.NewSelection("A")); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("expected ErrUnknownSlot, got %v", err)
	}
	if _, err := s.SlotAt(len(slots)); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("expected ErrUnknownSlot for out-of-range position, got %v", err)
	}
}

func TestAnswersFrozenAfterSubmit(t *testing.T) {
	s := startTestSession(t, newFakeClock())
	slot := s.Slots()[0]
	first := model.NewSelection("A")
	if err := s.RecordAnswer(slot, first); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	s.Submit()
	if s.State() != model.StateSubmitted {
		t.Fatalf("expected submitted, got %s", s.State())
	}
	if s.SubmitReason() != model.SubmitByUser {
		t.Errorf("expected reason user, got %s", s.SubmitReason())
	}

	if err := s.RecordAnswer(slot, model.NewSelection("B")); err != nil {
		t.Errorf("RecordAnswer after submit should be a no-op, got %v", err)
	}
	if got := s.Answer(slot); !got.Equal(first) {
		t.Errorf("answer changed after submit: %v", got)
	}

	submittedAt := s.SubmittedAt()
	s.Submit()
	if !s.SubmittedAt().Equal(submittedAt) {
		t.Error("second Submit changed SubmittedAt")
	}
}

func TestSubmitIgnoresRemainingTime(t *testing.T) {
	clock := newFakeClock()
	s := startTestSession(t, clock)
	clock.Advance(time.Minute)
	s.Submit()
	if !s.Submitted() {
		t.Fatal("expected submitted")
	}
	if got := s.Remaining(); got != 19*time.Minute {
		t.Errorf("Remaining = %v, want 19m frozen at submit", got)
	}
	clock.Advance(time.Hour)
	if got := s.Remaining(); got != 19*time.Minute {
		t.Errorf("Remaining moved after submit: %v", got)
	}
}

func TestRemainingMonotonicAndFloored(t *testing.T) {
	clock := newFakeClock()
	s := startTestSession(t, clock)

	if got := s.Remaining(); got != 20*time.Minute {
		t.Fatalf("Remaining = %v, want 20m", got)
	}
	prev := s.Remaining()
	for i := 0; i < 30; i++ {
		clock.Advance(time.Minute)
		got := s.Remaining()
		if got > prev {
			t.Fatalf("Remaining increased: %v -> %v", prev, got)
		}
		if got < 0 {
			t.Fatalf("Remaining negative: %v", got)
		}
		prev = got
	}
	if prev != 0 {
		t.Errorf("expected Remaining to floor at 0, got %v", prev)
	}
	s.CheckTimeout()
	if got := s.Elapsed(); got != 20*time.Minute {
		t.Errorf("Elapsed = %v, want 20m after timeout", got)
	}
}

func TestCheckTimeoutIdempotent(t *testing.T) {
	clock := newFakeClock()
	s := startTestSession(t, clock)
	slot := s.Slots()[0]
	_ = s.RecordAnswer(slot, model.NewSelection("A"))

	clock.Advance(19*time.Minute + 59*time.Second)
	if s.CheckTimeout() {
		t.Fatal("CheckTimeout fired before the limit")
	}

	clock.Advance(time.Second)
	if !s.CheckTimeout() {
		t.Fatal("expected CheckTimeout to submit at the limit")
	}
	state, reason, at := s.State(), s.SubmitReason(), s.SubmittedAt()
	if state != model.StateSubmitted || reason != model.SubmitByTimeout {
		t.Fatalf("got state=%s reason=%s", state, reason)
	}

	clock.Advance(time.Minute)
	if s.CheckTimeout() {
		t.Error("second CheckTimeout should not transition again")
	}
	if s.State() != state || s.SubmitReason() != reason || !s.SubmittedAt().Equal(at) {
		t.Error("second CheckTimeout changed the session")
	}
	if got := s.Answer(slot); !got.Equal([]model.Label{"A"}) {
		t.Errorf("answers changed: %v", got)
	}
}

func TestObservationAppliesTimeout(t *testing.T) {
	clock := newFakeClock()
	s := startTestSession(t, clock)
	slot := s.Slots()[0]

	clock.Advance(25 * time.Minute)
	if err := s.RecordAnswer(slot, model.NewSelection("A")); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if s.Answer(slot) != nil {
		t.Error("answer recorded after the time limit")
	}
	if s.SubmitReason() != model.SubmitByTimeout {
		t.Errorf("expected timeout, got %q", s.SubmitReason())
	}
	// Submitted at the deadline, not when the timeout was noticed.
	if got := s.SubmittedAt().Sub(s.StartedAt()); got != 20*time.Minute {
		t.Errorf("submitted %v after start, want 20m", got)
	}
}

func TestResult(t *testing.T) {
	s := startTestSession(t, newFakeClock())
	if _, err := s.Result(); !errors.Is(err, ErrNotSubmitted) {
		t.Fatalf("expected ErrNotSubmitted, got %v", err)
	}

	wantTotal := 0
	for i, q := range s.Questions() {
		slot := s.Slots()[i]
		var sel model.Selection
		switch {
		case i%2 == 1:
			// Leave odd slots unanswered.
		case q.Type == model.TypeMultipleChoice:
			sel = model.NewSelection("A", "C")
			wantTotal += 4
		case q.Type == model.TypeTrueFalse:
			sel = model.NewSelection("A")
			wantTotal += 2
		default:
			sel = model.NewSelection("B")
			wantTotal += 2
		}
		if err := s.RecordAnswer(slot, sel); err != nil {
			t.Fatalf("RecordAnswer: %v", err)
		}
	}
	s.Submit()

	res, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	// 12 MC x 4 + 23 TF/SC x 2.
	if res.TotalMax != 94 {
		t.Errorf("TotalMax = %d, want 94", res.TotalMax)
	}
	if res.Total != wantTotal {
		t.Errorf("Total = %d, want %d", res.Total, wantTotal)
	}
	if len(res.Slots) != 35 {
		t.Errorf("expected 35 slot results, got %d", len(res.Slots))
	}
}
