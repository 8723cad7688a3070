package exam

import (
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/mockexam/internal/model"
)

func TestManagerStartReplacesSession(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(0, WithClock(clock.Now))
	key := NewKey()

	first, err := m.Start(key, referenceBank(), model.DefaultBlueprint())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	first.Submit()

	second, err := m.Start(key, referenceBank(), model.DefaultBlueprint())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first == second {
		t.Fatal("expected a new session")
	}
	if got := m.State(key); got != model.StateInProgress {
		t.Errorf("State = %s, want in_progress", got)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 session, got %d", m.Len())
	}
}

func TestManagerFailedStartKeepsPrevious(t *testing.T) {
	m := NewManager(0)
	key := NewKey()
	if _, err := m.Start(key, referenceBank(), model.DefaultBlueprint()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := m.Start(key, nil, model.DefaultBlueprint())
	if !errors.Is(err, ErrInsufficientPool) {
		t.Fatalf("expected ErrInsufficientPool, got %v", err)
	}
	if got := m.State(key); got != model.StateInProgress {
		t.Errorf("previous session lost: state %s", got)
	}
}

func TestManagerUnknownKey(t *testing.T) {
	m := NewManager(0)
	if got := m.State("nobody"); got != model.StateNotStarted {
		t.Errorf("State = %s, want not_started", got)
	}
	err := m.With("nobody", func(*Session) error { return nil })
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestManagerIsolatesKeys(t *testing.T) {
	m := NewManager(0)
	a, b := NewKey(), NewKey()
	if a == b {
		t.Fatal("keys should differ")
	}
	for _, k := range []string{a, b} {
		if _, err := m.Start(k, referenceBank(), model.DefaultBlueprint()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	_ = m.With(a, func(s *Session) error {
		s.Submit()
		return nil
	})
	if m.State(a) != model.StateSubmitted {
		t.Error("expected a submitted")
	}
	if m.State(b) != model.StateInProgress {
		t.Error("submitting a affected b")
	}

	m.Discard(a)
	if m.State(a) != model.StateNotStarted {
		t.Error("expected a discarded")
	}
}

func TestManagerPrunesOldSubmittedSessions(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(time.Hour, WithClock(clock.Now))
	old, fresh := NewKey(), NewKey()

	if _, err := m.Start(old, referenceBank(), model.DefaultBlueprint()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Times out after 20 minutes; well past retention two hours later.
	clock.Advance(2 * time.Hour)
	if _, err := m.Start(fresh, referenceBank(), model.DefaultBlueprint()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.State(old) != model.StateNotStarted {
		t.Error("expected old session to be pruned")
	}
	if m.State(fresh) != model.StateInProgress {
		t.Error("fresh session should remain")
	}
}
