package swap

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func testOperation() *Operation {
	return &Operation{
		SwapID:    uuid.New(),
		UserID:    uuid.New(),
		FromChain: "ethereum",
		ToChain:   "near",
		Amount:    "1000000000000000000",
		Recipient: "test.near",
		Status:    StatusInitialized,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
}

func TestValidTransitions(t *testing.T) {
	m := New()

	cases := []struct{ from, to Status }{
		{StatusInitialized, StatusSourceLocking},
		{StatusSourceLocking, StatusSourceLocked},
		{StatusSourceLocked, StatusDestMinting},
		{StatusDestMinting, StatusDestMinted},
		{StatusDestMinted, StatusCompleted},
		{StatusInitialized, StatusFailed},
		{StatusSourceLocking, StatusTimeout},
		{StatusFailed, StatusRolledBack},
	}
	for _, c := range cases {
		if !m.CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be valid", c.from, c.to)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	m := New()

	cases := []struct{ from, to Status }{
		{StatusInitialized, StatusDestMinting},
		{StatusCompleted, StatusSourceLocking},
		{StatusRolledBack, StatusInitialized},
	}
	for _, c := range cases {
		if m.CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be invalid", c.from, c.to)
		}
	}
}

func TestTransitionSuccess(t *testing.T) {
	m := New()
	op := testOperation()

	if err := m.Transition(op, StatusSourceLocking); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if op.Status != StatusSourceLocking {
		t.Errorf("unexpected status: %v", op.Status)
	}
}

func TestTransitionInvalidLeavesStateUnchanged(t *testing.T) {
	m := New()
	op := testOperation()

	err := m.Transition(op, StatusDestMinting)
	if err == nil {
		t.Fatalf("expected error")
	}
	if op.Status != StatusInitialized {
		t.Errorf("status should remain unchanged, got %v", op.Status)
	}
}

func TestTerminalStates(t *testing.T) {
	m := New()
	if !m.IsTerminal(StatusCompleted) || !m.IsTerminal(StatusRolledBack) {
		t.Errorf("expected Completed and RolledBack to be terminal")
	}
	if m.IsTerminal(StatusInitialized) || m.IsTerminal(StatusFailed) {
		t.Errorf("expected Initialized and Failed to not be terminal")
	}
}

func TestErrorStates(t *testing.T) {
	m := New()
	for _, s := range []Status{StatusFailed, StatusTimeout, StatusCancelled} {
		if !m.IsError(s) {
			t.Errorf("expected %s to be an error state", s)
		}
	}
	if m.IsError(StatusCompleted) || m.IsError(StatusInitialized) {
		t.Errorf("expected Completed and Initialized to not be error states")
	}
}

func TestRequiresRollback(t *testing.T) {
	m := New()
	for _, s := range []Status{StatusFailed, StatusTimeout, StatusCancelled} {
		if !m.RequiresRollback(s) {
			t.Errorf("expected %s to require rollback", s)
		}
	}
	if m.RequiresRollback(StatusCompleted) || m.RequiresRollback(StatusRolledBack) {
		t.Errorf("terminal states must not require rollback")
	}
}
