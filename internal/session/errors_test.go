package session_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/brian-mwirigi/codesession/internal/session"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("ending session: %w", session.NotFound("session %d not found", 42))

	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected wrapped error to match ErrNotFound, got %v", err)
	}
	if errors.Is(err, session.ErrBudgetExceeded) {
		t.Fatal("not-found error must not match ErrBudgetExceeded")
	}

	e, ok := session.AsError(err)
	if !ok {
		t.Fatal("AsError: expected structured error")
	}
	if e.Code != session.CodeNotFound {
		t.Errorf("Code: want %q, got %q", session.CodeNotFound, e.Code)
	}
	if e.Message != "session 42 not found" {
		t.Errorf("Message: got %q", e.Message)
	}
}

func TestAlreadyActiveCarriesSession(t *testing.T) {
	active := &session.Session{ID: 7, Name: "refactor", WorkDir: "/repo/sub", RepoRoot: "/repo"}
	err := session.AlreadyActive(active)

	e, ok := session.AsError(err)
	if !ok {
		t.Fatal("expected structured error")
	}
	if e.Active == nil || e.Active.ID != 7 {
		t.Fatalf("expected active session 7, got %+v", e.Active)
	}
}

func TestBudgetExceededFields(t *testing.T) {
	err := session.BudgetExceeded(4.5, 5, 0.75)
	e, _ := session.AsError(err)
	if e.Spent != 4.5 || e.Ceiling != 5 || e.Attempted != 0.75 {
		t.Errorf("unexpected budget fields: %+v", e)
	}
	if !errors.Is(err, session.ErrBudgetExceeded) {
		t.Error("expected ErrBudgetExceeded match")
	}
}

func TestClampDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{-time.Hour, 0},
		{0, 0},
		{90 * time.Minute, 90 * time.Minute},
		{2 * session.MaxDuration, session.MaxDuration},
	}
	for _, c := range cases {
		if got := session.ClampDuration(c.in); got != c.want {
			t.Errorf("ClampDuration(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRoundCost(t *testing.T) {
	sum := 0.0
	for i := 0; i < 10; i++ {
		sum += 0.1
	}
	if sum == 1.0 {
		t.Skip("platform summed exactly; nothing to round")
	}
	if got := session.RoundCost(sum); got != 1.0 {
		t.Errorf("RoundCost(%v) = %v, want 1", sum, got)
	}
	if got := session.RoundCost(0.12345678901234); got != 0.123456789 {
		t.Errorf("RoundCost: got %v", got)
	}
}
