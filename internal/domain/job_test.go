package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	states := []JobState{JobStateQueued, JobStateRunning, JobStateCompleted, JobStateFailed, JobStateRejected}
	allowed := map[[2]JobState]bool{
		{JobStateQueued, JobStateRunning}:    true,
		{JobStateQueued, JobStateRejected}:   true,
		{JobStateRunning, JobStateCompleted}: true,
		{JobStateRunning, JobStateFailed}:    true,
	}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]JobState{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []JobState{JobStateCompleted, JobStateFailed, JobStateRejected} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if len(allowedTransitions[s]) != 0 {
			t.Fatalf("%s has outgoing transitions", s)
		}
	}
}

func TestCheckTransitionPayload(t *testing.T) {
	tests := []struct {
		name    string
		from    JobState
		to      JobState
		payload TransitionPayload
		wantErr bool
	}{
		{name: "complete with result", from: JobStateRunning, to: JobStateCompleted, payload: TransitionPayload{Result: json.RawMessage(`{"ok":true}`)}},
		{name: "fail with message", from: JobStateRunning, to: JobStateFailed, payload: TransitionPayload{ErrorMessage: "boom"}},
		{name: "result on failure", from: JobStateRunning, to: JobStateFailed, payload: TransitionPayload{Result: json.RawMessage(`{}`)}, wantErr: true},
		{name: "message on completion", from: JobStateRunning, to: JobStateCompleted, payload: TransitionPayload{ErrorMessage: "x"}, wantErr: true},
		{name: "illegal pair", from: JobStateCompleted, to: JobStateRunning, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckTransition(tc.from, tc.to, tc.payload)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCursorRoundTripOrdering(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)
	token := EncodeCursor(Cursor{CreatedAt: now, ID: "b"})
	c, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !c.CreatedAt.Equal(now) || c.ID != "b" {
		t.Fatalf("cursor mismatch: %+v", c)
	}
	if !c.Before(now, "a") {
		t.Fatalf("same timestamp with smaller id should come after the cursor")
	}
	if c.Before(now, "c") {
		t.Fatalf("same timestamp with larger id should come before the cursor")
	}
	if !c.Before(now.Add(-time.Second), "z") {
		t.Fatalf("older job should come after the cursor")
	}
	if _, err := DecodeCursor("%%%"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for garbage cursor, got %v", err)
	}
}
