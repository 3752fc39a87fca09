package main

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"recnet/pkg/eventlog"
	"recnet/pkg/validator"
)

func testModel() Model {
	theme := DefaultTheme()
	return Model{theme: theme, styles: NewStyles(theme)}
}

func TestUpdateQuitKeys(t *testing.T) {
	m := testModel()
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Fatal("q did not quit")
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC}); cmd == nil {
		t.Fatal("ctrl+c did not quit")
	}
}

func TestUpdateStatusMessage(t *testing.T) {
	m := testModel()

	st := &validator.Status{State: validator.StateRunning, Step: 3}
	updated, _ := m.Update(statusMsg(st))
	m = updated.(Model)
	if !m.online || m.status.Step != 3 {
		t.Fatalf("status message not applied: online=%v status=%+v", m.online, m.status)
	}

	// A nil status flips the online flag but keeps the last snapshot for
	// display.
	updated, _ = m.Update(statusMsg(nil))
	m = updated.(Model)
	if m.online {
		t.Fatal("nil status must mark the gateway offline")
	}
	if m.status == nil {
		t.Fatal("last snapshot dropped on gateway loss")
	}
}

func TestViewOffline(t *testing.T) {
	m := testModel()
	view := m.View()
	if !strings.Contains(view, "gateway offline") {
		t.Fatalf("offline view missing marker:\n%s", view)
	}
	if !strings.Contains(view, "no membership data") {
		t.Fatalf("offline view missing empty table state:\n%s", view)
	}
}

func TestViewRendersScoresAndEvents(t *testing.T) {
	m := testModel()
	m.online = true
	m.status = &validator.Status{
		State: validator.StateRunning,
		Step:  12,
		Members: []validator.MemberStatus{
			{UID: 0, Key: "alice", Stake: 5000, Score: 0.75},
			{UID: 1, Key: "bob", Stake: 2000, Score: 0.25, ValidatorPermit: true},
		},
	}
	m.events = []eventlog.Event{
		{Type: "request_completed", RequestID: "req-1", Payload: "5 results", CreatedAt: time.Now()},
	}

	view := m.View()
	for _, want := range []string{"alice", "bob", "(validator)", "request_completed", "step 12"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestScoreBar(t *testing.T) {
	if got := scoreBar(0); strings.Contains(got, "█") {
		t.Fatalf("zero score bar = %q, want empty fill", got)
	}
	if got := scoreBar(1); strings.Contains(got, "░") {
		t.Fatalf("full score bar = %q, want full fill", got)
	}
	half := scoreBar(0.5)
	if strings.Count(half, "█") != scoreBarWidth/2 {
		t.Fatalf("half score bar = %q, want %d filled cells", half, scoreBarWidth/2)
	}
	// Out-of-range scores clamp instead of panicking.
	_ = scoreBar(-2)
	_ = scoreBar(7)
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate(short) = %q", got)
	}
	got := truncate("a-very-long-member-key", 8)
	if len([]rune(got)) != 8 || !strings.HasSuffix(got, "…") {
		t.Fatalf("truncate long = %q, want 8 runes ending in ellipsis", got)
	}
}
