package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"explorer/internal/kernel"
	"explorer/internal/mirror"
	"explorer/internal/sentinel"
)

func testSnap(cycle int) mirror.Snapshot {
	return mirror.Snapshot{
		CycleID:       "cyc",
		Cycle:         cycle,
		Phase:         "genesis",
		KernelVersion: int64(cycle),
		Live:          []kernel.Record{{Identity: "a1b2c3d4e5f60718", Module: "spin", Certified: true}},
		Certified:     1,
		Modules:       1,
		NewIdentities: 1,
		MeanVP:        0.1,
		Mastery:       sentinel.Mastery{Aggregate: 0.8, Threshold: 0.6, Cycles: cycle},
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func advance(t *testing.T, m WatchModel, msg tea.Msg) (WatchModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	got, ok := next.(WatchModel)
	if !ok {
		t.Fatalf("Update returned %T, want WatchModel", next)
	}
	return got, cmd
}

func TestWatchModel_WaitingBeforeFirstCycle(t *testing.T) {
	m := NewWatch(make(chan mirror.Snapshot), NewStyles())

	view := m.View()
	if !strings.Contains(view, "waiting for first cycle") {
		t.Errorf("Initial view missing waiting notice:\n%s", view)
	}
	if !strings.Contains(view, "No cycles yet") {
		t.Errorf("Initial panel missing placeholder:\n%s", view)
	}
}

func TestWatchModel_SnapshotFillsPanelAndRearms(t *testing.T) {
	m := NewWatch(make(chan mirror.Snapshot), NewStyles())
	m, _ = advance(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	m, cmd := advance(t, m, SnapshotMsg(testSnap(3)))
	if cmd == nil {
		t.Fatal("Snapshot did not re-arm the feed listener")
	}

	view := m.View()
	for _, want := range []string{"Cycle 3", "version 3", "1 certified of 1 live", "Mastery 0.800 against 0.600", "genesis"} {
		if !strings.Contains(view, want) {
			t.Errorf("View missing %q:\n%s", want, view)
		}
	}
}

func TestWatchModel_HistoryBounded(t *testing.T) {
	m := NewWatch(make(chan mirror.Snapshot), NewStyles())
	m, _ = advance(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	for i := 1; i <= watchHistoryCap+25; i++ {
		m, _ = advance(t, m, SnapshotMsg(testSnap(i)))
	}
	if len(m.lines) != watchHistoryCap {
		t.Errorf("History holds %d lines, want %d", len(m.lines), watchHistoryCap)
	}
	if !strings.Contains(m.lines[0], "cycle 26") {
		t.Errorf("Oldest kept line = %q, want cycle 26", m.lines[0])
	}
}

func TestWatchModel_QuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		m := NewWatch(make(chan mirror.Snapshot), NewStyles())
		_, cmd := advance(t, m, key)
		if cmd == nil {
			t.Fatalf("Key %s produced no command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("Key %s did not quit", key)
		}
	}
}

func TestWatchModel_FeedClosedQuits(t *testing.T) {
	m := NewWatch(make(chan mirror.Snapshot), NewStyles())

	m, cmd := advance(t, m, FeedClosedMsg{})
	if cmd == nil {
		t.Fatal("Feed close produced no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Feed close did not quit")
	}
	if !strings.Contains(m.View(), "governor stopped") {
		t.Errorf("Stopped view missing notice:\n%s", m.View())
	}
}

func TestWaitForSnapshot(t *testing.T) {
	ch := make(chan mirror.Snapshot, 1)
	ch <- testSnap(7)
	msg := waitForSnapshot(ch)()
	snap, ok := msg.(SnapshotMsg)
	if !ok {
		t.Fatalf("Got %T, want SnapshotMsg", msg)
	}
	if snap.Cycle != 7 {
		t.Errorf("Cycle = %d, want 7", snap.Cycle)
	}

	close(ch)
	if _, ok := waitForSnapshot(ch)().(FeedClosedMsg); !ok {
		t.Error("Closed feed did not yield FeedClosedMsg")
	}
}
