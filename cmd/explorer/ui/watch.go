package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"explorer/internal/mirror"
)

// watchHistoryCap bounds the cycle log kept in the viewport.
const watchHistoryCap = 200

// SnapshotMsg carries one governor cycle into the TUI.
type SnapshotMsg mirror.Snapshot

// FeedClosedMsg signals that the governor stopped publishing.
type FeedClosedMsg struct{}

// WatchModel is the live governance view: a stats panel fed by mirror
// snapshots over a rolling log of cycles.
type WatchModel struct {
	styles   Styles
	spinner  spinner.Model
	viewport viewport.Model
	snaps    <-chan mirror.Snapshot

	width  int
	height int
	ready  bool

	latest  mirror.Snapshot
	hasSnap bool
	lines   []string
	stopped bool
}

// NewWatch builds the watch model around a snapshot feed.
func NewWatch(snaps <-chan mirror.Snapshot, styles Styles) WatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	return WatchModel{
		styles:  styles,
		spinner: sp,
		snaps:   snaps,
	}
}

// waitForSnapshot blocks on the feed and converts it to a message.
func waitForSnapshot(ch <-chan mirror.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return FeedClosedMsg{}
		}
		return SnapshotMsg(snap)
	}
}

// Init starts the spinner and the feed listener.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.snaps))
}

// Update handles messages.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		panelHeight := 9
		vpHeight := m.height - panelHeight - 3
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()

	case SnapshotMsg:
		m.latest = mirror.Snapshot(msg)
		m.hasSnap = true
		m.lines = append(m.lines, m.cycleLine(m.latest))
		if len(m.lines) > watchHistoryCap {
			m.lines = m.lines[len(m.lines)-watchHistoryCap:]
		}
		if m.ready {
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.viewport.GotoBottom()
		}
		return m, waitForSnapshot(m.snaps)

	case FeedClosedMsg:
		m.stopped = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the watch screen.
func (m WatchModel) View() string {
	var b strings.Builder

	title := m.styles.Title.Render("Explorer Watch")
	if m.stopped {
		b.WriteString(title + "  " + m.styles.Muted.Render("governor stopped"))
	} else if !m.hasSnap {
		b.WriteString(title + "  " + m.spinner.View() + m.styles.Muted.Render(" waiting for first cycle"))
	} else {
		b.WriteString(title + "  " + m.spinner.View() + " phase: " + m.styles.Phase(m.latest.Phase))
	}
	b.WriteString("\n")

	b.WriteString(m.styles.Panel.Render(m.statsPanel()))
	b.WriteString("\n")

	if m.ready {
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Footer.Render("q quit · arrows scroll"))
	return b.String()
}

// statsPanel renders the latest snapshot's numbers.
func (m WatchModel) statsPanel() string {
	if !m.hasSnap {
		return "No cycles yet."
	}
	snap := m.latest

	certifiedLive := fmt.Sprintf("%d certified of %d live", snap.Certified, len(snap.Live))
	breath := "breath idle"
	if snap.Breath.Cycle > 0 {
		inOut := "exhaling"
		if snap.Breath.Inhale {
			inOut = "inhaling"
		}
		breath = fmt.Sprintf("breath %d %s, interval %s", snap.Breath.Cycle, inOut, snap.Breath.Interval)
	}

	rows := []string{
		fmt.Sprintf("Cycle %d · version %d · %s", snap.Cycle, snap.KernelVersion, snap.Timestamp.Format("15:04:05")),
		fmt.Sprintf("%s · %d new identities this cycle", certifiedLive, snap.NewIdentities),
		fmt.Sprintf("Mean VP %.4f over %d modules", snap.MeanVP, snap.Modules),
		fmt.Sprintf("Mastery %.3f against %.3f over %d cycles",
			snap.Mastery.Aggregate, snap.Mastery.Threshold, snap.Mastery.Cycles),
		fmt.Sprintf("Ideal %.1fms / %.1fMB", snap.Ideal.DurationMs, snap.Ideal.MemoryMB),
		breath,
	}
	return strings.Join(rows, "\n")
}

// cycleLine is one viewport log line per cycle.
func (m WatchModel) cycleLine(snap mirror.Snapshot) string {
	mark := m.styles.Success.Render("●")
	if snap.Certified < len(snap.Live) {
		mark = m.styles.Warning.Render("●")
	}
	line := fmt.Sprintf("%s cycle %-4d %-9s certified %d/%d  vp %.4f  v%d",
		mark, snap.Cycle, snap.Phase, snap.Certified, len(snap.Live), snap.MeanVP, snap.KernelVersion)
	if snap.NewIdentities > 0 {
		line += fmt.Sprintf("  +%d new", snap.NewIdentities)
	}
	return line
}
