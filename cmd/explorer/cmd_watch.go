package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"explorer/cmd/explorer/ui"
	"explorer/internal/mirror"
)

// watchCmd runs the governor under a live TUI
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the governor with a live view of each cycle",
	Long: `Runs the governance loop like 'explorer run' and follows it in a
terminal view fed by the mirror hall: per-cycle certification counts,
violation potential, mastery against the sentinel threshold, and the
breath pulse. Quit with q; the governor shuts down cleanly behind it.`,
	RunE: runWatch,
}

// teaObserver forwards mirror snapshots into the TUI feed. Sends never
// block: when the TUI lags, the freshest cycle wins.
type teaObserver struct {
	ch chan mirror.Snapshot
}

func (o *teaObserver) Name() string { return "watch" }

func (o *teaObserver) Observe(snap mirror.Snapshot) {
	select {
	case o.ch <- snap:
	default:
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	obs := &teaObserver{ch: make(chan mirror.Snapshot, 16)}
	sys, err := buildSystem(ctx, cfg, obs)
	if err != nil {
		return err
	}
	defer sys.close()

	p := tea.NewProgram(
		ui.NewWatch(obs.ch, ui.NewStyles()),
		tea.WithAltScreen(),
	)

	govDone := make(chan error, 1)
	go func() {
		err := sys.gov.Run(ctx)
		govDone <- err
		p.Send(ui.FeedClosedMsg{})
	}()

	_, tuiErr := p.Run()

	// TUI is gone; stop the governor and collect its verdict.
	cancel()
	govErr := <-govDone

	if tuiErr != nil {
		return fmt.Errorf("watch ui: %w", tuiErr)
	}
	if govErr != nil {
		return fmt.Errorf("governor: %w", govErr)
	}

	state := sys.gov.State()
	fmt.Printf("Stopped after %d cycles, phase %s, ledger version %d\n",
		state.Cycle, state.Phase, state.KernelVersion)
	return nil
}
