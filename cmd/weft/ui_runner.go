package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"weft/internal/scenario"
	"weft/internal/ui"
)

type runOutcome struct {
	results []*scenario.Result
	err     error
}

func runScenariosWithUI(ctx context.Context, title string, scenarios []*scenario.Scenario, opts scenario.Options) ([]*scenario.Result, error) {
	events := make(chan scenario.Progress, 256)
	outcomeCh := make(chan runOutcome, 1)

	go func() {
		o := opts
		prev := o.OnProgress
		o.OnProgress = func(p scenario.Progress) {
			if prev != nil {
				prev(p)
			}
			events <- p
		}
		res, err := scenario.RunAll(ctx, scenarios, o)
		outcomeCh <- runOutcome{results: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, scenarios, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	// The UI may quit early; keep the runner from blocking on a full channel.
	go func() {
		for range events {
		}
	}()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, uiErr
	}
	return outcome.results, outcome.err
}
