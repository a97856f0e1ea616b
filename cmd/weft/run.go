package main

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"weft/internal/observ"
	"weft/internal/scenario"
	"weft/internal/trace"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <scenario.toml>...",
	Short: "Run kernel scenarios",
	Long:  `Load one or more scenario files and run each on its own simulated kernel`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExecution,
}

func init() {
	runCmd.Flags().String("format", "text", "report format (text|json)")
	runCmd.Flags().String("events", "", "write the kernel event ring to FILE as msgpack")
	runCmd.Flags().String("ui", "auto", "progress UI (auto|on|off)")
	runCmd.Flags().Bool("timings", false, "show load, run and report timings")
	runCmd.Flags().Bool("steps", false, "print every completed step")
	runCmd.Flags().Int("parallel", runtime.GOMAXPROCS(0), "scenarios run concurrently")
}

// errScenariosFailed is returned when at least one kernel halted abnormally.
type errScenariosFailed struct {
	failed, total int
}

func (e errScenariosFailed) Error() string {
	return fmt.Sprintf("%d of %d scenarios failed", e.failed, e.total)
}

func runExecution(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	eventsPath, err := cmd.Flags().GetString("events")
	if err != nil {
		return err
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}
	showTimings, err := cmd.Flags().GetBool("timings")
	if err != nil {
		return err
	}
	showSteps, err := cmd.Flags().GetBool("steps")
	if err != nil {
		return err
	}
	parallel, err := cmd.Flags().GetInt("parallel")
	if err != nil {
		return err
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return err
	}

	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "text", "json":
	default:
		return errInvalidFlag("format", format, "text|json")
	}
	mode, err := readUIMode(uiValue)
	if err != nil {
		return err
	}
	colored, err := useColorFor(cmd)
	if err != nil {
		return err
	}

	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	var tally batchTally
	cleanup, err := setupTracing(cmd, eventsPath != "", tally.sample)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	timer := observ.NewTimer()

	idx := timer.Begin("load")
	scenarios := make([]*scenario.Scenario, 0, len(args))
	for _, path := range args {
		sc, err := scenario.Load(path)
		if err != nil {
			return err
		}
		scenarios = append(scenarios, sc)
	}
	timer.End(idx, strconv.Itoa(len(scenarios))+" files")

	tally.total.Store(int64(len(scenarios)))
	opts := scenario.Options{Parallel: parallel, OnProgress: tally.observe}
	idx = timer.Begin("run")
	var results []*scenario.Result
	if format == "text" && !quiet && shouldUseTUI(mode) {
		results, err = runScenariosWithUI(ctx, "running scenarios", scenarios, opts)
	} else {
		results, err = scenario.RunAll(ctx, scenarios, opts)
	}
	timer.End(idx, "")
	if err != nil {
		return err
	}
	for _, res := range results {
		timer.Record("kernel "+res.Name, res.Elapsed, res.Scheduler)
	}

	idx = timer.Begin("report")
	if format == "json" {
		if err := renderJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		newReporter(cmd.OutOrStdout(), reportOptions{color: colored, quiet: quiet, steps: showSteps}).renderText(results)
	}
	timer.End(idx, format)

	if eventsPath != "" {
		ring := trace.FindRing(trace.FromContext(ctx))
		if ring == nil {
			return fmt.Errorf("--events: no event ring available")
		}
		if err := trace.WriteDumpFile(eventsPath, ring); err != nil {
			return fmt.Errorf("failed to write events: %w", err)
		}
	}

	if showTimings {
		fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
	}

	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}
	if failed > 0 {
		return errScenariosFailed{failed: failed, total: len(results)}
	}
	return nil
}

// batchTally counts scenario states for heartbeat events.
type batchTally struct {
	total, running, passed, failed atomic.Int64
}

func (b *batchTally) observe(p scenario.Progress) {
	switch p.State {
	case scenario.StateRunning:
		b.running.Add(1)
	case scenario.StatePassed:
		b.running.Add(-1)
		b.passed.Add(1)
	case scenario.StateFailed:
		b.running.Add(-1)
		b.failed.Add(1)
	}
}

func (b *batchTally) sample() map[string]string {
	return map[string]string{
		"total":   strconv.FormatInt(b.total.Load(), 10),
		"running": strconv.FormatInt(b.running.Load(), 10),
		"passed":  strconv.FormatInt(b.passed.Load(), 10),
		"failed":  strconv.FormatInt(b.failed.Load(), 10),
	}
}
