package scenario

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"weft/internal/kthread"
	"weft/internal/trace"
)

func runFile(t *testing.T, name string) *Result {
	t.Helper()
	sc, err := Load(filepath.Join("testdata", name))
	require.NoError(t, err)
	res, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	return res
}

func threadResult(t *testing.T, res *Result, name string) ThreadResult {
	t.Helper()
	for _, tr := range res.Threads {
		if tr.Name == name {
			return tr
		}
	}
	t.Fatalf("no thread %q in result", name)
	return ThreadResult{}
}

func TestRunDonation(t *testing.T) {
	res := runFile(t, "donation.toml")
	require.NoError(t, res.Err)
	require.True(t, res.OK())
	require.Equal(t, []string{"low", "high", "mid"}, res.FinishOrder)
	require.Equal(t, "priority", res.Scheduler)
	require.NotNil(t, res.Stats)

	low := threadResult(t, res, "low")
	require.Equal(t, 1, low.Priority)
	require.Equal(t, "finished", low.Status)

	var details []string
	for _, e := range res.Log {
		if e.Op == "log" {
			details = append(details, e.Detail)
		}
	}
	require.Equal(t, []string{"low done", "high got R", "mid ran"}, details)
}

func TestRunPingPong(t *testing.T) {
	res := runFile(t, "pingpong.toml")
	require.NoError(t, res.Err)
	require.Equal(t, "roundrobin", res.Scheduler)
	require.Nil(t, res.Stats)
	require.Equal(t, []int{7, 8}, threadResult(t, res, "listener").Heard)
}

func TestRunDeadlock(t *testing.T) {
	res := runFile(t, "deadlock.toml")
	var dl *kthread.DeadlockError
	require.True(t, errors.As(res.Err, &dl), "got %v", res.Err)
	require.Equal(t, []string{"main (#1)", "t1 (#3)", "t2 (#4)"}, dl.Blocked)
	require.NotEmpty(t, res.Error)
	require.Equal(t, "blocked", threadResult(t, res, "t1").Status)
	require.Equal(t, "blocked", threadResult(t, res, "t2").Status)
	require.Empty(t, res.FinishOrder)
}

func TestRunAlarm(t *testing.T) {
	res := runFile(t, "alarm.toml")
	require.NoError(t, res.Err)
	require.Equal(t, []string{"early", "late"}, res.FinishOrder)
	require.GreaterOrEqual(t, threadResult(t, res, "late").FinishedAt, uint64(900))
	require.GreaterOrEqual(t, res.Ticks, uint64(900))
}

func TestRunCondition(t *testing.T) {
	res := runFile(t, "condition.toml")
	require.NoError(t, res.Err)
	require.Equal(t, []string{"signaller", "waiter"}, res.FinishOrder)
}

func TestRunPriorityStep(t *testing.T) {
	sc, err := Parse("p.toml", `
[[thread]]
name = "a"
priority = 2
steps = ["priority 5", "log raised"]
`)
	require.NoError(t, err)
	res, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, 5, threadResult(t, res, "a").Priority)
}

func TestRunZeroWidthPriorityRange(t *testing.T) {
	sc, err := Parse("z.toml", `
[kernel]
priority_min = 0
priority_max = 0
priority_default = 0

[[thread]]
name = "a"
steps = ["yield"]
`)
	require.NoError(t, err)
	cfg, err := sc.KernelConfig()
	require.NoError(t, err)
	require.Equal(t, kthread.PriorityBounds{}, *cfg.Priority)

	res, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, 0, threadResult(t, res, "a").Priority)
}

func TestRunNotForkedThreadStaysNew(t *testing.T) {
	sc, err := Parse("n.toml", `
[[thread]]
name = "a"
steps = ["yield"]

[[thread]]
name = "spare"
autostart = false
steps = ["yield"]
`)
	require.NoError(t, err)
	res, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, "new", threadResult(t, res, "spare").Status)
	require.Equal(t, []string{"a"}, res.FinishOrder)
}

func TestRunFaultIsReported(t *testing.T) {
	// Releasing a lock held by another thread is a kernel assertion.
	sc, err := Parse("f.toml", `
[[lock]]
name = "L"

[[thread]]
name = "owner"
steps = ["acquire L", "yield", "release L"]

[[thread]]
name = "thief"
steps = ["release L"]
`)
	require.NoError(t, err)
	res, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.True(t, kthread.IsAssertionFailure(res.Err), "got %v", res.Err)
	var fe *kthread.FaultError
	require.True(t, errors.As(res.Err, &fe))
	require.Equal(t, "thief (#4)", fe.Thread)
}

func TestRunEmitsScenarioSpan(t *testing.T) {
	ring := trace.NewRingTracer(256, trace.LevelPhase)
	ctx := trace.WithTracer(context.Background(), ring)
	sc, err := Load(filepath.Join("testdata", "pingpong.toml"))
	require.NoError(t, err)
	res, err := Run(ctx, sc, Options{})
	require.NoError(t, err)

	var begin, end bool
	for _, ev := range ring.Snapshot() {
		if ev.Name != "scenario" {
			continue
		}
		switch ev.Kind {
		case trace.KindSpanBegin:
			begin = true
		case trace.KindSpanEnd:
			end = true
			require.Equal(t, "pingpong", ev.Extra["name"])
			require.Equal(t, "ok", ev.Detail)
			require.Equal(t, res.Ticks, ev.Tick)
			require.Equal(t, strconv.FormatUint(res.Ticks, 10), ev.Extra["ticks"])
		}
	}
	require.True(t, begin && end, "scenario span missing")
}

func TestRunAllKeepsOrderAndReportsProgress(t *testing.T) {
	names := []string{"donation.toml", "pingpong.toml", "deadlock.toml", "alarm.toml", "condition.toml"}
	var scenarios []*Scenario
	for _, n := range names {
		sc, err := Load(filepath.Join("testdata", n))
		require.NoError(t, err)
		scenarios = append(scenarios, sc)
	}

	var mu sync.Mutex
	final := make(map[int]State)
	queued := 0
	opts := Options{
		Parallel: 2,
		OnProgress: func(p Progress) {
			mu.Lock()
			defer mu.Unlock()
			if p.State == StateQueued {
				queued++
				return
			}
			final[p.Index] = p.State
		},
	}
	results, err := RunAll(context.Background(), scenarios, opts)
	require.NoError(t, err)
	require.Len(t, results, len(names))
	for i, res := range results {
		require.Equal(t, scenarios[i].Name, res.Name)
	}
	require.Equal(t, len(names), queued)
	require.Equal(t, StateFailed, final[2])
	for _, i := range []int{0, 1, 3, 4} {
		require.Equal(t, StatePassed, final[i], "scenario %d", i)
	}
}

func TestRunAllNestsScenarioSpans(t *testing.T) {
	ring := trace.NewRingTracer(1024, trace.LevelPhase)
	ctx := trace.WithTracer(context.Background(), ring)
	var scenarios []*Scenario
	for _, n := range []string{"donation.toml", "pingpong.toml"} {
		sc, err := Load(filepath.Join("testdata", n))
		require.NoError(t, err)
		scenarios = append(scenarios, sc)
	}
	_, err := RunAll(ctx, scenarios, Options{Parallel: 1})
	require.NoError(t, err)

	var batchID uint64
	var parents []uint64
	for _, ev := range ring.Snapshot() {
		if ev.Kind != trace.KindSpanEnd {
			continue
		}
		switch ev.Name {
		case "batch":
			batchID = ev.SpanID
			require.Equal(t, "done", ev.Detail)
			require.Equal(t, "2", ev.Extra["scenarios"])
		case "scenario":
			parents = append(parents, ev.ParentID)
		}
	}
	require.NotZero(t, batchID)
	require.Equal(t, []uint64{batchID, batchID}, parents)
}

func TestRunCancelled(t *testing.T) {
	sc, err := Parse("spin.toml", `
[[thread]]
name = "a"
steps = ["yield 1000"]
`)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, sc, Options{})
	require.NoError(t, err)
	require.ErrorIs(t, res.Err, context.Canceled)
}

func TestExamplesRunClean(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "examples", "*.toml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, path := range files {
		t.Run(filepath.Base(path), func(t *testing.T) {
			sc, err := Load(path)
			require.NoError(t, err)
			res, err := Run(context.Background(), sc, Options{})
			require.NoError(t, err)
			require.NoError(t, res.Err)
			require.Len(t, res.FinishOrder, len(sc.Threads))
		})
	}
}

func TestJoinDonationLiftsJoinedThread(t *testing.T) {
	sc, err := Load(filepath.Join("..", "..", "examples", "join_donation.toml"))
	require.NoError(t, err)
	res, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, []string{"worker", "boss", "middle"}, res.FinishOrder)

	sc.Kernel.JoinDonation = false
	res, err = Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, []string{"middle", "worker", "boss"}, res.FinishOrder)
}
