package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weft/internal/trace"
)

// setupTracing reads the trace flags and attaches a tracer to the command's
// context. When keepRing is set a ring buffer is added even if the flags
// would not create one, so its events can be dumped afterwards. probe feeds
// the heartbeat, if one is requested.
func setupTracing(cmd *cobra.Command, keepRing bool, probe trace.Probe) (func(), error) {
	root := cmd.Root()

	traceOutput, err := root.PersistentFlags().GetString("trace")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := root.PersistentFlags().GetString("trace-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := root.PersistentFlags().GetString("trace-mode")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	ringSize, err := root.PersistentFlags().GetInt("trace-ring-size")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	heartbeatInterval, err := root.PersistentFlags().GetDuration("trace-heartbeat")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace level: %w", err)
	}
	// An output path alone turns tracing on at phase level.
	if level == trace.LevelOff && traceOutput != "" {
		level = trace.LevelPhase
	}

	var tracer trace.Tracer = trace.Nop
	if level != trace.LevelOff {
		mode, err := trace.ParseMode(modeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid trace mode: %w", err)
		}
		tracer, err = trace.New(trace.Config{
			Level:      level,
			Mode:       mode,
			OutputPath: traceOutput,
			RingSize:   ringSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create tracer: %w", err)
		}
	}
	if keepRing && trace.FindRing(tracer) == nil {
		ringLevel := max(level, trace.LevelDetail)
		ring := trace.NewRingTracer(ringSize, ringLevel)
		if tracer.Enabled() {
			tracer = trace.NewMultiTracer(ringLevel, tracer, ring)
		} else {
			tracer = ring
		}
	}
	if !tracer.Enabled() {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() {}, nil
	}

	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(ctx)

	var heartbeat *trace.Heartbeat
	if heartbeatInterval > 0 {
		heartbeat = trace.StartHeartbeat(tracer, heartbeatInterval, probe)
	}

	cleanup := func() {
		if heartbeat != nil {
			heartbeat.Stop()
		}
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return cleanup, nil
}
