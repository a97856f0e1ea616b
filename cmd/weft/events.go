package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"weft/internal/trace"
)

var eventsCmd = &cobra.Command{
	Use:   "events [flags] <dump.msgpack>",
	Short: "Print a kernel event dump",
	Long:  `Decode an event dump written by "weft run --events" and print it`,
	Args:  cobra.ExactArgs(1),
	RunE:  eventsExecution,
}

func init() {
	eventsCmd.Flags().String("format", "text", "output format (text|ndjson)")
	eventsCmd.Flags().String("thread", "", "only events of threads whose name contains this")
	eventsCmd.Flags().String("scope", "", "only events of this scope (kernel|thread|dispatch|queue)")
}

func eventsExecution(cmd *cobra.Command, args []string) error {
	formatStr, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	threadFilter, err := cmd.Flags().GetString("thread")
	if err != nil {
		return err
	}
	scopeFilter, err := cmd.Flags().GetString("scope")
	if err != nil {
		return err
	}

	format, err := trace.ParseFormat(formatStr)
	if err != nil {
		return err
	}
	if format == trace.FormatAuto {
		format = trace.FormatText
	}

	events, err := trace.ReadDumpFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}

	out := cmd.OutOrStdout()
	for i := range events {
		ev := &events[i]
		if threadFilter != "" && !strings.Contains(ev.Thread, threadFilter) {
			continue
		}
		if scopeFilter != "" && ev.Scope.String() != strings.ToLower(scopeFilter) {
			continue
		}
		if _, err := out.Write(trace.FormatEvent(ev, format)); err != nil {
			return err
		}
	}
	return nil
}
