package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"weft/internal/scenario"
)

type reportOptions struct {
	color bool
	quiet bool
	steps bool
}

type reporter struct {
	out  io.Writer
	opts reportOptions
	num  *message.Printer

	okColor   *color.Color
	failColor *color.Color
	dimColor  *color.Color
	nameColor *color.Color
}

func newReporter(out io.Writer, opts reportOptions) *reporter {
	r := &reporter{
		out:       out,
		opts:      opts,
		num:       message.NewPrinter(language.English),
		okColor:   color.New(color.FgGreen, color.Bold),
		failColor: color.New(color.FgRed, color.Bold),
		dimColor:  color.New(color.Faint),
		nameColor: color.New(color.Bold),
	}
	for _, c := range []*color.Color{r.okColor, r.failColor, r.dimColor, r.nameColor} {
		if opts.color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// ticks formats a tick count with thousands separators.
func (r *reporter) ticks(n uint64) string {
	return r.num.Sprintf("%d", n)
}

func (r *reporter) renderText(results []*scenario.Result) {
	failed := 0
	for _, res := range results {
		if res == nil {
			continue
		}
		if !res.OK() {
			failed++
		}
		r.renderResult(res)
	}
	summary := fmt.Sprintf("%d scenarios, %d passed, %d failed", len(results), len(results)-failed, failed)
	if failed > 0 {
		fmt.Fprintln(r.out, r.failColor.Sprint(summary))
	} else {
		fmt.Fprintln(r.out, r.okColor.Sprint(summary))
	}
}

func (r *reporter) renderResult(res *scenario.Result) {
	status := r.okColor.Sprint("ok")
	if !res.OK() {
		status = r.failColor.Sprint("FAIL")
	}
	fmt.Fprintf(r.out, "%s %s  %s  %s ticks  %s\n",
		status,
		r.nameColor.Sprint(res.Name),
		res.Scheduler,
		r.ticks(res.Ticks),
		r.dimColor.Sprintf("(%.1f ms)", float64(res.Elapsed.Microseconds())/1000))
	if res.Error != "" {
		fmt.Fprintf(r.out, "  error: %s\n", res.Error)
	}
	if r.opts.quiet {
		return
	}

	rows := [][]string{{"thread", "id", "prio", "status", "finished"}}
	for _, th := range res.Threads {
		finished := "-"
		if th.Status == "finished" {
			finished = r.ticks(th.FinishedAt)
		}
		rows = append(rows, []string{
			th.Name,
			"#" + strconv.FormatUint(th.ID, 10),
			strconv.Itoa(th.Priority),
			th.Status,
			finished,
		})
	}
	for i, line := range alignColumns(rows) {
		if i == 0 {
			line = r.dimColor.Sprint(line)
		}
		fmt.Fprintf(r.out, "  %s\n", line)
	}
	for _, th := range res.Threads {
		if len(th.Heard) > 0 {
			fmt.Fprintf(r.out, "  %s heard %s\n", th.Name, joinInts(th.Heard))
		}
	}
	if len(res.FinishOrder) > 0 {
		fmt.Fprintf(r.out, "  finish order: %s\n", strings.Join(res.FinishOrder, ", "))
	}
	if res.Stats != nil {
		fmt.Fprintf(r.out, "  %s\n", r.dimColor.Sprintf("recomputes: %s thread, %s queue; dirty marks: %s",
			r.num.Sprintf("%d", res.Stats.ThreadRecomputes),
			r.num.Sprintf("%d", res.Stats.QueueRecomputes),
			r.num.Sprintf("%d", res.Stats.DirtyMarks)))
	}
	if r.opts.steps {
		for _, e := range res.Log {
			fmt.Fprintf(r.out, "  [tick %7d] %s #%d %s %s\n", e.Tick, e.Thread, e.Step, e.Op, e.Detail)
		}
	}
	fmt.Fprintln(r.out)
}

func renderJSON(out io.Writer, results []*scenario.Result) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// alignColumns pads every cell to its column's display width.
func alignColumns(rows [][]string) []string {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	lines := make([]string, len(rows))
	for n, row := range rows {
		var sb strings.Builder
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			if i == len(row)-1 {
				sb.WriteString(cell)
				continue
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		lines[n] = sb.String()
	}
	return lines
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
