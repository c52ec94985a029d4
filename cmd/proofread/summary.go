package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/Sternrassler/proofreader/pkg/batch"
	"github.com/fatih/color"
)

var (
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
)

// initColors disables colour when asked to or when w is not a terminal.
func initColors(w io.Writer, noColor bool) {
	color.NoColor = noColor || !isTerminal(w)
}

func errorf(w io.Writer, format string, args ...any) {
	_, _ = red.Fprintf(w, "✗ "+format+"\n", args...)
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// printSummary reports progress over the whole input and lists every item
// still pending.
func printSummary(w io.Writer, input string, s batch.Stats) {
	fmt.Fprintln(w)
	_, _ = bold.Fprintf(w, "[%s] progress:\n", filepath.Base(input))
	fmt.Fprintf(w, "total items: %d\n", s.Total)

	done := green
	if s.Completed < s.Total {
		done = yellow
	}
	_, _ = done.Fprintf(w, "completed items, chars: %d (%.2f%%), %d (%.2f%%)\n",
		s.Completed, percent(s.Completed, s.Total),
		s.CompletedChars, s.CompletedCharsRatio()*100)
	fmt.Fprintf(w, "pending items, chars: %d (%.2f%%), %d (%.2f%%)\n",
		s.Pending, percent(s.Pending, s.Total),
		s.PendingChars, percent(s.PendingChars, s.TotalChars))
	if s.Duration > 0 {
		_, _ = dim.Fprintf(w, "run took %s\n", s.Duration.Round(1e9))
	}

	for _, u := range s.Unprocessed {
		_, _ = yellow.Fprintf(w, "No.%d", u.Index+1)
		fmt.Fprintf(w, " %s\n", u.Snippet)
	}
}
