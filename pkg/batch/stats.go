package batch

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Sternrassler/proofreader/pkg/ledger"
)

// snippetRunes is how much of an item's first line is shown for it.
const snippetRunes = 20

// Unprocessed identifies an item still Pending after a run.
type Unprocessed struct {
	Index   int
	Snippet string
}

// Stats summarizes a ledger against its input. Character counts are runes.
type Stats struct {
	Total          int
	Completed      int
	Pending        int
	CompletedChars int
	PendingChars   int
	TotalChars     int
	Unprocessed    []Unprocessed
	Duration       time.Duration
}

// ComputeStats compares entries with items. Completed characters count the
// outputs; pending and total characters count the input targets.
func ComputeStats(items []WorkItem, entries ledger.Entries) Stats {
	s := Stats{Total: len(items)}
	for i, item := range items {
		chars := utf8.RuneCountInString(item.Target)
		s.TotalChars += chars

		if entries.IsDone(i) {
			s.Completed++
			s.CompletedChars += utf8.RuneCountInString(*entries[i])
			continue
		}
		s.Pending++
		s.PendingChars += chars
		s.Unprocessed = append(s.Unprocessed, Unprocessed{Index: i, Snippet: Snippet(item.Target)})
	}
	return s
}

// CompletedRatio returns the completed share of items, 0..1.
func (s Stats) CompletedRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

// CompletedCharsRatio returns completed output characters over input
// characters. It may exceed 1 when outputs are longer than inputs.
func (s Stats) CompletedCharsRatio() float64 {
	if s.TotalChars == 0 {
		return 0
	}
	return float64(s.CompletedChars) / float64(s.TotalChars)
}

// Snippet returns the first 20 characters of the first non-blank line of
// text followed by "...".
func Snippet(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) > snippetRunes {
		runes := []rune(text)
		text = string(runes[:snippetRunes])
	}
	return text + "..."
}
