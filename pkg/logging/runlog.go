package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	blockRule = "=================================================="

	runLogTimeFormat = "2006-01-02 15:04:05"
)

// RunStart describes a run at its first dispatch.
type RunStart struct {
	Time              time.Time
	Pending           int
	Total             int
	MaxConcurrency    int
	Model             string
	RequestsPerMinute float64
}

// RunSummary describes a run after every worker finished.
type RunSummary struct {
	Time           time.Time
	Total          int
	Completed      int
	CompletedChars int
	PendingChars   int
	TotalChars     int
	Duration       time.Duration
}

// RunLog is the human-readable, append-only progress log of a ledger. Each
// run appends one block: a start marker, one line per finished item and an
// end marker with totals. It is never read back.
type RunLog struct {
	out    io.Writer
	closer io.Closer
	logger zerolog.Logger
}

// OpenRunLog opens path for appending, creating parent directories.
func OpenRunLog(path string) (*RunLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	r := NewRunLog(f)
	r.closer = f
	return r, nil
}

// NewRunLog writes a run log to w. Writes are serialized.
func NewRunLog(w io.Writer) *RunLog {
	out := zerolog.SyncWriter(w)
	console := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    true,
		TimeFormat: runLogTimeFormat,
	}
	return &RunLog{
		out:    out,
		logger: zerolog.New(console).With().Timestamp().Logger(),
	}
}

// writeBlock emits lines framed by rules in a single write.
func (r *RunLog) writeBlock(lines ...string) {
	var sb strings.Builder
	sb.WriteString("\n" + blockRule + "\n")
	for _, l := range lines {
		sb.WriteString(l + "\n")
	}
	sb.WriteString(blockRule + "\n\n")
	io.WriteString(r.out, sb.String())
}

// Start writes the start marker.
func (r *RunLog) Start(s RunStart) {
	r.writeBlock(
		fmt.Sprintf("run started: %s", s.Time.Format(runLogTimeFormat)),
		fmt.Sprintf("pending items: %d/%d", s.Pending, s.Total),
		fmt.Sprintf("max concurrency: %d", s.MaxConcurrency),
		fmt.Sprintf("model: %s, requests per minute: %g", s.Model, s.RequestsPerMinute),
	)
}

// record starts an item line. Item lines bypass the global level so a
// quiet console never drops them from the run log.
func (r *RunLog) record(level zerolog.Level) *zerolog.Event {
	return r.logger.Log().Str(zerolog.LevelFieldName, level.String())
}

// Completed records a successfully merged item. index is 0-based.
func (r *RunLog) Completed(index, total, chars int, elapsed time.Duration) {
	r.record(zerolog.InfoLevel).
		Str("item", fmt.Sprintf("%d/%d", index+1, total)).
		Int("chars", chars).
		Str("elapsed", fmt.Sprintf("%.2fs", elapsed.Seconds())).
		Msg("completed")
}

// Skipped records an item left Pending after its transformation failed,
// with a short excerpt of the original text.
func (r *RunLog) Skipped(index, total int, snippet string, cause error) {
	r.record(zerolog.WarnLevel).
		Str("item", fmt.Sprintf("%d/%d", index+1, total)).
		Str("original", snippet).
		Err(cause).
		Msg("failed, skipped")
}

// Recovered records that merging an item rebuilt an unreadable ledger.
func (r *RunLog) Recovered(index, total int) {
	r.record(zerolog.WarnLevel).
		Str("item", fmt.Sprintf("%d/%d", index+1, total)).
		Msg("ledger was unreadable and has been rebuilt; earlier results are lost")
}

// Finish writes the end marker with totals.
func (r *RunLog) Finish(s RunSummary) {
	r.writeBlock(
		fmt.Sprintf("run finished: %s (took %s)", s.Time.Format(runLogTimeFormat), s.Duration.Round(time.Second)),
		fmt.Sprintf("completed items, chars: %d/%d, %d/%d", s.Completed, s.Total, s.CompletedChars, s.TotalChars),
		fmt.Sprintf("pending items, chars: %d/%d, %d/%d", s.Total-s.Completed, s.Total, s.PendingChars, s.TotalChars),
	)
}

// Close closes the underlying file, if any.
func (r *RunLog) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
