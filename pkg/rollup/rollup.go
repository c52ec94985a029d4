// Package rollup renders the combined document of every completed entry.
package rollup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/proofreader/pkg/ledger"
)

// Separator joins consecutive completed entries.
const Separator = "\n\n"

// Emit joins the Done entries in index order. Pending entries are skipped.
func Emit(entries ledger.Entries) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			parts = append(parts, *e)
		}
	}
	return strings.Join(parts, Separator)
}

// WriteFile overwrites path with the rollup of entries.
func WriteFile(path string, entries ledger.Entries) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create rollup dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(Emit(entries)), 0o644); err != nil {
		return fmt.Errorf("write rollup: %w", err)
	}
	return nil
}
