package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// WorkItem is one passage to transform. Index is its 0-based position in
// the input and its slot in the ledger.
type WorkItem struct {
	Index     int    `json:"-"`
	Target    string `json:"target"`
	Context   string `json:"context,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// LoadItems reads a JSON array of work items from path.
func LoadItems(path string) ([]WorkItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	items, err := DecodeItems(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}

// DecodeItems parses a JSON array of objects with a required "target" and
// optional "context" and "reference" strings.
func DecodeItems(r io.Reader) ([]WorkItem, error) {
	var raw []struct {
		Target    *string `json:"target"`
		Context   string  `json:"context"`
		Reference string  `json:"reference"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode work items: %w", err)
	}

	items := make([]WorkItem, len(raw))
	for i, r := range raw {
		if r.Target == nil {
			return nil, fmt.Errorf("work item %d has no target", i+1)
		}
		items[i] = WorkItem{
			Index:     i,
			Target:    *r.Target,
			Context:   r.Context,
			Reference: r.Reference,
		}
	}
	return items, nil
}
