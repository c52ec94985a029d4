package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Entries holds one slot per work item: nil is Pending, non-nil is Done.
type Entries []*string

// NewEntries returns n Pending slots.
func NewEntries(n int) Entries {
	return make(Entries, n)
}

// Text returns a Done slot value for text.
func Text(text string) *string {
	return &text
}

// IsDone reports whether slot i holds a result. Out-of-range is not Done.
func (e Entries) IsDone(i int) bool {
	return i >= 0 && i < len(e) && e[i] != nil
}

// DoneCount returns the number of Done slots.
func (e Entries) DoneCount() int {
	n := 0
	for _, s := range e {
		if s != nil {
			n++
		}
	}
	return n
}

// Pending filters candidates to in-range Pending indices, keeping order and
// dropping duplicates.
func (e Entries) Pending(candidates []int) []int {
	seen := make(map[int]struct{}, len(candidates))
	out := make([]int, 0, len(candidates))
	for _, i := range candidates {
		if i < 0 || i >= len(e) || e[i] != nil {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}

// encodeEntries renders entries as a JSON array of null or string with
// two-space indentation and unescaped non-ASCII and HTML characters.
func encodeEntries(e Entries) ([]byte, error) {
	if e == nil {
		e = Entries{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// decodeEntries parses a JSON ledger. Anything other than an array of
// null or string is reported as ErrCorrupt.
func decodeEntries(data []byte) (Entries, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: not a JSON array", ErrCorrupt)
	}
	var e Entries
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return e, nil
}
