package transform

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed system_prompt.txt
var defaultSystemPrompt string

// DefaultSystemPrompt returns the built-in proofreading instruction.
func DefaultSystemPrompt() string {
	return defaultSystemPrompt
}

// LoadSystemPrompt reads a system instruction from path.
// An empty path selects the built-in instruction.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return defaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("system prompt %s is empty", path)
	}
	return prompt, nil
}

// ContextPlacement selects where the surrounding context block goes.
type ContextPlacement string

const (
	// PlacementMaterial appends context after the reference block.
	PlacementMaterial ContextPlacement = "material"
	// PlacementTarget prepends context directly before the target block.
	PlacementTarget ContextPlacement = "target"
)

// ParsePlacement validates a placement name. Empty selects PlacementMaterial.
func ParsePlacement(s string) (ContextPlacement, error) {
	switch ContextPlacement(strings.ToLower(s)) {
	case "", PlacementMaterial:
		return PlacementMaterial, nil
	case PlacementTarget:
		return PlacementTarget, nil
	default:
		return "", fmt.Errorf("unknown context placement %q (supported: material, target)", s)
	}
}

// Prompt is the tagged user input for one work item.
type Prompt struct {
	// Material holds the <reference> and <context> blocks, possibly empty.
	Material string
	// Target holds the <target> block.
	Target string
}

// Combined returns the material and target as a single text, as sent to
// backends that take one content part.
func (p Prompt) Combined() string {
	if p.Material == "" {
		return p.Target
	}
	return p.Material + "\n" + p.Target
}

// BuildPrompt tags a work item's texts. Context is included only when it is
// non-empty and differs from the target after trimming whitespace.
func BuildPrompt(target, context, reference string, placement ContextPlacement) Prompt {
	var p Prompt
	if reference != "" {
		p.Material = wrap("reference", reference)
	}

	withContext := strings.TrimSpace(context) != "" &&
		strings.TrimSpace(context) != strings.TrimSpace(target)

	p.Target = wrap("target", target)
	if withContext {
		block := wrap("context", context)
		switch placement {
		case PlacementTarget:
			p.Target = block + "\n" + p.Target
		default:
			if p.Material != "" {
				p.Material += "\n"
			}
			p.Material += block
		}
	}
	return p
}

func wrap(tag, text string) string {
	return "<" + tag + ">\n" + text + "\n</" + tag + ">"
}

// UnwrapTarget removes the target tags a model may echo around its answer.
func UnwrapTarget(text string) string {
	text = strings.ReplaceAll(text, "\n</target>", "")
	text = strings.ReplaceAll(text, "<target>\n", "")
	return text
}
