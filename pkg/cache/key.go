package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Key identifies one completion: the same model, provider-side model,
// temperature, instruction and prompt yield the same key.
type Key struct {
	// Model is the model id.
	Model string

	// APIModel is the provider-side model name Model resolves to.
	APIModel string

	// Temperature is the sampling temperature sent to the provider.
	Temperature float64

	// Instruction is the system instruction sent with the prompt.
	Instruction string

	// Prompt is the full user input (material and target).
	Prompt string
}

// String generates a deterministic cache key string.
// Format: proofread:completion:<model>:<sha256 of the remaining fields>
//
// Example:
//
//	proofread:completion:deepseek-chat:9f86d081884c7d65...
func (k Key) String() string {
	h := sha256.New()
	h.Write([]byte(k.APIModel))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(k.Temperature, 'g', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(k.Instruction))
	h.Write([]byte{0})
	h.Write([]byte(k.Prompt))

	model := strings.ReplaceAll(k.Model, ":", "_")
	return "proofread:completion:" + model + ":" + hex.EncodeToString(h.Sum(nil))
}
