// Package token estimates model token counts for budgeting decisions.
package token

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Words-to-tokens ratio approximation (1 token ~ 0.75 words for English).
const wordsPerToken = 0.75

// Counter estimates token counts for a target model family. It uses the
// model's BPE encoding when available and falls back to a word-based
// heuristic when the encoding cannot be loaded (offline deployments).
type Counter struct {
	model string
	mu    sync.Mutex
	enc   *tiktoken.Tiktoken
	init  bool
}

// NewCounter returns a counter for the given model name. The encoding
// is resolved lazily on first use.
func NewCounter(model string) *Counter {
	return &Counter{model: model}
}

// Count returns the estimated number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return heuristicCount(text)
}

// CountAll sums Count over several strings.
func (c *Counter) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}

func (c *Counter) encoding() *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.init {
		c.init = true
		enc, err := tiktoken.EncodingForModel(c.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		}
		if err != nil {
			slog.Warn("token encoding unavailable, using word heuristic", "model", c.model, "err", err)
		} else {
			c.enc = enc
		}
	}
	return c.enc
}

func heuristicCount(s string) int {
	words := len(strings.Fields(s))
	if words == 0 {
		return 0
	}
	tokens := int(float64(words) / wordsPerToken)
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
