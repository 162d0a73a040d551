package retrieval

import (
	"strings"

	"sahayak/internal/domain"
	"sahayak/internal/token"
)

// minFragmentTokens is the smallest truncated fragment worth including;
// below this a candidate is skipped instead of truncated.
const minFragmentTokens = 16

// Compressor fits a ranked candidate set into a token budget, highest
// value content first. The result's TotalTokens never exceeds the
// budget.
type Compressor struct {
	counter     *token.Counter
	minFragment int
}

// CompressorConfig configures the compressor. MinFragment defaults to
// minFragmentTokens.
type CompressorConfig struct {
	Counter     *token.Counter
	MinFragment int
}

func NewCompressor(cfg CompressorConfig) *Compressor {
	if cfg.MinFragment <= 0 {
		cfg.MinFragment = minFragmentTokens
	}
	return &Compressor{counter: cfg.Counter, minFragment: cfg.MinFragment}
}

// Compress greedily includes candidates in rank order. A candidate that
// does not fit whole is truncated to the remaining allowance at a
// sentence boundary where possible, or skipped when the remainder is
// below the minimum usable fragment size.
func (c *Compressor) Compress(ranked []domain.ScoredChunk, tokenBudget int) domain.RetrievedContext {
	if tokenBudget <= 0 {
		return domain.RetrievedContext{}
	}

	var out domain.RetrievedContext
	remaining := tokenBudget

	for _, cand := range ranked {
		if remaining <= 0 {
			break
		}
		if cand.Chunk.Text == "" {
			// Chunk may have been evicted between search and now;
			// tolerate and move on.
			continue
		}

		need := cand.Chunk.TokenCount
		if need <= 0 {
			need = c.counter.Count(cand.Chunk.Text)
		}

		if need <= remaining {
			out.Chunks = append(out.Chunks, cand)
			out.TotalTokens += need
			remaining -= need
			continue
		}

		if remaining < c.minFragment {
			continue
		}

		truncated, used := c.truncate(cand.Chunk.Text, remaining)
		if used == 0 {
			continue
		}
		cand.Chunk.Text = truncated
		cand.Chunk.TokenCount = used
		out.Chunks = append(out.Chunks, cand)
		out.TotalTokens += used
		remaining -= used
	}

	return out
}

// truncate cuts text down to at most allowance tokens, preferring a
// sentence boundary and falling back to a clause boundary, then to a
// hard word cut.
func (c *Compressor) truncate(text string, allowance int) (string, int) {
	if fits := c.counter.Count(text); fits <= allowance {
		return text, fits
	}

	for _, boundary := range []func(string) []string{splitSentences, splitClauses} {
		parts := boundary(text)
		if len(parts) < 2 {
			continue
		}
		kept, used := c.accumulate(parts, allowance)
		if used > 0 {
			return kept, used
		}
	}

	// No boundary fits: hard-cut on words.
	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.counter.Count(strings.Join(words[:mid], " ")) <= allowance {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return "", 0
	}
	kept := strings.Join(words[:lo], " ")
	return kept, c.counter.Count(kept)
}

// accumulate joins parts for as long as the running text stays within
// allowance.
func (c *Compressor) accumulate(parts []string, allowance int) (string, int) {
	var b strings.Builder
	used := 0
	for _, p := range parts {
		candidate := strings.TrimSpace(b.String() + " " + p)
		n := c.counter.Count(candidate)
		if n > allowance {
			break
		}
		b.Reset()
		b.WriteString(candidate)
		used = n
	}
	return b.String(), used
}

func splitSentences(text string) []string {
	return splitAfter(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n' || r == '।'
	})
}

func splitClauses(text string) []string {
	return splitAfter(text, func(r rune) bool {
		return r == ',' || r == ';' || r == ':'
	})
}

func splitAfter(text string, isBoundary func(rune) bool) []string {
	var parts []string
	start := 0
	for i, r := range text {
		if isBoundary(r) {
			part := strings.TrimSpace(text[start : i+len(string(r))])
			if part != "" {
				parts = append(parts, part)
			}
			start = i + len(string(r))
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
