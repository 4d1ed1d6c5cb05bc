// Package memory renders the three-tier (Working/Episodic/Semantic)
// memory context injected into substrate requests, and implements the
// decay and distinct-accessor-gated promotion rules that move a memory
// between tiers over time. Retriever scores each candidate by
// 0.5*semantic_sim + 0.3*decay_factor + 0.2*importance (see
// similarity.go) and greedily fills a token budget highest-score-first;
// NewContextBlock's plainer tier-then-confidence ordering remains
// available for callers with no query to rank against.
package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/odgrim/abathur/internal/store"
)

// minConfidence is the relevance floor: memories below it contribute
// nothing to context and are not worth the tokens.
const minConfidence = 0.1

// ContextBlock is a token-budgeted, tier-ordered rendering of a
// namespace's active memories into a tagged <memory> block a substrate
// request's context can carry.
type ContextBlock struct {
	memories []store.Memory
}

// NewContextBlock filters out archived and low-confidence memories and
// orders the rest Semantic > Episodic > Working, then by confidence
// descending within a tier — stable knowledge should crowd out
// still-unproven working notes when space is tight.
func NewContextBlock(memories []store.Memory) *ContextBlock {
	var filtered []store.Memory
	for _, m := range memories {
		if m.State == store.MemoryStateArchived {
			continue
		}
		if m.Confidence < minConfidence {
			continue
		}
		filtered = append(filtered, m)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		ri, rj := tierRank(filtered[i].Tier), tierRank(filtered[j].Tier)
		if ri != rj {
			return ri < rj
		}
		return filtered[i].Confidence > filtered[j].Confidence
	})
	return &ContextBlock{memories: filtered}
}

// FormatOrdered renders memories as a tagged <memory> block without
// re-sorting, for a caller — Retriever.Select is the one today — that has
// already filtered and ranked them by its own scoring.
func FormatOrdered(memories []store.Memory, maxTokens int) string {
	return (&ContextBlock{memories: memories}).Format(maxTokens)
}

func tierRank(t store.MemoryTier) int {
	switch t {
	case store.MemoryTierSemantic:
		return 0
	case store.MemoryTierEpisodic:
		return 1
	default:
		return 2
	}
}

// Format renders the block as a tagged text section for substrate
// request context, capped at maxTokens (0 = unbounded). Memories are
// dropped from the tail (lowest priority first) until the block fits.
func (b *ContextBlock) Format(maxTokens int) string {
	if len(b.memories) == 0 {
		return ""
	}
	lines := make([]string, 0, len(b.memories))
	for _, m := range b.memories {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Key, m.Value))
	}
	if maxTokens > 0 {
		for EstimateTokens(renderLines(lines)) > maxTokens && len(lines) > 0 {
			lines = lines[:len(lines)-1]
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return renderLines(lines)
}

func renderLines(lines []string) string {
	return "<memory>\n" + strings.Join(lines, "\n") + "\n</memory>"
}
