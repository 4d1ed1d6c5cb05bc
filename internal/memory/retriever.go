package memory

import (
	"context"
	"sort"
	"time"

	"github.com/odgrim/abathur/internal/store"
)

// Retriever selects the memories most relevant to a query under a token
// budget, generalizing NewContextBlock's static (tier, confidence)
// ordering to the weighted relevance score spec.md §4.7 specifies:
// 0.5*semantic_sim + 0.3*decay_factor + 0.2*importance.
type Retriever struct {
	embedder EmbeddingProvider
	now      func() time.Time
}

// NewRetriever builds a Retriever. embedder may be nil, in which case
// semantic_sim falls back to the lexical TF-IDF/Jaccard/bigram composite.
func NewRetriever(embedder EmbeddingProvider) *Retriever {
	return &Retriever{embedder: embedder, now: time.Now}
}

// scored pairs a candidate memory with its computed relevance score.
type scored struct {
	memory store.Memory
	score  float64
}

// Select scores candidates against query and greedily fills maxTokens
// (0 = unbounded) highest-score-first, the same tail-trimming idiom as
// ContextBlock.Format but choosing by relevance instead of recency of
// insertion. Archived and below-floor-confidence memories are dropped
// first, same as NewContextBlock.
func (r *Retriever) Select(ctx context.Context, query string, candidates []store.Memory, maxTokens int) ([]store.Memory, error) {
	var eligible []store.Memory
	for _, m := range candidates {
		if m.State == store.MemoryStateArchived || m.Confidence < minConfidence {
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	corpus := make([]string, len(eligible))
	for i, m := range eligible {
		corpus[i] = m.Key + " " + m.Value
	}

	now := r.now()
	ranked := make([]scored, len(eligible))
	for i, m := range eligible {
		sim := semanticSim(ctx, r.embedder, query, m.Key+" "+m.Value, corpus)
		decay := DecayFactor(now.Sub(m.UpdatedAt), m.DecayRate)
		importance := memoryImportance(m)
		ranked[i] = scored{memory: m, score: 0.5*sim + 0.3*decay + 0.2*importance}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if maxTokens <= 0 {
		selected := make([]store.Memory, len(ranked))
		for i, s := range ranked {
			selected[i] = s.memory
		}
		return selected, nil
	}

	var selected []store.Memory
	spent := 0
	for _, s := range ranked {
		cost := EstimateTokens(s.memory.Key + ": " + s.memory.Value)
		if spent+cost > maxTokens && len(selected) > 0 {
			continue
		}
		selected = append(selected, s.memory)
		spent += cost
	}
	return selected, nil
}

// memoryImportance is a [0,1] stand-in for the operator-assigned
// importance weight spec.md §4.7 leaves as a free variable: it grows
// with how many distinct agents have found the memory worth accessing,
// saturating at DefaultPromotionThreshold since that's already the bar
// the system treats as "broadly corroborated".
func memoryImportance(m store.Memory) float64 {
	importance := float64(len(m.DistinctAccessors)) / float64(DefaultPromotionThreshold)
	if importance > 1 {
		importance = 1
	}
	return importance
}
