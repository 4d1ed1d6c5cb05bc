package memory

import (
	"context"
	"math"
	"regexp"
	"strings"
)

// EmbeddingProvider produces a dense vector for a piece of text. When one
// is configured, Retriever scores candidates by cosine similarity over
// embeddings instead of the lexical composite.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// tokenize lowercases and splits text into word tokens, dropping
// punctuation. Shared by the TF-IDF and Jaccard components so both see
// the same vocabulary.
func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// termFreq returns each token's count within tokens.
func termFreq(tokens []string) map[string]int {
	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}
	return freq
}

// tfidfVector builds a per-token TF-IDF weight for doc, where idf is
// computed from doc's occurrence across corpus (doc included). Rare
// tokens across the candidate set score higher than common ones, the
// standard log(N/df) weighting.
func tfidfVector(doc []string, corpus [][]string) map[string]float64 {
	tf := termFreq(doc)
	n := float64(len(corpus))
	vec := make(map[string]float64, len(tf))
	for tok, count := range tf {
		df := 0
		for _, other := range corpus {
			for _, t := range other {
				if t == tok {
					df++
					break
				}
			}
		}
		idf := math.Log((n+1)/(float64(df)+1)) + 1
		vec[tok] = float64(count) * idf
	}
	return vec
}

// cosineSimilarity computes the cosine of the angle between two sparse
// vectors keyed by token.
func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for tok, av := range a {
		normA += av * av
		if bv, ok := b[tok]; ok {
			dot += av * bv
		}
	}
	for _, bv := range b {
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// jaccardSimilarity is |A∩B| / |A∪B| over the two token sets.
func jaccardSimilarity(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, tok := range a {
		setA[tok] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, tok := range b {
		setB[tok] = struct{}{}
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersect := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersect++
		}
	}
	union := len(setA) + len(setB) - intersect
	if union == 0 {
		return 0
	}
	return float64(intersect) / float64(union)
}

// bigrams returns the overlapping character bigrams of s, catching
// near-matches (typos, stemming variants) that whole-token comparison
// misses.
func bigrams(s string) map[string]int {
	s = strings.ToLower(s)
	if len(s) < 2 {
		return map[string]int{s: 1}
	}
	grams := make(map[string]int, len(s)-1)
	runes := []rune(s)
	for i := 0; i < len(runes)-1; i++ {
		grams[string(runes[i:i+2])]++
	}
	return grams
}

// bigramSimilarity is the Sørensen-Dice coefficient over character
// bigram multisets: 2*|A∩B| / (|A|+|B|).
func bigramSimilarity(a, b string) float64 {
	ga, gb := bigrams(a), bigrams(b)
	var total, shared int
	for g, ca := range ga {
		total += ca
		if cb, ok := gb[g]; ok {
			shared += min(ca, cb)
		}
	}
	for _, cb := range gb {
		total += cb
	}
	if total == 0 {
		return 0
	}
	return 2 * float64(shared) / float64(total)
}

// lexicalSimilarity is the composite semantic_sim spec.md §4.7 calls
// for: the mean of a TF-IDF cosine, a Jaccard token overlap, and a
// character-bigram Dice coefficient. Averaging three independent
// notions of "alike" smooths over any single metric's blind spot (exact
// rare-word overlap, bag-of-words overlap, and surface-level
// near-misses respectively).
func lexicalSimilarity(query, doc string, corpus []string) float64 {
	queryTokens, docTokens := tokenize(query), tokenize(doc)
	corpusTokens := make([][]string, len(corpus))
	for i, c := range corpus {
		corpusTokens[i] = tokenize(c)
	}
	tfidf := cosineSimilarity(tfidfVector(queryTokens, corpusTokens), tfidfVector(docTokens, corpusTokens))
	jaccard := jaccardSimilarity(queryTokens, docTokens)
	bigram := bigramSimilarity(query, doc)
	return (tfidf + jaccard + bigram) / 3
}

// cosineVec is cosine similarity over two dense embedding vectors,
// truncated to the shorter length if they disagree.
func cosineVec(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// semanticSim scores query against doc using embedder's cosine
// similarity when configured, falling back to the lexical composite
// otherwise. corpus is the full candidate document set, used to weight
// the TF-IDF fallback's idf term.
func semanticSim(ctx context.Context, embedder EmbeddingProvider, query, doc string, corpus []string) float64 {
	if embedder == nil {
		return lexicalSimilarity(query, doc, corpus)
	}
	qv, err := embedder.Embed(ctx, query)
	if err != nil {
		return lexicalSimilarity(query, doc, corpus)
	}
	dv, err := embedder.Embed(ctx, doc)
	if err != nil {
		return lexicalSimilarity(query, doc, corpus)
	}
	return cosineVec(qv, dv)
}
