package memory

import "testing"

func TestLexicalSimilarity_IdenticalTextScoresHighestAmongCorpus(t *testing.T) {
	corpus := []string{
		"the deploy pipeline retries on transient failures",
		"the database migration tool supports rollback",
		"cats are generally independent animals",
	}
	query := "the deploy pipeline retries on transient failures"

	scores := make([]float64, len(corpus))
	for i, doc := range corpus {
		scores[i] = lexicalSimilarity(query, doc, corpus)
	}
	for i := 1; i < len(scores); i++ {
		if scores[0] <= scores[i] {
			t.Fatalf("expected identical text to score highest, got %v", scores)
		}
	}
}

func TestLexicalSimilarity_UnrelatedTextScoresLow(t *testing.T) {
	corpus := []string{"deploy the pipeline", "feed the cats"}
	score := lexicalSimilarity("deploy the pipeline", "feed the cats", corpus)
	if score > 0.3 {
		t.Fatalf("expected low similarity between unrelated text, got %f", score)
	}
}

func TestBigramSimilarity_CatchesNearMatchTypos(t *testing.T) {
	exact := bigramSimilarity("retry policy", "retry policy")
	typo := bigramSimilarity("retry policy", "retry polixy")
	unrelated := bigramSimilarity("retry policy", "feed the cats")
	if exact != 1 {
		t.Fatalf("expected identical strings to score 1, got %f", exact)
	}
	if typo <= unrelated {
		t.Fatalf("expected a single-character typo to score above an unrelated string: typo=%f unrelated=%f", typo, unrelated)
	}
}

func TestJaccardSimilarity_EmptyInputsScoreZero(t *testing.T) {
	if got := jaccardSimilarity(nil, nil); got != 0 {
		t.Fatalf("expected 0 for two empty token sets, got %f", got)
	}
}

func TestCosineVec_OrthogonalVectorsScoreZero(t *testing.T) {
	if got := cosineVec([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Fatalf("expected orthogonal vectors to score 0, got %f", got)
	}
}
