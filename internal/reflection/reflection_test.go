package reflection

import "testing"

func TestComputeFrictionFeelBuckets(t *testing.T) {
	cases := []struct {
		name     string
		loaded   int
		accessed int
		want     string
	}{
		{"all accessed is smooth", 10, 10, "smooth"},
		{"10pct waste is smooth", 10, 9, "smooth"},
		{"30pct waste is sticky", 10, 7, "sticky"},
		{"60pct waste is rough", 10, 4, "rough"},
		{"nothing loaded has zero waste", 0, 0, "smooth"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := computeFriction(SessionMetrics{MemoriesLoaded: c.loaded, MemoriesAccessed: c.accessed})
			if f.Feel != c.want {
				t.Fatalf("feel = %q, want %q (waste=%v)", f.Feel, c.want, f.WasteRatio)
			}
		})
	}
}

func TestComputeRetrievalAggregates(t *testing.T) {
	sm := SessionMetrics{
		Queries:           4,
		QueryResultCounts: []int{2, 0, 3, 1},
		QueryHits:         3,
		RelevanceScores:   []float64{0.9, 0.7, 0.6},
	}
	r := computeRetrieval(sm)
	if r.Queries != 4 {
		t.Fatalf("queries = %d, want 4", r.Queries)
	}
	if got, want := r.AvgResults, 1.5; got != want {
		t.Fatalf("avg results = %v, want %v", got, want)
	}
	if got, want := r.HitRate, 0.75; got != want {
		t.Fatalf("hit rate = %v, want %v", got, want)
	}
	wantRel := (0.9 + 0.7 + 0.6) / 3
	if got := r.AvgRelevance; got < wantRel-1e-9 || got > wantRel+1e-9 {
		t.Fatalf("avg relevance = %v, want %v", got, wantRel)
	}
}

func TestComputeRetrievalZeroQueries(t *testing.T) {
	r := computeRetrieval(SessionMetrics{})
	if r != (Retrieval{}) {
		t.Fatalf("expected zero-value Retrieval, got %+v", r)
	}
}

func TestDeriveInsightsRoughSessionFlagsWaste(t *testing.T) {
	f := computeFriction(SessionMetrics{MemoriesLoaded: 10, MemoriesAccessed: 2})
	insights := deriveInsights(f, Retrieval{})
	if len(insights) == 0 {
		t.Fatal("expected at least one insight for a rough session")
	}
}

func TestDeriveRecommendationsRoughSessionRecommendsLowerLimit(t *testing.T) {
	f := computeFriction(SessionMetrics{MemoriesLoaded: 10, MemoriesAccessed: 1})
	recs := deriveRecommendations(f, Retrieval{})
	if len(recs) == 0 {
		t.Fatal("expected a recommendation for a rough session")
	}
}

func TestDeriveRecommendationsSmoothSessionHasNone(t *testing.T) {
	f := computeFriction(SessionMetrics{MemoriesLoaded: 10, MemoriesAccessed: 10})
	recs := deriveRecommendations(f, Retrieval{Queries: 2, HitRate: 1.0, AvgRelevance: 0.9})
	if len(recs) != 0 {
		t.Fatalf("expected no recommendations, got %v", recs)
	}
}
