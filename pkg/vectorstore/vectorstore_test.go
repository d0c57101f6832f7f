package vectorstore

import "testing"

func TestPointIDIsDeterministic(t *testing.T) {
	a := PointID("episode-1")
	b := PointID("episode-1")
	if a != b {
		t.Errorf("PointID not deterministic: %q vs %q", a, b)
	}
	if PointID("episode-2") == a {
		t.Error("expected different episodes to get different point ids")
	}
}

func TestCosineIdenticalVectors(t *testing.T) {
	v := []float32{1, 2, 3}
	if got := Cosine(v, v); got < 0.999 {
		t.Errorf("Cosine(v, v) = %v, want ~1.0", got)
	}
}

func TestCosineOrthogonalVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if got := Cosine(a, b); got > 0.0001 {
		t.Errorf("Cosine(a, b) = %v, want ~0", got)
	}
}

func TestCosineMismatchedLengths(t *testing.T) {
	if got := Cosine([]float32{1, 2}, []float32{1}); got != 0 {
		t.Errorf("Cosine(mismatched) = %v, want 0", got)
	}
}

func TestRankByCosineOrdersDescending(t *testing.T) {
	query := []float32{1, 0}
	points := []Point{
		{EpisodeID: "low", Embedding: []float32{0, 1}},
		{EpisodeID: "high", Embedding: []float32{1, 0}},
		{EpisodeID: "mid", Embedding: []float32{0.7, 0.7}},
	}
	ranked := rankByCosine(points, query, 3)
	if ranked[0].EpisodeID != "high" {
		t.Errorf("ranked[0] = %q, want high", ranked[0].EpisodeID)
	}
	if ranked[len(ranked)-1].EpisodeID != "low" {
		t.Errorf("ranked[last] = %q, want low", ranked[len(ranked)-1].EpisodeID)
	}
}

func TestRankByCosineRespectsTopK(t *testing.T) {
	query := []float32{1, 0}
	points := []Point{
		{EpisodeID: "a", Embedding: []float32{1, 0}},
		{EpisodeID: "b", Embedding: []float32{0.9, 0.1}},
		{EpisodeID: "c", Embedding: []float32{0, 1}},
	}
	ranked := rankByCosine(points, query, 2)
	if len(ranked) != 2 {
		t.Fatalf("len(ranked) = %d, want 2", len(ranked))
	}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	a := fingerprint("hello")
	b := fingerprint("hello")
	if len(a) != 4 || len(b) != 4 {
		t.Fatalf("fingerprint length = %d, want 4", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Error("fingerprint not deterministic")
		}
	}
}
