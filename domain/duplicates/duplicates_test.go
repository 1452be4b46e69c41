package duplicates

import "testing"

func TestContentHashDeterministic(t *testing.T) {
	h1 := ContentHash([]byte("hello world"))
	h2 := ContentHash([]byte("hello world"))
	if h1 != h2 {
		t.Fatalf("expected stable content hash")
	}
	if h1 != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Fatalf("unexpected hash for known input: %s", h1)
	}
}

func TestAverageHashSimilarImagesCloseTogether(t *testing.T) {
	a := make([]byte, 256)
	b := make([]byte, 256)
	for i := range a {
		a[i] = byte(i % 256)
		b[i] = byte((i + 1) % 256) // nearly identical gradient
	}

	ha, err := AverageHash(a)
	if err != nil {
		t.Fatalf("AverageHash(a) error: %v", err)
	}
	hb, err := AverageHash(b)
	if err != nil {
		t.Fatalf("AverageHash(b) error: %v", err)
	}

	sim := PerceptualSimilarity(ha, hb)
	if sim < DefaultPerceptualThreshold {
		t.Fatalf("expected near-identical gradients to be similar, got %f", sim)
	}
}

func TestAverageHashDissimilarImages(t *testing.T) {
	a := make([]byte, 256)
	b := make([]byte, 256)
	for i := range a {
		a[i] = 0
		b[i] = 255
	}
	ha, _ := AverageHash(a)
	hb, _ := AverageHash(b)
	sim := PerceptualSimilarity(ha, hb)
	if sim > 0.5 {
		t.Fatalf("expected dissimilar solid-color images to differ, got %f", sim)
	}
}

func TestTextSimilarityIdenticalText(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	sim := TextSimilarity(text, text, DefaultShingleSize)
	if sim != 1.0 {
		t.Fatalf("expected identical text similarity = 1.0, got %f", sim)
	}
}

func TestTextSimilarityNearDuplicate(t *testing.T) {
	a := "the quick brown fox jumps over the lazy dog today"
	b := "the quick brown fox jumps over the lazy dog tomorrow"
	sim := TextSimilarity(a, b, DefaultShingleSize)
	if sim < DefaultTextThreshold {
		t.Fatalf("expected near-duplicate sentences above threshold, got %f", sim)
	}
}

func TestCanAutoResolveOnlyContentHashHighConfidence(t *testing.T) {
	c := Candidate{DetectionMethod: MethodContentHash, Confidence: ConfidenceHigh, SimilarityScore: 1.0}
	if !CanAutoResolve(c) {
		t.Fatal("expected exact content-hash match to auto-resolve")
	}

	c2 := Candidate{DetectionMethod: MethodPerceptualHash, Confidence: ConfidenceHigh, SimilarityScore: 1.0}
	if CanAutoResolve(c2) {
		t.Fatal("perceptual hash matches must never auto-resolve")
	}

	c3 := Candidate{DetectionMethod: MethodContentHash, Confidence: ConfidenceHigh, SimilarityScore: 0.98}
	if CanAutoResolve(c3) {
		t.Fatal("score below 0.99 must not auto-resolve")
	}
}

func TestTransitionRules(t *testing.T) {
	if !Transition(StatusPending, StatusConfirmed) {
		t.Fatal("pending -> confirmed should be allowed")
	}
	if Transition(StatusConfirmed, StatusRejected) {
		t.Fatal("terminal states must not transition further")
	}
}
