package embedder

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedDeterministic(t *testing.T) {
	h := NewHash()
	ctx := context.Background()

	v1, err := h.Embed(ctx, "list the open pull requests")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	v2, err := h.Embed(ctx, "list the open pull requests")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v1) != hashDimension {
		t.Fatalf("dimension = %d, want %d", len(v1), hashDimension)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embedding not deterministic at index %d: %v vs %v", i, v1[i], v2[i])
		}
	}
}

func TestHashEmbedNormalized(t *testing.T) {
	h := NewHash()
	vec, err := h.Embed(context.Background(), "normalize this please")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1) > 1e-4 {
		t.Fatalf("||v|| = %f, want ~1", norm)
	}
}

func TestHashEmbedEmptyText(t *testing.T) {
	h := NewHash()
	vec, err := h.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero vector for empty text, got nonzero component %v", v)
		}
	}
}

func TestRegistryDefaultsToHash(t *testing.T) {
	r := NewRegistry()
	active := r.Active()
	if active == nil || active.Name() != "hash" {
		t.Fatalf("Active() = %v, want hash", active)
	}
	if _, err := r.Get("nonexistent"); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestRegistrySetActive(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeEmbedder{name: "fake", dim: 16})
	if err := r.SetActive("fake"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if r.Active().Name() != "fake" {
		t.Fatalf("Active() = %v, want fake", r.Active().Name())
	}
	if err := r.SetActive("missing"); err == nil {
		t.Fatal("expected error activating unregistered model")
	}
}

type fakeEmbedder struct {
	name string
	dim  int
}

func (f *fakeEmbedder) Name() string      { return f.name }
func (f *fakeEmbedder) Dimension() int    { return f.dim }
func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, f.dim), nil
}
