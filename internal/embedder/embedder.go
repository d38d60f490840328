// Package embedder implements the Embedder side of the registry in spec
// §4.6: a pluggable, process-wide table of named embedding backends, with
// "hash" always available as a zero-dependency fallback and "minilm" as
// the CGO-gated default. Grounded on
// fyrsmithlabs-contextd/internal/embeddings/{provider.go,fastembed.go,
// fastembed_nocgo.go,onnx_setup.go}'s provider-registry and
// cgo/no-cgo build-tag split.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// ErrUnknownModel is returned by Registry.Get for an unregistered name.
var ErrUnknownModel = errors.New("embedder: unknown model")

// Embedder generates a fixed-dimension embedding vector for text. Every
// implementation must be safe for concurrent use, matching the
// read-mostly usage pattern of the Embedding phase (spec §5).
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Registry maps model names to Embedder instances, mirroring the
// teacher's NewProvider dispatch but keyed by name rather than built by
// a single factory switch, since CASS needs more than two backends
// registered at once (spec §4.6, "the registry").
type Registry struct {
	byName map[string]Embedder
	active string
}

// NewRegistry returns a Registry with "hash" registered and active.
// Callers register "minilm" (when CGO is available) and call SetActive
// to change the default per CASS_EMBEDDER (spec §6).
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Embedder)}
	r.Register(NewHash())
	r.active = "hash"
	return r
}

func (r *Registry) Register(e Embedder) { r.byName[e.Name()] = e }

func (r *Registry) Get(name string) (Embedder, error) {
	e, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return e, nil
}

// SetActive changes the default embedder; it must already be registered.
func (r *Registry) SetActive(name string) error {
	if _, err := r.Get(name); err != nil {
		return err
	}
	r.active = name
	return nil
}

// Active returns the currently configured default Embedder.
func (r *Registry) Active() Embedder {
	e, _ := r.Get(r.active)
	return e
}

// hashDimension is the fallback embedding width, matching the 384-wide
// sentence-transformer models it stands in for (spec §4.6).
const hashDimension = 384

// Hash is the always-available fallback embedder: an xxhash bag-of-words
// (word tokens) projected into a fixed-width, L2-normalized vector. It
// has no semantic structure but is deterministic, needs no model, and
// lets hybrid search degrade gracefully to a lexical-dominated ranking
// when no CGO-enabled model is available (spec §4.6, "a model must
// always be available").
type Hash struct{}

// NewHash returns the fallback embedder.
func NewHash() *Hash { return &Hash{} }

func (h *Hash) Name() string    { return "hash" }
func (h *Hash) Dimension() int  { return hashDimension }

func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	vec := make([]float32, hashDimension)
	for _, tok := range hashTokens(text) {
		h := xxhash.Sum64String(tok)
		bucket := h % hashDimension
		sign := float32(1)
		if (h>>1)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}
	normalize(vec)
	return vec, nil
}

func hashTokens(text string) []string {
	var toks []string
	start := -1
	for i, r := range text {
		if isWordRune(r) {
			if start == -1 {
				start = i
			}
		} else if start != -1 {
			toks = append(toks, text[start:i])
			start = -1
		}
	}
	if start != -1 {
		toks = append(toks, text[start:])
	}
	return toks
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
}
