//go:build !cgo

package embedder

import (
	"context"
	"errors"
)

// ErrMiniLMNotAvailable is returned when the binary was built without
// CGO, matching spec §4.6's "falls back to hash with a logged warning"
// behavior — the caller decides whether to log and fall back, or error.
var ErrMiniLMNotAvailable = errors.New("embedder: minilm not available (built without cgo, use the hash embedder instead)")

// MiniLM is a stub for non-CGO builds.
type MiniLM struct{}

// NewMiniLM always fails when CGO is unavailable.
func NewMiniLM(_ string) (*MiniLM, error) {
	return nil, ErrMiniLMNotAvailable
}

func (m *MiniLM) Name() string   { return "minilm" }
func (m *MiniLM) Dimension() int { return 0 }

func (m *MiniLM) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrMiniLMNotAvailable
}

func (m *MiniLM) Close() error { return nil }
