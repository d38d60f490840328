//go:build cgo

package embedder

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// minilmDimension is all-MiniLM-L6-v2's native output width.
const minilmDimension = 384

// MiniLM wraps fastembed-go's quantized ONNX runtime for the default
// semantic embedder (spec §4.6). Grounded on
// fyrsmithlabs-contextd/internal/embeddings/fastembed.go's
// FastEmbedProvider, narrowed to the single model CASS standardizes on.
type MiniLM struct {
	mu    sync.RWMutex
	model *fastembed.FlagEmbedding
}

// NewMiniLM downloads (if needed) and loads the all-MiniLM-L6-v2 model
// into cacheDir.
func NewMiniLM(cacheDir string) (*MiniLM, error) {
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                fastembed.AllMiniLML6V2,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: initializing minilm: %w", err)
	}
	return &MiniLM{model: flagEmbed}, nil
}

func (m *MiniLM) Name() string   { return "minilm" }
func (m *MiniLM) Dimension() int { return minilmDimension }

func (m *MiniLM) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	vec, err := m.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("embedder: minilm embed: %w", err)
	}
	return vec, nil
}

// Close releases the underlying ONNX session.
func (m *MiniLM) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model != nil {
		return m.model.Destroy()
	}
	return nil
}
