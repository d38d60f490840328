// Package controller implements the indexing state machine of spec §4.9:
// Idle → Scanning → Normalizing → Writing → Embedding → Idle, with
// Debouncing inserted ahead of Scanning in watch mode and cooperative
// cancellation to Cancelled → Idle from any non-Idle state. Grounded on
// cmd/contextd/main.go's dependency-struct-with-Close() wiring and
// context.WithCancel/signal-handling shutdown idiom, generalized from ad
// hoc main-function wiring into an explicit, reusable state machine type.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cass-dev/cass/internal/casserr"
	"github.com/cass-dev/cass/internal/catalog"
	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/embedder"
	"github.com/cass-dev/cass/internal/lexical"
	"github.com/cass-dev/cass/internal/normalizer"
	"github.com/cass-dev/cass/internal/telemetry"
	"github.com/cass-dev/cass/internal/vectorindex"
	"github.com/cass-dev/cass/internal/watch"
	"github.com/cass-dev/cass/pkg/model"
)

// State is one node of the indexing state machine (spec §4.9).
type State string

const (
	StateIdle        State = "Idle"
	StateScanning    State = "Scanning"
	StateNormalizing State = "Normalizing"
	StateWriting     State = "Writing"
	StateEmbedding   State = "Embedding"
	StateDebouncing  State = "Debouncing"
	StateCancelled   State = "Cancelled"
)

// Deps bundles every collaborator the controller drives, mirroring the
// teacher's `dependencies` struct in cmd/contextd/main.go.
type Deps struct {
	Catalog         *catalog.Store
	Connectors      *connector.Registry
	Normalizer      *normalizer.Normalizer
	Embedders       *embedder.Registry
	VectorIndexPath string
	Logger          *zap.Logger
}

// Controller drives full/incremental indexing runs and exposes the
// current state for --robot status output.
type Controller struct {
	deps Deps

	mu    sync.RWMutex
	state State

	lexIdx *lexical.Index
	vecIdx *vectorindex.Index
}

// New returns a Controller in state Idle, seeding its in-memory vector
// index from the on-disk shard at deps.VectorIndexPath when one exists
// and was built with the currently active embedder. Without this, every
// fresh process (each `cass search` invocation builds its own Controller,
// per cmd/cass/app.go) would see VectorIndex() == nil until the next
// embedding pass, even though a valid shard sits on disk.
func New(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	c := &Controller{deps: deps, state: StateIdle}
	if deps.VectorIndexPath != "" && deps.Embedders != nil {
		active := deps.Embedders.Active()
		idx, err := loadVectorShard(deps.VectorIndexPath, active)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				deps.Logger.Debug("ignoring on-disk vector shard", zap.Error(err))
			}
		} else {
			c.vecIdx = idx
		}
	}
	return c
}

// loadVectorShard loads path and rejects it if it was built for a
// different embedder/dimension than active, per spec.md's "mismatched
// shards are rejected at open time."
func loadVectorShard(path string, active embedder.Embedder) (*vectorindex.Index, error) {
	idx, err := vectorindex.Load(path)
	if err != nil {
		return nil, err
	}
	want := contentDigest(active.Name(), active.Dimension())
	if idx.Header().ContentDigest != want {
		return nil, fmt.Errorf("vector shard content digest %d does not match active embedder %q (want %d)", idx.Header().ContentDigest, active.Name(), want)
	}
	return idx, nil
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// LexicalIndex returns the most recently built lexical index snapshot,
// or nil before the first successful run.
func (c *Controller) LexicalIndex() *lexical.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lexIdx
}

// VectorIndex returns the most recently built vector index snapshot.
func (c *Controller) VectorIndex() *vectorindex.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vecIdx
}

// Summary counts how many records each phase touched, surfaced on
// --robot output per spec §6.
type Summary struct {
	ConversationsScanned int
	ConversationsWritten int
	ConversationsSkipped int
	ParseErrors          int
	MessagesEmbedded     int
	EmbedErrors          int
	Duration             time.Duration
}

// FullIndex runs one full Scanning→Normalizing→Writing→Embedding pass
// over every configured source, discarding the catalog's content-hash
// skip logic for nothing — "full" means "scan every root", not "ignore
// the unchanged-content fast path" (spec §4.2 still applies per file).
func (c *Controller) FullIndex(ctx context.Context, sources []model.Source) (Summary, error) {
	return c.runIndex(ctx, sources)
}

// IncrementalIndex is identical to FullIndex at the controller layer:
// the catalog's per-file content-hash comparison (spec §4.2) is what
// makes a pass "incremental" in effect, so watch-triggered and
// manually-triggered passes share one code path.
func (c *Controller) IncrementalIndex(ctx context.Context, sources []model.Source) (Summary, error) {
	return c.runIndex(ctx, sources)
}

// Watch runs one full index pass, then watches every source's root for
// filesystem changes and runs an incremental pass after each debounce
// window elapses, until ctx is cancelled (spec §4.9, watch mode).
func (c *Controller) Watch(ctx context.Context, sources []model.Source, debounce time.Duration) error {
	w, err := watch.New(debounce, c.deps.Logger)
	if err != nil {
		return err
	}
	defer w.Close()

	roots := make([]string, 0, len(sources))
	for _, s := range sources {
		roots = append(roots, s.Root)
	}
	if err := w.AddRoots(roots); err != nil {
		return err
	}
	go w.Run(ctx)

	if _, err := c.FullIndex(ctx, sources); err != nil && !errors.Is(err, casserr.ErrCancelled) {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.Debouncing():
			c.setState(StateDebouncing)
		case <-w.Fire():
			if _, err := c.IncrementalIndex(ctx, sources); err != nil {
				if errors.Is(err, casserr.ErrCancelled) {
					return nil
				}
				c.deps.Logger.Warn("incremental index pass failed", zap.Error(err))
			}
			// AddRoots again to pick up directories created since the
			// last pass (spec §4.1, connectors discover new files).
			if err := w.AddRoots(roots); err != nil {
				c.deps.Logger.Debug("re-adding watch roots failed", zap.Error(err))
			}
		}
	}
}

func (c *Controller) runIndex(ctx context.Context, sources []model.Source) (Summary, error) {
	start := time.Now()
	var summary Summary

	defer func() {
		if ctx.Err() != nil {
			c.setState(StateCancelled)
			c.setState(StateIdle)
		} else {
			c.setState(StateIdle)
		}
	}()

	c.setState(StateScanning)
	scanned, err := c.scan(ctx, sources, &summary)
	if err != nil {
		return summary, err
	}
	if err := checkCancelled(ctx); err != nil {
		return summary, err
	}

	c.setState(StateNormalizing)
	normalized := c.normalize(scanned)
	if err := checkCancelled(ctx); err != nil {
		return summary, err
	}

	c.setState(StateWriting)
	if err := c.write(ctx, normalized, &summary); err != nil {
		return summary, err
	}
	if err := checkCancelled(ctx); err != nil {
		return summary, err
	}

	c.setState(StateEmbedding)
	// Per-message embedding failures are recorded on summary.EmbedErrors
	// and never fail the pass (spec §4.2, "Embedding failures ...
	// non-fatal"); embed only returns an error for catalog/IO/cancellation
	// failures, which are real pass failures.
	if err := c.embed(ctx, &summary); err != nil {
		return summary, err
	}

	summary.Duration = time.Since(start)
	telemetry.IndexDuration.Observe(summary.Duration.Seconds())
	return summary, nil
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return casserr.New(casserr.KindCancelled, "indexing cancelled", "")
	default:
		return nil
	}
}

// scannedConv pairs a raw connector result with the configured source it
// was discovered under, since a connector only knows the filesystem root
// it walked, not the source's configured name.
type scannedConv struct {
	conv     *model.Conversation
	sourceID string
}

func (c *Controller) scan(ctx context.Context, sources []model.Source, summary *Summary) ([]scannedConv, error) {
	var out []scannedConv
	for _, src := range sources {
		agents := src.AgentFilters
		if len(agents) == 0 {
			agents = c.deps.Connectors.Agents()
		}
		for _, agent := range agents {
			conn, ok := c.deps.Connectors.New(agent)
			if !ok {
				c.deps.Logger.Warn("no connector for agent", zap.String("agent", string(agent)))
				continue
			}
			results, err := conn.Scan(ctx, []string{src.Root})
			if err != nil {
				return nil, casserr.Wrap(casserr.KindIO, err, fmt.Sprintf("scanning source %q", src.Name))
			}
			for r := range results {
				if err := checkCancelled(ctx); err != nil {
					return nil, err
				}
				if r.Err != nil {
					summary.ParseErrors++
					c.deps.Logger.Debug("scan error", zap.Error(r.Err))
					continue
				}
				summary.ConversationsScanned++
				out = append(out, scannedConv{conv: r.Conversation, sourceID: src.Name})
			}
		}
	}
	telemetry.RecordIndexOutcome("parse_error", summary.ParseErrors)
	return out, nil
}

type normalizedConv struct {
	result *normalizer.Result
}

func (c *Controller) normalize(scanned []scannedConv) []normalizedConv {
	out := make([]normalizedConv, 0, len(scanned))
	for _, r := range scanned {
		res := c.deps.Normalizer.Normalize(r.conv, r.sourceID)
		out = append(out, normalizedConv{result: res})
	}
	return out
}

func (c *Controller) write(ctx context.Context, normalized []normalizedConv, summary *Summary) error {
	for _, n := range normalized {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		_, existing, err := c.deps.Catalog.UpsertConversation(ctx, n.result.Conversation)
		if err != nil {
			return casserr.Wrap(casserr.KindCatalog, err, "writing conversation")
		}
		if existing {
			summary.ConversationsSkipped++
		} else {
			summary.ConversationsWritten++
		}
	}
	telemetry.RecordIndexOutcome("written", summary.ConversationsWritten)
	telemetry.RecordIndexOutcome("skipped", summary.ConversationsSkipped)

	docs, err := c.deps.Catalog.AllMessagesForIndex(ctx)
	if err != nil {
		return casserr.Wrap(casserr.KindCatalog, err, "loading messages for lexical index rebuild")
	}
	lexDocs := make([]lexical.Document, len(docs))
	for i, d := range docs {
		lexDocs[i] = lexical.Document{
			ID:                lexical.DocID{ConversationID: d.ConversationID, Seq: d.Seq},
			Content:           d.Content,
			Agent:             d.Agent,
			Workspace:         d.Workspace,
			WorkspaceOriginal: d.WorkspaceOriginal,
			StartedAt:         d.StartedAt,
			SourceID:          d.SourceID,
			OriginKind:        d.OriginKind,
		}
	}
	c.mu.Lock()
	c.lexIdx = lexical.Build(lexDocs)
	c.mu.Unlock()
	return nil
}

// embedBatchSize bounds how many dirty messages are embedded per catalog
// round-trip (spec §5, "batch size for embedding" is configurable).
const embedBatchSize = 64

// embed re-embeds every dirty message and rebuilds the vector shard from
// the union of those new vectors and whatever the shard already held,
// keyed by DocID so a re-embedded message's vector replaces its old one
// and every untouched message's vector survives the rebuild (a pass that
// only embeds a handful of newly-dirty messages must not evict every
// previously-embedded vector from the shard).
func (c *Controller) embed(ctx context.Context, summary *Summary) error {
	active := c.deps.Embedders.Active()
	digest := contentDigest(active.Name(), active.Dimension())

	merged := make(map[lexical.DocID]vectorindex.Record)
	c.mu.RLock()
	existing := c.vecIdx
	c.mu.RUnlock()
	if existing != nil && existing.Header().ContentDigest == digest {
		for _, r := range existing.Records() {
			merged[r.ID] = r
		}
	}

	changed := false
	for {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		dirty, err := c.deps.Catalog.ListDirty(ctx, embedBatchSize)
		if err != nil {
			return casserr.Wrap(casserr.KindCatalog, err, "listing dirty messages")
		}
		if len(dirty) == 0 {
			break
		}
		var clean []catalog.DirtyMessage
		for _, d := range dirty {
			id := lexical.DocID{ConversationID: d.ConversationID, Seq: d.Seq}
			vec, err := active.Embed(ctx, d.Content)
			if err != nil {
				summary.EmbedErrors++
				c.deps.Logger.Debug("embedding failed, leaving message vector-less", zap.Error(err))
				delete(merged, id)
				clean = append(clean, d) // still mark clean: spec says non-fatal, not retried forever
				continue
			}
			merged[id] = vectorindex.Record{ID: id, Vector: vec}
			changed = true
			summary.MessagesEmbedded++
			clean = append(clean, d)
		}
		if err := c.deps.Catalog.MarkClean(ctx, clean); err != nil {
			return casserr.Wrap(casserr.KindCatalog, err, "marking messages clean")
		}
	}
	telemetry.RecordEmbedOutcome("embedded", summary.MessagesEmbedded)
	telemetry.RecordEmbedOutcome("error", summary.EmbedErrors)

	if changed {
		records := make([]vectorindex.Record, 0, len(merged))
		for _, r := range merged {
			records = append(records, r)
		}
		vecIdx := vectorindex.Build(active.Dimension(), vectorindex.MetricCosine, digest, records)
		if c.deps.VectorIndexPath != "" {
			if err := vectorindex.Write(c.deps.VectorIndexPath, vecIdx); err != nil {
				return casserr.Wrap(casserr.KindIO, err, "writing vector shard")
			}
		}
		c.mu.Lock()
		c.vecIdx = vecIdx
		c.mu.Unlock()
	}
	return nil
}

func contentDigest(name string, dim int) uint64 {
	h := uint64(14695981039346656037)
	for _, b := range []byte(fmt.Sprintf("%s:%d", name, dim)) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}
