// Package vectorindex implements the file-backed vector index shard of
// spec §3/§4.4: a header (dimension, metric, count, schema version,
// content digest) followed by fixed-width float32 vectors, searched by
// brute-force cosine similarity in parallel shards. Grounded on
// pkg/vectorstore/exact_search.go's cosineSimilarity/ExactSearch (the
// exact-search fallback contextd uses for small collections — CASS makes
// that fallback the only search path, since spec §1 scopes to
// small-to-medium corpora and a full HNSW/ANN index is out of scope),
// parallelized with golang.org/x/sync/errgroup per
// CASS_PARALLEL_SEARCH (spec §6).
package vectorindex

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/cass-dev/cass/internal/lexical"
)

const (
	magic         = "CASSVIDX"
	schemaVersion = uint32(1)
)

// Metric is the distance function a shard was built with.
type Metric string

const (
	MetricCosine Metric = "cosine"
)

// Header is the on-disk shard header, per spec §3 ("Index records").
type Header struct {
	SchemaVersion uint32
	Dimension     uint32
	Metric        Metric
	Count         uint32
	ContentDigest uint64 // caller-supplied digest of the embedder name + dimension (FNV-1a in the controller), detects model drift
}

// Record pairs a DocID with its embedding vector for index construction.
type Record struct {
	ID     lexical.DocID
	Vector []float32
}

// Index is an in-memory view of a loaded (or freshly built) shard.
type Index struct {
	header  Header
	ids     []lexical.DocID
	vectors [][]float32
}

// Build constructs an Index from records in memory, ready to Write or Search.
func Build(dimension int, metric Metric, contentDigest uint64, records []Record) *Index {
	idx := &Index{
		header: Header{
			SchemaVersion: schemaVersion,
			Dimension:     uint32(dimension),
			Metric:        metric,
			Count:         uint32(len(records)),
			ContentDigest: contentDigest,
		},
		ids:     make([]lexical.DocID, len(records)),
		vectors: make([][]float32, len(records)),
	}
	for i, r := range records {
		idx.ids[i] = r.ID
		idx.vectors[i] = r.Vector
	}
	return idx
}

func (idx *Index) Header() Header { return idx.header }
func (idx *Index) Size() int      { return len(idx.ids) }

// Records reconstructs the Record slice backing idx, letting a caller
// merge a loaded shard's vectors with newly embedded ones before a
// rebuild rather than discarding whatever wasn't re-embedded this pass.
func (idx *Index) Records() []Record {
	out := make([]Record, len(idx.ids))
	for i, id := range idx.ids {
		out[i] = Record{ID: id, Vector: idx.vectors[i]}
	}
	return out
}

// Write serializes the shard atomically: written to a temp file in the
// same directory then renamed into place, so a crash mid-write never
// leaves a corrupt shard at path (spec §5, "Writing" phase durability).
func Write(path string, idx *Index) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vectorindex: create temp shard: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := writeHeader(w, idx.header); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	for i, id := range idx.ids {
		if err := binary.Write(w, binary.LittleEndian, int64(id.ConversationID)); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(id.Seq)); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, idx.vectors[i]); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeHeader(w io.Writer, h Header) error {
	if _, err := w.Write([]byte(magic)); err != nil {
		return err
	}
	for _, v := range []uint32{h.SchemaVersion, h.Dimension, h.Count} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	metricBytes := make([]byte, 16)
	copy(metricBytes, h.Metric)
	if _, err := w.Write(metricBytes); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, h.ContentDigest)
}

// Load reads a shard written by Write.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open shard: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return nil, fmt.Errorf("vectorindex: read magic: %w", err)
	}
	if string(magicBuf) != magic {
		return nil, fmt.Errorf("vectorindex: bad magic %q", magicBuf)
	}
	var schema, dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &schema); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	metricBytes := make([]byte, 16)
	if _, err := io.ReadFull(r, metricBytes); err != nil {
		return nil, err
	}
	var digest uint64
	if err := binary.Read(r, binary.LittleEndian, &digest); err != nil {
		return nil, err
	}

	idx := &Index{
		header: Header{
			SchemaVersion: schema,
			Dimension:     dim,
			Metric:        Metric(trimNulls(metricBytes)),
			Count:         count,
			ContentDigest: digest,
		},
		ids:     make([]lexical.DocID, 0, count),
		vectors: make([][]float32, 0, count),
	}
	for i := uint32(0); i < count; i++ {
		var convID int64
		var seq int32
		if err := binary.Read(r, binary.LittleEndian, &convID); err != nil {
			return nil, fmt.Errorf("vectorindex: truncated shard at record %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &seq); err != nil {
			return nil, err
		}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, err
		}
		idx.ids = append(idx.ids, lexical.DocID{ConversationID: convID, Seq: int(seq)})
		idx.vectors = append(idx.vectors, vec)
	}
	return idx, nil
}

func trimNulls(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// Hit is one scored semantic search result.
type Hit struct {
	Doc   lexical.DocID
	Score float64
}

// Search runs brute-force cosine similarity search across idx, splitting
// the scan across min(parallelism, record count) goroutines via errgroup.
// parallelism <= 0 uses CASS_PARALLEL_SEARCH's documented default of
// runtime.GOMAXPROCS(0).
func Search(ctx context.Context, idx *Index, query []float32, topK int, parallelism int) ([]Hit, error) {
	if len(query) != int(idx.header.Dimension) {
		return nil, fmt.Errorf("vectorindex: query dimension %d does not match index dimension %d", len(query), idx.header.Dimension)
	}
	n := len(idx.ids)
	if n == 0 {
		return nil, nil
	}
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	if parallelism > n {
		parallelism = n
	}
	chunk := (n + parallelism - 1) / parallelism

	results := make([][]Hit, parallelism)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < parallelism; w++ {
		w := w
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		g.Go(func() error {
			local := make([]Hit, 0, end-start)
			for i := start; i < end; i++ {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				local = append(local, Hit{Doc: idx.ids[i], Score: cosineSimilarity(query, idx.vectors[i])})
			}
			results[w] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Hit
	for _, r := range results {
		all = append(all, r...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		a, b := all[i].Doc, all[j].Doc
		if a.ConversationID != b.ConversationID {
			return a.ConversationID > b.ConversationID
		}
		return a.Seq < b.Seq
	})
	if topK > 0 && topK < len(all) {
		all = all[:topK]
	}
	return all, nil
}

// cosineSimilarity mirrors pkg/vectorstore's formula, in float32.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	magA = math.Sqrt(magA)
	magB = math.Sqrt(magB)
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (magA * magB)
}
