// Package normalizer implements the Normalizer (N) component of spec §4.2:
// it stamps the source ID, applies path rewrites, and computes
// conversation and message content hashes, producing an index-ready
// stream for the catalog. It does not deduplicate conversations and does
// not check that external IDs (assigned by connectors) are unique. Grounded on the replace-on-change transactional
// pattern implicit in fyrsmithlabs-contextd/internal/conversation's
// service layer, generalized into an explicit pipeline stage.
package normalizer

import (
	"github.com/cespare/xxhash/v2"

	"github.com/cass-dev/cass/pkg/model"
)

// Result is one normalized conversation, ready for the catalog, plus the
// per-source metadata needed for upsert-keying and path rewriting.
type Result struct {
	Conversation *model.Conversation
	SourceID     string
}

// Normalizer rewrites and hashes Conversation values emitted by connectors.
type Normalizer struct {
	pathMappings map[string][]model.PathMapping // sourceID -> mappings
}

// New builds a Normalizer. pathMappingsBySource maps a configured source's
// name to the PathMapping set that applies to conversations discovered
// under it.
func New(pathMappingsBySource map[string][]model.PathMapping) *Normalizer {
	return &Normalizer{pathMappings: pathMappingsBySource}
}

// Normalize applies path rewriting and content-hash computation to a
// freshly-scanned conversation. sourceID identifies the configured Source
// the connector scanned under; it is stamped onto the conversation's
// provenance and used to look up applicable PathMappings.
func (n *Normalizer) Normalize(conv *model.Conversation, sourceID string) *Result {
	conv.SourceID = sourceID

	if mappings, ok := n.pathMappings[sourceID]; ok && len(mappings) > 0 && conv.Workspace != "" {
		rewritten := model.ApplyPathMappings(mappings, conv.Workspace, conv.Agent)
		if rewritten != conv.Workspace {
			conv.WorkspaceOriginal = conv.Workspace
			conv.Workspace = rewritten
		}
	}

	conv.ContentHash = ContentHash(conv)
	for i := range conv.Messages {
		conv.Messages[i].ContentHash = xxhash.Sum64String(conv.Messages[i].Content)
	}

	return &Result{Conversation: conv, SourceID: sourceID}
}

// ContentHash computes a 64-bit digest over a conversation's canonicalized
// messages, used to detect unchanged files across full-index runs (spec
// §4.2, "compute content hash over canonicalized messages").
func ContentHash(conv *model.Conversation) uint64 {
	h := xxhash.New()
	for _, m := range conv.Messages {
		_, _ = h.WriteString(string(m.Role))
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(m.Content)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
