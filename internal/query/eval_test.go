package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cass-dev/cass/internal/lexical"
	"github.com/cass-dev/cass/pkg/model"
)

func buildTestIndex() *lexical.Index {
	docs := []lexical.Document{
		{ID: lexical.DocID{ConversationID: 1, Seq: 0}, Content: "deploy the staging service", Agent: model.AgentClaudeCode, Workspace: "/repo-a", StartedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: lexical.DocID{ConversationID: 2, Seq: 0}, Content: "rollback the staging deploy", Agent: model.AgentCodex, Workspace: "/repo-b", StartedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ID: lexical.DocID{ConversationID: 3, Seq: 0}, Content: "unrelated content about lunch", Agent: model.AgentClaudeCode, Workspace: "/repo-a", StartedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	return lexical.Build(docs)
}

func TestEvalAndIntersects(t *testing.T) {
	idx := buildTestIndex()
	plan, err := Parse("deploy staging")
	require.NoError(t, err)
	hits := Eval(plan.Root, idx)
	ids := make([]lexical.DocID, len(hits))
	for i, h := range hits {
		ids[i] = h.Doc
	}
	assert.ElementsMatch(t, []lexical.DocID{
		{ConversationID: 1, Seq: 0},
		{ConversationID: 2, Seq: 0},
	}, ids)
}

func TestEvalOrUnions(t *testing.T) {
	idx := buildTestIndex()
	plan, err := Parse("rollback OR lunch")
	require.NoError(t, err)
	hits := Eval(plan.Root, idx)
	assert.Len(t, hits, 2)
}

func TestEvalNotExcludes(t *testing.T) {
	idx := buildTestIndex()
	plan, err := Parse("staging AND NOT rollback")
	require.NoError(t, err)
	hits := Eval(plan.Root, idx)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].Doc.ConversationID)
}

func TestFiltersByAgentAndWorkspace(t *testing.T) {
	idx := buildTestIndex()
	plan, err := Parse("staging")
	require.NoError(t, err)
	hits := Eval(plan.Root, idx)
	filtered := Apply(hits, idx, Filters{Agent: model.AgentCodex})
	require.Len(t, filtered, 1)
	assert.Equal(t, int64(2), filtered[0].Doc.ConversationID)
}

func TestFiltersByDays(t *testing.T) {
	idx := buildTestIndex()
	plan, err := Parse("staging OR lunch")
	require.NoError(t, err)
	hits := Eval(plan.Root, idx)
	filtered := Apply(hits, idx, Filters{Since: time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)})
	for _, h := range filtered {
		doc, ok := idx.Document(h.Doc)
		require.True(t, ok)
		assert.True(t, doc.StartedAt.After(time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)))
	}
}

func TestFiltersPagination(t *testing.T) {
	idx := buildTestIndex()
	plan, err := Parse("staging OR lunch OR deploy")
	require.NoError(t, err)
	hits := Eval(plan.Root, idx)
	page := Apply(hits, idx, Filters{Limit: 1, Offset: 1})
	assert.Len(t, page, 1)
}
