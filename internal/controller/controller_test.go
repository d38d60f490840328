package controller

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cass-dev/cass/internal/catalog"
	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/embedder"
	"github.com/cass-dev/cass/internal/normalizer"
	"github.com/cass-dev/cass/pkg/model"
)

// fakeConnector emits a fixed set of conversations and closes its channel,
// standing in for a real agent connector in controller tests.
type fakeConnector struct {
	agent model.Agent
	convs []*model.Conversation
}

func (f *fakeConnector) ID() model.Agent { return f.agent }

func (f *fakeConnector) Scan(ctx context.Context, roots []string) (<-chan connector.ScanResult, error) {
	ch := make(chan connector.ScanResult, len(f.convs))
	for _, c := range f.convs {
		ch <- connector.ScanResult{Conversation: c}
	}
	close(ch)
	return ch, nil
}

func newTestController(t *testing.T, convs []*model.Conversation) (*Controller, *catalog.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := catalog.Open(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := connector.NewRegistry()
	registry.Register(model.AgentClaudeCode, func() connector.Connector {
		return &fakeConnector{agent: model.AgentClaudeCode, convs: convs}
	})

	ctrl := New(Deps{
		Catalog:         store,
		Connectors:      registry,
		Normalizer:      normalizer.New(nil),
		Embedders:       embedder.NewRegistry(),
		VectorIndexPath: filepath.Join(t.TempDir(), "vector.idx"),
	})
	return ctrl, store
}

func sampleConversation(externalID string) *model.Conversation {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	return &model.Conversation{
		ExternalID:   externalID,
		Agent:        model.AgentClaudeCode,
		Title:        "test conversation",
		StartedAt:    now,
		EndedAt:      now.Add(time.Minute),
		MessageCount: 2,
		Messages: []model.Message{
			{Seq: 0, Role: model.RoleUser, Content: "how do I deploy this service", CreatedAt: now},
			{Seq: 1, Role: model.RoleAssistant, Content: "run the deploy script in scripts/deploy.sh", CreatedAt: now.Add(time.Second)},
		},
		SourceProvenance: model.SourceProvenance{SourcePath: "/home/user/.claude/projects/x/a.jsonl"},
	}
}

func TestFullIndexEndsIdleAndPopulatesIndexes(t *testing.T) {
	ctrl, _ := newTestController(t, []*model.Conversation{sampleConversation("conv-1")})

	summary, err := ctrl.FullIndex(context.Background(), []model.Source{{Name: "claude", Root: "/home/user/.claude/projects"}})
	require.NoError(t, err)

	assert.Equal(t, StateIdle, ctrl.State())
	assert.Equal(t, 1, summary.ConversationsScanned)
	assert.Equal(t, 1, summary.ConversationsWritten)
	assert.Equal(t, 2, summary.MessagesEmbedded)
	require.NotNil(t, ctrl.LexicalIndex())
	require.NotNil(t, ctrl.VectorIndex())
}

func TestIncrementalIndexSkipsUnchangedConversation(t *testing.T) {
	ctrl, _ := newTestController(t, []*model.Conversation{sampleConversation("conv-1")})
	sources := []model.Source{{Name: "claude", Root: "/home/user/.claude/projects"}}

	_, err := ctrl.FullIndex(context.Background(), sources)
	require.NoError(t, err)

	summary, err := ctrl.IncrementalIndex(context.Background(), sources)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ConversationsSkipped)
	assert.Equal(t, 0, summary.ConversationsWritten)
}

func TestFullIndexCancelledMidRunEndsIdleWithNoPartialVectorShard(t *testing.T) {
	ctrl, _ := newTestController(t, []*model.Conversation{sampleConversation("conv-1")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ctrl.FullIndex(ctx, []model.Source{{Name: "claude", Root: "/home/user/.claude/projects"}})
	require.Error(t, err)
	assert.Equal(t, StateIdle, ctrl.State())
	assert.Nil(t, ctrl.VectorIndex())
}

func TestFullIndexWithNoConversationsEndsIdle(t *testing.T) {
	ctrl, store := newTestController(t, nil)
	summary, err := ctrl.FullIndex(context.Background(), []model.Source{{Name: "claude", Root: "/home/user/.claude/projects"}})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ConversationsScanned)
	assert.Equal(t, StateIdle, ctrl.State())
	_ = store
}

func TestWatchRunsFullIndexThenStopsOnCancellation(t *testing.T) {
	root := t.TempDir()
	ctrl, _ := newTestController(t, []*model.Conversation{sampleConversation("conv-1")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Watch(ctx, []model.Source{{Name: "claude", Root: root}}, 30*time.Millisecond)
	}()

	// Give the initial FullIndex pass time to run before cancelling.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Watch to return promptly after cancellation")
	}
	assert.NotNil(t, ctrl.LexicalIndex())
}
