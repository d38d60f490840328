package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cass-dev/cass/pkg/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleConversation(externalID string, hash uint64) *model.Conversation {
	return &model.Conversation{
		ExternalID:   externalID,
		Agent:        model.AgentClaudeCode,
		Title:        "a test conversation",
		StartedAt:    time.UnixMilli(1000).UTC(),
		EndedAt:      time.UnixMilli(2000).UTC(),
		MessageCount: 2,
		Messages: []model.Message{
			{Seq: 0, Role: model.RoleUser, Content: "hello", CreatedAt: time.UnixMilli(1000).UTC()},
			{Seq: 1, Role: model.RoleAssistant, Content: "hi there", CreatedAt: time.UnixMilli(2000).UTC()},
		},
		SourceProvenance: model.SourceProvenance{
			SourcePath: "/tmp/" + externalID + ".jsonl",
			SourceID:   "home",
			OriginKind: model.OriginLocal,
		},
		ContentHash: hash,
		SourceMtime: time.UnixMilli(1000).UTC(),
	}
}

func TestUpsertConversationInsertsThenSkipsUnchanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	conv := sampleConversation("sess-1", 42)

	id1, existing1, err := s.UpsertConversation(ctx, conv)
	require.NoError(t, err)
	assert.False(t, existing1)
	assert.NotZero(t, id1)

	// Same content hash and source mtime: the second upsert must be a no-op
	// skip, not a second insert or an update.
	id2, existing2, err := s.UpsertConversation(ctx, conv)
	require.NoError(t, err)
	assert.True(t, existing2)
	assert.Equal(t, id1, id2)

	got, err := s.GetConversation(ctx, id1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Messages, 2)
}

func TestUpsertConversationReplacesOnContentChange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	conv := sampleConversation("sess-2", 1)

	id, _, err := s.UpsertConversation(ctx, conv)
	require.NoError(t, err)

	changed := sampleConversation("sess-2", 2)
	changed.Messages = append(changed.Messages, model.Message{
		Seq: 2, Role: model.RoleUser, Content: "one more turn", CreatedAt: time.UnixMilli(3000).UTC(),
	})
	changed.MessageCount = 3
	changed.EndedAt = time.UnixMilli(3000).UTC()

	id2, existing, err := s.UpsertConversation(ctx, changed)
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, id, id2, "replace must reuse the existing conversation row, not insert a new one")

	got, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Messages, 3, "stale messages from the prior version must be deleted, not merely appended to")
}

func TestRetireMissingTwoScanLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	conv := sampleConversation("sess-3", 7)
	conv.SourceID = "home"
	id, _, err := s.UpsertConversation(ctx, conv)
	require.NoError(t, err)

	// First scan that no longer sees sess-3: bumps the retired counter but
	// does not delete the row yet.
	retired, err := s.RetireMissing(ctx, "home", map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, 0, retired)
	got, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, got, "a single missed scan must not retire the conversation")

	// Second successive miss: now it is deleted.
	retired, err = s.RetireMissing(ctx, "home", map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, 1, retired)
	got, err = s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got, "two successive missed scans must retire the conversation")
}

func TestRetireMissingResetsOnReappearance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	conv := sampleConversation("sess-4", 9)
	conv.SourceID = "home"
	id, _, err := s.UpsertConversation(ctx, conv)
	require.NoError(t, err)

	_, err = s.RetireMissing(ctx, "home", map[string]bool{})
	require.NoError(t, err)

	// Re-scanning and upserting the same conversation resets retired_scan_count,
	// so a subsequent miss starts the two-scan countdown over.
	_, _, err = s.UpsertConversation(ctx, conv)
	require.NoError(t, err)

	retired, err := s.RetireMissing(ctx, "home", map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, 0, retired)
	got, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestListDirtyAndMarkClean(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	conv := sampleConversation("sess-5", 3)
	_, _, err := s.UpsertConversation(ctx, conv)
	require.NoError(t, err)

	dirty, err := s.ListDirty(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dirty, 2)

	err = s.MarkClean(ctx, dirty)
	require.NoError(t, err)

	remaining, err := s.ListDirty(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeleteBySourceCascadesConversations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	conv := sampleConversation("sess-6", 4)
	conv.SourceID = "doomed"
	id, _, err := s.UpsertConversation(ctx, conv)
	require.NoError(t, err)

	n, err := s.DeleteBySource(ctx, "doomed")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetOrCreateWorkspaceIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id1, err := s.GetOrCreateWorkspace(ctx, "/home/user/project", "")
	require.NoError(t, err)
	id2, err := s.GetOrCreateWorkspace(ctx, "/home/user/project", "")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}
