package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordIndexOutcome(t *testing.T) {
	ConversationsIndexedTotal.Reset()

	RecordIndexOutcome("written", 3)
	RecordIndexOutcome("skipped", 1)
	RecordIndexOutcome("parse_error", 0) // zero must not touch the counter

	if got := testutil.ToFloat64(ConversationsIndexedTotal.WithLabelValues("written")); got != 3 {
		t.Errorf("written = %v, want 3", got)
	}
	if got := testutil.ToFloat64(ConversationsIndexedTotal.WithLabelValues("skipped")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ConversationsIndexedTotal.WithLabelValues("parse_error")); got != 0 {
		t.Errorf("parse_error = %v, want 0", got)
	}
}

func TestRecordEmbedOutcome(t *testing.T) {
	MessagesEmbeddedTotal.Reset()

	RecordEmbedOutcome("embedded", 5)
	RecordEmbedOutcome("error", 2)

	if got := testutil.ToFloat64(MessagesEmbeddedTotal.WithLabelValues("embedded")); got != 5 {
		t.Errorf("embedded = %v, want 5", got)
	}
	if got := testutil.ToFloat64(MessagesEmbeddedTotal.WithLabelValues("error")); got != 2 {
		t.Errorf("error = %v, want 2", got)
	}
}

func TestRecordEmbedderCacheResult(t *testing.T) {
	EmbedderCacheHits.Reset()

	RecordEmbedderCacheResult(true)
	RecordEmbedderCacheResult(true)
	RecordEmbedderCacheResult(false)

	if got := testutil.ToFloat64(EmbedderCacheHits.WithLabelValues("hit")); got != 2 {
		t.Errorf("hit = %v, want 2", got)
	}
	if got := testutil.ToFloat64(EmbedderCacheHits.WithLabelValues("miss")); got != 1 {
		t.Errorf("miss = %v, want 1", got)
	}
}
