// Package catalog implements the relational catalog half of Storage (S):
// the single source of truth for conversations/messages/sources/workspaces
// (spec §3, "Ownership"). It is backed by an embedded modernc.org/sqlite
// database file, grounded on that driver's presence in
// yashas-salankimatt-sidecar and vanducng-goclaw's go.mod (see
// DESIGN.md); the upsert-by-replace transactional shape is generalized
// from vanducng-goclaw/internal/store's store-per-concern API style.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cass-dev/cass/internal/casserr"
	"github.com/cass-dev/cass/pkg/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the catalog's single-writer, many-reader handle (spec §5,
// "Shared-resource policy"). Reads use db directly (SQLite WAL mode lets
// readers proceed concurrently with an in-flight writer); writes take
// writeMu so that "replace a conversation's messages" is observed as one
// atomic unit even though SQLite's own locking is coarser.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the catalog database at path and
// applies any pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, casserr.Wrap(casserr.KindCatalog, err, "opening catalog database")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, casserr.Wrap(casserr.KindCatalog, err, "enabling WAL mode")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, casserr.Wrap(casserr.KindCatalog, err, "enabling foreign keys")
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return casserr.Wrap(casserr.KindCatalog, err, "reading embedded migrations")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return casserr.Wrap(casserr.KindCatalog, err, "reading migration "+name)
		}
		if _, err := s.db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return casserr.Wrap(casserr.KindCatalog, err, "applying migration "+name)
		}
	}
	return nil
}

// GetOrCreateWorkspace returns the id of the workspace row for path,
// creating it (with originalPath, if non-empty) when absent.
func (s *Store) GetOrCreateWorkspace(ctx context.Context, path, originalPath string) (int64, error) {
	if path == "" {
		return 0, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM workspaces WHERE path = ?`, path).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, casserr.Wrap(casserr.KindCatalog, err, "looking up workspace")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO workspaces(path, original_path) VALUES (?, ?)`, path, nullIfEmpty(originalPath))
	if err != nil {
		return 0, casserr.Wrap(casserr.KindCatalog, err, "inserting workspace")
	}
	return res.LastInsertId()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ExistingConversation is the subset of catalog state UpsertConversation
// needs to decide whether to skip, replace, or insert.
type ExistingConversation struct {
	ID          int64
	ContentHash uint64
	SourceMtime time.Time
}

// Lookup returns the existing catalog row for (agent, externalID), if any.
func (s *Store) Lookup(ctx context.Context, agent model.Agent, externalID string) (*ExistingConversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content_hash, source_mtime FROM conversations WHERE agent = ? AND external_id = ?`,
		string(agent), externalID)
	var ec ExistingConversation
	var mtimeUnix int64
	if err := row.Scan(&ec.ID, &ec.ContentHash, &mtimeUnix); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, casserr.Wrap(casserr.KindCatalog, err, "looking up conversation")
	}
	ec.SourceMtime = time.UnixMilli(mtimeUnix).UTC()
	return &ec, nil
}

// UpsertConversation replaces a conversation's row and messages atomically
// per spec §4.2's Atomicity rule: delete existing message rows, insert new
// ones, update the conversation row, all within one transaction. If an
// existing row has the same content hash and source mtime, the rewrite is
// skipped: only the row's retired-scan counter is reset to 0, and
// existing=true is returned.
func (s *Store) UpsertConversation(ctx context.Context, conv *model.Conversation) (id int64, existing bool, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prior, err := s.Lookup(ctx, conv.Agent, conv.ExternalID)
	if err != nil {
		return 0, false, err
	}
	if prior != nil && prior.ContentHash == conv.ContentHash && prior.SourceMtime.Equal(conv.SourceMtime) {
		if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET retired_scan_count = 0 WHERE id = ?`, prior.ID); err != nil {
			return 0, false, casserr.Wrap(casserr.KindCatalog, err, "marking conversation scanned")
		}
		return prior.ID, true, nil
	}

	var workspaceID sql.NullInt64
	if conv.Workspace != "" {
		wid, werr := s.getOrCreateWorkspaceLocked(ctx, conv.Workspace, conv.WorkspaceOriginal)
		if werr != nil {
			return 0, false, werr
		}
		workspaceID = sql.NullInt64{Int64: wid, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, casserr.Wrap(casserr.KindCatalog, err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var convID int64
	if prior != nil {
		convID = prior.ID
		if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, convID); err != nil {
			return 0, false, casserr.Wrap(casserr.KindCatalog, err, "deleting prior messages")
		}
		if _, err = tx.ExecContext(ctx, `UPDATE conversations SET title=?, workspace_id=?, started_at=?, ended_at=?,
			message_count=?, source_path=?, source_id=?, origin_kind=?, origin_host=?, content_hash=?, source_mtime=?,
			retired_scan_count=0 WHERE id=?`,
			conv.Title, workspaceID, conv.StartedAt.UnixMilli(), conv.EndedAt.UnixMilli(), conv.MessageCount,
			conv.SourcePath, conv.SourceID, string(conv.OriginKind), nullIfEmpty(conv.OriginHost),
			int64(conv.ContentHash), conv.SourceMtime.UnixMilli(), convID); err != nil {
			return 0, false, casserr.Wrap(casserr.KindCatalog, err, "updating conversation")
		}
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `INSERT INTO conversations
			(external_id, agent, title, workspace_id, started_at, ended_at, message_count, source_path, source_id,
			 origin_kind, origin_host, content_hash, source_mtime)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			conv.ExternalID, string(conv.Agent), conv.Title, workspaceID, conv.StartedAt.UnixMilli(), conv.EndedAt.UnixMilli(),
			conv.MessageCount, conv.SourcePath, conv.SourceID, string(conv.OriginKind), nullIfEmpty(conv.OriginHost),
			int64(conv.ContentHash), conv.SourceMtime.UnixMilli())
		if err != nil {
			return 0, false, casserr.Wrap(casserr.KindCatalog, err, "inserting conversation")
		}
		convID, err = res.LastInsertId()
		if err != nil {
			return 0, false, casserr.Wrap(casserr.KindCatalog, err, "reading inserted conversation id")
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages
		(conversation_id, seq, role, content, created_at, author, content_hash, dirty) VALUES (?,?,?,?,?,?,?,1)`)
	if err != nil {
		return 0, false, casserr.Wrap(casserr.KindCatalog, err, "preparing message insert")
	}
	defer stmt.Close()
	for _, m := range conv.Messages {
		if _, err = stmt.ExecContext(ctx, convID, m.Seq, string(m.Role), m.Content, m.CreatedAt.UnixMilli(),
			nullIfEmpty(m.Author), int64(m.ContentHash)); err != nil {
			return 0, false, casserr.Wrap(casserr.KindCatalog, err, "inserting message")
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, false, casserr.Wrap(casserr.KindCatalog, err, "committing transaction")
	}
	return convID, false, nil
}

func (s *Store) getOrCreateWorkspaceLocked(ctx context.Context, path, originalPath string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM workspaces WHERE path = ?`, path).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, casserr.Wrap(casserr.KindCatalog, err, "looking up workspace")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO workspaces(path, original_path) VALUES (?, ?)`, path, nullIfEmpty(originalPath))
	if err != nil {
		return 0, casserr.Wrap(casserr.KindCatalog, err, "inserting workspace")
	}
	return res.LastInsertId()
}

// MarkScanned resets a conversation's retired-scan counter to 0, marking
// its source file as seen in the current pass.
func (s *Store) MarkScanned(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET retired_scan_count = 0 WHERE id = ?`, id)
	if err != nil {
		return casserr.Wrap(casserr.KindCatalog, err, "marking conversation scanned")
	}
	return nil
}

// RetireMissing increments the retired-scan counter for every conversation
// under sourceID not present in seenIDs, and deletes rows that have now
// missed two successive scans (spec §3, "Lifecycle": "retired when the
// source file disappears across two successive scans").
func (s *Store) RetireMissing(ctx context.Context, sourceID string, seenExternalIDs map[string]bool) (retired int, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, external_id, retired_scan_count FROM conversations WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, casserr.Wrap(casserr.KindCatalog, err, "listing conversations for source")
	}
	type row struct {
		id      int64
		extID   string
		retired int
	}
	var toBump, toDelete []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.extID, &r.retired); err != nil {
			rows.Close()
			return 0, casserr.Wrap(casserr.KindCatalog, err, "scanning conversation row")
		}
		if seenExternalIDs[r.extID] {
			continue
		}
		if r.retired >= 1 {
			toDelete = append(toDelete, r)
		} else {
			toBump = append(toBump, r)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, casserr.Wrap(casserr.KindCatalog, err, "iterating conversation rows")
	}

	for _, r := range toBump {
		if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET retired_scan_count = retired_scan_count + 1 WHERE id = ?`, r.id); err != nil {
			return 0, casserr.Wrap(casserr.KindCatalog, err, "bumping retired_scan_count")
		}
	}
	for _, r := range toDelete {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, r.id); err != nil {
			return 0, casserr.Wrap(casserr.KindCatalog, err, "deleting retired conversation")
		}
		retired++
	}
	return retired, nil
}

// DeleteBySource cascades a configuration-level source removal across
// every catalog row carrying that SourceID (spec §3, Source lifecycle).
func (s *Store) DeleteBySource(ctx context.Context, sourceID string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, casserr.Wrap(casserr.KindCatalog, err, "deleting conversations for source")
	}
	return res.RowsAffected()
}

// DirtyMessage is a message row awaiting an embedding pass (spec §4.2,
// "Embedding pass").
type DirtyMessage struct {
	ConversationID int64
	Seq            int
	Content        string
}

// ListDirty returns up to limit dirty messages for the embedding pass to
// consume.
func (s *Store) ListDirty(ctx context.Context, limit int) ([]DirtyMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conversation_id, seq, content FROM messages WHERE dirty = 1 LIMIT ?`, limit)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindCatalog, err, "listing dirty messages")
	}
	defer rows.Close()
	var out []DirtyMessage
	for rows.Next() {
		var d DirtyMessage
		if err := rows.Scan(&d.ConversationID, &d.Seq, &d.Content); err != nil {
			return nil, casserr.Wrap(casserr.KindCatalog, err, "scanning dirty message")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkClean clears the dirty flag for the given (conversation_id, seq)
// pairs after their vectors have been written.
func (s *Store) MarkClean(ctx context.Context, pairs []DirtyMessage) error {
	if len(pairs) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return casserr.Wrap(casserr.KindCatalog, err, "beginning transaction")
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE messages SET dirty = 0 WHERE conversation_id = ? AND seq = ?`)
	if err != nil {
		_ = tx.Rollback()
		return casserr.Wrap(casserr.KindCatalog, err, "preparing update")
	}
	for _, p := range pairs {
		if _, err := stmt.ExecContext(ctx, p.ConversationID, p.Seq); err != nil {
			stmt.Close()
			_ = tx.Rollback()
			return casserr.Wrap(casserr.KindCatalog, err, "marking message clean")
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return casserr.Wrap(casserr.KindCatalog, err, "committing transaction")
	}
	return nil
}

// LexicalDocument mirrors the per-message fields the lexical index needs
// (spec §3, "Index records").
type LexicalDocument struct {
	ConversationID    int64
	Seq               int
	Content           string
	Agent             model.Agent
	Workspace         string
	WorkspaceOriginal string
	StartedAt         time.Time
	SourceID          string
	OriginKind        model.OriginKind
}

// AllMessagesForIndex streams every message row joined with its owning
// conversation's index-relevant fields, for lexical/vector index rebuilds.
func (s *Store) AllMessagesForIndex(ctx context.Context) ([]LexicalDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.conversation_id, m.seq, m.content, c.agent, COALESCE(w.path, ''), COALESCE(w.original_path, ''),
		       c.started_at, c.source_id, c.origin_kind
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		LEFT JOIN workspaces w ON w.id = c.workspace_id
	`)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindCatalog, err, "listing messages for index")
	}
	defer rows.Close()
	var out []LexicalDocument
	for rows.Next() {
		var d LexicalDocument
		var agent, originKind string
		var startedAtMs int64
		if err := rows.Scan(&d.ConversationID, &d.Seq, &d.Content, &agent, &d.Workspace, &d.WorkspaceOriginal,
			&startedAtMs, &d.SourceID, &originKind); err != nil {
			return nil, casserr.Wrap(casserr.KindCatalog, err, "scanning index row")
		}
		d.Agent = model.Agent(agent)
		d.OriginKind = model.OriginKind(originKind)
		d.StartedAt = time.UnixMilli(startedAtMs).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetConversation returns a conversation and its messages by catalog id.
func (s *Store) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.external_id, c.agent, c.title, COALESCE(w.path, ''), COALESCE(w.original_path, ''),
		       c.started_at, c.ended_at, c.message_count, c.source_path, c.source_id, c.origin_kind,
		       COALESCE(c.origin_host, ''), c.content_hash, c.source_mtime
		FROM conversations c LEFT JOIN workspaces w ON w.id = c.workspace_id WHERE c.id = ?`, id)

	var conv model.Conversation
	var agent, originKind string
	var startedMs, endedMs, mtimeMs, hash int64
	if err := row.Scan(&conv.ExternalID, &agent, &conv.Title, &conv.Workspace, &conv.WorkspaceOriginal,
		&startedMs, &endedMs, &conv.MessageCount, &conv.SourcePath, &conv.SourceID, &originKind,
		&conv.OriginHost, &hash, &mtimeMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, casserr.Wrap(casserr.KindCatalog, err, "reading conversation")
	}
	conv.ID = id
	conv.Agent = model.Agent(agent)
	conv.OriginKind = model.OriginKind(originKind)
	conv.StartedAt = time.UnixMilli(startedMs).UTC()
	conv.EndedAt = time.UnixMilli(endedMs).UTC()
	conv.SourceMtime = time.UnixMilli(mtimeMs).UTC()
	conv.ContentHash = uint64(hash)

	rows, err := s.db.QueryContext(ctx, `SELECT seq, role, content, created_at, COALESCE(author,''), COALESCE(content_hash,0)
		FROM messages WHERE conversation_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindCatalog, err, "reading messages")
	}
	defer rows.Close()
	for rows.Next() {
		var m model.Message
		var role string
		var createdMs int64
		var hash int64
		if err := rows.Scan(&m.Seq, &role, &m.Content, &createdMs, &m.Author, &hash); err != nil {
			return nil, casserr.Wrap(casserr.KindCatalog, err, "scanning message")
		}
		m.Role = model.Role(role)
		m.CreatedAt = time.UnixMilli(createdMs).UTC()
		m.ContentHash = uint64(hash)
		m.ConversationID = id
		conv.Messages = append(conv.Messages, m)
	}
	return &conv, rows.Err()
}

// DB exposes the underlying handle for components (lexical, export) that
// need read-only SQL access beyond this package's surface.
func (s *Store) DB() *sql.DB { return s.db }
