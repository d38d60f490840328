// Package jsonl provides a generic, tolerant JSONL-session connector base
// shared by the agent families that log one JSON object per line
// (claudecode, codex, gemini, amp, opencode, piagent, factory). Each
// concrete connector supplies only the discovery pattern and a couple of
// small hooks; the line-decoding, role/content/timestamp extraction, and
// message assembly are identical across families per spec §4.1.
//
// Grounded on fyrsmithlabs-contextd/internal/conversation/parser.go's
// scanner-with-oversized-buffer and skip-malformed-lines idiom, generalized
// from a single hardcoded agent to the full connector.Record synonym set,
// and on yashas-salankimatt-sidecar/internal/adapter/claudecode's
// directory-discovery and taskHistory-exclusion conventions.
package jsonl

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/ignore"
	"github.com/cass-dev/cass/pkg/model"
)

const maxLineSize = 10 * 1024 * 1024 // 10 MiB, matches the teacher's scanner buffer

// excludedDirs are registry/index directories that are never session data,
// per spec §4.1 ("Directories named taskHistory or equivalent registry
// files must be excluded"), expressed as ignore.Matcher glob patterns
// rather than an exact-name set so a future per-source ignore file (spec
// §4.1 leaves the exact exclusion mechanism open) can extend this list
// without a code change.
var excludedDirs = ignore.NewMatcher([]string{
	"**/taskHistory/**",
	"**/.git/**",
	"**/node_modules/**",
})

// Config parameterizes the generic JSONL connector for one agent family.
type Config struct {
	Agent model.Agent

	// RelDirs are directories under each root to search, relative to the
	// root (e.g. ".codex/sessions"). Missing directories are skipped, not
	// an error.
	RelDirs []string

	// FileMatch reports whether a discovered file should be scanned
	// (typically a *.jsonl extension check).
	FileMatch func(path string) bool

	// EntryIsMessage reports whether a decoded Record represents a
	// message line worth keeping (e.g. type == "user" || "assistant").
	// nil means "every record with non-empty content is a message".
	EntryIsMessage func(r connector.Record) bool

	// ExternalID derives the stable external id for a conversation from
	// its file path, per spec §4.1 ("derived deterministically from the
	// session file path... stable across re-scans").
	ExternalID func(path string) string
}

// Connector is the generic JSONL-backed connector.
type Connector struct {
	cfg Config
}

// New builds a Connector for cfg.
func New(cfg Config) *Connector {
	if cfg.ExternalID == nil {
		cfg.ExternalID = defaultExternalID
	}
	return &Connector{cfg: cfg}
}

func defaultExternalID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ID implements connector.Connector.
func (c *Connector) ID() model.Agent { return c.cfg.Agent }

// Scan implements connector.Connector.
func (c *Connector) Scan(ctx context.Context, roots []string) (<-chan connector.ScanResult, error) {
	out := make(chan connector.ScanResult)
	go func() {
		defer close(out)
		files := c.discover(roots)
		for _, path := range files {
			select {
			case <-ctx.Done():
				return
			default:
			}
			conv, err := c.parseFile(path)
			if err != nil {
				out <- connector.ScanResult{Err: &connector.ScanError{Path: path, Agent: c.cfg.Agent, Err: err}}
				continue
			}
			if conv == nil {
				continue
			}
			out <- connector.ScanResult{Conversation: conv}
		}
	}()
	return out, nil
}

func (c *Connector) discover(roots []string) []string {
	var files []string
	for _, root := range roots {
		for _, rel := range c.cfg.RelDirs {
			dir := filepath.Join(root, rel)
			_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil // unreadable subtree: skip, never abort the scan
				}
				rel, relErr := filepath.Rel(dir, path)
				if relErr != nil {
					rel = path
				}
				if d.IsDir() {
					if excludedDirs.Match(rel) {
						return filepath.SkipDir
					}
					return nil
				}
				if excludedDirs.Match(rel) {
					return nil
				}
				if c.cfg.FileMatch == nil || c.cfg.FileMatch(path) {
					files = append(files, path)
				}
				return nil
			})
		}
	}
	sort.Strings(files)
	return files
}

func (c *Connector) parseFile(path string) (*model.Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, statErr := f.Stat()
	var mtime time.Time
	if statErr == nil {
		mtime = info.ModTime()
	} else {
		mtime = time.Now().UTC()
	}

	scanner := bufio.NewScanner(f)
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)

	var messages []model.Message
	var workspace, metaTitle string
	order := 0

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		rec, err := connector.DecodeRecord(line)
		if err != nil {
			continue // malformed line: skip, never abort (spec §4.1)
		}

		if workspace == "" {
			if ws, ok := connector.ExtractWorkspace(rec); ok {
				workspace = ws
			}
		}
		if metaTitle == "" {
			if t, ok := connector.ExtractTitle(rec); ok {
				metaTitle = t
			}
		}

		if c.cfg.EntryIsMessage != nil && !c.cfg.EntryIsMessage(rec) {
			continue
		}

		role := model.NormalizeRole(connector.ExtractRole(rec))
		content := connector.ExtractContent(rec)
		if content == "" {
			continue
		}
		ts, ok := connector.ExtractTimestamp(rec)
		if !ok {
			ts = mtime
		}

		messages = append(messages, model.Message{
			Role:      role,
			Content:   content,
			CreatedAt: ts,
		})
		order++
	}
	// scanner.Err() is intentionally not surfaced as a fatal error beyond
	// what's already been read: a truncated file still yields whatever
	// complete lines preceded the truncation (spec §4.1, "tolerate
	// truncated files... without aborting the scan").

	if len(messages) == 0 {
		return nil, nil
	}

	messages = connector.SortMessages(messages)

	var started, ended time.Time
	for i, m := range messages {
		if i == 0 {
			started, ended = m.CreatedAt, m.CreatedAt
			continue
		}
		if m.CreatedAt.Before(started) {
			started = m.CreatedAt
		}
		if m.CreatedAt.After(ended) {
			ended = m.CreatedAt
		}
	}

	title := ""
	for _, m := range messages {
		if m.Role == model.RoleUser {
			title = connector.TitleFromText(m.Content, 100)
			break
		}
	}
	if title == "" && metaTitle != "" {
		title = connector.TitleFromText(metaTitle, 100)
	}
	externalID := c.cfg.ExternalID(path)
	if title == "" {
		title = connector.TitleFromText(externalID, 100)
	}

	for i := range messages {
		messages[i].ConversationID = 0 // assigned by the catalog on insert
	}

	return &model.Conversation{
		ExternalID:   externalID,
		Agent:        c.cfg.Agent,
		Title:        title,
		Workspace:    workspace,
		StartedAt:    started,
		EndedAt:      ended,
		MessageCount: len(messages),
		Messages:     messages,
		SourceProvenance: model.SourceProvenance{
			SourcePath: path,
			OriginKind: model.OriginLocal,
		},
		SourceMtime: mtime,
	}, nil
}

var _ connector.Connector = (*Connector)(nil)
