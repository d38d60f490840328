// Package cursor implements the Connector for Cursor's VS Code-style
// global-storage SQLite database (state.vscdb), opened read-only via
// modernc.org/sqlite. Grounded on
// yashas-salankimatt-sidecar/internal/adapter/cursor (reads the same
// database) generalized to CASS's Connector interface.
package cursor

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/pkg/model"
)

const relStateDB = "Cursor/User/globalStorage/state.vscdb"

// Connector implements connector.Connector for Cursor.
type Connector struct{}

// New returns the Cursor connector.
func New() connector.Connector { return &Connector{} }

// ID implements connector.Connector.
func (c *Connector) ID() model.Agent { return model.AgentCursor }

// Scan implements connector.Connector.
func (c *Connector) Scan(ctx context.Context, roots []string) (<-chan connector.ScanResult, error) {
	out := make(chan connector.ScanResult)
	go func() {
		defer close(out)
		for _, root := range roots {
			path := filepath.Join(root, relStateDB)
			if _, err := os.Stat(path); err != nil {
				continue // no Cursor install on this root: not an error
			}
			convs, err := scanStateDB(ctx, path)
			if err != nil {
				out <- connector.ScanResult{Err: &connector.ScanError{Path: path, Agent: model.AgentCursor, Err: err}}
				continue
			}
			for _, conv := range convs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				out <- connector.ScanResult{Conversation: conv}
			}
		}
	}()
	return out, nil
}

// cursorBubble is one chat turn within a Cursor composer/chat tab.
// BubbleType 1 = user, 2 = assistant, matching Cursor's own chat schema.
type cursorBubble struct {
	Type int    `json:"type"`
	Text string `json:"text"`
}

type cursorTab struct {
	TabID   string         `json:"tabId"`
	Name    string         `json:"name"`
	Title   string         `json:"title"`
	Bubbles []cursorBubble `json:"bubbles"`
}

type cursorChatData struct {
	Tabs []cursorTab `json:"tabs"`
}

func scanStateDB(ctx context.Context, path string) ([]*model.Conversation, error) {
	dsn := "file:" + path + "?mode=ro&immutable=1"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM ItemTable WHERE key LIKE '%chatdata%' OR key LIKE '%composerData%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	info, statErr := os.Stat(path)
	mtime := time.Now().UTC()
	if statErr == nil {
		mtime = info.ModTime()
	}

	var out []*model.Conversation
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			continue // malformed row: skip, never abort the scan
		}
		var data cursorChatData
		if err := json.Unmarshal(value, &data); err != nil {
			continue
		}
		for i, tab := range data.Tabs {
			conv := buildConversation(key, i, tab, mtime, path)
			if conv != nil {
				out = append(out, conv)
			}
		}
	}
	return out, rows.Err()
}

func buildConversation(key string, tabIdx int, tab cursorTab, mtime time.Time, path string) *model.Conversation {
	var messages []model.Message
	for _, b := range tab.Bubbles {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		role := model.RoleAssistant
		if b.Type == 1 {
			role = model.RoleUser
		}
		messages = append(messages, model.Message{Role: role, Content: text, CreatedAt: mtime, Seq: len(messages)})
	}
	if len(messages) == 0 {
		return nil
	}
	title := ""
	for _, m := range messages {
		if m.Role == model.RoleUser {
			title = connector.TitleFromText(m.Content, 100)
			break
		}
	}
	if title == "" {
		if meta := tab.Title; meta != "" {
			title = connector.TitleFromText(meta, 100)
		} else if meta := tab.Name; meta != "" {
			title = connector.TitleFromText(meta, 100)
		}
	}
	externalID := tab.TabID
	if externalID == "" {
		externalID = key + "#" + strconv.Itoa(tabIdx)
	}
	if title == "" {
		title = externalID
	}
	return &model.Conversation{
		ExternalID:   externalID,
		Agent:        model.AgentCursor,
		Title:        title,
		StartedAt:    mtime,
		EndedAt:      mtime,
		MessageCount: len(messages),
		Messages:     messages,
		SourceProvenance: model.SourceProvenance{
			SourcePath: path,
			OriginKind: model.OriginLocal,
		},
		SourceMtime: mtime,
	}
}

var _ connector.Connector = (*Connector)(nil)
