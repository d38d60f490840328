// Package cline implements the Connector for the Cline VS Code extension's
// per-task global-storage directories
// (.../Code/User/globalStorage/saoudrizwan.claude-dev/tasks/<id>/
// api_conversation_history.json), a family spec.md §1 names but leaves
// without per-agent detail; filled in here from the general VS Code
// globalStorage pattern spec.md §6 already names, and from the
// task-directory discovery idiom shared with
// yashas-salankimatt-sidecar/internal/adapter (per-directory session
// layout, one JSON array per task instead of line-delimited JSON).
package cline

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/pkg/model"
)

const relTasksDir = "Code/User/globalStorage/saoudrizwan.claude-dev/tasks"

// Connector implements connector.Connector for Cline.
type Connector struct{}

// New returns the Cline connector.
func New() connector.Connector { return &Connector{} }

// ID implements connector.Connector.
func (c *Connector) ID() model.Agent { return model.AgentCline }

// Scan implements connector.Connector.
func (c *Connector) Scan(ctx context.Context, roots []string) (<-chan connector.ScanResult, error) {
	out := make(chan connector.ScanResult)
	go func() {
		defer close(out)
		for _, root := range roots {
			dirs := discoverTaskDirs(filepath.Join(root, relTasksDir))
			for _, dir := range dirs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				conv, err := parseTaskDir(dir)
				if err != nil {
					out <- connector.ScanResult{Err: &connector.ScanError{Path: dir, Agent: model.AgentCline, Err: err}}
					continue
				}
				if conv == nil {
					continue
				}
				out <- connector.ScanResult{Conversation: conv}
			}
		}
	}()
	return out, nil
}

func discoverTaskDirs(tasksRoot string) []string {
	entries, err := os.ReadDir(tasksRoot)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "taskHistory" {
			dirs = append(dirs, filepath.Join(tasksRoot, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs
}

// clineTurn mirrors one element of api_conversation_history.json: an
// Anthropic-style message with role and either a string or typed-part
// content, decoded via the shared connector.Record machinery.
type clineTurn = connector.Record

func parseTaskDir(dir string) (*model.Conversation, error) {
	historyPath := filepath.Join(dir, "api_conversation_history.json")
	data, err := os.ReadFile(historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var turns []clineTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, err
	}

	info, statErr := os.Stat(historyPath)
	mtime := fileMtimeOrNow(info, statErr)

	var messages []model.Message
	for _, t := range turns {
		content := connector.ExtractContent(t)
		if content == "" {
			continue
		}
		role := model.NormalizeRole(connector.ExtractRole(t))
		ts, ok := connector.ExtractTimestamp(t)
		if !ok {
			ts = mtime
		}
		messages = append(messages, model.Message{Role: role, Content: content, CreatedAt: ts})
	}
	if len(messages) == 0 {
		return nil, nil
	}
	messages = connector.SortMessages(messages)

	title := ""
	for _, m := range messages {
		if m.Role == model.RoleUser {
			title = connector.TitleFromText(m.Content, 100)
			break
		}
	}
	if title == "" {
		if metaTitle, ok := taskMetadataTitle(dir); ok {
			title = connector.TitleFromText(metaTitle, 100)
		}
	}
	externalID := filepath.Base(dir)
	if title == "" {
		title = externalID
	}

	return &model.Conversation{
		ExternalID:   externalID,
		Agent:        model.AgentCline,
		Title:        title,
		StartedAt:    messages[0].CreatedAt,
		EndedAt:      messages[len(messages)-1].CreatedAt,
		MessageCount: len(messages),
		Messages:     messages,
		SourceProvenance: model.SourceProvenance{
			SourcePath: historyPath,
			OriginKind: model.OriginLocal,
		},
		SourceMtime: mtime,
	}, nil
}

// taskMetadataTitle reads the task's task_metadata.json sidecar, if
// present, and pulls a title/name/summary field from it — the middle
// tier of spec §4.1's three-tier title derivation, for tasks whose first
// message is a tool result or system prompt rather than user text.
func taskMetadataTitle(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "task_metadata.json"))
	if err != nil {
		return "", false
	}
	rec, err := connector.DecodeRecord(data)
	if err != nil {
		return "", false
	}
	return connector.ExtractTitle(rec)
}

func fileMtimeOrNow(info fs.FileInfo, err error) time.Time {
	if err != nil || info == nil {
		return time.Now().UTC()
	}
	return info.ModTime()
}

var _ connector.Connector = (*Connector)(nil)
