// Package aider implements the Connector for Aider's single
// .aider.chat.history.md markdown transcript per project, parsed with a
// line-oriented scanner over its chat-turn delimiters. spec.md §6 names
// the file pattern explicitly; no pack example parses Markdown chat logs,
// so the scanner follows the same tolerant-line-skip idiom as the JSONL
// connectors (fyrsmithlabs-contextd/internal/conversation/parser.go)
// applied to Aider's turn-delimiter convention instead of JSON lines.
package aider

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/pkg/model"
)

const historyFileName = ".aider.chat.history.md"

// Connector implements connector.Connector for Aider.
type Connector struct{}

// New returns the Aider connector.
func New() connector.Connector { return &Connector{} }

// ID implements connector.Connector.
func (c *Connector) ID() model.Agent { return model.AgentAider }

// Scan implements connector.Connector.
func (c *Connector) Scan(ctx context.Context, roots []string) (<-chan connector.ScanResult, error) {
	out := make(chan connector.ScanResult)
	go func() {
		defer close(out)
		for _, root := range roots {
			path := filepath.Join(root, historyFileName)
			select {
			case <-ctx.Done():
				return
			default:
			}
			conv, err := parseHistory(path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				out <- connector.ScanResult{Err: &connector.ScanError{Path: path, Agent: model.AgentAider, Err: err}}
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

// Aider marks user turns with "#### " lines; the other lines that follow a
// user line, up to the next "#### " line or chat-start header, form the
// assistant's reply. "> " quoted lines get no special treatment.
func parseHistory(path string) (*model.Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, _ := f.Stat()
	mtime := time.Now().UTC()
	if info != nil {
		mtime = info.ModTime()
	}

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 10*1024*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var messages []model.Message
	var metaTitle string
	var cur strings.Builder
	curRole := model.RoleAssistant
	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text != "" {
			messages = append(messages, model.Message{Role: curRole, Content: text, CreatedAt: mtime})
		}
		cur.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "#### "):
			flush()
			curRole = model.RoleUser
			cur.WriteString(strings.TrimPrefix(line, "#### "))
		case strings.HasPrefix(line, "# aider chat started at"):
			flush()
			curRole = model.RoleAssistant
			if metaTitle == "" {
				metaTitle = strings.TrimSpace(strings.TrimPrefix(line, "#"))
			}
		default:
			if curRole == model.RoleUser {
				flush()
				curRole = model.RoleAssistant
			}
			cur.WriteString(line)
			cur.WriteByte('\n')
		}
	}
	flush()
	// A truncated file still yields whatever complete lines preceded the
	// truncation; scanner.Err() is not treated as fatal (spec §4.1).

	if len(messages) == 0 {
		return nil, nil
	}

	// Within one file aider does not timestamp individual turns; seq order
	// is the file's natural order and CreatedAt is uniformly the file
	// mtime, so sorting is a no-op re-index.
	for i := range messages {
		messages[i].Seq = i
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
	externalID := filepath.Dir(path)
	if title == "" {
		title = connector.TitleFromText(externalID, 100)
	}

	return &model.Conversation{
		ExternalID:   externalID,
		Agent:        model.AgentAider,
		Title:        title,
		Workspace:    filepath.Dir(path),
		StartedAt:    mtime,
		EndedAt:      mtime,
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
