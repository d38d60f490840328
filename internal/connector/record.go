package connector

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Record is a tolerantly-decoded single log line/entry shared by every
// JSONL-shaped connector (claudecode, codex, gemini, cline, amp, opencode,
// piagent, factory). Field names vary per agent; ExtractRole/ExtractContent
// /ExtractTimestamp below implement the cross-agent synonym handling spec
// §4.1 requires, grounded on fyrsmithlabs-contextd/internal/conversation
// /parser.go's jsonlMessage/claudeMessage/contentBlock shape, generalized
// from Claude-Code-only field names to the full synonym set.
type Record map[string]json.RawMessage

// DecodeRecord tolerantly decodes one JSON line into a Record. Malformed
// JSON returns an error the caller should count and skip, never propagate.
func DecodeRecord(line []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, err
	}
	return r, nil
}

func (r Record) str(keys ...string) (string, bool) {
	for _, k := range keys {
		raw, ok := r[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s, true
		}
	}
	return "", false
}

// ExtractRole returns the raw role string from the first of
// role/type/speaker/author that is set; model.NormalizeRole maps it to a
// canonical role.
func ExtractRole(r Record) string {
	s, _ := r.str("role", "type", "speaker", "author")
	return s
}

// contentPart mirrors the shape of one element when content is an array of
// typed parts (text / tool_use / tool_result / reasoning / image, etc.).
type contentPart struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Content string          `json:"content"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
}

// ExtractContent flattens content/text/body/message into canonical UTF-8
// text. When the value is an array of typed parts, text parts are
// concatenated in order, tool-call/reasoning parts render as labeled
// blocks, image/file/binary parts become a placeholder, and parts of any
// other type contribute their text, if any.
func ExtractContent(r Record) string {
	for _, key := range []string{"content", "text", "body", "message"} {
		raw, ok := r[key]
		if !ok {
			continue
		}

		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}

		var parts []contentPart
		if err := json.Unmarshal(raw, &parts); err == nil {
			if flat := flattenParts(parts); flat != "" {
				return flat
			}
			continue
		}

		// message may itself be a nested object with its own content field.
		var nested Record
		if err := json.Unmarshal(raw, &nested); err == nil {
			if inner := ExtractContent(nested); inner != "" {
				return inner
			}
		}
	}
	return ""
}

func flattenParts(parts []contentPart) string {
	var b strings.Builder
	for _, p := range parts {
		switch p.Type {
		case "", "text":
			if p.Text != "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(p.Text)
			}
		case "tool_use", "tool_call", "function_call":
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("[tool_call:" + p.Name + "]")
			if len(p.Input) > 0 {
				b.WriteString(" " + string(p.Input))
			}
		case "tool_result", "function_result":
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("[tool_result] " + p.Content)
		case "reasoning", "thinking":
			if p.Text != "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString("[reasoning] " + p.Text)
			}
		case "image", "file", "binary":
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("[binary part omitted]")
		default:
			if p.Text != "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(p.Text)
			}
		}
	}
	return b.String()
}

var timestampFields = []string{"created_at", "createdAt", "timestamp", "ts"}

// ExtractTimestamp resolves a message timestamp from any of
// created_at/createdAt/timestamp/ts, accepting RFC3339 strings or epoch
// milliseconds, per spec §4.1. ok is false when no field was present or
// parseable, in which case the caller falls back to containing-session
// time and then file mtime.
func ExtractTimestamp(r Record) (time.Time, bool) {
	for _, key := range timestampFields {
		raw, ok := r[key]
		if !ok {
			continue
		}
		if t, ok := parseTimestampValue(raw); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseTimestampValue(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05Z"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return msToTime(ms), true
		}
		return time.Time{}, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return msToTime(int64(n)), true
	}
	return time.Time{}, false
}

func msToTime(ms int64) time.Time {
	// Heuristic: values under ~3e10 are seconds, not milliseconds.
	if ms < 30_000_000_000 {
		return time.Unix(ms, 0).UTC()
	}
	return time.UnixMilli(ms).UTC()
}

// ExtractWorkspace pulls a workspace/cwd hint from session-level metadata
// keys, per spec §4.1.
func ExtractWorkspace(r Record) (string, bool) {
	return r.str("workspace", "cwd", "project_path", "repo", "root", "path")
}

// ExtractTitle pulls a session/task title from session-level metadata,
// the middle tier of spec §4.1's three-tier title derivation (first user
// message, else session/task metadata title, else the external id).
func ExtractTitle(r Record) (string, bool) {
	return r.str("title", "name", "summary", "task_name", "description")
}
