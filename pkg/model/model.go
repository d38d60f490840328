// Package model defines the canonical data model shared by every CASS
// component: connectors emit Conversation values, the normalizer rewrites
// and hashes them, the catalog stores them, and the query engine reads them
// back out. Nothing in this package performs I/O.
package model

import "time"

// Agent identifies the coding-agent family a conversation originated from.
type Agent string

const (
	AgentClaudeCode Agent = "claudecode"
	AgentCodex      Agent = "codex"
	AgentGemini     Agent = "gemini"
	AgentCline      Agent = "cline"
	AgentAmp        Agent = "amp"
	AgentAider      Agent = "aider"
	AgentOpenCode   Agent = "opencode"
	AgentPiAgent    Agent = "piagent"
	AgentFactory    Agent = "factory"
	AgentCursor     Agent = "cursor"
	AgentUnknown    Agent = "unknown"
)

// OriginKind distinguishes conversations read from the local filesystem from
// ones whose provenance points at a remote host (CASS never fetches remote
// trees itself; it only records where a pre-synced tree claims to be from).
type OriginKind string

const (
	OriginLocal  OriginKind = "local"
	OriginRemote OriginKind = "remote"
)

// Role is the canonical message role after connector-specific synonyms
// (toolResult, speaker, type, author, ...) have been normalized.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// NormalizeRole maps a connector-supplied role/type/speaker value onto the
// canonical enum. Unknown values map to RoleUser per spec §4.1.
func NormalizeRole(raw string) Role {
	switch raw {
	case "user", "human":
		return RoleUser
	case "assistant", "ai", "model":
		return RoleAssistant
	case "tool", "toolResult", "tool_result", "function":
		return RoleTool
	case "system":
		return RoleSystem
	default:
		return RoleUser
	}
}

// SourceProvenance records where a conversation physically came from.
type SourceProvenance struct {
	SourcePath string     // absolute path to the originating file
	SourceID   string     // logical source name (from configuration)
	OriginKind OriginKind // local or remote
	OriginHost string     // optional, set when OriginKind == OriginRemote
}

// Conversation is a single agent session with an ordered sequence of
// messages. See spec §3 for field invariants.
type Conversation struct {
	ID                int64 // internal numeric id, zero until persisted
	ExternalID        string
	Agent             Agent
	Title             string // ≤100 codepoints
	Workspace         string // possibly rewritten
	WorkspaceOriginal string // set iff a PathMapping rewrote Workspace
	StartedAt         time.Time
	EndedAt           time.Time
	MessageCount      int
	Messages          []Message

	SourceProvenance
	ContentHash  uint64 // 64-bit digest over canonicalized messages
	SourceMtime  time.Time
}

// Key returns the catalog's uniqueness key: (agent, external_id).
func (c *Conversation) Key() (Agent, string) { return c.Agent, c.ExternalID }

// Validate checks the invariants spec §3/§8 require of a Conversation before
// it is handed to the normalizer. It does not mutate c.
func (c *Conversation) Validate() error {
	if len(c.Messages) != c.MessageCount {
		return &InvariantError{Field: "message_count", Detail: "message_count != len(messages)"}
	}
	if c.StartedAt.After(c.EndedAt) {
		return &InvariantError{Field: "started_at", Detail: "started_at > ended_at"}
	}
	for i, m := range c.Messages {
		if m.Seq != i {
			return &InvariantError{Field: "seq", Detail: "seq is not dense/monotonic"}
		}
		if i > 0 && m.CreatedAt.Before(c.Messages[i-1].CreatedAt) {
			return &InvariantError{Field: "created_at", Detail: "created_at decreases across seq"}
		}
	}
	return nil
}

// Message is a single turn within a Conversation.
type Message struct {
	ID             int64
	ConversationID int64
	Seq            int // zero-based, dense, monotonic per conversation
	Role           Role
	Content        string // canonicalized UTF-8, lossless of semantic text
	CreatedAt      time.Time
	Author         string // optional
	ContentHash    uint64 // optional, 64-bit
}

// PathMapping rewrites a workspace path reported by a connector into the
// path it corresponds to on this machine, for a given set of agents.
type PathMapping struct {
	From   string
	To     string
	Agents []Agent // nil/empty means "applies to all agents"
}

// Applies reports whether this mapping is in scope for the given agent.
func (m PathMapping) Applies(agent Agent) bool {
	if len(m.Agents) == 0 {
		return true
	}
	for _, a := range m.Agents {
		if a == agent {
			return true
		}
	}
	return false
}

// ApplyPathMappings rewrites path for agent using the longest matching
// prefix among mappings. It is pure and idempotent: applying the full set
// twice yields the same result as once (spec §8).
func ApplyPathMappings(mappings []PathMapping, path string, agent Agent) string {
	best := -1
	bestLen := -1
	for i, m := range mappings {
		if !m.Applies(agent) {
			continue
		}
		if len(m.From) > 0 && hasPrefix(path, m.From) && len(m.From) > bestLen {
			best = i
			bestLen = len(m.From)
		}
	}
	if best == -1 {
		return path
	}
	m := mappings[best]
	return m.To + path[len(m.From):]
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Source is a configured root the normalizer scans through a Connector.
// Its lifecycle is: created via configuration, mutated only through
// explicit configuration commands, and removed with a cascading delete of
// every catalog row carrying its SourceID.
type Source struct {
	Name          string
	Root          string
	AgentFilters  []Agent // empty means "any agent this root's connector finds"
	PathMappings  []PathMapping
}

// Workspace is the indexed-foreign-reference side of the many-conversations
// -to-one-workspace relation (spec §9, "cyclic relations"): conversations
// point at a workspace row rather than each other.
type Workspace struct {
	ID                int64
	Path              string
	OriginalPath      string
}

// InvariantError reports a violated data-model invariant. It is never
// expected to surface past internal validation in normal operation; per
// spec §7 it is one of the few sources of process termination rather than
// a recovered per-record error.
type InvariantError struct {
	Field  string
	Detail string
}

func (e *InvariantError) Error() string {
	return "model: invariant violated on " + e.Field + ": " + e.Detail
}
