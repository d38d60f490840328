// Package ignore provides gitignore-style pattern parsing and matching,
// used by connector discovery to exclude registry/index directories
// (spec §4.1, "directories named taskHistory or equivalent registry
// files must be excluded") without hardcoding a fixed directory-name
// set per agent.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Parser reads and parses gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are returned when no ignore files are found.
	FallbackPatterns []string
}

// NewParser creates a new ignore file parser with the given configuration.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// ParseProject reads all ignore files from the project root and returns
// combined exclude patterns. If no ignore files are found, returns fallback patterns.
func (p *Parser) ParseProject(projectRoot string) ([]string, error) {
	var patterns []string
	foundAny := false

	for _, ignoreFile := range p.IgnoreFiles {
		path := filepath.Join(projectRoot, ignoreFile)
		filePatterns, err := p.parseFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		foundAny = true
	}

	if !foundAny {
		return p.FallbackPatterns, nil
	}

	// Deduplicate patterns
	return deduplicate(patterns), nil
}

// parseFile reads a single gitignore-style file and returns patterns.
func (p *Parser) parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := scanner.Text()
		pattern := parseLine(line)
		if pattern != "" {
			patterns = append(patterns, pattern)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return patterns, nil
}

// parseLine parses a single line from a gitignore file.
// Returns empty string for comments and blank lines.
func parseLine(line string) string {
	// Trim trailing whitespace (unless escaped, but we'll keep it simple)
	line = strings.TrimRight(line, " \t")

	// Skip empty lines
	if line == "" {
		return ""
	}

	// Skip comments
	if strings.HasPrefix(line, "#") {
		return ""
	}

	// Skip negation patterns (we don't support them for simplicity)
	if strings.HasPrefix(line, "!") {
		return ""
	}

	// Convert to glob pattern suitable for doublestar matching
	pattern := toGlobPattern(line)

	return pattern
}

// toGlobPattern converts a gitignore pattern to a glob pattern.
func toGlobPattern(pattern string) string {
	// Remove leading slash (absolute path in gitignore means relative to root)
	pattern = strings.TrimPrefix(pattern, "/")

	// If pattern ends with /, it's a directory - add **
	if strings.HasSuffix(pattern, "/") {
		pattern = pattern + "**"
	}

	// If pattern doesn't contain /, it can match anywhere - prefix with **/
	if !strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
		// But only if it's not already a glob pattern that starts with *
		if !strings.HasPrefix(pattern, "*") {
			pattern = "**/" + pattern
		}
	}

	// Ensure directory patterns have /** suffix for recursive matching
	// e.g., "node_modules" should become "**/node_modules/**"
	if !strings.HasSuffix(pattern, "/**") && !strings.HasSuffix(pattern, "/*") && !strings.Contains(pattern, ".") {
		// Looks like a directory name, add /** for recursive match
		pattern = pattern + "/**"
	}

	return pattern
}

// Matcher tests paths against a fixed set of glob patterns produced by
// Parser (or supplied directly, e.g. a connector's fallback excludes).
type Matcher struct {
	patterns []string
}

// NewMatcher builds a Matcher from already-converted glob patterns
// (the shape ParseProject/toGlobPattern produce: "**/name/**",
// "**/name", "prefix/**", or a bare glob like "*.log").
func NewMatcher(patterns []string) *Matcher {
	return &Matcher{patterns: patterns}
}

// Match reports whether relPath (slash-separated, relative to the walk
// root) matches any of the matcher's patterns. Matching is segment-wise:
// a leading "**/" or trailing "/**" matches any number of path segments,
// everything else is matched per-segment via filepath.Match.
func (m *Matcher) Match(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, p := range m.patterns {
		if matchOne(p, relPath) {
			return true
		}
	}
	return false
}

func matchOne(pattern, relPath string) bool {
	switch {
	case strings.HasPrefix(pattern, "**/") && strings.HasSuffix(pattern, "/**"):
		mid := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		return containsSegment(relPath, mid)
	case strings.HasPrefix(pattern, "**/"):
		suffix := strings.TrimPrefix(pattern, "**/")
		return matchSuffixSegment(relPath, suffix)
	case strings.HasSuffix(pattern, "/**"):
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
	default:
		ok, _ := filepath.Match(pattern, relPath)
		if ok {
			return true
		}
		// also try matching the pattern against the final segment, so a
		// bare glob like "*.log" matches "a/b/c.log" the way gitignore does.
		ok, _ = filepath.Match(pattern, filepath.Base(relPath))
		return ok
	}
}

func containsSegment(relPath, segment string) bool {
	for _, part := range strings.Split(relPath, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

func matchSuffixSegment(relPath, suffix string) bool {
	if relPath == suffix {
		return true
	}
	return strings.HasSuffix(relPath, "/"+suffix)
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))

	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}

	return result
}
