// Package catalog watches the automation directory and keeps the parsed,
// fingerprinted list of automations current.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrBadFrontMatter marks a file whose front-matter block is not valid
// YAML. The automations are still returned, just without metadata.
var ErrBadFrontMatter = errors.New("malformed front matter")

// Automation is one natural-language instruction block from disk. Two
// automations with identical trimmed text share a fingerprint.
type Automation struct {
	Fingerprint string
	Contents    string
	SourcePath  string
	IsCue       bool
	Metadata    map[string]string
}

// Fingerprint hashes the exact trimmed chunk text.
func Fingerprint(contents string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(contents)))
	return hex.EncodeToString(sum[:])
}

// Parse splits file content into automations. Only lines that are exactly
// "---" after trimming split; a front-matter block is recognised only when
// the file's first non-empty line is a separator, and its metadata applies
// to every automation in the file. A malformed front-matter block returns
// the automations alongside ErrBadFrontMatter.
func Parse(content, sourcePath string, isCue bool) ([]Automation, error) {
	metadata, body, fmErr := splitFrontMatter(content)

	var out []Automation
	for _, chunk := range splitChunks(body) {
		trimmed := strings.TrimSpace(chunk)
		if trimmed == "" {
			continue
		}
		out = append(out, Automation{
			Fingerprint: Fingerprint(trimmed),
			Contents:    trimmed,
			SourcePath:  sourcePath,
			IsCue:       isCue,
			Metadata:    metadata,
		})
	}
	return out, fmErr
}

// ParseFile reads and parses one file. An unreadable file returns a nil
// list; a front-matter error comes back with the parsed automations.
func ParseFile(root, path string) ([]Automation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	isCue := strings.HasPrefix(rel, "cues/")
	return Parse(string(data), rel, isCue)
}

func isSeparator(line string) bool {
	return strings.TrimSpace(line) == "---"
}

func splitChunks(content string) []string {
	var chunks []string
	var current strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if isSeparator(line) {
			chunks = append(chunks, current.String())
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	chunks = append(chunks, current.String())
	return chunks
}

// splitFrontMatter strips a leading front-matter block and returns its
// key/value pairs plus the remaining body. Malformed YAML degrades to no
// metadata and reports ErrBadFrontMatter; the block is still consumed so
// it cannot become an automation.
func splitFrontMatter(content string) (map[string]string, string, error) {
	lines := strings.Split(content, "\n")

	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start >= len(lines) || !isSeparator(lines[start]) {
		return nil, content, nil
	}

	end := -1
	for i := start + 1; i < len(lines); i++ {
		if isSeparator(lines[i]) {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, content, nil
	}

	block := strings.Join(lines[start+1:end], "\n")
	body := strings.Join(lines[end+1:], "\n")

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return nil, body, fmt.Errorf("%w: %v", ErrBadFrontMatter, err)
	}
	if raw == nil {
		return nil, body, nil
	}
	metadata := make(map[string]string, len(raw))
	for k, v := range raw {
		metadata[k] = fmt.Sprint(v)
	}
	return metadata, body, nil
}
