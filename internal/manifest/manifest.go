// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manifest parses and checks pinned dependency manifests of the form
//
//	# Category
//	name==version
//
// Comment lines start a category that applies to the entries below them.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Uncategorized is used for entries that appear before any comment line.
const Uncategorized = "uncategorized"

var (
	namePattern    = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?(\[[A-Za-z0-9._,-]+\])?$`)
	versionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.+!*_-]*$`)
	normalizer     = regexp.MustCompile(`[-_.]+`)
)

// IssueKind classifies a manifest problem.
type IssueKind string

const (
	IssueMalformed    IssueKind = "malformed"
	IssueEmptyName    IssueKind = "empty_name"
	IssueEmptyVersion IssueKind = "empty_version"
	IssueInvalidName  IssueKind = "invalid_name"
	IssueDuplicate    IssueKind = "duplicate"
)

// Entry is one pinned dependency.
type Entry struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Category string `json:"category"`
	Line     int    `json:"line"`
}

// Issue is a line-numbered problem found while parsing or validating.
type Issue struct {
	Line    int       `json:"line"`
	Kind    IssueKind `json:"kind"`
	Text    string    `json:"text"`
	Message string    `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("line %d: %s: %s", i.Line, i.Kind, i.Message)
}

// Category groups entries under one comment heading, in file order.
type Category struct {
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

// Manifest is a parsed dependency list.
type Manifest struct {
	entries []Entry
	order   []string
	issues  []Issue
}

// ParseFile opens path and parses it.
func ParseFile(path string) (*Manifest, error) {
	// #nosec G304 -- manifest path is an operator-supplied CLI argument
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse reads a manifest. Syntax problems do not fail the parse; they are
// retained and reported by Validate. Only read errors are returned.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	category := Uncategorized
	seen := map[string]bool{}

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Text()
		line := strings.TrimSpace(raw)

		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#"):
			if heading := strings.TrimSpace(strings.TrimLeft(line, "#")); heading != "" {
				category = heading
			}
			continue
		}

		// Trailing comments are allowed after whitespace.
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		entry, issue, ok := parseLine(line, lineNo)
		if !ok {
			issue.Text = raw
			m.issues = append(m.issues, issue)
			continue
		}
		entry.Category = category

		key := Normalize(entry.Name)
		if seen[key] {
			m.issues = append(m.issues, Issue{
				Line:    lineNo,
				Kind:    IssueDuplicate,
				Text:    raw,
				Message: fmt.Sprintf("%s is pinned more than once", entry.Name),
			})
			continue
		}
		seen[key] = true

		if !m.hasCategory(category) {
			m.order = append(m.order, category)
		}
		m.entries = append(m.entries, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return m, nil
}

func parseLine(line string, lineNo int) (Entry, Issue, bool) {
	name, version, found := strings.Cut(line, "==")
	if !found {
		return Entry{}, Issue{Line: lineNo, Kind: IssueMalformed, Message: "expected name==version"}, false
	}
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)

	switch {
	case name == "":
		return Entry{}, Issue{Line: lineNo, Kind: IssueEmptyName, Message: "package name is empty"}, false
	case version == "":
		return Entry{}, Issue{Line: lineNo, Kind: IssueEmptyVersion, Message: fmt.Sprintf("%s has no pinned version", name)}, false
	case !namePattern.MatchString(name):
		return Entry{}, Issue{Line: lineNo, Kind: IssueInvalidName, Message: fmt.Sprintf("invalid package name %q", name)}, false
	case !versionPattern.MatchString(version):
		return Entry{}, Issue{Line: lineNo, Kind: IssueMalformed, Message: fmt.Sprintf("invalid version %q", version)}, false
	}
	return Entry{Name: name, Version: version, Line: lineNo}, Issue{}, true
}

func (m *Manifest) hasCategory(name string) bool {
	for _, c := range m.order {
		if c == name {
			return true
		}
	}
	return false
}

// Validate returns every problem found in the manifest, in line order.
func (m *Manifest) Validate() []Issue {
	out := make([]Issue, len(m.issues))
	copy(out, m.issues)
	return out
}

// Entries returns all valid entries in file order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Categories groups valid entries by heading, in first-seen order.
func (m *Manifest) Categories() []Category {
	idx := make(map[string]int, len(m.order))
	out := make([]Category, len(m.order))
	for i, name := range m.order {
		idx[name] = i
		out[i].Name = name
	}
	for _, e := range m.entries {
		i := idx[e.Category]
		out[i].Entries = append(out[i].Entries, e)
	}
	return out
}

// Lookup finds an entry using normalized name comparison, so "python-dotenv"
// and "Python_DotEnv" match.
func (m *Manifest) Lookup(name string) (Entry, bool) {
	key := Normalize(name)
	for _, e := range m.entries {
		if Normalize(e.Name) == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Normalize lowercases a package name, drops extras and collapses runs of
// "-", "_" and ".".
func Normalize(name string) string {
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return normalizer.ReplaceAllString(strings.ToLower(name), "-")
}
