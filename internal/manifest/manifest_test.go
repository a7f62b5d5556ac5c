// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manifest

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileGroupsByCategory(t *testing.T) {
	m, err := ParseFile("testdata/requirements.txt")
	require.NoError(t, err)
	assert.Empty(t, m.Validate())

	var names []string
	for _, c := range m.Categories() {
		names = append(names, c.Name)
	}
	want := []string{
		"IBKR API",
		"Async and WebSocket",
		"Data handling",
		"Utilities",
		"Logging and monitoring",
		"Development and testing",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("categories mismatch (-want +got):\n%s", diff)
	}

	cats := m.Categories()
	require.Len(t, cats[1].Entries, 2)
	assert.Equal(t, Entry{Name: "websockets", Version: "12.0", Category: "Async and WebSocket", Line: 5}, cats[1].Entries[0])
	assert.Len(t, m.Entries(), 10)
}

func TestValidateReportsLineNumberedIssues(t *testing.T) {
	m, err := ParseFile("testdata/broken.txt")
	require.NoError(t, err)

	got := map[int]IssueKind{}
	for _, is := range m.Validate() {
		got[is.Line] = is.Kind
	}
	want := map[int]IssueKind{
		3: IssueEmptyName,
		4: IssueEmptyVersion,
		5: IssueMalformed,
		7: IssueDuplicate,
		8: IssueInvalidName,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("issues mismatch (-want +got):\n%s", diff)
	}

	// Valid lines survive next to broken ones.
	_, ok := m.Lookup("ibapi")
	assert.True(t, ok)
	e, ok := m.Lookup("NUMPY")
	require.True(t, ok)
	assert.Equal(t, "1.26.2", e.Version)
}

func TestParseEdgeCases(t *testing.T) {
	input := strings.Join([]string{
		"requests==2.31.0",
		"#",
		"   ",
		"# Extras",
		"uvicorn[standard]==0.24.0  # server",
		"#   ",
		"python_dotenv==1.0.0",
	}, "\n")
	m, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Empty(t, m.Validate())

	cats := m.Categories()
	require.Len(t, cats, 2)
	assert.Equal(t, Uncategorized, cats[0].Name)
	assert.Equal(t, "Extras", cats[1].Name)
	assert.Len(t, cats[1].Entries, 2, "an empty comment keeps the current category")

	e, ok := m.Lookup("python-dotenv")
	require.True(t, ok)
	assert.Equal(t, "python_dotenv", e.Name)

	e, ok = m.Lookup("uvicorn")
	require.True(t, ok)
	assert.Equal(t, "0.24.0", e.Version)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "python-dotenv", Normalize("Python_DotEnv"))
	assert.Equal(t, "zope-interface", Normalize("zope.interface"))
	assert.Equal(t, "uvicorn", Normalize("uvicorn[standard]"))
}

func TestIssueString(t *testing.T) {
	is := Issue{Line: 3, Kind: IssueEmptyName, Message: "package name is empty"}
	assert.Equal(t, "line 3: empty_name: package name is empty", is.String())
}
