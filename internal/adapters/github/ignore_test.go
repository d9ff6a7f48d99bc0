package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreSet(t *testing.T) {
	set, err := compileIgnore([]string{"docs/**", "*.lock", "vendor/*/README.md", " "})
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"docs/guide.md", true},
		{"docs/deep/nested/file.md", true},
		{"go.lock", true},
		{"sub/go.lock", false},
		{"vendor/pkg/README.md", true},
		{"vendor/pkg/inner/README.md", false},
		{"cmd/main.go", false},
		{"docsx/file.md", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, set.Match(tt.path), tt.path)
	}
}

func TestIgnoreSet_DotsAreLiteral(t *testing.T) {
	set, err := compileIgnore([]string{"a.b"})
	require.NoError(t, err)
	assert.True(t, set.Match("a.b"))
	assert.False(t, set.Match("axb"))
}

func TestIgnoreSet_Filter(t *testing.T) {
	set, err := compileIgnore([]string{"docs/**"})
	require.NoError(t, err)

	kept, dropped := set.filter([]string{"docs/a.md", "main.go"})
	assert.Equal(t, []string{"main.go"}, kept)
	assert.True(t, dropped)

	var empty *ignoreSet
	kept, dropped = empty.filter([]string{"docs/a.md"})
	assert.Equal(t, []string{"docs/a.md"}, kept)
	assert.False(t, dropped)
}
