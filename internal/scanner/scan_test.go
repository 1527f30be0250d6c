package scanner_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-mcp/cortex/internal/scanner"
)

// writeTree creates files under dir, keyed by slash-separated relative
// path.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func TestScan_FindsMarkersAcrossTypes(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"main.go":   "package main\n// TODO: handle signals\nfunc main() {}\n",
		"util.py":   "# FIXME broken on windows\nx = 1\n",
		"notes.txt": "TODO: ignored extension\n",
	})

	result, err := scanner.Scan(scanner.Options{Path: dir})
	require.NoError(t, err)

	require.Equal(t, 2, result.Total)
	assert.Len(t, result.ByType["TODO"], 1)
	assert.Len(t, result.ByType["FIXME"], 1)
	assert.False(t, result.Truncated)

	todo := result.ByType["TODO"][0]
	assert.Equal(t, "main.go", todo.File)
	assert.Equal(t, 2, todo.Line)
	assert.Equal(t, "handle signals", todo.Text)
	assert.Equal(t, "// TODO: handle signals", todo.FullLine)
}

func TestScan_SkipsIgnoredDirs(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"src/app.js":                "// TODO: visible\n",
		"node_modules/dep/index.js": "// TODO: hidden\n",
		".git/hooks/pre-commit.py":  "# TODO: hidden too\n",
		"gen/out.js":                "// TODO: custom ignored\n",
	})

	result, err := scanner.Scan(scanner.Options{Path: dir, IgnoreDirs: []string{"gen"}})
	require.NoError(t, err)

	require.Equal(t, 1, result.Total)
	assert.Equal(t, "src/app.js", result.Markers[0].File)
}

func TestScan_IncludeAndExcludePatterns(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a.go":      "// TODO: in scope\n",
		"a_test.go": "// TODO: excluded\n",
		"b.py":      "# TODO: wrong extension\n",
	})

	result, err := scanner.Scan(scanner.Options{
		Path:            dir,
		IncludePatterns: []string{"*.go"},
		ExcludePatterns: []string{"*_test.go"},
	})
	require.NoError(t, err)

	require.Equal(t, 1, result.Total)
	assert.Equal(t, "a.go", result.Markers[0].File)
}

func TestScan_TypeFilter(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a.go": "// TODO: one\n// FIXME: two\n// HACK: three\n",
	})

	result, err := scanner.Scan(scanner.Options{Path: dir, Types: []string{"fixme"}})
	require.NoError(t, err)

	require.Equal(t, 1, result.Total)
	assert.Equal(t, "FIXME", result.Markers[0].Type)
}

func TestScan_EmptyDescriptionGetsPlaceholder(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.go": "// TODO\n"})

	result, err := scanner.Scan(scanner.Options{Path: dir})
	require.NoError(t, err)

	require.Equal(t, 1, result.Total)
	assert.Equal(t, "TODO without description", result.Markers[0].Text)
}

func TestScan_TruncatesAtMaxResults(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a.go": "// TODO: 1\n// TODO: 2\n// TODO: 3\n// TODO: 4\n",
	})

	result, err := scanner.Scan(scanner.Options{Path: dir, MaxResults: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.True(t, result.Truncated)
}

func TestScan_SkipsBinaryFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "blob.go"), []byte("TODO\x00binary"), 0o644))
	writeTree(t, dir, map[string]string{"ok.go": "// TODO: fine\n"})

	result, err := scanner.Scan(scanner.Options{Path: dir})
	require.NoError(t, err)

	require.Equal(t, 1, result.Total)
	assert.Equal(t, "ok.go", result.Markers[0].File)
}

func TestScan_MissingDirectory(t *testing.T) {
	_, err := scanner.Scan(scanner.Options{Path: filepath.Join(t.TempDir(), "nope")})
	assert.True(t, errors.Is(err, fs.ErrNotExist), "error = %v, want fs.ErrNotExist", err)
}

func TestScan_DeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"b.go": "// TODO: second file\n",
		"a.go": "// TODO: first file\n",
	})

	result, err := scanner.Scan(scanner.Options{Path: dir})
	require.NoError(t, err)

	require.Equal(t, 2, result.Total)
	assert.Equal(t, "a.go", result.Markers[0].File)
	assert.Equal(t, "b.go", result.Markers[1].File)
}
