// Package scanner finds code markers (TODO, FIXME, ...) in a source tree.
//
// The walk is concurrent; matching and extraction are line-based. Results
// are deterministic: files are processed in sorted order regardless of
// walk order.
package scanner

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// DefaultExtensions are the file extensions scanned when no include
// pattern is given.
var DefaultExtensions = []string{
	".py", ".js", ".jsx", ".ts", ".tsx", ".html", ".css", ".scss",
	".c", ".cpp", ".h", ".hpp", ".java", ".go", ".rs", ".rb", ".php",
}

// DefaultIgnoreDirs are directory names skipped at any depth.
var DefaultIgnoreDirs = []string{
	"node_modules", "venv", ".venv", ".git", "__pycache__",
	"dist", "build", "target", "out", ".idea", ".vscode",
}

// markerPatterns matches a marker keyword, an optional colon, and the
// description up to end of line.
var markerPatterns = map[string]*regexp.Regexp{
	"TODO":   regexp.MustCompile(`TODO\s*:?\s*(.*)`),
	"FIXME":  regexp.MustCompile(`FIXME\s*:?\s*(.*)`),
	"HACK":   regexp.MustCompile(`HACK\s*:?\s*(.*)`),
	"BUG":    regexp.MustCompile(`BUG\s*:?\s*(.*)`),
	"NOTE":   regexp.MustCompile(`NOTE\s*:?\s*(.*)`),
	"REVIEW": regexp.MustCompile(`REVIEW\s*:?\s*(.*)`),
}

// Options controls a scan. The zero value scans the current directory for
// every marker type across the default extensions, capped at 100 results.
type Options struct {
	// Path is the directory to scan. Defaults to ".".
	Path string

	// IncludePatterns are glob patterns selecting files to scan, relative
	// to Path. Patterns without a leading "*" are prefixed with "**/".
	// Empty means every file with a default extension.
	IncludePatterns []string

	// ExcludePatterns remove files matched by IncludePatterns.
	ExcludePatterns []string

	// Types restricts the marker types searched for (case-insensitive).
	// Unknown types are ignored; empty means all types.
	Types []string

	// IgnoreDirs are extra directory names to skip, merged with the
	// defaults.
	IgnoreDirs []string

	// MaxResults caps the findings. Defaults to 100.
	MaxResults int
}

// Finding is one marker occurrence in a scanned file.
type Finding struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Type     string `json:"type"`
	Text     string `json:"text"`
	FullLine string `json:"full_line"`
}

// Result is the outcome of a scan, with the findings grouped two ways for
// convenience.
type Result struct {
	Markers      []Finding            `json:"markers"`
	ByType       map[string][]Finding `json:"by_type"`
	ByFile       map[string][]Finding `json:"by_file"`
	Total        int                  `json:"total"`
	FilesScanned int                  `json:"files_scanned"`
	Truncated    bool                 `json:"truncated"`
}

// Scan walks opts.Path and extracts marker findings from every matching
// file. File paths in findings are relative to opts.Path with forward
// slashes.
func Scan(opts Options) (*Result, error) {
	base := opts.Path
	if base == "" {
		base = "."
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("scanner: resolve path: %w", err)
	}
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("scanner: directory %q: %w", opts.Path, fs.ErrNotExist)
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}

	patterns := resolvePatterns(opts.Types)
	include := normalizeGlobs(opts.IncludePatterns)
	if len(include) == 0 {
		for _, ext := range DefaultExtensions {
			include = append(include, "**/*"+ext)
		}
	}
	exclude := normalizeGlobs(opts.ExcludePatterns)

	ignore := make(map[string]bool, len(DefaultIgnoreDirs)+len(opts.IgnoreDirs))
	for _, d := range DefaultIgnoreDirs {
		ignore[d] = true
	}
	for _, d := range opts.IgnoreDirs {
		ignore[d] = true
	}

	files, err := collectFiles(base, include, exclude, ignore)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Markers:      []Finding{},
		ByType:       map[string][]Finding{},
		ByFile:       map[string][]Finding{},
		FilesScanned: len(files),
	}
	for typ := range patterns {
		result.ByType[typ] = []Finding{}
	}

	for _, file := range files {
		if len(result.Markers) >= maxResults {
			result.Truncated = true
			break
		}
		findings, err := scanFile(base, file, patterns, maxResults-len(result.Markers))
		if err != nil {
			slog.Debug("skipping unreadable file", "file", file, "error", err)
			continue
		}
		result.Markers = append(result.Markers, findings...)
	}
	if len(result.Markers) >= maxResults {
		result.Truncated = true
	}

	for _, f := range result.Markers {
		result.ByType[f.Type] = append(result.ByType[f.Type], f)
		result.ByFile[f.File] = append(result.ByFile[f.File], f)
	}
	result.Total = len(result.Markers)

	slog.Debug("marker scan finished",
		"path", base, "files", result.FilesScanned, "total", result.Total, "truncated", result.Truncated)
	return result, nil
}

// resolvePatterns maps requested type names to their regexes, defaulting
// to all known types.
func resolvePatterns(types []string) map[string]*regexp.Regexp {
	if len(types) == 0 {
		return markerPatterns
	}
	out := map[string]*regexp.Regexp{}
	for _, t := range types {
		name := strings.ToUpper(strings.TrimSpace(t))
		if re, ok := markerPatterns[name]; ok {
			out[name] = re
		}
	}
	if len(out) == 0 {
		return markerPatterns
	}
	return out
}

// normalizeGlobs trims patterns and anchors bare names under "**/" so
// "main.go" matches at any depth like "*.go" does.
func normalizeGlobs(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "*") && !strings.Contains(p, "/") {
			p = "**/" + p
		}
		out = append(out, p)
	}
	return out
}

// collectFiles walks base concurrently and returns the sorted relative
// (slash-separated) paths of files passing the include/exclude/ignore
// filters.
func collectFiles(base string, include, exclude []string, ignore map[string]bool) ([]string, error) {
	var mu sync.Mutex
	var files []string

	conf := fastwalk.Config{ToSlash: fastwalk.DefaultToSlash()}
	err := fastwalk.Walk(&conf, base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != base && ignore[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !matchesAny(include, rel) || matchesAny(exclude, rel) {
			return nil
		}

		mu.Lock()
		files = append(files, rel)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk %q: %w", base, err)
	}

	sort.Strings(files)
	return files, nil
}

func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
		// Bare "*.ext" style patterns should also match the basename of
		// nested files, mirroring shell expectations.
		if ok, err := doublestar.Match(p, filepath.Base(rel)); err == nil && ok {
			return true
		}
	}
	return false
}

// scanFile extracts up to remaining findings from one file. Binary files
// (anything with a NUL byte) are skipped.
func scanFile(base, rel string, patterns map[string]*regexp.Regexp, remaining int) ([]Finding, error) {
	data, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	if strings.ContainsRune(string(data), '\x00') {
		return nil, fmt.Errorf("binary file")
	}

	var findings []Finding
	for i, line := range strings.Split(string(data), "\n") {
		for _, typ := range sortedTypeNames(patterns) {
			m := patterns[typ].FindStringSubmatch(line)
			if m == nil {
				continue
			}
			text := strings.TrimSpace(m[1])
			if text == "" {
				text = typ + " without description"
			}
			findings = append(findings, Finding{
				File:     rel,
				Line:     i + 1,
				Type:     typ,
				Text:     text,
				FullLine: strings.TrimSpace(line),
			})
			if len(findings) >= remaining {
				return findings, nil
			}
		}
	}
	return findings, nil
}

// sortedTypeNames keeps per-line match order stable across runs.
func sortedTypeNames(patterns map[string]*regexp.Regexp) []string {
	names := make([]string, 0, len(patterns))
	for name := range patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
