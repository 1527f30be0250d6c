package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cortex-mcp/cortex/internal/scanner"
	"github.com/cortex-mcp/cortex/internal/store"
)

// scanTree is a seam for tests to stub out the filesystem walk.
var scanTree = scanner.Scan

// ScanMarkers scans a source tree for code markers. When a session_id is
// given, every finding is also persisted as an open marker attached to
// that session.
func (h *Handlers) ScanMarkers(params json.RawMessage) any {
	var p struct {
		Path           string   `json:"path"`
		IncludePattern string   `json:"include_pattern"`
		ExcludePattern string   `json:"exclude_pattern"`
		MarkerTypes    []string `json:"marker_types"`
		IgnoreDirs     []string `json:"ignore_dirs"`
		MaxResults     int      `json:"max_results"`
		SessionID      string   `json:"session_id"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}
	if p.MaxResults <= 0 {
		p.MaxResults = h.Defaults.ScanMaxResults
	}
	p.IgnoreDirs = append(p.IgnoreDirs, h.Defaults.ScanIgnoreDirs...)

	result, err := scanTree(scanner.Options{
		Path:            p.Path,
		IncludePatterns: splitPatterns(p.IncludePattern),
		ExcludePatterns: splitPatterns(p.ExcludePattern),
		Types:           p.MarkerTypes,
		IgnoreDirs:      p.IgnoreDirs,
		MaxResults:      p.MaxResults,
	})
	if err != nil {
		return h.failure(err)
	}

	out := map[string]any{
		"success":       true,
		"markers":       result.Markers,
		"by_type":       result.ByType,
		"by_file":       result.ByFile,
		"total":         result.Total,
		"files_scanned": result.FilesScanned,
		"truncated":     result.Truncated,
	}

	if p.SessionID != "" && len(result.Markers) > 0 {
		batch := make([]store.AddMarkerParams, 0, len(result.Markers))
		for _, f := range result.Markers {
			batch = append(batch, store.AddMarkerParams{
				SessionID:  p.SessionID,
				Type:       store.MarkerType(f.Type),
				FilePath:   f.File,
				LineNumber: f.Line,
				Content:    f.Text,
				FullLine:   f.FullLine,
			})
		}
		persisted, err := h.store.AddMarkers(batch)
		if err != nil {
			return h.failure(err)
		}
		out["persisted"] = len(persisted)
		h.log.Info("markers persisted", "session_id", p.SessionID, "count", len(persisted))
	}

	return out
}

// splitPatterns turns a comma-separated pattern string into a slice.
func splitPatterns(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ListMarkers returns persisted markers matching the filters.
func (h *Handlers) ListMarkers(params json.RawMessage) any {
	var p struct {
		SessionID string `json:"session_id"`
		TaskID    string `json:"task_id"`
		Status    string `json:"status"`
		Type      string `json:"type"`
		FilePath  string `json:"file_path"`
		Limit     int    `json:"limit"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	markers, err := h.store.ListMarkers(store.ListMarkersOptions{
		SessionID: p.SessionID,
		TaskID:    p.TaskID,
		Status:    p.Status,
		Type:      p.Type,
		FilePath:  p.FilePath,
		Limit:     p.Limit,
	})
	if err != nil {
		return h.failure(err)
	}

	return map[string]any{
		"success": true,
		"markers": markers,
		"total":   len(markers),
	}
}

// ResolveMarker moves a persisted marker to a resolution status, resolved
// by default.
func (h *Handlers) ResolveMarker(params json.RawMessage) any {
	var p struct {
		MarkerID string `json:"marker_id"`
		Status   string `json:"status"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}
	if p.Status == "" {
		p.Status = string(store.MarkerResolved)
	}

	marker, err := h.store.ResolveMarker(p.MarkerID, store.MarkerStatus(p.Status))
	if err != nil {
		return h.failure(err)
	}

	h.log.Info("marker resolved", "marker_id", marker.ID, "status", marker.Status)
	return map[string]any{
		"success": true,
		"marker":  marker,
		"message": fmt.Sprintf("marker %s moved to %s", marker.ID, marker.Status),
	}
}
