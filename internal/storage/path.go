package storage

import (
	"fmt"
	"path"
	"regexp"

	"chatvault/internal/arc"
)

// Layout selects how unorganized conversations are bucketed on disk.
type Layout string

const (
	// LayoutFlat stores conversations at conversations/<id>.
	LayoutFlat Layout = "flat"
	// LayoutDate stores conversations at conversations/YYYY/MM/<id> by creation date.
	LayoutDate Layout = "date"
)

// ParseLayout validates a layout name; empty means flat.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case "", LayoutFlat:
		return LayoutFlat, nil
	case LayoutDate:
		return LayoutDate, nil
	default:
		return "", fmt.Errorf("unknown layout: %s", s)
	}
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Sanitize turns an id into a safe path segment by replacing every character
// outside [A-Za-z0-9_-] with an underscore.
func Sanitize(id string) string {
	if id == "" {
		return "_"
	}
	return unsafeSegment.ReplaceAllString(id, "_")
}

// conversationPath returns the slash-separated directory of conv relative
// to its provider directory.
func conversationPath(conv *arc.Conversation, layout Layout) string {
	id := Sanitize(conv.ID)
	if h := conv.Hierarchy; h.IsOrganized() {
		if h.ProjectID != "" {
			return path.Join("workspaces", Sanitize(h.WorkspaceID), Sanitize(h.ProjectID), "conversations", id)
		}
		return path.Join("workspaces", Sanitize(h.WorkspaceID), "conversations", id)
	}
	if layout == LayoutDate && !conv.CreatedAt.IsZero() {
		t := conv.CreatedAt.UTC()
		return path.Join("conversations", t.Format("2006"), t.Format("01"), id)
	}
	return path.Join("conversations", id)
}
