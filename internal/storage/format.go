package storage

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chatvault/internal/arc"
)

// Format is a conversation export format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormats validates format names. An empty list means JSON only.
// JSON is always written since GetConversation reads it back.
func ParseFormats(names []string) ([]Format, error) {
	formats := []Format{FormatJSON}
	for _, n := range names {
		switch Format(strings.ToLower(n)) {
		case FormatJSON:
		case FormatMarkdown, "md":
			if len(formats) == 1 {
				formats = append(formats, FormatMarkdown)
			}
		default:
			return nil, fmt.Errorf("unknown export format: %s", n)
		}
	}
	return formats, nil
}

// fileName returns the uncompressed file name for f.
func (f Format) fileName() string {
	if f == FormatMarkdown {
		return "conversation.md"
	}
	return "conversation.json"
}

func (f Format) encode(conv *arc.Conversation) ([]byte, error) {
	if f == FormatMarkdown {
		return encodeMarkdown(conv)
	}
	return marshalJSON(conv)
}

type frontMatter struct {
	ID            string    `yaml:"id"`
	Provider      string    `yaml:"provider"`
	Title         string    `yaml:"title"`
	CreatedAt     time.Time `yaml:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at"`
	Messages      int       `yaml:"messages"`
	WorkspaceID   string    `yaml:"workspace_id,omitempty"`
	WorkspaceName string    `yaml:"workspace_name,omitempty"`
	ProjectID     string    `yaml:"project_id,omitempty"`
	ProjectName   string    `yaml:"project_name,omitempty"`
	Folder        string    `yaml:"folder,omitempty"`
}

// encodeMarkdown renders conv as YAML front matter followed by one section
// per message.
func encodeMarkdown(conv *arc.Conversation) ([]byte, error) {
	fm := frontMatter{
		ID:        conv.ID,
		Provider:  conv.Provider,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt.UTC(),
		UpdatedAt: conv.UpdatedAt.UTC(),
		Messages:  len(conv.Messages),
	}
	if h := conv.Hierarchy; h != nil {
		fm.WorkspaceID, fm.WorkspaceName = h.WorkspaceID, h.WorkspaceName
		fm.ProjectID, fm.ProjectName = h.ProjectID, h.ProjectName
		fm.Folder = h.Folder
	}
	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("encoding front matter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	title := conv.Title
	if title == "" {
		title = "Untitled conversation"
	}
	fmt.Fprintf(&b, "# %s\n", title)
	for _, m := range conv.Messages {
		fmt.Fprintf(&b, "\n## %s", m.Role)
		if !m.Timestamp.IsZero() {
			fmt.Fprintf(&b, " (%s)", m.Timestamp.UTC().Format(time.RFC3339))
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(m.Content, "\n"))
		b.WriteString("\n")
		for _, a := range m.Attachments {
			ref := a.URL
			if a.IsInline() {
				ref = attachmentFileName(a)
			}
			fmt.Fprintf(&b, "\n- %s: %s\n", a.Type, ref)
		}
	}
	return b.Bytes(), nil
}

// attachmentFileName names the side file for an inline attachment.
func attachmentFileName(a arc.Attachment) string {
	return "attachment-" + Sanitize(a.ID) + inlineExtension(a)
}

func inlineExtension(a arc.Attachment) string {
	switch {
	case strings.Contains(a.MimeType, "markdown"):
		return ".md"
	case strings.Contains(a.MimeType, "html"):
		return ".html"
	case strings.Contains(a.MimeType, "json"):
		return ".json"
	case strings.HasPrefix(a.MimeType, "image/svg"):
		return ".svg"
	default:
		return ".txt"
	}
}
