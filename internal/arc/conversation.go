package arc

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// AttachmentType classifies an attachment for storage and export.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentDocument AttachmentType = "document"
	AttachmentCode     AttachmentType = "code"
	AttachmentArtifact AttachmentType = "artifact"
)

// Conversation is a single conversation as produced by a Provider.
// It is owned by whichever task currently holds it; persisted copies are
// the source of truth once written.
type Conversation struct {
	ID        string               `json:"id"`
	Provider  string               `json:"provider"`
	Title     string               `json:"title"`
	Messages  []Message            `json:"messages"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
	Metadata  ConversationMetadata `json:"metadata"`
	Hierarchy *Hierarchy           `json:"hierarchy,omitempty"`
}

// ConversationMetadata holds derived counts plus provider-specific fields.
type ConversationMetadata struct {
	MessageCount   int            `json:"messageCount"`
	CharacterCount int            `json:"characterCount"`
	MediaCount     int            `json:"mediaCount"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Hierarchy places a conversation inside a workspace and, optionally, a project.
type Hierarchy struct {
	WorkspaceID   string `json:"workspaceId,omitempty"`
	WorkspaceName string `json:"workspaceName,omitempty"`
	ProjectID     string `json:"projectId,omitempty"`
	ProjectName   string `json:"projectName,omitempty"`
	Folder        string `json:"folder,omitempty"`
}

// IsOrganized reports whether h names a workspace.
func (h *Hierarchy) IsOrganized() bool {
	return h != nil && h.WorkspaceID != ""
}

// Message is one turn of a conversation. Role is an open label; providers
// invent their own.
type Message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment references remote media by URL or carries generated content inline.
type Attachment struct {
	ID       string         `json:"id"`
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url,omitempty"`
	Content  string         `json:"content,omitempty"`
	MimeType string         `json:"mimeType,omitempty"`
	Size     int64          `json:"size,omitempty"`
}

// IsInline reports whether the attachment carries its content directly.
func (a Attachment) IsInline() bool {
	return a.URL == "" && a.Content != ""
}

// ConversationSummary is the lightweight listing entry returned by a Provider.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Preview      string    `json:"preview,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount,omitempty"`
	HasMedia     bool      `json:"hasMedia,omitempty"`
}

// Attachments returns every attachment across all messages, in order.
func (c *Conversation) Attachments() []Attachment {
	var out []Attachment
	for _, m := range c.Messages {
		out = append(out, m.Attachments...)
	}
	return out
}

// RemoteAttachments returns attachments that must be downloaded.
func (c *Conversation) RemoteAttachments() []Attachment {
	var out []Attachment
	for _, m := range c.Messages {
		for _, a := range m.Attachments {
			if a.URL != "" {
				out = append(out, a)
			}
		}
	}
	return out
}

// HasAttachments reports whether any message carries an attachment.
func (c *Conversation) HasAttachments() bool {
	if c.Metadata.MediaCount > 0 {
		return true
	}
	for _, m := range c.Messages {
		if len(m.Attachments) > 0 {
			return true
		}
	}
	return false
}

// FillMetadata recomputes message, character and media counts from Messages.
// Extra is left untouched.
func (c *Conversation) FillMetadata() {
	chars, media := 0, 0
	for _, m := range c.Messages {
		chars += len([]rune(m.Content))
		media += len(m.Attachments)
	}
	c.Metadata.MessageCount = len(c.Messages)
	c.Metadata.CharacterCount = chars
	c.Metadata.MediaCount = media
}

// ContentHash is a cheap change fingerprint: 16 hex characters derived from
// the message count and the text of the last message.
func ContentHash(c *Conversation) string {
	last := ""
	if n := len(c.Messages); n > 0 {
		last = c.Messages[n-1].Content
	}
	sum := sha256.Sum256([]byte(strconv.Itoa(len(c.Messages)) + ":" + last))
	return hex.EncodeToString(sum[:])[:16]
}
