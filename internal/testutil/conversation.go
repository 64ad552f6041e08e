package testutil

import (
	"fmt"
	"time"

	"chatvault/internal/arc"
)

// BaseTime is the reference instant used by conversation fixtures.
var BaseTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// NewConversation returns a two-message conversation created and updated at
// BaseTime.
func NewConversation(provider, id string) *arc.Conversation {
	return &arc.Conversation{
		ID:        id,
		Provider:  provider,
		Title:     "Conversation " + id,
		CreatedAt: BaseTime,
		UpdatedAt: BaseTime,
		Messages: []arc.Message{
			{ID: id + "-m1", Role: "user", Content: "hello from " + id, Timestamp: BaseTime},
			{ID: id + "-m2", Role: "assistant", Content: "reply to " + id, Timestamp: BaseTime.Add(time.Second)},
		},
	}
}

// WithAttachments appends one remote attachment per URL to the last message.
func WithAttachments(conv *arc.Conversation, urls ...string) *arc.Conversation {
	last := &conv.Messages[len(conv.Messages)-1]
	for i, u := range urls {
		last.Attachments = append(last.Attachments, arc.Attachment{
			ID:   fmt.Sprintf("%s-att%d", conv.ID, i+1),
			Type: arc.AttachmentImage,
			URL:  u,
		})
	}
	return conv
}

// SummaryOf returns the listing summary matching conv.
func SummaryOf(conv *arc.Conversation) arc.ConversationSummary {
	return arc.ConversationSummary{
		ID:           conv.ID,
		Title:        conv.Title,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: len(conv.Messages),
		HasMedia:     conv.HasAttachments(),
	}
}
