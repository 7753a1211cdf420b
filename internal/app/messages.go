package app

import (
	"context"
	"log"
	"strconv"
	"strings"

	"reparts/api/internal/store"
	"reparts/api/internal/util"
)

const maxMessageLength = 4000

// AppendMessage adds text to a thread the sender takes part in.
func (s *Service) AppendMessage(ctx context.Context, chatID string, sender Session, text string) (store.Message, error) {
	chat, err := s.participantChat(ctx, chatID, sender)
	if err != nil {
		return store.Message{}, err
	}
	return s.appendMessage(ctx, chat.ID, sender, text)
}

func (s *Service) appendMessage(ctx context.Context, chatID string, sender Session, text string) (store.Message, error) {
	text = strings.TrimSpace(text)
	if err := validateField("text", text, "required,max="+strconv.Itoa(maxMessageLength)); err != nil {
		return store.Message{}, err
	}

	senderEmail := s.contactEmail(ctx, sender.UserID)
	if senderEmail == "" {
		senderEmail = "Unknown"
	}
	item := store.Message{
		ID:          util.NewSequenceID(),
		ChatID:      chatID,
		SenderID:    sender.UserID,
		SenderEmail: senderEmail,
		Text:        text,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertMessage(ctx, item); err != nil {
		return store.Message{}, err
	}
	if err := s.store.TouchChat(ctx, chatID, item.CreatedAt); err != nil {
		log.Printf("chat: touch %s: %v", chatID, err)
	}
	return item, nil
}

// ListMessages returns a thread's messages oldest first.
func (s *Service) ListMessages(ctx context.Context, chatID string, caller Session) ([]store.Message, error) {
	chat, err := s.participantChat(ctx, chatID, caller)
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, chat.ID)
}

// Message ids are int64 snowflakes; they travel as strings so JavaScript
// clients keep full precision.
func messagePayload(item store.Message) map[string]any {
	return map[string]any{
		"id":          strconv.FormatInt(item.ID, 10),
		"chatId":      item.ChatID,
		"senderId":    item.SenderID,
		"senderEmail": item.SenderEmail,
		"text":        item.Text,
		"createdAt":   item.CreatedAt,
	}
}
