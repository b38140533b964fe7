package telegram

import (
	"context"
	"html"
	"regexp"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// fromOperatorChat reports whether a message comes from the configured chat
func (b *Bot) fromOperatorChat(msg *models.Message) bool {
	if msg == nil {
		return false
	}
	if msg.Chat.ID != b.chatID {
		b.logger.Debug("ignoring message from foreign chat", "chat_id", msg.Chat.ID)
		return false
	}
	return true
}

// canControl reports whether the sender may change worker state. In
// private chats the chat itself is the operator; in groups only admins are.
func (b *Bot) canControl(ctx context.Context, chat models.Chat, user *models.User) bool {
	if chat.Type == "private" {
		return true
	}
	if user == nil {
		return false
	}

	isAdmin, err := b.isUserAdmin(ctx, chat.ID, user.ID)
	if err != nil {
		b.logger.Error("failed to check admin status", "error", err)
		return false
	}
	return isAdmin
}

// isUserAdmin checks if a user is an admin in the chat
func (b *Bot) isUserAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	member, err := b.bot.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: userID})
	if err != nil {
		return false, err
	}
	return member.Type == models.ChatMemberTypeOwner || member.Type == models.ChatMemberTypeAdministrator, nil
}

// reply answers a message in its chat and topic, logging failures
func (b *Bot) reply(ctx context.Context, msg *models.Message, text string) {
	if _, err := b.send(ctx, msg.Chat.ID, msg.MessageThreadID, text, nil); err != nil {
		b.logger.Error("failed to send message", "error", err)
	}
}

// send posts an HTML message, into a forum topic when topicID is set
func (b *Bot) send(ctx context.Context, chatID int64, topicID int, text string, keyboard *models.InlineKeyboardMarkup) (*models.Message, error) {
	params := &bot.SendMessageParams{
		ChatID:          chatID,
		MessageThreadID: topicID,
		Text:            text,
		ParseMode:       models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	return b.bot.SendMessage(ctx, params)
}

// editMessage replaces the text and keyboard of a message
func (b *Bot) editMessage(ctx context.Context, chatID int64, msgID int, text string, keyboard *models.InlineKeyboardMarkup) error {
	_, err := b.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   msgID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: keyboard,
	})
	return err
}

// answerCallback answers a callback query
func (b *Bot) answerCallback(ctx context.Context, callbackID, text string, showAlert bool) {
	_, err := b.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       showAlert,
	})
	if err != nil {
		b.logger.Warn("failed to answer callback", "error", err)
	}
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

// stripTags turns formatted HTML into the plain text callback answers take
func stripTags(s string) string {
	s = html.UnescapeString(tagRe.ReplaceAllString(s, ""))
	if r := []rune(s); len(r) > 200 {
		s = string(r[:199]) + "…"
	}
	return s
}
