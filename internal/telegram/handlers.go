package telegram

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/luthierworks/luthier/internal/errors"
)

const commandTimeout = 2 * time.Minute

func (b *Bot) handleMessage(msg Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	// Only the configured chat may drive the integration.
	if msg.ChatID != b.chatID {
		b.logger.Warn("ignoring telegram message from unknown chat", "chat_id", msg.ChatID)
		return
	}
	b.handleCommand(msg.ChatID, text)
}

func (b *Bot) handleCommand(chatID int64, text string) {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return
	}

	command := strings.ToLower(parts[0])
	// "/status@luthier_bot" in group chats
	if at := strings.IndexByte(command, '@'); at > 0 {
		command = command[:at]
	}

	switch command {
	case "/start", "/help":
		b.sendMessage(chatID, formatHelpMessage())
	case "/status":
		b.handleStatus(chatID, len(parts) > 1 && strings.EqualFold(parts[1], "account"))
	case "/sync":
		b.handleSync(chatID)
	case "/connect":
		b.handleConnect(chatID)
	default:
		b.sendErrorMessage(chatID, fmt.Sprintf("Unknown command: %s. Type /help for available commands.", command))
	}
}

func (b *Bot) handleStatus(chatID int64, withAccount bool) {
	if b.onGetStatus == nil {
		b.sendErrorMessage(chatID, "Status is not available.")
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	status, err := b.onGetStatus(ctx, withAccount)
	if err != nil {
		b.sendErrorMessage(chatID, userMessage(err))
		return
	}
	b.sendMessage(chatID, formatStatus(status))
}

func (b *Bot) handleSync(chatID int64) {
	if b.onSync == nil {
		b.sendErrorMessage(chatID, "Sync is not available.")
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	// The importer notifies through NotifySync, so only failures to start
	// are reported here.
	if _, err := b.onSync(ctx); err != nil {
		var busy *errors.ErrSyncInProgress
		if stderrors.As(err, &busy) {
			b.sendErrorMessage(chatID, busy.UserMessage())
		}
	}
}

func (b *Bot) handleConnect(chatID int64) {
	if b.connectURL == nil {
		b.sendErrorMessage(chatID, "Google connection is not configured.")
		return
	}
	b.sendMessage(chatID, formatConnect(b.connectURL()))
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if err := b.send(chatID, text); err != nil {
		b.logger.Debug("telegram reply dropped", "error", err.Error())
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.sendMessage(chatID, formatError(text))
}
