package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/rove-run/rove/internal/agent"
	"github.com/rove-run/rove/internal/registry"
)

// TaskRunner hands a task off to the agent core and blocks for its
// result — implemented in cmd/rove as a closure over agent.Loop, so
// this package stays ignorant of providers/persistence/registry wiring
// beyond the Confirmer contract it implements itself.
type TaskRunner func(ctx context.Context, task agent.TaskInput) (*agent.TaskResult, error)

// TelegramChannel is a task source: allowed users' messages become
// TaskInputs with origin "telegram"; T1/T2 tool confirmations surface
// as inline-keyboard prompts in the same chat.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	run        TaskRunner
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI

	pendingMu sync.Mutex
	pending   map[string]chan bool // confirmation requestID -> decision (true = approve)
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(token string, allowedIDs []int64, run TaskRunner, logger *slog.Logger) *TelegramChannel {
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		run:        run,
		logger:     logger,
		pending:    make(map[string]chan bool),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2.5x the long-poll timeout (stall
// detection, since the library blocks rather than closing the channel on
// a dead connection).
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
					t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
					continue
				}
				go t.handleMessage(ctx, update.Message)
				continue
			}

			if update.CallbackQuery != nil {
				if _, ok := t.allowedIDs[update.CallbackQuery.From.ID]; !ok {
					t.logger.Warn("telegram callback access denied", "user_id", update.CallbackQuery.From.ID)
					continue
				}
				t.handleCallbackQuery(update.CallbackQuery)
				continue
			}

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}

	task := agent.TaskInput{
		Prompt:       content,
		Source:       fmt.Sprintf("telegram:%d", msg.From.ID),
		RemoteOrigin: true,
		Confirm:      t.confirmerFor(msg.Chat.ID),
	}

	result, err := t.run(ctx, task)
	if err != nil {
		t.reply(msg.Chat.ID, fmt.Sprintf("Task failed: %v", err))
		return
	}
	t.reply(msg.Chat.ID, result.FinalMessage)
}

// handleCallbackQuery resolves an inline-keyboard press against the
// pending confirmation it answers (format: "confirm:<requestID>:<action>").
func (t *TelegramChannel) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	requestID, action, err := parseConfirmCallback(query.Data)
	if err != nil {
		return
	}

	notification := tgbotapi.NewCallbackWithAlert(query.ID, fmt.Sprintf("Processing %s...", action))
	if _, err := t.bot.Request(notification); err != nil {
		t.logger.Warn("failed to send callback notification", "error", err)
	}

	t.pendingMu.Lock()
	ch, ok := t.pending[requestID]
	t.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- action == "approve":
	default:
	}
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}

// confirmerFor returns a registry.Confirmer that surfaces T1/T2 tool
// confirmations as inline-keyboard prompts in chatID.
func (t *TelegramChannel) confirmerFor(chatID int64) registry.Confirmer {
	return &telegramConfirmer{channel: t, chatID: chatID}
}

type telegramConfirmer struct {
	channel *TelegramChannel
	chatID  int64
}

// WaitT1 presents a Cancel button and auto-approves once window elapses
// without a cancel — the countdown itself is the confirmation.
func (c *telegramConfirmer) WaitT1(ctx context.Context, toolName string, args json.RawMessage, window time.Duration) (bool, error) {
	requestID, cancelCh := c.channel.registerConfirmation()
	defer c.channel.unregisterConfirmation(requestID)

	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Cancel", fmt.Sprintf("confirm:%s:cancel", requestID)),
	))
	msg := tgbotapi.NewMessage(c.chatID, fmt.Sprintf("Running %q in %s — tap Cancel to stop it.", toolName, window))
	msg.ReplyMarkup = keyboard
	if _, err := c.channel.bot.Send(msg); err != nil {
		return false, err
	}

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case decision := <-cancelCh:
		return decision, nil
	case <-timer.C:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// WaitT2 blocks on an explicit Approve/Reject response.
func (c *telegramConfirmer) WaitT2(ctx context.Context, toolName string, args json.RawMessage) (bool, error) {
	requestID, signalCh := c.channel.registerConfirmation()
	defer c.channel.unregisterConfirmation(requestID)

	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Approve", fmt.Sprintf("confirm:%s:approve", requestID)),
		tgbotapi.NewInlineKeyboardButtonData("Reject", fmt.Sprintf("confirm:%s:reject", requestID)),
	))
	msg := tgbotapi.NewMessage(c.chatID, fmt.Sprintf("Approve running %q?", toolName))
	msg.ReplyMarkup = keyboard
	if _, err := c.channel.bot.Send(msg); err != nil {
		return false, err
	}

	select {
	case decision := <-signalCh:
		return decision, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (t *TelegramChannel) registerConfirmation() (string, chan bool) {
	requestID := uuid.NewString()
	ch := make(chan bool, 1)
	t.pendingMu.Lock()
	t.pending[requestID] = ch
	t.pendingMu.Unlock()
	return requestID, ch
}

func (t *TelegramChannel) unregisterConfirmation(requestID string) {
	t.pendingMu.Lock()
	delete(t.pending, requestID)
	t.pendingMu.Unlock()
}

func parseConfirmCallback(data string) (requestID, action string, err error) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "confirm:") {
		return "", "", fmt.Errorf("not a confirmation callback")
	}
	parts := strings.SplitN(strings.TrimPrefix(data, "confirm:"), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid confirmation callback format")
	}
	return parts[0], parts[1], nil
}
