package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"hassbridge/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramPollTimeout    = 30
	telegramReplyQueue     = 64
	telegramSendTimeout    = 30 * time.Second
)

const telegramHelp = "Commands:\n" +
	"turn on|off coffee machine\n" +
	"turn on heating upstairs|downstairs [15-24]\n" +
	"turn off heating upstairs|downstairs\n" +
	"turn on|off dehumidifier\n" +
	"call service <domain> <service> <entity_id>"

// botSender is the part of *tgbotapi.BotAPI used to deliver replies.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements domain.Channel with a long-polling bot. Every text
// message is forwarded to the bus; the bot token is the only credential.
// Replies are queued without blocking and sent in order by one goroutine.
type Telegram struct {
	token      string
	httpClient *http.Client

	bot     *tgbotapi.BotAPI
	sender  botSender
	replies chan domain.OutboundMessage
	bus     domain.MessageBus
	logger  *slog.Logger
}

type TelegramConfig struct {
	Token      string
	HTTPClient *http.Client // optional
	Logger     *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	return &Telegram{
		token:      cfg.Token,
		httpClient: cfg.HTTPClient,
		replies:    make(chan domain.OutboundMessage, telegramReplyQueue),
		logger:     cfg.Logger,
	}
}

var _ domain.Channel = (*Telegram)(nil)

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	var bot *tgbotapi.BotAPI
	var err error
	if t.httpClient != nil {
		bot, err = tgbotapi.NewBotAPIWithClient(t.token, tgbotapi.APIEndpoint, t.httpClient)
	} else {
		bot, err = tgbotapi.NewBotAPI(t.token)
	}
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.sender = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	go t.deliverReplies(ctx)
	bus.OnOutbound(t.Name(), t.enqueueReply)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Send delivers content to chatID, split into chunks Telegram accepts.
// Retries stop when ctx is done.
func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	if t.sender == nil {
		return errors.New("telegram bot not started")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	for _, chunk := range splitMessage(content, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, id, chunk); err != nil {
			return err
		}
	}
	return nil
}

// enqueueReply runs on the caller's goroutine (the router) and never blocks.
func (t *Telegram) enqueueReply(msg domain.OutboundMessage) {
	select {
	case t.replies <- msg:
	default:
		t.logger.Warn("telegram reply queue full, dropping reply", "chat_id", msg.ChatID)
	}
}

// deliverReplies sends queued replies in order until ctx is cancelled. Each
// reply gets its own deadline.
func (t *Telegram) deliverReplies(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.replies:
			sendCtx, cancel := context.WithTimeout(ctx, telegramSendTimeout)
			if err := t.Send(sendCtx, msg.ChatID, msg.Content); err != nil {
				t.logger.Error("telegram reply failed", "chat_id", msg.ChatID, "error", err)
			}
			cancel()
		}
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg, ok := inboundFromUpdate(update)
	if !ok {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(msg.ChatID, update.Message)
		return
	}

	t.logger.Info("telegram message received",
		"user_id", msg.SenderID,
		"chat_id", msg.ChatID,
		"text_len", len(msg.Content),
	)

	_, _ = t.bot.Request(tgbotapi.NewChatAction(update.Message.Chat.ID, tgbotapi.ChatTyping))
	t.bus.Publish(msg)
}

// inboundFromUpdate extracts a text message from an update. Updates without
// a sender, a chat or text are skipped.
func inboundFromUpdate(update tgbotapi.Update) (domain.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return domain.InboundMessage{}, false
	}
	return domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		SenderID:  strconv.FormatInt(m.From.ID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(m.Date), 0),
	}, true
}

func (t *Telegram) handleCommand(chatID string, msg *tgbotapi.Message) {
	var text string
	switch msg.Command() {
	case "start", "help":
		text = telegramHelp
	case "status":
		text = fmt.Sprintf("hassbridge is running\n\nBot: @%s\nChat ID: %s", t.bot.Self.UserName, chatID)
	default:
		text = "Unknown command. Type /help for available commands."
	}
	t.enqueueReply(domain.OutboundMessage{Channel: t.Name(), ChatID: chatID, Content: text})
}

// sendChunk sends one plain-text message, backing off on rate limits and
// transient errors.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) error {
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if _, err = t.sender.Send(tgbotapi.NewMessage(chatID, text)); err == nil {
			return nil
		}
		if attempt == telegramMaxSendRetries {
			break
		}

		backoff := time.Duration(attempt+1) * time.Second
		if errStr := err.Error(); strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			backoff = time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", backoff, "attempt", attempt+1)
		} else {
			t.logger.Warn("telegram send error, retrying", "error", err, "backoff", backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("telegram send: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, err)
}

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring
// to break after a newline and never inside a UTF-8 sequence.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		} else {
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
