package telegram

import (
	"context"
	"fmt"
	"strconv"

	"taskrunner/config"
	"taskrunner/pkg/logger"
	"taskrunner/pkg/ratelimit"

	"golang.org/x/time/rate"
	"gopkg.in/telebot.v3"
)

// Sender pushes plain messages to a fixed chat, throttled globally and per chat.
type Sender struct {
	cfg           *config.Notification
	log           *logger.Logger
	bot           *telebot.Bot
	globalLimiter *rate.Limiter
	chatLimiters  *ratelimit.LimiterStore
}

// NewSender builds an offline bot (no getMe round trip at start-up) for outbound messages only.
func NewSender(cfg *config.Notification, log *logger.Logger) (*Sender, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:   cfg.BotToken,
		Offline: true,
		OnError: func(err error, c telebot.Context) {
			log.Error("Telegram bot error", logger.ErrorField(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	perSecond := cfg.MaxPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}

	return &Sender{
		cfg:           cfg,
		log:           log,
		bot:           bot,
		globalLimiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
		chatLimiters:  ratelimit.NewLimiterStore(rate.Limit(perSecond), perSecond),
	}, nil
}

// SendMessage delivers text to the configured chat.
func (t *Sender) SendMessage(ctx context.Context, message string, opts ...interface{}) error {
	return t.SendMessageTo(ctx, t.cfg.ChatID, message, opts...)
}

func (t *Sender) SendMessageTo(ctx context.Context, chatID int64, message string, opts ...interface{}) error {
	if err := t.checkRateLimit(ctx, chatID); err != nil {
		return err
	}
	if _, err := t.bot.Send(&telebot.Chat{ID: chatID}, message, opts...); err != nil {
		t.log.ErrorContext(ctx, "Failed to send message", logger.ErrorField(err), logger.Int64Field("chat_id", chatID))
		return err
	}
	return nil
}

func (t *Sender) checkRateLimit(ctx context.Context, chatID int64) error {
	if err := t.chatLimiters.Wait(ctx, strconv.FormatInt(chatID, 10)); err != nil {
		t.log.ErrorContext(ctx, "Failed to wait for chat rate limit", logger.ErrorField(err))
		return err
	}
	if err := t.globalLimiter.Wait(ctx); err != nil {
		t.log.ErrorContext(ctx, "Failed to wait for global rate limit", logger.ErrorField(err))
		return err
	}
	return nil
}
