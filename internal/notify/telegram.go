package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ConserveLee/scroll-idle/internal/logger"
)

const (
	pollTimeout = 30 // seconds, long polling
	retryDelay  = 3 * time.Second
)

// Reply is the answer to a chat command. Image may be empty.
type Reply struct {
	Text  string
	Image string
}

// CommandFunc handles a chat command such as "pause" (without the slash).
type CommandFunc func(ctx context.Context, command string) Reply

// Telegram sends notifications to one chat and takes commands from it.
// The API connection is made on first use so an offline start does not fail.
type Telegram struct {
	Token  string
	ChatID int64
	// Endpoint is a tgbotapi endpoint format, tgbotapi.APIEndpoint by default.
	Endpoint string
	log      logger.Logger

	mu  sync.Mutex
	api *tgbotapi.BotAPI
}

func NewTelegram(token string, chatID int64, log logger.Logger) *Telegram {
	if log == nil {
		log = logger.Nop{}
	}
	return &Telegram{Token: token, ChatID: chatID, Endpoint: tgbotapi.APIEndpoint, log: log}
}

func (t *Telegram) client() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.api != nil {
		return t.api, nil
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.Token, t.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	t.log.Debug("telegram connected as @%s", api.Self.UserName)
	t.api = api
	return api, nil
}

// Send posts text, as a photo caption when imagePath is set.
func (t *Telegram) Send(_ context.Context, text, imagePath string) error {
	return t.send(text, imagePath, 0)
}

func (t *Telegram) send(text, imagePath string, replyTo int) error {
	api, err := t.client()
	if err != nil {
		return err
	}
	var msg tgbotapi.Chattable
	if imagePath == "" {
		m := tgbotapi.NewMessage(t.ChatID, text)
		m.ReplyToMessageID = replyTo
		msg = m
	} else {
		p := tgbotapi.NewPhoto(t.ChatID, tgbotapi.FilePath(imagePath))
		p.Caption = text
		p.ReplyToMessageID = replyTo
		msg = p
	}
	if _, err := api.Send(msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Listen long-polls for commands from the configured chat and answers each
// with handle's reply. Messages from other chats are ignored. It returns
// when ctx ends; a poll in flight is abandoned.
func (t *Telegram) Listen(ctx context.Context, handle CommandFunc) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	cfg.AllowedUpdates = []string{"message"}

	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	for ctx.Err() == nil {
		api, err := t.client()
		if err != nil {
			t.log.Warn("%v", err)
			if !sleepCtx(ctx, retryDelay) {
				break
			}
			continue
		}

		ch := make(chan result, 1)
		go func(cfg tgbotapi.UpdateConfig) {
			u, err := api.GetUpdates(cfg)
			ch <- result{u, err}
		}(cfg)

		var res result
		select {
		case <-ctx.Done():
			return nil
		case res = <-ch:
		}
		if res.err != nil {
			t.log.Warn("telegram updates: %v", res.err)
			if !sleepCtx(ctx, retryDelay) {
				break
			}
			continue
		}

		for _, u := range res.updates {
			if u.UpdateID >= cfg.Offset {
				cfg.Offset = u.UpdateID + 1
			}
			m := u.Message
			if m == nil || !m.IsCommand() {
				continue
			}
			if m.Chat == nil || m.Chat.ID != t.ChatID {
				t.log.Warn("telegram: ignored /%s from chat %d", m.Command(), chatID(m))
				continue
			}
			t.log.Info("Telegram command /%s", m.Command())
			r := handle(ctx, strings.ToLower(m.Command()))
			if r.Text == "" && r.Image == "" {
				continue
			}
			if err := t.send(r.Text, r.Image, m.MessageID); err != nil {
				t.log.Warn("%v", err)
			}
		}
	}
	return nil
}

func chatID(m *tgbotapi.Message) int64 {
	if m.Chat == nil {
		return 0
	}
	return m.Chat.ID
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
