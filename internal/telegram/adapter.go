// Package telegram answers Telegram messages with the same conversation
// loop as the HTTP API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/gateway"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/normalize"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/runtime"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
)

const maxTelegramMessage = 4096

// Runner runs one conversation.
type Runner interface {
	Run(run *gateway.Run, req *runtime.Request, emit runtime.Emitter) (*runtime.Result, error)
}

// sender is the part of the bot API used to reply.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Options configures an Adapter.
type Options struct {
	Runner      Runner
	Gateway     *gateway.Gateway
	Model       string
	Temperature float64
	Logger      *slog.Logger
}

// Adapter bridges Telegram to the conversation loop. Every message is an
// independent conversation; no history is kept between messages.
type Adapter struct {
	bot  *tgbotapi.BotAPI
	send sender
	opts Options
	wg   sync.WaitGroup
}

// New creates a Telegram adapter.
func New(token string, opts Options) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return newAdapter(bot, bot, opts), nil
}

func newAdapter(bot *tgbotapi.BotAPI, send sender, opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{bot: bot, send: send, opts: opts}
}

// Start long-polls for updates until ctx is cancelled, then waits for the
// conversations in flight.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	a.opts.Logger.Info("telegram polling started", "bot", a.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer a.wg.Done()
				a.handleMessage(ctx, msg)
			}(update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			a.wg.Wait()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(msg)
		return
	}

	chatID := msg.Chat.ID
	run := gateway.NewRun(types.SourceTelegram, a.opts.Model)
	run.Ctx = ctx
	req := &runtime.Request{
		Model:       a.opts.Model,
		Messages:    []normalize.Message{{Role: "user", Content: normalize.TextContent(msg.Text)}},
		Temperature: a.opts.Temperature,
	}

	a.opts.Logger.Info("telegram message", "run_id", run.ID, "chat_id", chatID)
	var col runtime.Collector
	if _, err := a.opts.Runner.Run(run, req, &col); err != nil {
		if ctx.Err() != nil {
			return
		}
		a.opts.Logger.Error("telegram conversation failed", "run_id", run.ID, "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
		return
	}

	text := strings.TrimSpace(col.Text())
	if text == "" {
		text = "(no answer)"
	}
	a.sendResponse(chatID, text)
}

func (a *Adapter) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! I'm OPTIMUS, the company data assistant. Ask me about customers, projects, quotations or employees.")

	case "status":
		var b strings.Builder
		fmt.Fprintf(&b, "Model: %s\n", a.opts.Model)
		if g := a.opts.Gateway; g != nil {
			fmt.Fprintf(&b, "Conversations in flight: %d of %d\n", g.Limiter().Active(), g.Limiter().Max())
			for _, info := range g.Active() {
				fmt.Fprintf(&b, "- %s %s round %d\n", info.Source, info.Phase, info.Rounds)
			}
		}
		a.sendResponse(chatID, strings.TrimRight(b.String(), "\n"))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /status")
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.send.Send(msg); err != nil {
			// Model output is not always valid Telegram markdown.
			msg.ParseMode = ""
			if _, err := a.send.Send(msg); err != nil {
				a.opts.Logger.Error("send message failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

// splitMessage cuts text into Telegram-sized parts, preferring line breaks
// and never splitting a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > maxTelegramMessage/2 {
			end = nl + 1
		}
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
