package bot

import (
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Navigation & control surface
// ═══════════════════════════════════════════════════════════════════════════════
//
// Chat commands play the role of page navigation: /market moves the router, the
// market session reacts to the route change like it would to a URL change.
//
// ═══════════════════════════════════════════════════════════════════════════════

// TelegramBot manages the Telegram interface
type TelegramBot struct {
	mu       sync.RWMutex
	api      *tgbotapi.BotAPI
	chatID   int64
	running  bool
	stopCh   chan struct{}
	commands *Commands
}

// NewTelegramBot creates a new Telegram bot
func NewTelegramBot(token string, chatID int64, commands *Commands) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:      api,
		chatID:   chatID,
		stopCh:   make(chan struct{}),
		commands: commands,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")

	return bot, nil
}

// Start begins listening for commands
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.running = false
	close(b.stopCh)
	b.api.StopReceivingUpdates()
	log.Info().Msg("Telegram bot stopped")
}

// Notify sends a free-form message to the configured chat
func (b *TelegramBot) Notify(text string) {
	b.send(text)
}

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}

			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	log.Debug().
		Str("command", msg.Command()).
		Str("args", msg.CommandArguments()).
		Msg("Received command")

	b.send(b.commands.Execute(msg.Command(), msg.CommandArguments()))
}

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
