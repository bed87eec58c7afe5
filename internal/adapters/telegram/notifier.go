package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/config"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// Notifier pushes operator alerts to a Telegram chat. A nil notifier
// is safe to call; every method no-ops when unconfigured.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewNotifier creates a notifier, or nil when not configured
func NewNotifier(cfg *config.TelegramConfig) *Notifier {
	if cfg == nil || cfg.BotToken == "" || cfg.ChatID == 0 {
		logger.Info("📱 Telegram notifications disabled")
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Warn("⚠️ Failed to init telegram bot, notifications disabled", zap.Error(err))
		return nil
	}

	logger.Info("📱 Telegram notifications enabled", zap.String("bot", bot.Self.UserName))
	return &Notifier{bot: bot, chatID: cfg.ChatID}
}

// NotifyStartup announces the engine coming up
func (n *Notifier) NotifyStartup(agentCount int) {
	n.send(fmt.Sprintf("🚀 *Fleet online*\n%d agents loaded", agentCount))
}

// NotifyShutdown announces a clean shutdown
func (n *Notifier) NotifyShutdown() {
	n.send("🛑 *Fleet shutting down*")
}

// NotifyAgentStarted announces one agent starting
func (n *Notifier) NotifyAgentStarted(agentID, name string) {
	n.send(fmt.Sprintf("🤖 *%s* (`%s`) started", escape(name), agentID))
}

// NotifyAgentStopped announces one agent stopping
func (n *Notifier) NotifyAgentStopped(agentID string) {
	n.send(fmt.Sprintf("🛑 Agent `%s` stopped", agentID))
}

// NotifyTrade reports an executed swap
func (n *Notifier) NotifyTrade(agentID string, trade *models.TradePayload) {
	mode := ""
	if trade.Simulated {
		mode = " _(simulated)_"
	}
	n.send(fmt.Sprintf("💾 *Trade*%s\nAgent: `%s`\nToken: `%s`\nAmount: %s SOL\nSig: `%s`",
		mode, agentID, escape(trade.TokenMint), trade.Amount, escape(trade.Signature)))
}

// NotifyError reports an operator-actionable failure
func (n *Notifier) NotifyError(agentID, what string, err error) {
	n.send(fmt.Sprintf("⚠️ *%s*\nAgent: `%s`\n`%v`", escape(what), agentID, err))
}

func (n *Notifier) send(text string) {
	if n == nil {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.bot.Send(msg); err != nil {
		logger.Warn("⚠️ Failed to send telegram notification", zap.Error(err))
	}
}

func escape(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '*', '_', '`', '[':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
