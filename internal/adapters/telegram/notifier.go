package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/akulov/exit-engine/internal/adapters/config"
	"github.com/akulov/exit-engine/pkg/logger"
	"github.com/akulov/exit-engine/pkg/models"
)

// Controller is the subset of engine operations reachable from chat commands
type Controller interface {
	BreakerStatus(ctx context.Context) (*models.BreakerStatus, error)
	ResumeTrading(ctx context.Context) error
}

// Notifier sends circuit-breaker alerts to a single configured chat and
// handles the /status and /resume commands.
type Notifier struct {
	api          *tgbotapi.BotAPI
	chatID       int64
	alertOnHalts bool
	controller   Controller
}

// NewNotifier creates new Telegram notifier
func NewNotifier(cfg *config.TelegramConfig) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info("telegram notifier initialized",
		zap.String("username", api.Self.UserName),
	)

	return &Notifier{
		api:          api,
		chatID:       cfg.ChatID,
		alertOnHalts: cfg.AlertOnHalts,
	}, nil
}

// SetController sets command controller
func (n *Notifier) SetController(controller Controller) {
	n.controller = controller
}

// NotifyHalt alerts that the circuit breaker halted trading
func (n *Notifier) NotifyHalt(accountID string, reasons []string) {
	if !n.alertOnHalts {
		return
	}

	text := fmt.Sprintf("🛑 TRADING HALTED\nAccount: %s\nReasons:\n- %s\n\nSend /resume to re-enable after review.",
		accountID, strings.Join(reasons, "\n- "))
	n.send(text)
}

// NotifyResume alerts that trading was manually resumed
func (n *Notifier) NotifyResume(accountID string) {
	if !n.alertOnHalts {
		return
	}

	n.send(fmt.Sprintf("✅ Trading resumed for account %s", accountID))
}

// Start listens for commands until the context is cancelled
func (n *Notifier) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := n.api.GetUpdatesChan(u)

	logger.Info("telegram notifier started, listening for commands")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			if update.Message == nil {
				continue
			}

			// Only process messages from configured chat
			if update.Message.Chat.ID != n.chatID {
				continue
			}

			go n.handleCommand(ctx, update.Message)
		}
	}
}

func (n *Notifier) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	if !message.IsCommand() {
		return
	}

	command := message.Command()

	logger.Info("received telegram command",
		zap.String("command", command),
	)

	var response string

	if n.controller == nil {
		response = "⚠️ Controller not initialized"
	} else {
		switch command {
		case "status":
			response = n.statusText(ctx)
		case "resume":
			if err := n.controller.ResumeTrading(ctx); err != nil {
				response = fmt.Sprintf("❌ Resume failed: %v", err)
			} else {
				response = "✅ Circuit breaker resumed"
			}
		default:
			response = "Commands: /status /resume"
		}
	}

	n.send(response)
}

func (n *Notifier) statusText(ctx context.Context) string {
	status, err := n.controller.BreakerStatus(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Status failed: %v", err)
	}

	state := "TRADING"
	if !status.AllowTrading {
		state = "HALTED"
	}

	text := fmt.Sprintf("State: %s\nDaily loss: %.2f%%\nDrawdown: %.2f%%\nConsecutive losses: %d\nTrades today: %d",
		state, status.DailyLossPct, status.DrawdownPct, status.ConsecutiveLosses, status.TradesToday)
	if len(status.TriggeredReasons) > 0 {
		text += "\nReasons:\n- " + strings.Join(status.TriggeredReasons, "\n- ")
	}
	return text
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		logger.Error("failed to send telegram message", zap.Error(err))
	}
}
