// Package alerts delivers operator notifications over Telegram: tripped
// circuit breakers, failed signals and trades, liquidations and dead
// letters. Alerts are best-effort; a Telegram outage never blocks trading.
package alerts

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/events"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// Sender abstracts the Telegram client for tests
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier formats and sends operator alerts. A nil *Notifier is a valid
// no-op, so callers never branch on whether alerting is configured.
type Notifier struct {
	sender Sender
	chatID int64
	logger zerolog.Logger
}

// NewNotifier connects the Telegram bot. Returns nil when alerting is
// disabled in configuration.
func NewNotifier(cfg config.AlertsConfig, logger zerolog.Logger) (*Notifier, error) {
	if !cfg.TelegramEnabled {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	logger.Info().Str("bot", bot.Self.UserName).Msg("Telegram alerting enabled")
	return &Notifier{sender: bot, chatID: cfg.TelegramChatID, logger: logger}, nil
}

// NewNotifierWithSender wires a notifier over an existing sender, for tests
func NewNotifierWithSender(sender Sender, chatID int64, logger zerolog.Logger) *Notifier {
	return &Notifier{sender: sender, chatID: chatID, logger: logger}
}

// Attach subscribes the notifier to the operator-relevant event types
func (n *Notifier) Attach(bus *events.Bus) {
	if n == nil {
		return
	}
	bus.Subscribe("telegram-alerts", n.handle,
		events.SignalFailed,
		events.TradeFailed,
		events.PositionLiquidated,
	)
}

// BreakerHook returns a venue.StateChangeHook that alerts on breaker trips
// and recoveries
func (n *Notifier) BreakerHook() venue.StateChangeHook {
	return func(v venue.Venue, scope string, from, to gobreaker.State) {
		if n == nil {
			return
		}
		switch to {
		case gobreaker.StateOpen:
			n.send(fmt.Sprintf("🔴 Circuit OPEN on %s (scope %s): calls are failing fast", v, scope))
		case gobreaker.StateClosed:
			if from == gobreaker.StateHalfOpen {
				n.send(fmt.Sprintf("🟢 Circuit recovered on %s (scope %s)", v, scope))
			}
		}
	}
}

// DeadLetter alerts on a background job written to the dead letter sink
func (n *Notifier) DeadLetter(task, detail string) {
	if n == nil {
		return
	}
	n.send(fmt.Sprintf("💀 Dead letter in %s: %s", task, detail))
}

func (n *Notifier) handle(ctx context.Context, e events.Event) {
	n.send(format(e))
}

func format(e events.Event) string {
	switch e.Type {
	case events.SignalFailed:
		return fmt.Sprintf("⚠️ Signal failed on %s %s: %s", e.Venue, e.Symbol, e.Reason)
	case events.TradeFailed:
		return fmt.Sprintf("⚠️ Trade failed on %s %s: %s", e.Venue, e.Symbol, e.Reason)
	case events.PositionLiquidated:
		pnl := ""
		if e.PnL != nil {
			pnl = " (pnl " + e.PnL.String() + " USDT)"
		}
		return fmt.Sprintf("💥 Position liquidated on %s %s%s", e.Venue, e.Symbol, pnl)
	default:
		return fmt.Sprintf("%s on %s %s", e.Type, e.Venue, e.Symbol)
	}
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to send telegram alert")
	}
}
