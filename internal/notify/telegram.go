package notify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/quantjourney/fundarb/internal/models"
)

const maxAlertedOpportunities = 3

// messageSender is the slice of bot.Bot the notifier uses.
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramNotifier pushes strong-buy alerts to a Telegram chat. Without a
// token it is a no-op, so callers never need to nil-check the notifier.
type TelegramNotifier struct {
	sender messageSender
	chatID string
	logger *logrus.Logger
}

// NewTelegram builds the notifier. An empty token disables it silently; a
// non-empty token that Telegram rejects is a startup error.
func NewTelegram(token, chatID string, logger *logrus.Logger) (*TelegramNotifier, error) {
	n := &TelegramNotifier{chatID: chatID, logger: logger}
	if token == "" {
		logger.Info("telegram notifications disabled: no bot token configured")
		return n, nil
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	n.sender = b
	return n, nil
}

// NotifyStrongBuys alerts on the cycle's strong_buy recommendations. Weaker
// recommendations never page anyone.
func (n *TelegramNotifier) NotifyStrongBuys(ctx context.Context, evaluated []models.EvaluatedOpportunity) error {
	if n.sender == nil {
		return nil
	}

	var strong []models.EvaluatedOpportunity
	for _, ev := range evaluated {
		if ev.Recommendation == models.RecommendationStrongBuy {
			strong = append(strong, ev)
		}
	}
	if len(strong) == 0 {
		return nil
	}

	text := FormatStrongBuyMessage(strong)
	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}

	n.logger.WithField("count", len(strong)).Info("sent strong-buy alert")
	return nil
}

// FormatStrongBuyMessage renders the alert text for the top strong buys.
func FormatStrongBuyMessage(strong []models.EvaluatedOpportunity) string {
	top := strong
	if len(top) > maxAlertedOpportunities {
		top = top[:maxAlertedOpportunities]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Funding arbitrage: %d strong buy signal(s)\n", len(strong))
	for _, ev := range top {
		opp := ev.Opportunity
		fmt.Fprintf(&sb, "\n%s: long %s / short %s\n", opp.Symbol, opp.LongExchange, opp.ShortExchange)
		fmt.Fprintf(&sb, "  spread %.4f%%/h, annualized %.1f%%\n",
			opp.Spread.InexactFloat64()*100, opp.ExpectedReturn.InexactFloat64()*100)
		fmt.Fprintf(&sb, "  break-even %s, confidence %.0f%%",
			formatHours(ev.BreakEven.ConfidenceAdjustedBreakEvenHours), ev.BreakEven.Confidence*100)
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatHours(hours float64) string {
	if math.IsInf(hours, 1) || math.IsNaN(hours) {
		return "never"
	}
	return fmt.Sprintf("%.1fh", hours)
}
