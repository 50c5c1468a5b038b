package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/barsim/internal/notifier"
)

const defaultBaseURL = "https://api.telegram.org"

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// New creates a new Telegram notifier
func New(botToken, chatID string) (*Telegram, error) {
	return NewWithBaseURL(botToken, chatID, defaultBaseURL)
}

// NewWithBaseURL creates a Telegram notifier that talks to baseURL instead
// of the public Bot API.
func NewWithBaseURL(botToken, chatID, baseURL string) (*Telegram, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram: bot_token is required")
	}
	if chatID == "" {
		return nil, fmt.Errorf("telegram: chat_id is required")
	}
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Notify(ctx context.Context, ev notifier.Event) error {
	return t.sendMessage(ctx, formatEvent(ev))
}

func (t *Telegram) NotifyBatch(ctx context.Context, evs []notifier.Event) error {
	if len(evs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 *%d Backtests*\n\n", len(evs)))

	for i, ev := range evs {
		sb.WriteString(formatEvent(ev))
		if i < len(evs)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return t.sendMessage(ctx, sb.String())
}

func formatEvent(ev notifier.Event) string {
	var sb strings.Builder

	if ev.Failed() {
		sb.WriteString(fmt.Sprintf("❌ *%s* - %s\n", ev.Symbol, ev.Strategy))
		sb.WriteString(fmt.Sprintf("⚠️ %s: %s\n", ev.Code, ev.Error))
	} else {
		emoji := "📈"
		if ev.Report != nil && ev.Report.TotalReturn < 0 {
			emoji = "📉"
		}
		sb.WriteString(fmt.Sprintf("%s *%s* - %s\n", emoji, ev.Symbol, ev.Strategy))
		if r := ev.Report; r != nil {
			sb.WriteString(fmt.Sprintf("💰 Return: %.2f%%\n", r.TotalReturn*100))
			sb.WriteString(fmt.Sprintf("📊 Sharpe: %.2f\n", r.SharpeRatio))
			sb.WriteString(fmt.Sprintf("📉 Max drawdown: %.2f%%\n", r.MaxDrawdown*100))
			sb.WriteString(fmt.Sprintf("🎯 Trades: %d (win rate %.1f%%)\n", r.TotalTrades, r.WinRate*100))
		}
	}

	sb.WriteString(fmt.Sprintf("⏰ Time: %s", ev.At.Format("2006-01-02 15:04:05")))

	return sb.String()
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)

	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return fmt.Errorf("telegram: API error (status %d): %v", resp.StatusCode, result)
	}

	return nil
}
