package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"TechNotesScanner/internal/ports"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	maxMessageLen  = 4096
)

// Notifier sends digests to a Telegram chat via bot API.
type Notifier struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		apiBase:  defaultAPIBase,
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// WithAPIBase points the notifier at another Bot API host.
func (n *Notifier) WithAPIBase(base string, client *http.Client) *Notifier {
	n.apiBase = strings.TrimRight(base, "/")
	if client != nil {
		n.client = client
	}
	return n
}

// PublishDigest posts a Markdown message to Telegram, split into API-sized chunks.
func (n *Notifier) PublishDigest(ctx context.Context, digest string) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}
	for _, chunk := range splitMessage(digest, maxMessageLen) {
		if err := n.send(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram error: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring paragraph breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}
