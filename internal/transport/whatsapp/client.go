// Package whatsapp adapts the WhatsApp Cloud API: outbound sends through
// the Graph API and inbound webhook parsing with signature verification.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/parley/internal/transport"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v19.0"
	sendTimeout       = 30 * time.Second
)

// Config holds Graph API access settings.
type Config struct {
	Token         string
	PhoneNumberID string
	APIVersion    string
	// BaseURL overrides the Graph API host, for tests.
	BaseURL string
	// MaxMessageLength caps one outbound message; longer text is chunked.
	MaxMessageLength int
}

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	cfg        Config
	logger     log.Logger
	httpClient *http.Client
}

// NewClient creates a Cloud API client.
func NewClient(cfg Config, logger log.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = transport.MaxMessageLength
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: sendTimeout},
	}
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// SendText delivers text to a chat, splitting it into channel-sized pieces.
// Delivery stops at the first failed piece.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	to := Recipient(chatID)
	for i, piece := range transport.Chunk(text, c.cfg.MaxMessageLength) {
		if err := c.sendOne(ctx, to, piece); err != nil {
			return fmt.Errorf("send piece %d: %w", i+1, err)
		}
	}
	return nil
}

func (c *Client) sendOne(ctx context.Context, to, body string) error {
	p := textPayload{MessagingProduct: "whatsapp", To: to, Type: "text"}
	p.Text.Body = body

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.cfg.BaseURL, c.cfg.APIVersion, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graph api returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

// Recipient normalizes a chat ID to the wa_id the Cloud API expects: the
// bare number without a plus sign or a client suffix like @c.us.
func Recipient(chatID string) string {
	id := chatID
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	return strings.TrimPrefix(id, "+")
}
