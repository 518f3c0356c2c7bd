package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"sigil/pkg/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	reconnectMinDelay = 1 * time.Second
	reconnectMaxDelay = 60 * time.Second
)

// Client talks to the signal-cli REST API: a WebSocket for receiving
// envelopes and plain HTTP for sending.
type Client struct {
	cfg        config.SignalConfig
	httpClient *http.Client
	wsURL      string
	sendURL    string
	typingURL  string
	receiptURL string
}

// New builds a transport client for the configured service and number.
func New(cfg config.SignalConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		wsURL:      fmt.Sprintf("ws://%s/v1/receive/%s", cfg.Service, cfg.Number),
		sendURL:    fmt.Sprintf("http://%s/v2/send", cfg.Service),
		typingURL:  fmt.Sprintf("http://%s/v1/typing-indicator/%s", cfg.Service, cfg.Number),
		receiptURL: fmt.Sprintf("http://%s/v1/receipts/%s", cfg.Service, cfg.Number),
	}
}

// Listen pushes raw receive notifications into out until ctx is
// canceled. Connection loss triggers reconnection with doubling delay,
// capped at a minute; a successful connect resets the delay.
func (c *Client) Listen(ctx context.Context, out chan<- []byte) {
	delay := reconnectMinDelay

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
		if err != nil {
			slog.Warn("WebSocket connect failed, will retry", "url", c.wsURL, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}

		slog.Info("Connected to signal-cli receive socket", "url", c.wsURL)
		delay = reconnectMinDelay

		// Unblock ReadMessage when ctx is canceled.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		c.readLoop(ctx, conn, out)
		close(done)
		conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- []byte) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("WebSocket read failed, reconnecting", "error", err)
			}
			return
		}
		select {
		case out <- raw:
		case <-ctx.Done():
			return
		}
	}
}

type sendRequest struct {
	Message      string   `json:"message"`
	Recipients   []string `json:"recipients"`
	SenderNumber string   `json:"number"`
	TextMode     string   `json:"text_mode"`
}

type sendResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// Send delivers a message to recipient (a number or a group ID)
// through the REST API.
func (c *Client) Send(ctx context.Context, recipient, message string) error {
	payload, err := json.Marshal(sendRequest{
		Message:      message,
		Recipients:   []string{recipient},
		SenderNumber: c.cfg.Number,
		TextMode:     "styled",
	})
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var sr sendResponse
	if body, rerr := io.ReadAll(io.LimitReader(resp.Body, 4096)); rerr == nil {
		if jerr := json.Unmarshal(body, &sr); jerr == nil && sr.Timestamp > 0 {
			slog.Debug("Message sent", "recipient", recipient, "timestamp", sr.Timestamp)
		}
	}
	return nil
}

// StartTyping shows the typing indicator to recipient.
func (c *Client) StartTyping(ctx context.Context, recipient string) error {
	return c.typing(ctx, http.MethodPut, recipient)
}

// StopTyping hides the typing indicator again.
func (c *Client) StopTyping(ctx context.Context, recipient string) error {
	return c.typing(ctx, http.MethodDelete, recipient)
}

func (c *Client) typing(ctx context.Context, method, recipient string) error {
	payload, err := json.Marshal(map[string]string{"recipient": recipient})
	if err != nil {
		return err
	}
	return c.doJSON(ctx, method, c.typingURL, payload)
}

// SendReceipt marks the message identified by timestamp as read for
// its sender.
func (c *Client) SendReceipt(ctx context.Context, recipient string, timestamp int64) error {
	payload, err := json.Marshal(map[string]any{
		"receipt_type": "read",
		"recipient":    recipient,
		"timestamp":    timestamp,
	})
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, c.receiptURL, payload)
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s returned status %d: %s", method, url, resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
