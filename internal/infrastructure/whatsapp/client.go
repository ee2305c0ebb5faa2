package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// Client talks to the messaging bridge's local HTTP API.
type Client struct {
	baseURL     string
	http        *http.Client
	sendTimeout time.Duration
}

var (
	_ ports.Dispatcher    = (*Client)(nil)
	_ ports.MessageSource = (*Client)(nil)
	_ ports.BridgeMonitor = (*Client)(nil)
)

// NewClient creates a reusable HTTP client. sendTimeout bounds each reply.
func NewClient(baseURL string, sendTimeout time.Duration) *Client {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 15 * time.Second},
		sendTimeout: sendTimeout,
	}
}

type bridgeMessage struct {
	ID          string `json:"id"`
	From        string `json:"from"`
	Sender      string `json:"sender"`
	Message     string `json:"message"`
	SessionName string `json:"sessionName"`
	IsGroup     bool   `json:"isGroup"`
}

type bridgeStatus struct {
	Clients []struct {
		Name   string `json:"name"`
		Status struct {
			IsConnected bool `json:"isConnected"`
			HasQR       bool `json:"hasQR"`
		} `json:"status"`
	} `json:"clients"`
	MessagesInQueue int `json:"messagesInQueue"`
}

// Status lists the connected sessions and the bridge's queue length.
func (c *Client) Status(ctx context.Context) (domain.BridgeStatus, error) {
	var raw bridgeStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, &raw); err != nil {
		return domain.BridgeStatus{}, err
	}

	status := domain.BridgeStatus{Connected: true, QueueLength: raw.MessagesInQueue}
	for _, cl := range raw.Clients {
		if cl.Status.IsConnected {
			status.Sessions = append(status.Sessions, cl.Name)
		}
	}
	return status, nil
}

// Messages fetches up to limit queued inbound messages. The bridge keeps its
// queue, so the same message comes back until the ledger has seen its id.
func (c *Client) Messages(ctx context.Context, limit int) ([]domain.RawItem, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var raw []bridgeMessage
	if err := c.do(ctx, http.MethodGet, "/messages?"+q.Encode(), nil, &raw); err != nil {
		return nil, err
	}

	items := make([]domain.RawItem, 0, len(raw))
	for _, m := range raw {
		text := strings.TrimSpace(m.Message)
		// Group chats are not customer threads.
		if text == "" || m.From == "" || m.IsGroup {
			continue
		}
		items = append(items, domain.RawItem{
			SourceRef: m.From,
			Text:      text,
			NativeID:  m.ID,
			Handle:    m.From,
			Session:   m.SessionName,
		})
	}
	return items, nil
}

type sendRequest struct {
	SessionName string `json:"sessionName"`
	JID         string `json:"jid"`
	Message     string `json:"message"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SubmitReply sends text back to the chat the item came from.
func (c *Client) SubmitReply(ctx context.Context, item domain.RawItem, text string) error {
	if item.Handle == "" {
		return errors.New("message has no chat id")
	}

	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	var resp sendResponse
	err := c.do(ctx, http.MethodPost, "/send", sendRequest{
		SessionName: item.Session,
		JID:         item.Handle,
		Message:     text,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("bridge refused message: %s", resp.Error)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, v any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&failure)
		if failure.Error != "" {
			return fmt.Errorf("unexpected status %s: %s", resp.Status, failure.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
