package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Sender is the single contract the pipeline needs from a channel provider.
// Implementations own their own credentials and transport; the pipeline only
// budgets the per-job send rate.
type Sender interface {
	Send(ctx context.Context, recipient, body string) (providerMessageID string, err error)
}

// Error is a provider rejection carrying the code that ends up on the row.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// ErrorCode extracts the row-level error code from a send failure.
func ErrorCode(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return "SEND_FAILED"
}

// Registry maps channels to their senders. Built once at worker startup and
// passed in explicitly; no process-global client state.
type Registry struct {
	senders map[model.Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[model.Channel]Sender)}
}

func (r *Registry) Register(ch model.Channel, s Sender) {
	r.senders[ch] = s
}

// For returns the channel's sender, or nil if none is registered.
func (r *Registry) For(ch model.Channel) Sender {
	return r.senders[ch]
}

// HTTPSender posts {"to","body"} as JSON to a gateway endpoint and expects
// {"message_id"} back. Covers the SMS, email, WhatsApp and government
// gateways, which share this envelope.
type HTTPSender struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewHTTPSender(endpoint, apiKey string) *HTTPSender {
	return &HTTPSender{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPSender) Send(ctx context.Context, recipient, body string) (string, error) {
	payload, err := json.Marshal(map[string]string{"to": recipient, "body": body})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: resp.Status,
		}
	}

	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	return out.MessageID, nil
}

// MemorySender records sends in memory. Stands in for channels with no
// configured gateway and backs the tests.
type MemorySender struct {
	mu   sync.Mutex
	seq  int
	sent []SentMessage

	// Fail maps recipients to the error their send should return.
	Fail map[string]error
}

type SentMessage struct {
	Recipient string
	Body      string
}

func NewMemorySender() *MemorySender {
	return &MemorySender{Fail: make(map[string]error)}
}

func (s *MemorySender) Send(ctx context.Context, recipient, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Fail[recipient]; err != nil {
		return "", err
	}
	s.seq++
	s.sent = append(s.sent, SentMessage{Recipient: recipient, Body: body})
	return fmt.Sprintf("mem-%d", s.seq), nil
}

// Sent returns a copy of everything sent so far.
func (s *MemorySender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}
