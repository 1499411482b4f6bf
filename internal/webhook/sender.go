package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "FormBridge-Webhook/1.0"

	// Response bodies are read to keep connections reusable but never
	// interpreted beyond the status code.
	maxDrainBytes = 64 << 10
)

// Request is one outbound delivery attempt.
type Request struct {
	URL        string
	Body       []byte
	EventType  string
	DeliveryID string
	Signer     *Signer
	Headers    map[string]string
	Timestamp  int64
}

// Sender posts signed delivery payloads over HTTP.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given timeout; zero means the
// default of 30s.
func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sender{client: &http.Client{Timeout: timeout}}
}

// Send performs one POST. It returns the HTTP status code, or 0 with a
// non-nil error when the request never produced a response.
func (s *Sender) Send(ctx context.Context, req *Request) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(HeaderSignature, req.Signer.Sign(req.Timestamp, req.Body))
	httpReq.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", req.Timestamp))
	httpReq.Header.Set(HeaderEvent, req.EventType)
	httpReq.Header.Set(HeaderDelivery, req.DeliveryID)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	return resp.StatusCode, nil
}
