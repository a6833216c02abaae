package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Header names set on every webhook delivery.
const (
	HeaderRunID     = "X-BGPWithdraw-Run-ID"
	HeaderSignature = "X-BGPWithdraw-Signature"
)

// Webhook posts the message as JSON with an HMAC-SHA256 signature of the body.
type Webhook struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
}

func NewWebhook(url, secret string, timeout time.Duration) *Webhook {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:     url,
		secret:  secret,
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Notify posts msg. Headers: X-BGPWithdraw-Run-ID, X-BGPWithdraw-Signature.
func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRunID, msg.RunID)
	req.Header.Set(HeaderSignature, computeSignature(w.secret, body))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming notifications.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
