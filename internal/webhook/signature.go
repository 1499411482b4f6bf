// Package webhook delivers lifecycle events to external destinations as
// signed HTTP POSTs, retrying with exponential backoff until the
// destination acknowledges or the retry budget is exhausted.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Header names carried on every delivery request.
const (
	HeaderSignature = "X-FormBridge-Signature"
	HeaderTimestamp = "X-FormBridge-Timestamp"
	HeaderEvent     = "X-FormBridge-Event"
	HeaderDelivery  = "X-FormBridge-Delivery"

	signaturePrefix = "sha256="
)

// Signer computes and checks delivery signatures. The signed content is
// "<unix timestamp>.<body>" so replays outside the receiver's tolerance
// window can be rejected.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for one destination secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the signature header value for the given timestamp and body.
func (s *Signer) Sign(timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time. Receivers use this
// to authenticate deliveries; the engine uses it in tests.
func (s *Signer) Verify(timestamp int64, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
