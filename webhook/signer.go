// Package webhook delivers callback notifications to an external HTTP
// endpoint, signing each delivery so the receiver can authenticate it.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Header names attached to every delivery.
const (
	HeaderSignature = "X-Callback-Signature"
	HeaderTimestamp = "X-Callback-Timestamp"
	HeaderEventID   = "X-Event-Id"
)

// Signer computes and verifies HMAC-SHA256 signatures over webhook
// payloads. The signed string is "<timestamp>.<canonical JSON>", where
// canonical JSON has object keys sorted and no insignificant
// whitespace, so both sides arrive at the same bytes regardless of how
// the payload was serialized.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// CanonicalJSON renders v as compact JSON with sorted object keys.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	// Round-trip through any: encoding/json sorts map keys on output.
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return json.Marshal(generic)
}

// Sign returns the hex signature of payload at the given timestamp.
func (s *Signer) Sign(payload any, ts string) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches payload at the given
// timestamp. Comparison is constant-time.
func (s *Signer) Verify(payload any, ts, signature string) bool {
	want, err := s.Sign(payload, ts)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(signature))
}

// SignRequest signs payload at the current time and sets the delivery
// headers on h.
func (s *Signer) SignRequest(h http.Header, payload any, eventID string) error {
	ts := time.Now().UTC().Format(time.RFC3339)
	sig, err := s.Sign(payload, ts)
	if err != nil {
		return err
	}
	h.Set("Content-Type", "application/json")
	h.Set(HeaderSignature, sig)
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderEventID, eventID)
	return nil
}
